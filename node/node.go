// Copyright 2025 The pyrelay Authors
// This file is part of the pyrelay library.
//
// The pyrelay library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The pyrelay library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the pyrelay library. If not, see <http://www.gnu.org/licenses/>.

// Package node assembles a relay from its parts and owns their
// lifecycle: stores, chain pool, fee payers, oracles, services,
// scheduled workers and the HTTP surface. Construction is eager and
// ordered; teardown runs in reverse.
package node

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pyrelay/pyrelay/api"
	"github.com/pyrelay/pyrelay/audit"
	"github.com/pyrelay/pyrelay/burner"
	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/colddb"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/config"
	"github.com/pyrelay/pyrelay/core"
	"github.com/pyrelay/pyrelay/datasync"
	"github.com/pyrelay/pyrelay/feepayer"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/hotdb/memorydb"
	"github.com/pyrelay/pyrelay/hotdb/redisdb"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/oracle"
	"github.com/pyrelay/pyrelay/params"
	"github.com/pyrelay/pyrelay/velocity"
)

// Schedules for the background workers.
const (
	burnSchedule    = "@every 1m"
	syncSchedule    = "@every 5m"
	refreshSchedule = "@every 30s"
)

// Node is one assembled relay instance.
type Node struct {
	cfg    *config.Config
	logger log.Logger

	hotKV    hotdb.KV
	failover *hotdb.Failover
	store    *hotdb.Store
	cold     *colddb.Database
	pool     *chain.Pool
	payers   *feepayer.Pool

	burner *burner.Worker
	sync   *datasync.Worker
	server *api.Server
	cron   *cron.Cron

	srvErr chan error
}

// New builds a node from validated configuration. Everything that can
// fail, fails here; Start only turns already-built components on.
func New(cfg *config.Config) (*Node, error) {
	logger := log.Root()
	n := &Node{cfg: cfg, logger: logger, srvErr: make(chan error, 1)}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hot store. Redis when configured; development runs either pure
	// in-memory or redis with an in-process fallback.
	switch {
	case cfg.RedisURL == "":
		n.hotKV = memorydb.New()
		logger.Warn("No REDIS_URL, using in-memory hot store")
	case cfg.Production():
		rdb, err := redisdb.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("hot store: %w", err)
		}
		n.hotKV = rdb
	default:
		rdb, err := redisdb.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis unreachable, starting on the in-memory fallback", "err", err)
			n.hotKV = memorydb.New()
			break
		}
		n.failover = hotdb.NewFailover(rdb, memorydb.New(), nil, logger)
		n.hotKV = n.failover
	}
	n.store = hotdb.NewStore(n.hotKV, hotdb.NewKeys(""))

	// Cold store, optional outside production.
	if cfg.DatabaseURL != "" {
		cold, err := colddb.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("cold store: %w", err)
		}
		if err := cold.Migrate(); err != nil {
			cold.Close()
			return nil, fmt.Errorf("cold store migrations: %w", err)
		}
		n.cold = cold
	}

	// Chain RPC pool.
	pool, err := chain.NewPool(cfg.Endpoints(),
		func(url string) chain.Client { return chain.NewHTTPClient(url) }, logger)
	if err != nil {
		return nil, fmt.Errorf("rpc pool: %w", err)
	}
	n.pool = pool

	// Fee payers. An unreachable chain at boot is survivable; the
	// refresh schedule keeps retrying.
	signers, err := cfg.Signers()
	if err != nil {
		return nil, err
	}
	if len(signers) == 0 {
		seed := signerFromEntropy()
		logger.Warn("No fee payer configured, generated an ephemeral one", "payer", seed.Pubkey())
		signers = []*chain.Signer{seed}
	}
	payers, err := feepayer.New(signers, cfg.FeePayerConfig(), pool, n.store, logger)
	if err != nil {
		return nil, fmt.Errorf("fee payers: %w", err)
	}
	if err := payers.RefreshBalances(ctx); err != nil {
		logger.Warn("Initial balance refresh failed", "err", err)
	}
	n.payers = payers

	// The treasury destination must be settled before the quote service
	// exists; quotes embed it in every offer.
	treasury := resolveTreasury(cfg, signers)

	// Oracles.
	dex := oracle.NewJupiterClient(cfg.JupiterURL, cfg.JupiterAPIKey, n.store, logger)
	verifier := oracle.NewHTTPVerifier(cfg.VerifierURL, cfg.Diamond(), nil, logger)
	known := cfg.Diamond()
	coreCfg := cfg.CoreConfig()
	coreCfg.TreasuryAccount = treasury.Pubkey()
	if !coreCfg.EcotokenMint.IsZero() {
		known = append([]common.Pubkey{coreCfg.EcotokenMint}, known...)
	}
	gate := oracle.NewTokenGate(verifier, known, logger)

	// Services and workers.
	rec := audit.NewRecorder(n.store, audit.Config{}, logger)
	vel := velocity.New(n.store)
	holders := core.NewHolderTiers(pool, coreCfg.EcotokenMint)
	quotes := core.NewQuoteService(coreCfg, n.store, payers, dex, verifier, holders, rec, logger)

	var txArchive core.TxArchiver
	var burnArchive burner.BurnArchiver
	if n.cold != nil {
		txArchive = n.cold
		burnArchive = n.cold
	}
	submits := core.NewSubmitService(coreCfg, n.store, payers, pool, vel, txArchive, rec, logger)

	n.burner = burner.New(cfg.BurnerConfig(), n.store, burnArchive, pool, treasury,
		payers.Primary(), dex, verifier, vel, rec, logger)

	if n.cold != nil {
		n.sync = datasync.New(n.store, n.cold, n.failover, logger)
	}

	n.server = api.NewServer(api.Config{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Origins:           cfg.Origins(),
		AdminKey:          cfg.AdminAPIKey,
		WalletQuoteLimit:  cfg.WalletQuoteLimit,
		WalletSubmitLimit: cfg.WalletSubmitLimit,
		IPRatePerSecond:   cfg.IPRatePerSecond,
		IPRateBurst:       cfg.IPRateBurst,
	}, api.Deps{
		Quotes:  quotes,
		Submits: submits,
		Store:   n.store,
		Cold:    coldReader(n.cold),
		Gate:    gate,
		Burner:  n.burner,
		Health:  n.Health,
	}, logger)

	return n, nil
}

// resolveTreasury picks the treasury authority: the configured key
// when present, otherwise the primary fee payer — including an
// ephemeral development one the config never saw.
func resolveTreasury(cfg *config.Config, signers []*chain.Signer) *chain.Signer {
	if s, err := cfg.TreasurySigner(); err == nil {
		return s
	}
	return signers[0]
}

// signerFromEntropy generates a throwaway development key so the
// daemon can boot with an empty environment.
func signerFromEntropy() *chain.Signer {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return chain.NewSigner(priv)
}

// coldReader avoids handing the api a typed-nil interface.
func coldReader(cold *colddb.Database) api.ColdReader {
	if cold == nil {
		return nil
	}
	return cold
}

// Start seeds the hot counters, registers the worker schedules and
// begins serving HTTP.
func (n *Node) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if n.sync != nil {
		if err := n.sync.Seed(ctx); err != nil {
			n.logger.Warn("Cold-to-hot seed failed", "err", err)
		}
	}

	n.cron = cron.New()
	if n.burner != nil {
		if _, err := n.cron.AddFunc(burnSchedule, n.runBurnCycle); err != nil {
			return err
		}
		// First cycle shortly after boot rather than a full interval out.
		time.AfterFunc(time.Duration(params.BurnInitialDelaySeconds)*time.Second, n.runBurnCycle)
	}
	if n.sync != nil {
		if _, err := n.cron.AddFunc(syncSchedule, n.runSync); err != nil {
			return err
		}
	}
	if n.payers != nil {
		if _, err := n.cron.AddFunc(refreshSchedule, n.runRefresh); err != nil {
			return err
		}
	}
	n.cron.Start()

	if n.server != nil {
		go func() { n.srvErr <- n.server.Start() }()
	}
	n.logger.Info("Relay node started", "version", params.VersionWithMeta, "env", n.cfg.Env)
	return nil
}

func (n *Node) runBurnCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	if err := n.burner.RunCycle(ctx); err != nil {
		n.logger.Error("Burn cycle failed", "err", err)
	}
}

func (n *Node) runSync() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := n.sync.Sync(ctx); err != nil {
		n.logger.Error("Data sync failed", "err", err)
	}
}

func (n *Node) runRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.payers.RefreshBalances(ctx); err != nil {
		n.logger.Warn("Balance refresh failed", "err", err)
	}
}

// Stop tears the node down in reverse construction order: stop taking
// requests, stop the schedules, free reservations, close the stores.
func (n *Node) Stop() {
	if n.server != nil {
		if err := n.server.Stop(); err != nil {
			n.logger.Warn("HTTP shutdown incomplete", "err", err)
		}
	}
	if n.cron != nil {
		stopCtx := n.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
			n.logger.Warn("Worker drain timed out")
		}
	}
	if n.payers != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		n.payers.ReleaseAll(ctx)
		cancel()
	}
	if n.cold != nil {
		if err := n.cold.Close(); err != nil {
			n.logger.Warn("Cold store close failed", "err", err)
		}
	}
	if n.hotKV != nil {
		if err := n.hotKV.Close(); err != nil {
			n.logger.Warn("Hot store close failed", "err", err)
		}
	}
	n.logger.Info("Relay node stopped")
}

// Run starts the node and blocks until a termination signal or a
// listener failure, then stops it.
func (n *Node) Run() error {
	if err := n.Start(); err != nil {
		return err
	}
	defer n.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		n.logger.Info("Shutting down on signal", "signal", s.String())
		return nil
	case err := <-n.srvErr:
		return err
	}
}

// Health renders the component checks for the /health endpoint.
func (n *Node) Health(ctx context.Context) api.HealthStatus {
	checks := make(map[string]string, 4)
	degraded, down := false, false

	if err := n.store.Ping(ctx); err != nil {
		checks["hot_store"] = "down"
		if n.failover != nil {
			checks["hot_store"] = "degraded"
			degraded = true
		} else {
			down = true
		}
	} else {
		checks["hot_store"] = "ok"
		if n.failover != nil && n.failover.Degraded() {
			checks["hot_store"] = "degraded"
			degraded = true
		}
	}

	switch {
	case n.cold == nil:
		checks["cold_store"] = "disabled"
	case n.cold.Healthy(ctx):
		checks["cold_store"] = "ok"
	default:
		checks["cold_store"] = "degraded"
		degraded = true
	}

	if n.pool != nil && n.pool.Healthy() {
		checks["rpc_pool"] = "ok"
	} else {
		checks["rpc_pool"] = "down"
		down = true
	}

	if n.payers != nil && n.payers.HasHealthy() {
		checks["fee_payer_pool"] = "ok"
	} else {
		checks["fee_payer_pool"] = "degraded"
		degraded = true
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}
	if down {
		status = "down"
	}
	return api.HealthStatus{Status: status, Checks: checks}
}
