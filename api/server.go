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

// Package api is the HTTP boundary: the public quote/submit surface,
// the read-only stats views, health, Prometheus metrics and the
// key-guarded admin endpoints. Handlers translate between JSON and the
// core services; no business logic lives here.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/pyrelay/pyrelay/colddb"
	"github.com/pyrelay/pyrelay/core"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/metrics"
	"github.com/pyrelay/pyrelay/oracle"
	"github.com/pyrelay/pyrelay/params"
)

// Config carries the HTTP-layer knobs.
type Config struct {
	Addr    string
	Origins []string

	AdminKey string

	// Per-wallet caps, requests per minute.
	WalletQuoteLimit  int
	WalletSubmitLimit int

	// Per-IP token bucket for the public surface.
	IPRatePerSecond float64
	IPRateBurst     int

	// ShutdownGrace bounds the in-flight drain on Stop.
	ShutdownGrace time.Duration
}

func (c Config) sanitize() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.WalletQuoteLimit <= 0 {
		c.WalletQuoteLimit = params.DefaultWalletQuoteLimit
	}
	if c.WalletSubmitLimit <= 0 {
		c.WalletSubmitLimit = params.DefaultWalletSubmitLimit
	}
	if c.IPRatePerSecond <= 0 {
		c.IPRatePerSecond = 10
	}
	if c.IPRateBurst <= 0 {
		c.IPRateBurst = 30
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 15 * time.Second
	}
	return c
}

// HealthStatus is the /health body.
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// BurnTrigger runs one burn cycle on demand, satisfied by
// *burner.Worker.
type BurnTrigger interface {
	RunCycle(ctx context.Context) error
}

// ColdReader is the cold-store read slice the stats and admin views
// use, satisfied by *colddb.Database.
type ColdReader interface {
	BurnBySignature(ctx context.Context, signature string) (*types.BurnProof, error)
	Burns(ctx context.Context, limit int) ([]*types.BurnProof, error)
	Transactions(ctx context.Context, limit int) ([]*types.Transaction, error)
	WalletTransactionCount(ctx context.Context, wallet string) (uint64, error)
}

var _ ColdReader = (*colddb.Database)(nil)

// Deps are the collaborators the server dispatches into. Cold and
// Burner may be nil; the affected endpoints degrade or 503.
type Deps struct {
	Quotes  *core.QuoteService
	Submits *core.SubmitService
	Store   *hotdb.Store
	Cold    ColdReader
	Gate    *oracle.TokenGate
	Burner  BurnTrigger
	Health  func(context.Context) HealthStatus
}

// Server is the HTTP front.
type Server struct {
	cfg    Config
	deps   Deps
	logger log.Logger

	limiter *ipLimiter
	httpSrv *http.Server
}

// NewServer wires the router and middleware. Call Start to listen.
func NewServer(cfg Config, deps Deps, logger log.Logger) *Server {
	s := &Server{
		cfg:     cfg.sanitize(),
		deps:    deps,
		logger:  logger,
		limiter: newIPLimiter(cfg.sanitize().IPRatePerSecond, cfg.sanitize().IPRateBurst),
	}

	router := httprouter.New()
	public := func(route string, h httprouter.Handle) httprouter.Handle {
		return s.instrument(route, s.rateLimit(h))
	}
	admin := func(route string, h httprouter.Handle) httprouter.Handle {
		return s.instrument(route, s.adminAuth(h))
	}

	router.POST("/v1/quote", public("/v1/quote", s.handleQuote(types.QuoteStandard)))
	router.POST("/v1/submit", public("/v1/submit", s.handleSubmit))
	router.POST("/v1/ignition/quote", public("/v1/ignition/quote", s.handleQuote(types.QuoteIgnition)))
	router.POST("/v1/ignition/submit", public("/v1/ignition/submit", s.handleSubmit))

	router.GET("/v1/tokens", public("/v1/tokens", s.handleTokens))
	router.GET("/v1/stats", public("/v1/stats", s.handleStats))
	router.GET("/v1/stats/wallet/:address", public("/v1/stats/wallet", s.handleWalletStats))
	router.GET("/v1/stats/leaderboard", public("/v1/stats/leaderboard", s.handleLeaderboard))
	router.GET("/v1/stats/burns", public("/v1/stats/burns", s.handleBurns))
	router.GET("/v1/stats/burns/:signature", public("/v1/stats/burns/sig", s.handleBurnBySignature))

	router.GET("/health", s.instrument("/health", s.handleHealth))
	router.GET("/version", s.instrument("/version", s.handleVersion))
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())

	router.POST("/admin/burn", admin("/admin/burn", s.handleAdminBurn))
	router.GET("/admin/treasury", admin("/admin/treasury", s.handleAdminTreasury))
	router.GET("/admin/history", admin("/admin/history", s.handleAdminHistory))
	router.POST("/admin/migrate-keys", admin("/admin/migrate-keys", s.handleAdminMigrateKeys))

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.Origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "x-correlation-id", "x-admin-key"},
		MaxAge:         600,
	})
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.correlate(c.Handler(router)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the full middleware stack, for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start listens until Stop or a listener error.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop refuses new connections and drains in-flight requests up to the
// grace period.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
