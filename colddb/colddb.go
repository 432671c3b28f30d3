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

// Package colddb is the durable Postgres projection of burns,
// transactions, audit entries and daily aggregates. Every operation
// goes through a circuit breaker and a bounded retry policy so a
// struggling database degrades the relay instead of stalling it.
package colddb

import (
	"context"
	"database/sql/driver"
	"embed"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pyrelay/pyrelay/circuit"
	"github.com/pyrelay/pyrelay/log"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var (
	// ErrNotFound is returned for absent rows.
	ErrNotFound = errors.New("colddb: not found")
	// ErrCircuitOpen short-circuits operations while the breaker is
	// open.
	ErrCircuitOpen = errors.New("colddb: circuit open")
)

// Breaker and retry policy for database operations.
const (
	failureThreshold = 3
	resetTimeout     = 30 * time.Second
	halfOpenTrials   = 2
	maxRetries       = 3

	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 2 * time.Second

	reconnectInterval = 30 * time.Second
)

// Database wraps the connection pool. The pool pointer is swapped by
// the background reconnect loop, so access goes through pool().
type Database struct {
	mu  sync.RWMutex
	db  *sqlx.DB
	dsn string

	breaker *circuit.Breaker
	logger  log.Logger
	quit    chan struct{}
}

// New connects to Postgres and starts the reconnect watchdog. The
// caller should run Migrate before first use.
func New(ctx context.Context, dsn string, logger log.Logger) (*Database, error) {
	db, err := open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	d := &Database{
		db:  db,
		dsn: dsn,
		breaker: circuit.New(circuit.Settings{
			FailureThreshold: failureThreshold,
			ResetTimeout:     resetTimeout,
			HalfOpenTrials:   halfOpenTrials,
			IsFailure:        countsForCircuit,
		}),
		logger: logger,
		quit:   make(chan struct{}),
	}
	go d.reconnectLoop()
	return d, nil
}

func open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func (d *Database) Migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}
	drv, err := migratepg.WithInstance(d.pool().DB, &migratepg.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (d *Database) pool() *sqlx.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// withDB runs fn against the pool under the breaker, retrying
// transient failures with exponential backoff. Constraint violations
// pass through without counting toward the breaker.
func (d *Database) withDB(ctx context.Context, op string, fn func(*sqlx.DB) error) error {
	if !d.breaker.Allow() {
		return ErrCircuitOpen
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := fn(d.pool())
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))

	if err != nil {
		if d.breaker.Failure(err) {
			d.logger.Warn("Cold store circuit opened", "op", op, "err", err)
		}
		return err
	}
	d.breaker.Success()
	return nil
}

// reconnectLoop replaces the pool when the connection dies.
func (d *Database) reconnectLoop() {
	tick := time.NewTicker(reconnectInterval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := d.pool().PingContext(ctx)
			if err != nil && isTransient(err) {
				d.logger.Warn("Cold store unreachable, reconnecting", "err", err)
				if db, rerr := open(ctx, d.dsn); rerr == nil {
					d.mu.Lock()
					old := d.db
					d.db = db
					d.mu.Unlock()
					old.Close()
					d.logger.Info("Cold store connection replaced")
				}
			}
			cancel()
		case <-d.quit:
			return
		}
	}
}

// Ping reports connectivity.
func (d *Database) Ping(ctx context.Context) error {
	return d.pool().PingContext(ctx)
}

// Healthy reports whether the store is usable right now.
func (d *Database) Healthy(ctx context.Context) bool {
	if d.breaker.State() == circuit.Open {
		return false
	}
	return d.Ping(ctx) == nil
}

// BreakerStatus exposes the breaker for the health endpoint.
func (d *Database) BreakerStatus() circuit.Status {
	return d.breaker.Snapshot()
}

// Close stops the watchdog and closes the pool.
func (d *Database) Close() error {
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
	return d.pool().Close()
}

// isTransient classifies errors worth retrying: connection-class
// SQLSTATEs, serialization failures, deadlocks, admin shutdown and
// network-level failures.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		if strings.HasPrefix(code, "08") {
			return true
		}
		switch code {
		case "40001", "40P01", "57P01":
			return true
		}
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

// isConstraint reports integrity-violation errors (SQLSTATE class 23),
// expected on idempotent upsert races.
func isConstraint(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && strings.HasPrefix(string(pqErr.Code), "23")
}

// countsForCircuit keeps constraint violations from tripping the
// breaker.
func countsForCircuit(err error) bool {
	return !isConstraint(err)
}
