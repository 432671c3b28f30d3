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

// Package audit records append-only audit entries and watches
// per-wallet and per-IP activity for anomalies. Thresholds are learned
// from a warm-up sample, then fixed at mean plus three standard
// deviations. Nothing here throttles; rate limiting is the HTTP
// surface's concern.
package audit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/log"
)

// anomalyWindow is the rolling-counter span anomaly detection works
// over.
const anomalyWindow = 300 * time.Second

// Config tunes anomaly learning.
type Config struct {
	// WarmupSamples is how many observations are collected before a
	// threshold is derived.
	WarmupSamples int
	// Sigmas is the k in mean + k*stddev.
	Sigmas float64
	// MinThreshold floors the learned threshold so a silent warm-up
	// cannot make every later request anomalous.
	MinThreshold float64
}

// DefaultConfig is used for unset fields.
var DefaultConfig = Config{
	WarmupSamples: 200,
	Sigmas:        3,
	MinThreshold:  10,
}

func (c Config) sanitize() Config {
	if c.WarmupSamples <= 0 {
		c.WarmupSamples = DefaultConfig.WarmupSamples
	}
	if c.Sigmas <= 0 {
		c.Sigmas = DefaultConfig.Sigmas
	}
	if c.MinThreshold <= 0 {
		c.MinThreshold = DefaultConfig.MinThreshold
	}
	return c
}

// learner accumulates warm-up samples for one activity kind, then
// yields a fixed threshold.
type learner struct {
	samples   []float64
	threshold float64
	learned   bool
}

func (l *learner) observe(v float64, cfg Config) (threshold float64, ready bool) {
	if l.learned {
		return l.threshold, true
	}
	l.samples = append(l.samples, v)
	if len(l.samples) < cfg.WarmupSamples {
		return 0, false
	}
	var sum float64
	for _, s := range l.samples {
		sum += s
	}
	mean := sum / float64(len(l.samples))
	var variance float64
	for _, s := range l.samples {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(l.samples))
	l.threshold = mean + cfg.Sigmas*math.Sqrt(variance)
	if l.threshold < cfg.MinThreshold {
		l.threshold = cfg.MinThreshold
	}
	l.learned = true
	l.samples = nil
	return l.threshold, true
}

// Recorder appends audit entries and feeds the anomaly counters.
type Recorder struct {
	store  *hotdb.Store
	cfg    Config
	logger log.Logger

	mu       sync.Mutex
	learners map[string]*learner

	now func() time.Time
}

// NewRecorder builds a recorder over the hot store.
func NewRecorder(store *hotdb.Store, cfg Config, logger log.Logger) *Recorder {
	return &Recorder{
		store:    store,
		cfg:      cfg.sanitize(),
		logger:   logger,
		learners: make(map[string]*learner),
		now:      time.Now,
	}
}

// Record appends one audit entry. Audit writes never fail the caller;
// a hot-store outage is logged and dropped, the sync worker archives
// survivors.
func (r *Recorder) Record(ctx context.Context, entry *types.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	if entry.Severity == "" {
		entry.Severity = types.SeverityInfo
	}
	if err := r.store.PushAudit(ctx, entry); err != nil {
		r.logger.Warn("Audit append failed", "type", entry.Type, "err", err)
	}
}

// Activity bumps the rolling activity counters for one operation and
// emits a WARN anomaly entry when a learned threshold is crossed.
func (r *Recorder) Activity(ctx context.Context, kind, wallet, ip string) {
	r.observe(ctx, kind+":wallet", wallet, kind)
	if ip != "" {
		r.observe(ctx, kind+":ip", ip, kind)
	}
}

func (r *Recorder) observe(ctx context.Context, counterKind, subject, kind string) {
	if subject == "" {
		return
	}
	count, err := r.store.IncrCounter(ctx, counterKind, subject, anomalyWindow)
	if err != nil {
		return
	}
	r.mu.Lock()
	l, ok := r.learners[counterKind]
	if !ok {
		l = &learner{}
		r.learners[counterKind] = l
	}
	threshold, ready := l.observe(float64(count), r.cfg)
	r.mu.Unlock()

	if ready && float64(count) > threshold {
		entry := &types.AuditEntry{
			Type:     types.AuditAnomaly,
			Severity: types.SeverityWarn,
			Payload: map[string]interface{}{
				"kind":      kind,
				"counter":   counterKind,
				"count":     count,
				"threshold": threshold,
			},
		}
		if counterKind == kind+":ip" {
			entry.IP = subject
		} else {
			entry.Wallet = subject
		}
		r.Record(ctx, entry)
		r.logger.Warn("Anomalous activity", "kind", kind, "subject", subject,
			"count", count, "threshold", threshold)
	}
}

// Tail returns the most recent audit entries from the hot store.
func (r *Recorder) Tail(ctx context.Context, limit int64) ([]*types.AuditEntry, error) {
	return r.store.AuditTail(ctx, limit)
}
