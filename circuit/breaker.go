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

// Package circuit implements the three-state circuit breaker shared by
// the cold store, the RPC pool and the fee-payer pool. Only failures
// the classifier qualifies count toward tripping; everything else
// passes through untouched.
package circuit

import (
	"sync"
	"time"
)

// State is the breaker position.
type State uint32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker. Zero fields fall back to
// DefaultSettings values; a nil IsFailure counts every error.
type Settings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	MaxResetTimeout  time.Duration
	HalfOpenTrials   int
	IsFailure        func(error) bool
}

// DefaultSettings are used for any unset Settings field.
var DefaultSettings = Settings{
	FailureThreshold: 5,
	ResetTimeout:     30 * time.Second,
	MaxResetTimeout:  5 * time.Minute,
	HalfOpenTrials:   2,
}

func (s Settings) sanitize() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultSettings.FailureThreshold
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = DefaultSettings.ResetTimeout
	}
	if s.MaxResetTimeout < s.ResetTimeout {
		s.MaxResetTimeout = DefaultSettings.MaxResetTimeout
		if s.MaxResetTimeout < s.ResetTimeout {
			s.MaxResetTimeout = s.ResetTimeout
		}
	}
	if s.HalfOpenTrials <= 0 {
		s.HalfOpenTrials = DefaultSettings.HalfOpenTrials
	}
	return s
}

// Status is a point-in-time snapshot for health and admin views.
type Status struct {
	State    State     `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"openedAt,omitempty"`
}

// Breaker is a consecutive-failure circuit breaker. Closed trips to
// Open after FailureThreshold qualifying failures in a row; Open
// admits nothing until ResetTimeout has elapsed, then HalfOpen admits
// up to HalfOpenTrials calls. A half-open success closes the breaker,
// a half-open failure reopens it with the timeout doubled up to
// MaxResetTimeout.
type Breaker struct {
	mu       sync.Mutex
	settings Settings

	state    State
	failures int
	openedAt time.Time
	timeout  time.Duration
	trials   int

	now func() time.Time
}

// New returns a closed breaker with the given settings.
func New(settings Settings) *Breaker {
	s := settings.sanitize()
	return &Breaker{
		settings: s,
		timeout:  s.ResetTimeout,
		now:      time.Now,
	}
}

// Allow reports whether a call may proceed, moving Open to HalfOpen
// once the reset timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false
		}
		b.state = HalfOpen
		b.trials = 1
		return true
	case HalfOpen:
		if b.trials >= b.settings.HalfOpenTrials {
			return false
		}
		b.trials++
		return true
	}
	return false
}

// Success records a successful call. In HalfOpen it closes the breaker
// and restores the initial reset timeout; in Closed it clears the
// consecutive-failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == HalfOpen {
		b.state = Closed
		b.timeout = b.settings.ResetTimeout
		b.trials = 0
	}
}

// Failure records a failed call. Errors the classifier does not
// qualify are ignored: they neither trip the breaker nor clear the
// consecutive count. Returns true when the call tripped the breaker
// open.
func (b *Breaker) Failure(err error) bool {
	if err == nil {
		return false
	}
	if b.settings.IsFailure != nil && !b.settings.IsFailure(err) {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.trip(b.settings.ResetTimeout)
			return true
		}
	case HalfOpen:
		next := b.timeout * 2
		if next > b.settings.MaxResetTimeout {
			next = b.settings.MaxResetTimeout
		}
		b.trip(next)
		return true
	}
	return false
}

// trip moves to Open with the given timeout. Caller holds b.mu.
func (b *Breaker) trip(timeout time.Duration) {
	b.state = Open
	b.openedAt = b.now()
	b.timeout = timeout
	b.trials = 0
}

// State returns the current position, accounting for an elapsed open
// period the same way Allow would.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.timeout {
		return HalfOpen
	}
	return b.state
}

// RetryAfter returns how long until the breaker will admit a call
// again, zero when it already would.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if remaining := b.timeout - b.now().Sub(b.openedAt); remaining > 0 {
			return remaining
		}
		return 0
	case HalfOpen:
		if b.trials >= b.settings.HalfOpenTrials {
			return b.timeout
		}
	}
	return 0
}

// Snapshot returns the breaker status for health reporting.
func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{State: b.state, Failures: b.failures}
	if b.state != Closed {
		st.OpenedAt = b.openedAt
	}
	return st
}
