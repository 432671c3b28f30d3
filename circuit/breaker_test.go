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

package circuit

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var errBoom = errors.New("connection refused")

// fakeClock drives a breaker through time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(s Settings) (*Breaker, *fakeClock) {
	b := New(s)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b.now = clock.now
	return b, clock
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Settings{FailureThreshold: 3, ResetTimeout: 30 * time.Second})

	for i := 0; i < 2; i++ {
		if tripped := b.Failure(errBoom); tripped {
			t.Fatalf("tripped after %d failures", i+1)
		}
		if !b.Allow() {
			t.Fatalf("closed breaker refused call after %d failures", i+1)
		}
	}
	if !b.Failure(errBoom) {
		t.Fatal("third failure did not trip")
	}
	if b.Allow() {
		t.Fatal("open breaker admitted a call")
	}
	if got := b.State(); got != Open {
		t.Fatalf("state = %v, want open", got)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(Settings{FailureThreshold: 3, ResetTimeout: 30 * time.Second})

	b.Failure(errBoom)
	b.Failure(errBoom)
	b.Success()
	b.Failure(errBoom)
	b.Failure(errBoom)
	if got := b.State(); got != Closed {
		t.Fatalf("state = %v, want closed (count should reset on success)", got)
	}
}

func TestBreakerHalfOpenCycle(t *testing.T) {
	b, clock := newTestBreaker(Settings{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
		MaxResetTimeout:  2 * time.Minute,
		HalfOpenTrials:   2,
	})

	b.Failure(errBoom)
	if b.Allow() {
		t.Fatal("open breaker admitted a call")
	}

	// After the reset timeout the breaker admits limited trials.
	clock.advance(31 * time.Second)
	if !b.Allow() {
		t.Fatal("half-open breaker refused first trial")
	}
	if !b.Allow() {
		t.Fatal("half-open breaker refused second trial")
	}
	if b.Allow() {
		t.Fatal("half-open breaker admitted a third trial")
	}

	// A half-open failure reopens with doubled timeout.
	b.Failure(errBoom)
	clock.advance(31 * time.Second)
	if b.Allow() {
		t.Fatal("doubled timeout not honoured")
	}
	clock.advance(30 * time.Second)
	if !b.Allow() {
		t.Fatal("breaker not half-open after doubled timeout")
	}

	// A half-open success closes and restores the initial timeout.
	b.Success()
	if got := b.State(); got != Closed {
		t.Fatalf("state = %v, want closed", got)
	}
	b.Failure(errBoom)
	clock.advance(31 * time.Second)
	if !b.Allow() {
		t.Fatal("initial reset timeout not restored after close")
	}
}

func TestBreakerTimeoutCap(t *testing.T) {
	b, clock := newTestBreaker(Settings{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
		MaxResetTimeout:  time.Minute,
		HalfOpenTrials:   1,
	})

	b.Failure(errBoom)
	for i := 0; i < 4; i++ { // keep failing in half-open
		clock.advance(5 * time.Minute)
		if !b.Allow() {
			t.Fatalf("cycle %d: breaker refused trial", i)
		}
		b.Failure(errBoom)
	}
	// Timeout is capped at one minute regardless of repeat failures.
	if got := b.RetryAfter(); got > time.Minute {
		t.Fatalf("RetryAfter = %v, want <= 1m", got)
	}
	clock.advance(61 * time.Second)
	if !b.Allow() {
		t.Fatal("capped timeout not honoured")
	}
}

func TestBreakerClassifier(t *testing.T) {
	isFailure := func(err error) bool {
		return strings.Contains(err.Error(), "timeout")
	}
	b, _ := newTestBreaker(Settings{FailureThreshold: 1, IsFailure: isFailure})

	if b.Failure(errors.New("constraint violation")) {
		t.Fatal("non-qualifying error tripped the breaker")
	}
	if got := b.State(); got != Closed {
		t.Fatalf("state = %v, want closed", got)
	}
	if !b.Failure(errors.New("i/o timeout")) {
		t.Fatal("qualifying error did not trip")
	}
}

func TestBreakerRetryAfter(t *testing.T) {
	b, clock := newTestBreaker(Settings{FailureThreshold: 1, ResetTimeout: 30 * time.Second})

	if got := b.RetryAfter(); got != 0 {
		t.Fatalf("closed RetryAfter = %v, want 0", got)
	}
	b.Failure(errBoom)
	if got := b.RetryAfter(); got != 30*time.Second {
		t.Fatalf("open RetryAfter = %v, want 30s", got)
	}
	clock.advance(10 * time.Second)
	if got := b.RetryAfter(); got != 20*time.Second {
		t.Fatalf("open RetryAfter after 10s = %v, want 20s", got)
	}
}
