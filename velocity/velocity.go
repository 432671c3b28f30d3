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

// Package velocity tracks signing throughput in minute buckets and
// derives the native-coin buffer the fee payers must keep to cover the
// observed spend rate.
package velocity

import (
	"context"
	"math"
	"time"

	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/params"
)

// Basis explains which input produced a buffer recommendation.
const (
	BasisVelocity = "velocity"
	BasisNoData   = "no data"
)

// Metrics summarizes the trailing window of signing activity.
type Metrics struct {
	TxCount         uint64  `json:"txCount"`
	TotalCostNative uint64  `json:"totalCostNative"`
	AvgCostNative   uint64  `json:"avgCostNative"`
	TxPerHour       float64 `json:"txPerHour"`
	ObservedMinutes int     `json:"observedMinutes"`
}

// HasData reports whether enough minutes carry samples to trust the
// derived rates.
func (m *Metrics) HasData() bool {
	return m.ObservedMinutes >= params.VelocityMinObservedMin
}

// Tracker records and aggregates velocity buckets in the hot store.
type Tracker struct {
	store *hotdb.Store
	now   func() time.Time
}

// New returns a tracker over the hot store.
func New(store *hotdb.Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Record adds one signed transaction of the given native cost to the
// current minute.
func (t *Tracker) Record(ctx context.Context, costNative uint64) error {
	return t.store.RecordVelocity(ctx, t.now(), costNative)
}

// Metrics collapses the trailing window with a single bulk read.
func (t *Tracker) Metrics(ctx context.Context) (*Metrics, error) {
	buckets, err := t.store.VelocityWindow(ctx, t.now(), params.VelocityWindowMinutes)
	if err != nil {
		return nil, err
	}
	m := &Metrics{}
	for _, b := range buckets {
		if b.Count == 0 {
			continue
		}
		m.ObservedMinutes++
		m.TxCount += b.Count
		m.TotalCostNative += b.Cost
	}
	if m.TxCount > 0 {
		m.AvgCostNative = m.TotalCostNative / m.TxCount
		m.TxPerHour = float64(m.TxCount) * 60 / float64(params.VelocityWindowMinutes)
	}
	return m, nil
}

// RequiredBuffer derives the native balance a fee payer needs to cover
// runwayHours of signing at the observed rate, floored at minFloor.
// The target is the required buffer times the refill multiplier, so
// refill swaps stay rare. basis reports which input drove the numbers.
func (t *Tracker) RequiredBuffer(ctx context.Context, runwayHours float64, minFloor uint64) (required, target uint64, basis string, err error) {
	m, err := t.Metrics(ctx)
	if err != nil {
		return 0, 0, "", err
	}
	if !m.HasData() {
		return minFloor, saturatingMul(minFloor, params.VelocityTargetMultiplier), BasisNoData, nil
	}
	needed := math.Ceil(m.TxPerHour * float64(m.AvgCostNative) * runwayHours)
	required = minFloor
	if needed > float64(minFloor) && needed < float64(math.MaxUint64) {
		required = uint64(needed)
	}
	return required, saturatingMul(required, params.VelocityTargetMultiplier), BasisVelocity, nil
}

func saturatingMul(v uint64, by uint64) uint64 {
	prod := v * by
	if v != 0 && prod/v != by {
		return math.MaxUint64
	}
	return prod
}
