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

package velocity

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/hotdb/memorydb"
	"github.com/pyrelay/pyrelay/params"
)

func newTracker() *Tracker {
	return New(hotdb.NewStore(memorydb.New(), hotdb.NewKeys("test")))
}

// fill records one transaction of cost in each of n distinct trailing
// minutes and pins the tracker clock to the final minute.
func fill(t *testing.T, tr *Tracker, n int, cost uint64) {
	t.Helper()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		tr.now = func() time.Time { return at }
		require.NoError(t, tr.Record(context.Background(), cost))
	}
	end := base.Add(time.Duration(n-1) * time.Minute)
	tr.now = func() time.Time { return end }
}

func TestMetricsEmptyWindow(t *testing.T) {
	tr := newTracker()
	m, err := tr.Metrics(context.Background())
	require.NoError(t, err)
	require.Zero(t, m.TxCount)
	require.Zero(t, m.ObservedMinutes)
	require.False(t, m.HasData())
}

func TestMetricsAggregation(t *testing.T) {
	tr := newTracker()
	fill(t, tr, 10, 50_000)

	m, err := tr.Metrics(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(10), m.TxCount)
	require.Equal(t, 10, m.ObservedMinutes)
	require.Equal(t, uint64(500_000), m.TotalCostNative)
	require.Equal(t, uint64(50_000), m.AvgCostNative)
	require.InDelta(t, 10.0, m.TxPerHour, 1e-9)
	require.True(t, m.HasData())
}

func TestRequiredBufferNoData(t *testing.T) {
	tr := newTracker()
	// Five observed minutes is one short of trusting the window.
	fill(t, tr, params.VelocityMinObservedMin-1, 50_000)

	required, target, basis, err := tr.RequiredBuffer(context.Background(), 2.0, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, BasisNoData, basis)
	require.Equal(t, uint64(1_000_000), required)
	require.Equal(t, uint64(100_000_000), target)
}

func TestRequiredBufferFromVelocity(t *testing.T) {
	tr := newTracker()
	fill(t, tr, 10, 50_000)

	// 10 tx/h at 50k each over 2h of runway.
	required, target, basis, err := tr.RequiredBuffer(context.Background(), 2.0, 1_000)
	require.NoError(t, err)
	require.Equal(t, BasisVelocity, basis)
	require.Equal(t, uint64(1_000_000), required)
	require.Equal(t, uint64(100_000_000), target)
}

func TestRequiredBufferFloorDominates(t *testing.T) {
	tr := newTracker()
	fill(t, tr, 10, 10)

	required, _, basis, err := tr.RequiredBuffer(context.Background(), 0.1, 5_000_000)
	require.NoError(t, err)
	require.Equal(t, BasisVelocity, basis)
	require.Equal(t, uint64(5_000_000), required)
}

func TestTargetSaturates(t *testing.T) {
	require.Equal(t, uint64(math.MaxUint64), saturatingMul(math.MaxUint64/2, 100))
	require.Equal(t, uint64(0), saturatingMul(0, 100))
}
