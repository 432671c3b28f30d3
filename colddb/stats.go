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

package colddb

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pyrelay/pyrelay/common/math"
	"github.com/pyrelay/pyrelay/core/types"
)

// UpsertDailyStats folds deltas into the UTC day's row. Unique wallets
// take the maximum rather than the sum, since the hot-store counter is
// already cumulative for the day.
func (d *Database) UpsertDailyStats(ctx context.Context, day time.Time, delta types.DailyAggregate) error {
	return d.withDB(ctx, "upsert_daily_stats", func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO daily_stats (day, burns, transactions, unique_wallets,
			                         fees_native, treasury_end)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (day) DO UPDATE SET
				burns          = daily_stats.burns + EXCLUDED.burns,
				transactions   = daily_stats.transactions + EXCLUDED.transactions,
				unique_wallets = GREATEST(daily_stats.unique_wallets, EXCLUDED.unique_wallets),
				fees_native    = daily_stats.fees_native + EXCLUDED.fees_native,
				treasury_end   = EXCLUDED.treasury_end`,
			day.UTC().Format("2006-01-02"), delta.Burns, delta.Transactions,
			delta.UniqueWallets, delta.FeesNative, delta.TreasuryEnd)
		return err
	})
}

// DailyStats returns the most recent daily rows, newest first.
func (d *Database) DailyStats(ctx context.Context, days int) ([]types.DailyAggregate, error) {
	if days <= 0 {
		days = 30
	}
	var rows []struct {
		Day           time.Time   `db:"day"`
		Burns         math.Amount `db:"burns"`
		Transactions  int64       `db:"transactions"`
		UniqueWallets int64       `db:"unique_wallets"`
		FeesNative    math.Amount `db:"fees_native"`
		TreasuryEnd   math.Amount `db:"treasury_end"`
	}
	err := d.withDB(ctx, "daily_stats", func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, `
			SELECT day, burns, transactions, unique_wallets, fees_native, treasury_end
			FROM daily_stats ORDER BY day DESC LIMIT $1`, days)
	})
	if err != nil {
		return nil, err
	}
	out := make([]types.DailyAggregate, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.DailyAggregate{
			Day:           r.Day.UTC().Format("2006-01-02"),
			Burns:         uint64(r.Burns),
			Transactions:  uint64(r.Transactions),
			UniqueWallets: uint64(r.UniqueWallets),
			FeesNative:    r.FeesNative,
			TreasuryEnd:   r.TreasuryEnd,
		})
	}
	return out, nil
}

// UpsertTokenStats adds one collected fee to a payment token's totals.
func (d *Database) UpsertTokenStats(ctx context.Context, mint, symbol string, feeCollected uint64) error {
	return d.withDB(ctx, "upsert_token_stats", func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO token_stats (mint, symbol, fees_collected, tx_count, updated_at)
			VALUES ($1, $2, $3, 1, NOW())
			ON CONFLICT (mint) DO UPDATE SET
				symbol         = EXCLUDED.symbol,
				fees_collected = token_stats.fees_collected + EXCLUDED.fees_collected,
				tx_count       = token_stats.tx_count + 1,
				updated_at     = NOW()`,
			mint, symbol, math.Amount(feeCollected))
		return err
	})
}
