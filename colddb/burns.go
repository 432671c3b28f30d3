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
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/common/math"
	"github.com/pyrelay/pyrelay/core/types"
)

// burnRow is the relational projection of a BurnProof.
type burnRow struct {
	Signature        string         `db:"signature"`
	Kind             string         `db:"kind"`
	AmountEcotoken   math.Amount    `db:"amount_ecotoken"`
	AmountSource     math.Amount    `db:"amount_source"`
	AmountNative     math.Amount    `db:"amount_native"`
	TreasuryRetained math.Amount    `db:"treasury_retained"`
	SourceToken      sql.NullString `db:"source_token"`
	Instructions     int            `db:"instructions"`
	ExplorerURL      string         `db:"explorer_url"`
	ExecutedAt       sql.NullTime   `db:"executed_at"`
}

func (r *burnRow) proof() (*types.BurnProof, error) {
	sig, err := common.Base58ToSignature(r.Signature)
	if err != nil {
		return nil, err
	}
	p := &types.BurnProof{
		Signature:        sig,
		Kind:             types.BurnKind(r.Kind),
		AmountEcotoken:   r.AmountEcotoken,
		AmountSource:     r.AmountSource,
		AmountNative:     r.AmountNative,
		TreasuryRetained: r.TreasuryRetained,
		Instructions:     r.Instructions,
		ExplorerURL:      r.ExplorerURL,
	}
	if r.ExecutedAt.Valid {
		p.Timestamp = r.ExecutedAt.Time
	}
	if r.SourceToken.Valid && r.SourceToken.String != "" {
		if mint, err := common.Base58ToPubkey(r.SourceToken.String); err == nil {
			p.SourceToken = &mint
		}
	}
	return p, nil
}

// InsertBurn records a burn proof. Re-inserting the same signature is a
// no-op, so a replayed worker cycle cannot double count.
func (d *Database) InsertBurn(ctx context.Context, p *types.BurnProof) error {
	source := sql.NullString{}
	if p.SourceToken != nil {
		source = sql.NullString{String: p.SourceToken.Base58(), Valid: true}
	}
	return d.withDB(ctx, "insert_burn", func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO burns (signature, kind, amount_ecotoken, amount_source,
			                   amount_native, treasury_retained, source_token,
			                   instructions, explorer_url, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (signature) DO NOTHING`,
			p.Signature.Base58(), string(p.Kind), p.AmountEcotoken, p.AmountSource,
			p.AmountNative, p.TreasuryRetained, source, p.Instructions,
			p.ExplorerURL, p.Timestamp)
		return err
	})
}

// BurnBySignature returns one recorded burn or ErrNotFound.
func (d *Database) BurnBySignature(ctx context.Context, signature string) (*types.BurnProof, error) {
	var row burnRow
	err := d.withDB(ctx, "burn_by_signature", func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, `
			SELECT signature, kind, amount_ecotoken, amount_source,
			       amount_native, treasury_retained, source_token,
			       instructions, explorer_url, executed_at
			FROM burns WHERE signature = $1`, signature)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.proof()
}

// Burns returns the most recent burns, newest first.
func (d *Database) Burns(ctx context.Context, limit int) ([]*types.BurnProof, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []burnRow
	err := d.withDB(ctx, "list_burns", func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, `
			SELECT signature, kind, amount_ecotoken, amount_source,
			       amount_native, treasury_retained, source_token,
			       instructions, explorer_url, executed_at
			FROM burns ORDER BY executed_at DESC LIMIT $1`, limit)
	})
	if err != nil {
		return nil, err
	}
	proofs := make([]*types.BurnProof, 0, len(rows))
	for i := range rows {
		p, err := rows[i].proof()
		if err != nil {
			continue
		}
		proofs = append(proofs, p)
	}
	return proofs, nil
}

// Aggregates is the durable counter summary the sync worker seeds the
// hot store from after a wipe.
type Aggregates struct {
	BurnTotal uint64
	TxCount   uint64
	FeeTotal  uint64
}

// AggregateTotals sums the burn and transaction history.
func (d *Database) AggregateTotals(ctx context.Context) (*Aggregates, error) {
	var row struct {
		BurnTotal math.Amount `db:"burn_total"`
		TxCount   int64       `db:"tx_count"`
		FeeTotal  math.Amount `db:"fee_total"`
	}
	err := d.withDB(ctx, "aggregate_totals", func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, `
			SELECT COALESCE((SELECT SUM(amount_ecotoken) FROM burns), 0)     AS burn_total,
			       COALESCE((SELECT COUNT(*) FROM transactions), 0)          AS tx_count,
			       COALESCE((SELECT SUM(fee_native) FROM transactions), 0)   AS fee_total`)
	})
	if err != nil {
		return nil, err
	}
	return &Aggregates{
		BurnTotal: uint64(row.BurnTotal),
		TxCount:   uint64(row.TxCount),
		FeeTotal:  uint64(row.FeeTotal),
	}, nil
}
