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

type txRow struct {
	QuoteID       string       `db:"quote_id"`
	Signature     string       `db:"signature"`
	UserAccount   string       `db:"user_account"`
	PaymentToken  string       `db:"payment_token"`
	FeePayer      string       `db:"fee_payer"`
	FeeAmount     math.Amount  `db:"fee_amount"`
	FeeNative     math.Amount  `db:"fee_native"`
	BurnPortion   math.Amount  `db:"burn_portion"`
	TreasuryShare math.Amount  `db:"treasury_share"`
	CorrelationID string       `db:"correlation_id"`
	ExecutedAt    sql.NullTime `db:"executed_at"`
}

func (r *txRow) record() (*types.Transaction, error) {
	sig, err := common.Base58ToSignature(r.Signature)
	if err != nil {
		return nil, err
	}
	user, err := common.Base58ToPubkey(r.UserAccount)
	if err != nil {
		return nil, err
	}
	mint, err := common.Base58ToPubkey(r.PaymentToken)
	if err != nil {
		return nil, err
	}
	payer, err := common.Base58ToPubkey(r.FeePayer)
	if err != nil {
		return nil, err
	}
	t := &types.Transaction{
		QuoteID:       r.QuoteID,
		Signature:     sig,
		UserAccount:   user,
		PaymentToken:  mint,
		FeePayer:      payer,
		FeeAmount:     r.FeeAmount,
		FeeNative:     r.FeeNative,
		BurnPortion:   r.BurnPortion,
		TreasuryShare: r.TreasuryShare,
		CorrelationID: r.CorrelationID,
	}
	if r.ExecutedAt.Valid {
		t.Timestamp = r.ExecutedAt.Time
	}
	return t, nil
}

// InsertTransaction records one relayed transaction. The quote id is
// the primary key, so the retry path after a lost acknowledgment is a
// no-op rather than a duplicate row.
func (d *Database) InsertTransaction(ctx context.Context, t *types.Transaction) error {
	return d.withDB(ctx, "insert_transaction", func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO transactions (quote_id, signature, user_account,
			                          payment_token, fee_payer, fee_amount,
			                          fee_native, burn_portion, treasury_share,
			                          correlation_id, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (quote_id) DO NOTHING`,
			t.QuoteID, t.Signature.Base58(), t.UserAccount.Base58(),
			t.PaymentToken.Base58(), t.FeePayer.Base58(), t.FeeAmount,
			t.FeeNative, t.BurnPortion, t.TreasuryShare,
			t.CorrelationID, t.Timestamp)
		return err
	})
}

// TransactionByQuote returns the record for a quote id or ErrNotFound.
func (d *Database) TransactionByQuote(ctx context.Context, quoteID string) (*types.Transaction, error) {
	var row txRow
	err := d.withDB(ctx, "transaction_by_quote", func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, `
			SELECT quote_id, signature, user_account, payment_token, fee_payer,
			       fee_amount, fee_native, burn_portion, treasury_share,
			       correlation_id, executed_at
			FROM transactions WHERE quote_id = $1`, quoteID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.record()
}

// Transactions returns the most recent relayed transactions.
func (d *Database) Transactions(ctx context.Context, limit int) ([]*types.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []txRow
	err := d.withDB(ctx, "list_transactions", func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, `
			SELECT quote_id, signature, user_account, payment_token, fee_payer,
			       fee_amount, fee_native, burn_portion, treasury_share,
			       correlation_id, executed_at
			FROM transactions ORDER BY executed_at DESC LIMIT $1`, limit)
	})
	if err != nil {
		return nil, err
	}
	records := make([]*types.Transaction, 0, len(rows))
	for i := range rows {
		t, err := rows[i].record()
		if err != nil {
			continue
		}
		records = append(records, t)
	}
	return records, nil
}

// WalletTransactionCount counts relayed transactions for one wallet.
func (d *Database) WalletTransactionCount(ctx context.Context, wallet string) (uint64, error) {
	var n int64
	err := d.withDB(ctx, "wallet_tx_count", func(db *sqlx.DB) error {
		return db.GetContext(ctx, &n, `
			SELECT COUNT(*) FROM transactions WHERE user_account = $1`, wallet)
	})
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}
