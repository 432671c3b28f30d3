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
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pyrelay/pyrelay/core/types"
)

// InsertAuditEntries archives a batch of audit entries in one
// statement. Entries whose payload cannot be encoded are stored without
// one rather than dropped.
func (d *Database) InsertAuditEntries(ctx context.Context, entries []*types.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return d.withDB(ctx, "insert_audit", func(db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO audit_log (recorded_at, type, wallet, ip, severity, payload)
			VALUES ($1, $2, $3, $4, $5, $6)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entries {
			var payload interface{}
			if e.Payload != nil {
				if raw, err := json.Marshal(e.Payload); err == nil {
					payload = raw
				}
			}
			if _, err := stmt.ExecContext(ctx, e.Timestamp, e.Type,
				nullable(e.Wallet), nullable(e.IP), string(e.Severity), payload); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// AuditQuery filters archived audit entries.
type AuditQuery struct {
	Type     string
	Wallet   string
	Severity string
	Since    time.Time
	Limit    int
}

// QueryAudit returns archived entries matching q, newest first.
func (d *Database) QueryAudit(ctx context.Context, q AuditQuery) ([]*types.AuditEntry, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	var rows []struct {
		RecordedAt time.Time      `db:"recorded_at"`
		Type       string         `db:"type"`
		Wallet     sql.NullString `db:"wallet"`
		IP         sql.NullString `db:"ip"`
		Severity   string         `db:"severity"`
		Payload    []byte         `db:"payload"`
	}
	err := d.withDB(ctx, "query_audit", func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, `
			SELECT recorded_at, type, wallet, ip, severity, payload
			FROM audit_log
			WHERE ($1 = '' OR type = $1)
			  AND ($2 = '' OR wallet = $2)
			  AND ($3 = '' OR severity = $3)
			  AND recorded_at >= $4
			ORDER BY recorded_at DESC LIMIT $5`,
			q.Type, q.Wallet, q.Severity, q.Since, q.Limit)
	})
	if err != nil {
		return nil, err
	}
	entries := make([]*types.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := &types.AuditEntry{
			Timestamp: r.RecordedAt,
			Type:      r.Type,
			Wallet:    r.Wallet.String,
			IP:        r.IP.String,
			Severity:  types.Severity(r.Severity),
		}
		if len(r.Payload) > 0 {
			json.Unmarshal(r.Payload, &e.Payload)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
