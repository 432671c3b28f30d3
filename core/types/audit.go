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

package types

import "time"

// Severity grades audit entries.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Audit event types recorded by the services.
const (
	AuditQuoteCreated   = "quote_created"
	AuditQuoteRejected  = "quote_rejected"
	AuditTxSubmitted    = "tx_submitted"
	AuditTxFailed       = "tx_failed"
	AuditReplayBlocked  = "replay_blocked"
	AuditBurnExecuted   = "burn_executed"
	AuditBurnFailed     = "burn_failed"
	AuditRefillExecuted = "refill_executed"
	AuditAnomaly        = "anomaly_detected"
	AuditAdminAction    = "admin_action"
)

// AuditEntry is one append-only audit record. The hot store keeps a
// bounded tail with a 7 day TTL; the sync worker archives durably.
type AuditEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Wallet    string                 `json:"wallet,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	Severity  Severity               `json:"severity"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
