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

package hotdb

import "strconv"

// DefaultPrefix namespaces every key the relay writes.
const DefaultPrefix = "pyrelay:"

// Keys builds namespaced hot-store keys. The zero value uses
// DefaultPrefix.
type Keys struct {
	prefix string
}

// NewKeys returns a key builder with the given namespace prefix.
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keys{prefix: prefix}
}

func (k Keys) p() string {
	if k.prefix == "" {
		return DefaultPrefix
	}
	return k.prefix
}

// Prefix returns the active namespace prefix.
func (k Keys) Prefix() string { return k.p() }

// All returns the glob matching every key in this namespace.
func (k Keys) All() string { return k.p() + "*" }

func (k Keys) Quote(id string) string       { return k.p() + "quote:" + id }
func (k Keys) ReplaySlot(fp string) string  { return k.p() + "slot:" + fp }
func (k Keys) Lock(name string) string      { return k.p() + "lock:" + name }
func (k Keys) Reservation(id string) string { return k.p() + "rsv:" + id }

// Counter keys a rolling-window counter, kind by subject, e.g.
// ("quote", wallet) or ("submit", ip).
func (k Keys) Counter(kind, subject string) string {
	return k.p() + "cnt:" + kind + ":" + subject
}

func (k Keys) Stats() string          { return k.p() + "stats" }
func (k Keys) Leaderboard() string    { return k.p() + "leaderboard" }
func (k Keys) BurnProofs() string     { return k.p() + "burns" }
func (k Keys) TreasuryEvents() string { return k.p() + "treasury:events" }
func (k Keys) AuditLog() string       { return k.p() + "audit" }

// VelocityCount and VelocityCost key one minute bucket each; minute is
// unix time divided by 60.
func (k Keys) VelocityCount(minute int64) string {
	return k.p() + "vel:count:" + strconv.FormatInt(minute, 10)
}

func (k Keys) VelocityCost(minute int64) string {
	return k.p() + "vel:cost:" + strconv.FormatInt(minute, 10)
}

// SwapCache keys a DEX quote by pair and amount magnitude bucket.
func (k Keys) SwapCache(inputMint, outputMint string, bucket int) string {
	return k.p() + "swapq:" + inputMint + ":" + outputMint + ":" + strconv.Itoa(bucket)
}

// TreasuryTokenAccount caches the treasury's receiving account for a
// payment-token mint.
func (k Keys) TreasuryTokenAccount(mint string) string {
	return k.p() + "treasury:ata:" + mint
}

// SyncCursor keys the data-sync worker's last-synced value for a
// statistics field.
func (k Keys) SyncCursor(field string) string {
	return k.p() + "sync:" + field
}
