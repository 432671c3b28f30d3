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

package api

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/pyrelay/pyrelay/core"
	"github.com/pyrelay/pyrelay/core/types"
)

// handleAdminBurn runs one burn cycle synchronously. The distributed
// lock inside the worker keeps a concurrent scheduled cycle safe.
func (s *Server) handleAdminBurn(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Burner == nil {
		s.writeErrorStatus(w, http.StatusServiceUnavailable, &core.Error{
			Kind: core.KindUnavailable, Code: core.CodeServiceUnavailable,
			Message: "burn worker is not running"})
		return
	}
	s.auditAdmin(r, "trigger_burn")
	if err := s.deps.Burner.RunCycle(r.Context()); err != nil {
		s.writeError(w, core.ErrInternal("burn cycle failed").WithCause(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleAdminTreasury(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap, err := s.deps.Store.StatsSnapshot(r.Context(), time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	events, err := s.deps.Store.TreasuryEvents(r.Context(), int64(queryLimit(r, 50, 200)))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"treasuryEcotoken": snap.TreasuryEco,
		"events":           events,
	})
}

func (s *Server) handleAdminHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Cold == nil {
		s.writeErrorStatus(w, http.StatusServiceUnavailable, &core.Error{
			Kind: core.KindUnavailable, Code: core.CodeServiceUnavailable,
			Message: "no cold store configured"})
		return
	}
	limit := queryLimit(r, 100, 1000)
	txs, err := s.deps.Cold.Transactions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	burns, err := s.deps.Cold.Burns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"burns":        burns,
	})
}

type migrateBody struct {
	LegacyPrefix string `json:"legacyPrefix"`
}

// handleAdminMigrateKeys renames legacy hot-store keys into the
// current namespace, a one-shot operation after a prefix change.
func (s *Server) handleAdminMigrateKeys(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body migrateBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.LegacyPrefix == "" {
		s.writeError(w, core.ErrValidation("legacyPrefix is required"))
		return
	}
	s.auditAdmin(r, "migrate_keys")
	n, err := s.deps.Store.MigrateKeys(r.Context(), body.LegacyPrefix)
	if err != nil {
		s.writeError(w, core.ErrInternal("key migration failed").WithCause(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"migrated": n})
}

func (s *Server) auditAdmin(r *http.Request, action string) {
	err := s.deps.Store.PushAudit(r.Context(), &types.AuditEntry{
		Type:     types.AuditAdminAction,
		Severity: types.SeverityInfo,
		IP:       clientIP(r),
		Payload: map[string]interface{}{
			"action":        action,
			"correlationId": r.Header.Get(correlationHeader),
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.Warn("Admin audit write failed", "err", err)
	}
}
