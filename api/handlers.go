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
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/pyrelay/pyrelay/colddb"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/common/math"
	"github.com/pyrelay/pyrelay/core"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/metrics"
	"github.com/pyrelay/pyrelay/params"
)

// decodeBody parses a JSON request body, refusing unknown fields.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.ErrValidation("malformed request body").WithCause(err)
	}
	return nil
}

type quoteBody struct {
	UserPubkey            common.Pubkey `json:"userPubkey"`
	PaymentToken          common.Pubkey `json:"paymentToken"`
	EstimatedComputeUnits uint64        `json:"estimatedComputeUnits"`
}

func (s *Server) handleQuote(qt types.QuoteType) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body quoteBody
		if err := decodeBody(r, &body); err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.walletLimit(r, "quote", body.UserPubkey, s.cfg.WalletQuoteLimit); err != nil {
			s.writeError(w, err)
			return
		}
		resp, err := s.deps.Quotes.CreateQuote(r.Context(), &core.QuoteRequest{
			UserAccount:   body.UserPubkey,
			PaymentToken:  body.PaymentToken,
			ComputeUnits:  body.EstimatedComputeUnits,
			Type:          qt,
			CorrelationID: r.Header.Get(correlationHeader),
			IP:            clientIP(r),
		})
		if err != nil {
			if coreErr, ok := core.AsError(err); ok {
				metrics.QuotesRejected.WithLabelValues(coreErr.Code).Inc()
			}
			s.writeError(w, err)
			return
		}
		metrics.QuotesCreated.WithLabelValues(string(qt)).Inc()
		s.writeJSON(w, http.StatusOK, resp)
	}
}

type submitBody struct {
	QuoteID           string        `json:"quoteId"`
	SignedTransaction string        `json:"signedTransaction"`
	UserPubkey        common.Pubkey `json:"userPubkey"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body submitBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(body.SignedTransaction)
	if err != nil {
		s.writeError(w, core.ErrValidation("signedTransaction is not valid base64"))
		return
	}
	if err := s.walletLimit(r, "submit", body.UserPubkey, s.cfg.WalletSubmitLimit); err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.deps.Submits.Submit(r.Context(), &core.SubmitRequest{
		QuoteID:        body.QuoteID,
		RawTransaction: raw,
		CorrelationID:  r.Header.Get(correlationHeader),
		IP:             clientIP(r),
	})
	if err != nil {
		if coreErr, ok := core.AsError(err); ok {
			metrics.TxFailed.WithLabelValues(coreErr.Code).Inc()
		}
		s.writeError(w, err)
		return
	}
	metrics.TxRelayed.Inc()
	s.writeJSON(w, http.StatusOK, resp)
}

// walletLimit enforces the per-wallet/minute cap through the hot-store
// counter, so it holds across replicas.
func (s *Server) walletLimit(r *http.Request, kind string, wallet common.Pubkey, limit int) error {
	if wallet.IsZero() {
		return core.ErrValidation("userPubkey is required")
	}
	count, err := s.deps.Store.IncrCounter(r.Context(), kind, wallet.Base58(), time.Minute)
	if err != nil {
		// A broken counter must not take the public surface down.
		s.logger.Warn("Wallet rate counter unavailable", "err", err)
		return nil
	}
	if count > int64(limit) {
		metrics.RateLimited.WithLabelValues("wallet").Inc()
		return core.ErrRateLimit(60)
	}
	return nil
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	tokens, err := s.deps.Gate.Accepted(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap, err := s.deps.Store.StatsSnapshot(r.Context(), time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWalletStats(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	wallet, err := common.Base58ToPubkey(ps.ByName("address"))
	if err != nil {
		s.writeError(w, core.ErrValidation("invalid wallet address"))
		return
	}
	stats := types.WalletStats{Wallet: wallet}
	rank, burned, err := s.deps.Store.LeaderboardRank(r.Context(), wallet.Base58())
	switch {
	case errors.Is(err, hotdb.ErrNotFound):
		// Wallet has not contributed yet; zero view.
	case err != nil:
		s.writeError(w, err)
		return
	default:
		stats.Rank = rank
		stats.Burned = math.Amount(burned)
	}
	if s.deps.Cold != nil {
		if n, err := s.deps.Cold.WalletTransactionCount(r.Context(), wallet.Base58()); err == nil {
			stats.Transactions = n
		}
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	entries, err := s.deps.Store.LeaderboardTop(r.Context(), int64(queryLimit(r, 100, 500)))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

func (s *Server) handleBurns(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := queryLimit(r, 50, 200)
	proofs, err := s.deps.Store.BurnProofs(r.Context(), int64(limit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	// The hot tail is capped; older history lives in the cold store.
	if len(proofs) == 0 && s.deps.Cold != nil {
		if archived, err := s.deps.Cold.Burns(r.Context(), limit); err == nil {
			proofs = archived
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"burns": proofs})
}

func (s *Server) handleBurnBySignature(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sig := ps.ByName("signature")
	if s.deps.Cold != nil {
		proof, err := s.deps.Cold.BurnBySignature(r.Context(), sig)
		switch {
		case err == nil:
			s.writeJSON(w, http.StatusOK, proof)
			return
		case !errors.Is(err, colddb.ErrNotFound):
			s.writeError(w, err)
			return
		}
	}
	// Fall back to the hot tail for very recent burns.
	proofs, err := s.deps.Store.BurnProofs(r.Context(), params.BurnProofCap)
	if err != nil {
		s.writeError(w, err)
		return
	}
	for _, p := range proofs {
		if p.Signature.Base58() == sig {
			s.writeJSON(w, http.StatusOK, p)
			return
		}
	}
	s.writeJSON(w, http.StatusNotFound, errorBody{
		Error:      "burn " + sig + " not found",
		Code:       "NOT_FOUND",
		StatusCode: http.StatusNotFound,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Health == nil {
		s.writeJSON(w, http.StatusOK, HealthStatus{Status: "ok"})
		return
	}
	status := s.deps.Health(r.Context())
	code := http.StatusOK
	if status.Status == "down" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": params.VersionWithMeta})
}

func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
