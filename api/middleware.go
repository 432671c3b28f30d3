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
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"

	"github.com/pyrelay/pyrelay/core"
	"github.com/pyrelay/pyrelay/metrics"
)

const correlationHeader = "x-correlation-id"

// correlate assigns every request a correlation id, echoed on the
// response and threaded through the services so audit entries align
// across retries.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		r.Header.Set(correlationHeader, id)
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records per-route request duration and status.
func (s *Server) instrument(route string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(sw, r, ps)
		metrics.RequestDuration.
			WithLabelValues(route, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	}
}

// ipLimiter is a token bucket per client IP. Stale buckets are evicted
// on the fly.
type ipLimiter struct {
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	buckets map[string]*ipBucket
}

type ipBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		rate:    rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*ipBucket),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	b, ok := l.buckets[ip]
	if !ok {
		if len(l.buckets) > 10_000 {
			for k, v := range l.buckets {
				if now.Sub(v.seen) > 10*time.Minute {
					delete(l.buckets, k)
				}
			}
		}
		b = &ipBucket{lim: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim.Allow()
}

// rateLimit guards the public surface with the per-IP bucket.
func (s *Server) rateLimit(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			metrics.RateLimited.WithLabelValues("ip").Inc()
			s.writeError(w, core.ErrRateLimit(1))
			return
		}
		next(w, r, ps)
	}
}

// adminAuth guards the admin surface: header key only, compared in
// constant time. Keys offered through the query string are refused
// outright so they never land in access logs.
func (s *Server) adminAuth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.cfg.AdminKey == "" {
			s.writeErrorStatus(w, http.StatusServiceUnavailable, &core.Error{
				Kind: core.KindUnavailable, Code: core.CodeAdminNotConfigured,
				Message: "admin surface is not configured"})
			return
		}
		q := r.URL.Query()
		for _, param := range []string{"key", "apikey", "api_key", "admin_key"} {
			if q.Get(param) != "" {
				s.writeErrorStatus(w, http.StatusUnauthorized, &core.Error{
					Kind: core.KindValidation, Code: core.CodeInvalidAPIKey,
					Message: "admin key must be sent in the x-admin-key header"})
				return
			}
		}
		got := r.Header.Get("x-admin-key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminKey)) != 1 {
			s.writeErrorStatus(w, http.StatusUnauthorized, &core.Error{
				Kind: core.KindValidation, Code: core.CodeInvalidAPIKey,
				Message: "invalid admin key"})
			return
		}
		next(w, r, ps)
	}
}

// clientIP prefers the first forwarded hop, falling back to the socket
// peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Response write failed", "err", err)
	}
}

// errorBody is the wire error envelope.
type errorBody struct {
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	StatusCode int      `json:"statusCode"`
	Details    []string `json:"details,omitempty"`
	RetryAfter int      `json:"retryAfter,omitempty"`
}

// writeError maps a service error onto the envelope. Unknown errors
// surface as opaque 500s; their cause stays in the logs.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	coreErr, ok := core.AsError(err)
	if !ok {
		s.logger.Error("Unclassified handler error", "err", err)
		coreErr = core.ErrInternal("internal error")
	}
	s.writeErrorStatus(w, httpStatus(coreErr), coreErr)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, e *core.Error) {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	s.writeJSON(w, status, errorBody{
		Error:      e.Message,
		Code:       e.Code,
		StatusCode: status,
		Details:    e.Details,
		RetryAfter: e.RetryAfter,
	})
}

func httpStatus(e *core.Error) int {
	switch e.Kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindExpired:
		return http.StatusGone
	case core.KindReplay:
		return http.StatusConflict
	case core.KindTierRejected:
		return http.StatusForbidden
	case core.KindRateLimit:
		return http.StatusTooManyRequests
	case core.KindUnavailable, core.KindPayerCapacity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
