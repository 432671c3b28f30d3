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

package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// RPCError is a JSON-RPC error object returned by an endpoint.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// HTTPStatusError is a non-200 transport response.
type HTTPStatusError struct {
	Method     string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: http %s", e.Method, e.Status)
}

// retryableSubmitPatterns are provider error texts that indicate a
// transient submit failure worth retrying with a fresh blockhash. The
// match is textual because public providers do not agree on codes.
var retryableSubmitPatterns = []string{
	"BlockhashNotFound",
	"Blockhash not found",
	"TransactionExpired",
	"block height exceeded",
	"Too Many Requests",
	"rate limit",
	"Transaction simulation failed: Blockhash",
	"Node is behind",
	"Node is unhealthy",
	"connection reset",
	"connection refused",
	"EOF",
}

// IsRetryableSubmit reports whether a SendTransaction failure is worth
// another bounded attempt.
func IsRetryableSubmit(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, pattern := range retryableSubmitPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsBlockhashNotFound reports the submit failure that invalidates the
// pool's blockhash cache.
func IsBlockhashNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "BlockhashNotFound") ||
		strings.Contains(msg, "Blockhash not found")
}

// QualifiesForBreaker classifies the failures that count toward an
// endpoint's (or fee payer's) circuit breaker: timeouts, connection
// refusals, rate limiting and service unavailability. Application
// level rejections pass through without tripping anything.
func QualifiesForBreaker(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable,
			http.StatusBadGateway, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "Too Many Requests") ||
		strings.Contains(msg, "service unavailable")
}
