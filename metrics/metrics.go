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

// Package metrics exposes the relay's Prometheus collectors on a
// private registry, served by the HTTP surface at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// RequestDuration observes HTTP handler latency per route and
	// status class.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pyrelay",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "code"})

	// QuotesCreated counts issued quotes by type.
	QuotesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pyrelay",
		Name:      "quotes_created_total",
		Help:      "Quotes issued.",
	}, []string{"type"})

	// QuotesRejected counts refused quote requests by error code.
	QuotesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pyrelay",
		Name:      "quotes_rejected_total",
		Help:      "Quote requests refused.",
	}, []string{"code"})

	// TxRelayed counts confirmed relayed transactions.
	TxRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pyrelay",
		Name:      "transactions_relayed_total",
		Help:      "User transactions confirmed on chain.",
	})

	// TxFailed counts submit pipeline failures by error code.
	TxFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pyrelay",
		Name:      "transactions_failed_total",
		Help:      "Submit failures.",
	}, []string{"code"})

	// BurnUnits totals ecosystem-token units burned.
	BurnUnits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pyrelay",
		Name:      "burn_units_total",
		Help:      "Ecosystem token units burned.",
	})

	// BurnCycles counts worker cycles by outcome.
	BurnCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pyrelay",
		Name:      "burn_cycles_total",
		Help:      "Burn worker cycles.",
	}, []string{"outcome"})

	// PayerBalance gauges each fee payer's last observed native
	// balance.
	PayerBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pyrelay",
		Name:      "feepayer_balance_lamports",
		Help:      "Fee payer native balance.",
	}, []string{"payer"})

	// CircuitOpen gauges open circuit breakers by subsystem member.
	CircuitOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pyrelay",
		Name:      "circuit_open",
		Help:      "1 when the member's circuit breaker is open.",
	}, []string{"subsystem", "member"})

	// RateLimited counts requests refused by the per-IP or per-wallet
	// limiters.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pyrelay",
		Name:      "rate_limited_total",
		Help:      "Requests refused by rate limiting.",
	}, []string{"scope"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RequestDuration,
		QuotesCreated,
		QuotesRejected,
		TxRelayed,
		TxFailed,
		BurnUnits,
		BurnCycles,
		PayerBalance,
		CircuitOpen,
		RateLimited,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
