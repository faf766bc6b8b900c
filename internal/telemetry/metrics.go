/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueOpsTotal counts coordinator operations by operation and outcome.
	QueueOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memequeue_queue_ops_total",
		Help: "Queue coordinator operations by outcome.",
	}, []string{"op", "outcome"})

	// QueueOpDuration observes coordinator operation latency.
	QueueOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memequeue_queue_op_duration_seconds",
		Help:    "Queue coordinator operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// TxRetriesTotal counts serializable transaction retries.
	TxRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memequeue_tx_retries_total",
		Help: "Serializable transaction attempts that were retried after a conflict.",
	})

	// PromotionsTotal counts queued activations promoted to the playback slot.
	PromotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memequeue_promotions_total",
		Help: "Activations promoted from queued to playing.",
	})

	// RefundsTotal counts refunds issued by the coordinator.
	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memequeue_refunds_total",
		Help: "Activations refunded on early skip or clear.",
	})

	// RefundedCoinsTotal sums refunded coin amounts.
	RefundedCoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memequeue_refunded_coins_total",
		Help: "Total coins returned to wallets by refunds.",
	})

	// AdmissionsTotal counts accepted paid activations.
	AdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memequeue_admissions_total",
		Help: "Activations accepted into the queue.",
	})

	// WatchdogTimeoutsTotal counts activations force-closed by the watchdog.
	WatchdogTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memequeue_watchdog_timeouts_total",
		Help: "Playing activations force-finished after overrunning their clip duration.",
	})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memequeue_api_requests_total",
		Help: "HTTP requests by method, endpoint and status.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memequeue_api_request_duration_seconds",
		Help:    "HTTP request latency by method, endpoint and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memequeue_api_active_connections",
		Help: "In-flight HTTP requests.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
