// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	metricRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_requests_total",
			Help: "Completion requests by outcome",
		},
		[]string{"outcome"},
	)
	metricAdmissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_admission_rejections_total",
			Help: "Requests rejected before any provider call, by reason",
		},
		[]string{"reason"},
	)
	metricProviderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_provider_attempts_total",
			Help: "Outbound provider attempts by provider and result",
		},
		[]string{"provider", "result"},
	)
	metricRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "axonflow_gateway_request_duration_milliseconds",
			Help:    "End-to-end completion request duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"outcome"},
	)
	metricTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_tokens_total",
			Help: "Tokens consumed by provider, model and direction",
		},
		[]string{"provider", "model", "direction"},
	)
	metricCostMicros = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_cost_micros_total",
			Help: "Committed spend in micro-USD by provider and model",
		},
		[]string{"provider", "model"},
	)
	metricAuditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_audit_dropped_total",
			Help: "Audit events dropped because the queue was full",
		},
	)
	metricPoolSaturated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_worker_pool_saturated_total",
			Help: "Requests rejected because the worker pool was full",
		},
	)
)

func init() {
	prometheus.MustRegister(metricRequestsTotal)
	prometheus.MustRegister(metricAdmissionRejections)
	prometheus.MustRegister(metricProviderAttempts)
	prometheus.MustRegister(metricRequestDuration)
	prometheus.MustRegister(metricTokensTotal)
	prometheus.MustRegister(metricCostMicros)
	prometheus.MustRegister(metricAuditDropped)
	prometheus.MustRegister(metricPoolSaturated)
}
