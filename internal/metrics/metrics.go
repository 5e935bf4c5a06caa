// Package metrics exposes Prometheus counters for the request pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts completed requests by final outcome:
	// success, error, or canceled.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restbridge",
		Name:      "requests_total",
		Help:      "Completed requests by final outcome.",
	}, []string{"outcome"})

	// RetriesTotal counts backoff replays of transient failures.
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "restbridge",
		Name:      "retries_total",
		Help:      "Backoff replays issued by the retry engine.",
	})

	// RefreshesTotal counts credential refresh exchanges by result.
	RefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restbridge",
		Name:      "refreshes_total",
		Help:      "Credential refresh exchanges by result.",
	}, []string{"result"})

	// RequestDuration observes end-to-end request latency, replays included.
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "restbridge",
		Name:      "request_duration_seconds",
		Help:      "End-to-end request latency including retries and replays.",
		Buckets:   prometheus.DefBuckets,
	})
)
