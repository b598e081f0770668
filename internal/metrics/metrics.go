// Package metrics exposes the master's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReportsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speedwatch_reports_accepted_total",
		Help: "Reports accepted by the ingest endpoint.",
	})

	ReportsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speedwatch_reports_rejected_total",
		Help: "Reports rejected by the ingest endpoint, by reason.",
	}, []string{"reason"})

	DigestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speedwatch_digests_sent_total",
		Help: "Digest messages delivered to recipients.",
	})

	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speedwatch_dispatch_failures_total",
		Help: "Digest deliveries abandoned after retries.",
	})
)

// Rejection reasons.
const (
	ReasonAuth       = "auth"
	ReasonValidation = "validation"
)

// Register mounts the Prometheus handler on the provided mux.
func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
