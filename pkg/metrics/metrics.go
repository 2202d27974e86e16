// Package metrics exposes Prometheus counters for editing and simulation activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callflow"

var (
	sessionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of simulation sessions started",
		},
	)

	sessionsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Total number of simulation sessions that reached a terminal status",
		},
		[]string{"status"}, // completed, failed
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of simulation sessions not yet finished",
		},
	)

	nodesEnteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_entered_total",
			Help:      "Total number of nodes entered by the engine",
		},
		[]string{"node_type"},
	)

	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Total number of node-set mutations",
		},
		[]string{"op", "result"}, // result: success, rejected
	)

	publishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Total number of publish attempts",
		},
		[]string{"result"}, // result: success, rejected
	)

	validationIssuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Total number of validation issues reported",
		},
		[]string{"kind", "severity"},
	)

	allMetrics = []prometheus.Collector{
		sessionsStartedTotal,
		sessionsFinishedTotal,
		sessionsActive,
		nodesEnteredTotal,
		mutationsTotal,
		publishesTotal,
		validationIssuesTotal,
	}
)

const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
)

func RecordSessionStarted() {
	sessionsStartedTotal.Inc()
	sessionsActive.Inc()
}

func RecordSessionFinished(status string) {
	sessionsFinishedTotal.WithLabelValues(status).Inc()
	sessionsActive.Dec()
}

func RecordNodeEntered(nodeType string) {
	nodesEnteredTotal.WithLabelValues(nodeType).Inc()
}

func RecordMutation(op, result string) {
	mutationsTotal.WithLabelValues(op, result).Inc()
}

func RecordPublish(result string) {
	publishesTotal.WithLabelValues(result).Inc()
}

func RecordValidationIssue(kind, severity string) {
	validationIssuesTotal.WithLabelValues(kind, severity).Inc()
}

// NewRegistry returns a registry holding the callflow metrics and the Go
// runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
