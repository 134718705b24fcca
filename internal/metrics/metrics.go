// Package metrics exposes Prometheus collectors for risk runs and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oil_risk",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Risk runs by outcome",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "oil_risk",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Duration of full risk runs",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	varGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "oil_risk",
			Subsystem: "engine",
			Name:      "value_at_risk",
			Help:      "Latest one-day VaR by scope, method and confidence",
		},
		[]string{"scope", "method", "confidence"},
	)

	exposureGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "oil_risk",
			Subsystem: "engine",
			Name:      "exposure",
			Help:      "Latest portfolio exposure",
		},
		[]string{"kind"},
	)

	issuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oil_risk",
			Subsystem: "engine",
			Name:      "calculation_issues_total",
			Help:      "Skipped, degraded or failed sub-calculations",
		},
		[]string{"stage", "kind"},
	)

	breachesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oil_risk",
			Subsystem: "limits",
			Name:      "breaches_total",
			Help:      "Limit breaches recorded",
		},
		[]string{"limit_type", "severity"},
	)

	eventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oil_risk",
			Subsystem: "kafka",
			Name:      "events_consumed_total",
			Help:      "Upstream events processed",
		},
		[]string{"topic", "status"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oil_risk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oil_risk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
		},
		[]string{"method", "route"},
	)
)

// ObserveRun records a finished risk run
func ObserveRun(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(d.Seconds())
}

// SetVaR publishes a VaR figure
func SetVaR(scope, method string, confidence, value float64) {
	varGauge.WithLabelValues(scope, method, strconv.FormatFloat(confidence, 'f', -1, 64)).Set(value)
}

// SetExposure publishes gross or net exposure
func SetExposure(kind string, value float64) {
	exposureGauge.WithLabelValues(kind).Set(value)
}

// IssueRecorded counts a calculation issue
func IssueRecorded(stage, kind string) {
	issuesTotal.WithLabelValues(stage, kind).Inc()
}

// BreachRecorded counts a new limit breach
func BreachRecorded(limitType, severity string) {
	breachesTotal.WithLabelValues(limitType, severity).Inc()
}

// EventConsumed counts an upstream Kafka event
func EventConsumed(topic string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	eventsConsumed.WithLabelValues(topic, status).Inc()
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency by route template
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
