// Package metrics exposes detection loop metrics to Prometheus.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all ouiprox metrics.
type Registry struct {
	// Detection loop
	CyclesTotal      prometheus.Counter
	CycleErrors      *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	ConsecutiveFails prometheus.Gauge
	Recoveries       prometheus.Counter
	Restarts         *prometheus.CounterVec
	Paused           prometheus.Gauge

	// Interface
	InterfaceHealthy prometheus.Gauge

	// Detections
	Detections     *prometheus.CounterVec
	ActionFailures prometheus.Counter
	WatchlistSize  prometheus.Gauge
	IgnoredDevices prometheus.Gauge

	// Admin surface
	APIRequests   *prometheus.CounterVec
	APILatency    *prometheus.HistogramVec
	StreamClients prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ouiprox_cycles_total",
		Help: "Capture cycles started",
	})

	r.CycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ouiprox_cycle_errors_total",
		Help: "Capture cycles that failed, by error class",
	}, []string{"class"})

	r.CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ouiprox_cycle_duration_seconds",
		Help:    "Wall time of completed capture cycles",
		Buckets: []float64{1, 5, 10, 15, 20, 30, 60, 120},
	})

	r.ConsecutiveFails = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ouiprox_consecutive_errors",
		Help: "Current consecutive cycle error count",
	})

	r.Recoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ouiprox_escalated_recoveries_total",
		Help: "Escalated recoveries after repeated cycle failures",
	})

	r.Restarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ouiprox_interface_restarts_total",
		Help: "Interface restarts by reason",
	}, []string{"reason"})

	r.Paused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ouiprox_paused",
		Help: "1 while detection is paused",
	})

	r.InterfaceHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ouiprox_interface_healthy",
		Help: "1 while the capture interface is in scan mode",
	})

	r.Detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ouiprox_detections_total",
		Help: "Alerts raised, by source list",
	}, []string{"list"})

	r.ActionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ouiprox_action_failures_total",
		Help: "Action commands that failed to run",
	})

	r.WatchlistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ouiprox_watchlist_entries",
		Help: "Entries in the active watchlist",
	})

	r.IgnoredDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ouiprox_ignored_devices",
		Help: "Live ignore entries",
	})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ouiprox_api_requests_total",
		Help: "Admin API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ouiprox_api_latency_seconds",
		Help:    "Admin API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	r.StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ouiprox_stream_clients",
		Help: "Connected websocket detection stream clients",
	})

	return r
}

// RecordCycleError records a failed cycle.
func (r *Registry) RecordCycleError(class string, consecutive int) {
	r.CycleErrors.WithLabelValues(class).Inc()
	r.ConsecutiveFails.Set(float64(consecutive))
}

// RecordDetection records one alert.
func (r *Registry) RecordDetection(list string) {
	r.Detections.WithLabelValues(list).Inc()
}

// SetInterfaceHealthy updates the interface health gauge.
func (r *Registry) SetInterfaceHealthy(healthy bool) {
	r.InterfaceHealthy.Set(boolFloat(healthy))
}

// SetPaused updates the pause gauge.
func (r *Registry) SetPaused(paused bool) {
	r.Paused.Set(boolFloat(paused))
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, statusString(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// statusString converts an HTTP status code to string.
func statusString(status int) string {
	return fmt.Sprintf("%d", status)
}
