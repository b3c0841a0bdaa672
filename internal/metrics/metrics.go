package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for RelayKeys
type Metrics struct {
	// Credential counters
	CredentialOpsTotal   *prometheus.CounterVec
	CredentialAuthTotal  *prometheus.CounterVec
	UsernameRetriesTotal prometheus.Counter

	// DKIM key counters
	DKIMKeyOpsTotal    *prometheus.CounterVec
	VerificationsTotal *prometheus.CounterVec

	// Lifecycle sweep
	SweepRunsTotal        prometheus.Counter
	SweepTransitionsTotal *prometheus.CounterVec
	SweepDurationSeconds  prometheus.Histogram

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		// Credential counters
		CredentialOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaykeys_credential_operations_total",
				Help: "Total number of credential operations",
			},
			[]string{"operation", "result"},
		),
		CredentialAuthTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaykeys_credential_auth_total",
				Help: "Total number of credential authentication attempts",
			},
			[]string{"result"},
		),
		UsernameRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relaykeys_username_retries_total",
				Help: "Total number of username regeneration retries after collisions",
			},
		),

		// DKIM key counters
		DKIMKeyOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaykeys_dkim_key_operations_total",
				Help: "Total number of DKIM key operations",
			},
			[]string{"operation", "result"},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaykeys_dns_verifications_total",
				Help: "Total number of DNS verification attempts",
			},
			[]string{"outcome"},
		),

		// Lifecycle sweep
		SweepRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relaykeys_sweep_runs_total",
				Help: "Total number of expiry sweep runs",
			},
		),
		SweepTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaykeys_sweep_transitions_total",
				Help: "Total number of key status transitions applied by sweeps",
			},
			[]string{"status"},
		),
		SweepDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relaykeys_sweep_duration_seconds",
				Help:    "Expiry sweep duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		// API metrics
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaykeys_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relaykeys_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaykeys_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		// System metrics
		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relaykeys_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relaykeys_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	// Register all metrics
	reg.MustRegister(
		m.CredentialOpsTotal,
		m.CredentialAuthTotal,
		m.UsernameRetriesTotal,
		m.DKIMKeyOpsTotal,
		m.VerificationsTotal,
		m.SweepRunsTotal,
		m.SweepTransitionsTotal,
		m.SweepDurationSeconds,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncCredentialOp increments the credential operation counter
func IncCredentialOp(operation, result string) {
	m := Global()
	if m != nil {
		m.CredentialOpsTotal.WithLabelValues(operation, result).Inc()
	}
}

// IncCredentialAuth increments the authentication attempt counter
func IncCredentialAuth(result string) {
	m := Global()
	if m != nil {
		m.CredentialAuthTotal.WithLabelValues(result).Inc()
	}
}

// IncUsernameRetry increments the username collision retry counter
func IncUsernameRetry() {
	m := Global()
	if m != nil {
		m.UsernameRetriesTotal.Inc()
	}
}

// IncDKIMKeyOp increments the DKIM key operation counter
func IncDKIMKeyOp(operation, result string) {
	m := Global()
	if m != nil {
		m.DKIMKeyOpsTotal.WithLabelValues(operation, result).Inc()
	}
}

// IncVerification increments the DNS verification counter
func IncVerification(outcome string) {
	m := Global()
	if m != nil {
		m.VerificationsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveSweep records a completed expiry sweep
func ObserveSweep(seconds float64, transitions map[string]int) {
	m := Global()
	if m == nil {
		return
	}
	m.SweepRunsTotal.Inc()
	m.SweepDurationSeconds.Observe(seconds)
	for status, n := range transitions {
		m.SweepTransitionsTotal.WithLabelValues(status).Add(float64(n))
	}
}
