// Package monitoring provides metrics, tracing and health checks for roster
package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/rizome-dev/roster/internal/version"
	"github.com/rizome-dev/roster/pkg/config"
	"github.com/rizome-dev/roster/pkg/types"
)

// TracerName is the instrumentation name used for roster spans
const TracerName = "github.com/rizome-dev/roster"

// Monitor manages metrics, tracing and health checks. A nil *Monitor is
// valid and records nothing.
type Monitor struct {
	config   *config.MonitoringConfig
	registry *prometheus.Registry
	tracer   oteltrace.Tracer
	provider *sdktrace.TracerProvider
	metrics  *Metrics

	healthChecks map[string]HealthChecker
	healthMu     sync.RWMutex
	startedAt    time.Time
}

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Record store (gateway) metrics
	GatewayOperations *prometheus.CounterVec
	GatewayLatency    *prometheus.HistogramVec

	// Controller metrics
	ControllerOperations *prometheus.CounterVec
	OperationsInFlight   prometheus.Gauge
	AgentsTotal          prometheus.Gauge
	SnapshotWrites       *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RateLimited          prometheus.Counter
}

// HealthChecker interface for health checks
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus represents the health status
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
	Info   map[string]interface{} `json:"info"`
}

// CheckResult represents a single health check result
type CheckResult struct {
	Status  string        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// NewMonitor creates a new monitoring instance
func NewMonitor(cfg *config.MonitoringConfig) (*Monitor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("monitoring config is required")
	}

	monitor := &Monitor{
		config:       cfg,
		registry:     prometheus.NewRegistry(),
		healthChecks: make(map[string]HealthChecker),
		startedAt:    time.Now(),
	}

	if err := monitor.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if cfg.Tracing.Enabled {
		if err := monitor.initTracing(); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	} else {
		monitor.tracer = otel.Tracer(TracerName)
	}

	return monitor, nil
}

// Shutdown flushes and stops the tracer provider, if one was created
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// Registry returns the Prometheus registry backing the metrics
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// GetMetrics returns the metrics instance
func (m *Monitor) GetMetrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Tracer returns the OpenTelemetry tracer
func (m *Monitor) Tracer() oteltrace.Tracer {
	if m == nil || m.tracer == nil {
		return otel.Tracer(TracerName)
	}
	return m.tracer
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterHealthCheck registers a new health checker
func (m *Monitor) RegisterHealthCheck(checker HealthChecker) {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	m.healthChecks[checker.Name()] = checker
}

// GetHealthStatus runs every registered check
func (m *Monitor) GetHealthStatus(ctx context.Context) *HealthStatus {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()

	status := &HealthStatus{
		Status: "healthy",
		Checks: make(map[string]CheckResult),
		Info: map[string]interface{}{
			"timestamp": time.Now().UTC(),
			"uptime":    time.Since(m.startedAt).String(),
			"version":   version.Version,
		},
	}

	for name, checker := range m.healthChecks {
		start := time.Now()
		err := checker.Check(ctx)
		result := CheckResult{Status: "healthy", Latency: time.Since(start)}
		if err != nil {
			status.Status = "unhealthy"
			result.Status = "unhealthy"
			result.Error = err.Error()
		}
		status.Checks[name] = result
	}

	return status
}

// initMetrics initializes Prometheus metrics
func (m *Monitor) initMetrics() error {
	ns := m.config.Metrics.Namespace

	m.metrics = &Metrics{
		GatewayOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "gateway_operations_total",
			Help:      "Remote agent operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "gateway_latency_seconds",
			Help:      "Remote agent operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"operation"}),

		ControllerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "controller_operations_total",
			Help:      "Controller operations by operation and result",
		}, []string{"operation", "result"}),
		OperationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "controller_operations_in_flight",
			Help:      "Controller operations currently waiting on the remote resource",
		}),
		AgentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "agents_total",
			Help:      "Number of agents in the in-memory collection",
		}),
		SnapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "snapshot_writes_total",
			Help:      "Writes of the durable local snapshot by result",
		}, []string{"result"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently in flight",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}

	collectorsToRegister := []prometheus.Collector{
		m.metrics.GatewayOperations,
		m.metrics.GatewayLatency,
		m.metrics.ControllerOperations,
		m.metrics.OperationsInFlight,
		m.metrics.AgentsTotal,
		m.metrics.SnapshotWrites,
		m.metrics.HTTPRequestsTotal,
		m.metrics.HTTPRequestDuration,
		m.metrics.HTTPRequestsInFlight,
		m.metrics.RateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, collector := range collectorsToRegister {
		if err := m.registry.Register(collector); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return nil
}

// initTracing initializes OpenTelemetry tracing
func (m *Monitor) initTracing() error {
	ctx := context.Background()

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if m.config.Tracing.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(m.config.Tracing.Endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(m.config.Tracing.ServiceName),
			semconv.ServiceVersionKey.String(version.Version),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(m.config.Tracing.BatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.config.Tracing.SampleRate))),
	)

	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	m.tracer = m.provider.Tracer(TracerName)
	return nil
}

// StartSpan starts a new trace span
func (m *Monitor) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return m.Tracer().Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// RecordGatewayOperation records the outcome and latency of a remote call
func (m *Monitor) RecordGatewayOperation(operation string, outcome types.Outcome, latency time.Duration) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.GatewayOperations.WithLabelValues(operation, outcome.String()).Inc()
	m.metrics.GatewayLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordControllerOperation records a finished controller operation
func (m *Monitor) RecordControllerOperation(operation, result string) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.ControllerOperations.WithLabelValues(operation, result).Inc()
}

// OperationStarted marks a controller operation as in flight
func (m *Monitor) OperationStarted() {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.OperationsInFlight.Inc()
}

// OperationFinished marks a controller operation as done
func (m *Monitor) OperationFinished() {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.OperationsInFlight.Dec()
}

// SetAgentsTotal records the size of the agent collection
func (m *Monitor) SetAgentsTotal(n int) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.AgentsTotal.Set(float64(n))
}

// RecordSnapshotWrite records a snapshot write attempt
func (m *Monitor) RecordSnapshotWrite(err error) {
	if m == nil || m.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.metrics.SnapshotWrites.WithLabelValues(result).Inc()
}

// RecordRateLimited counts a request rejected by the rate limiter
func (m *Monitor) RecordRateLimited() {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.RateLimited.Inc()
}

// InstrumentHandler wraps next with HTTP request metrics
func (m *Monitor) InstrumentHandler(next http.Handler) http.Handler {
	if m == nil || m.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.metrics.HTTPRequestsInFlight.Inc()
		defer m.metrics.HTTPRequestsInFlight.Dec()

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		m.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(recorder.statusCode)).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
