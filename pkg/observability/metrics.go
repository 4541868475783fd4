package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nowucca/introducing-mcp/pkg/logging"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string

	// Addr is the listen address of the metrics server; empty disables Start
	Addr        string
	MetricsPath string // default: /metrics

	Namespace        string    // default: mcp
	Subsystem        string    // "server" or "client"
	HistogramBuckets []float64 // milliseconds

	Logger logging.Logger
}

// MetricsProvider records MCP traffic and tool calls
type MetricsProvider interface {
	// Outgoing requests and notifications
	RecordRequest(ctx context.Context, method, status string, duration time.Duration)
	RecordNotification(ctx context.Context, method, status string, duration time.Duration)

	// Requests handled locally
	RecordIncomingRequest(ctx context.Context, method, status string, duration time.Duration)

	RecordToolCall(ctx context.Context, tool, status string, duration time.Duration)
	RecordError(ctx context.Context, errorType, method string)
	RecordActiveConnections(ctx context.Context, delta int)

	// Handler serves the collected metrics in the Prometheus text format
	Handler() http.Handler

	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// PrometheusMetricsProvider implements MetricsProvider on a private registry
type PrometheusMetricsProvider struct {
	config   MetricsConfig
	registry *prometheus.Registry
	logger   logging.Logger

	mu     sync.Mutex
	server *http.Server

	requestDuration         *prometheus.HistogramVec
	requestTotal            *prometheus.CounterVec
	notificationTotal       *prometheus.CounterVec
	incomingRequestDuration *prometheus.HistogramVec
	incomingRequestTotal    *prometheus.CounterVec
	toolCallDuration        *prometheus.HistogramVec
	toolCallTotal           *prometheus.CounterVec
	errorTotal              *prometheus.CounterVec
	activeConnections       prometheus.Gauge
}

// NewMetricsProvider creates a Prometheus metrics provider
func NewMetricsProvider(config MetricsConfig) (*PrometheusMetricsProvider, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	if config.Logger == nil {
		config.Logger = logging.NewNop()
	}

	p := &PrometheusMetricsProvider{
		config:   config,
		registry: prometheus.NewRegistry(),
		logger:   config.Logger.WithFields(logging.String("component", "metrics")),
	}
	p.initializeMetrics()

	if err := p.registerMetrics(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PrometheusMetricsProvider) initializeMetrics() {
	constLabels := prometheus.Labels{
		"service": p.config.ServiceName,
		"version": p.config.ServiceVersion,
	}

	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        help,
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: constLabels,
		}, labels)
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}

	p.requestDuration = histogram("request_duration_milliseconds", "Duration of outgoing MCP requests in milliseconds", "method", "status")
	p.requestTotal = counter("request_total", "Total number of outgoing MCP requests", "method", "status")
	p.notificationTotal = counter("notification_total", "Total number of outgoing MCP notifications", "method", "status")
	p.incomingRequestDuration = histogram("incoming_request_duration_milliseconds", "Duration of handled MCP requests in milliseconds", "method", "status")
	p.incomingRequestTotal = counter("incoming_request_total", "Total number of handled MCP requests", "method", "status")
	p.toolCallDuration = histogram("tool_call_duration_milliseconds", "Duration of tool calls in milliseconds", "tool", "status")
	p.toolCallTotal = counter("tool_call_total", "Total number of tool calls", "tool", "status")
	p.errorTotal = counter("error_total", "Total number of errors", "type", "method")
	p.activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        "active_connections",
		Help:        "Number of active connections",
		ConstLabels: constLabels,
	})
}

func (p *PrometheusMetricsProvider) registerMetrics() error {
	cs := []prometheus.Collector{
		p.requestDuration,
		p.requestTotal,
		p.notificationTotal,
		p.incomingRequestDuration,
		p.incomingRequestTotal,
		p.toolCallDuration,
		p.toolCallTotal,
		p.errorTotal,
		p.activeConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range cs {
		if err := p.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordRequest records an outgoing request
func (p *PrometheusMetricsProvider) RecordRequest(ctx context.Context, method, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, status).Observe(ms(duration))
	p.requestTotal.WithLabelValues(method, status).Inc()
}

// RecordNotification records an outgoing notification
func (p *PrometheusMetricsProvider) RecordNotification(ctx context.Context, method, status string, duration time.Duration) {
	p.notificationTotal.WithLabelValues(method, status).Inc()
}

// RecordIncomingRequest records a request handled by this process
func (p *PrometheusMetricsProvider) RecordIncomingRequest(ctx context.Context, method, status string, duration time.Duration) {
	p.incomingRequestDuration.WithLabelValues(method, status).Observe(ms(duration))
	p.incomingRequestTotal.WithLabelValues(method, status).Inc()
}

// RecordToolCall records one tool execution
func (p *PrometheusMetricsProvider) RecordToolCall(ctx context.Context, tool, status string, duration time.Duration) {
	p.toolCallDuration.WithLabelValues(tool, status).Observe(ms(duration))
	p.toolCallTotal.WithLabelValues(tool, status).Inc()
}

func (p *PrometheusMetricsProvider) RecordError(ctx context.Context, errorType, method string) {
	p.errorTotal.WithLabelValues(errorType, method).Inc()
}

func (p *PrometheusMetricsProvider) RecordActiveConnections(ctx context.Context, delta int) {
	p.activeConnections.Add(float64(delta))
}

// Handler serves this provider's registry
func (p *PrometheusMetricsProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Start serves the metrics endpoint on config.Addr in the background. It
// returns once the listener is bound.
func (p *PrometheusMetricsProvider) Start(ctx context.Context) error {
	if p.config.Addr == "" {
		return nil
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", p.config.Addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, p.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	p.mu.Lock()
	p.server = srv
	p.mu.Unlock()

	p.logger.Info("Serving metrics", logging.String("addr", ln.Addr().String()), logging.String("path", p.config.MetricsPath))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("Metrics server failed", logging.ErrorField(err))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (p *PrometheusMetricsProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	srv := p.server
	p.server = nil
	p.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordRequest(context.Context, string, string, time.Duration)         {}
func (NopMetrics) RecordNotification(context.Context, string, string, time.Duration)    {}
func (NopMetrics) RecordIncomingRequest(context.Context, string, string, time.Duration) {}
func (NopMetrics) RecordToolCall(context.Context, string, string, time.Duration)        {}
func (NopMetrics) RecordError(context.Context, string, string)                          {}
func (NopMetrics) RecordActiveConnections(context.Context, int)                         {}
func (NopMetrics) Handler() http.Handler                                                { return http.NotFoundHandler() }
func (NopMetrics) Start(context.Context) error                                          { return nil }
func (NopMetrics) Shutdown(context.Context) error                                       { return nil }
