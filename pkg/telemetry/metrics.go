package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the engine.
type Metrics struct {
	config MetricsConfig

	// Messaging metrics
	msgSent       *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
	msgRecv       prometheus.Counter
	bytesRecv     prometheus.Counter
	hugeMsgs      prometheus.Counter
	oooQueueDepth prometheus.Gauge

	// Task runtime metrics
	tasksExecuted  *prometheus.CounterVec
	taskQueueDepth *prometheus.GaugeVec

	// Tree metrics
	treeNodes *prometheus.GaugeVec
	fences    prometheus.Counter

	// Operator apply metrics
	applyKernelDuration prometheus.Histogram
	applyScreened       prometheus.Counter

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.ExponentialBuckets(1e-6, 4, 12)
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		msgSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rmi_messages_sent_total",
				Help:      "Total number of active messages sent",
			},
			[]string{"class"},
		),
		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rmi_bytes_sent_total",
				Help:      "Total payload bytes sent",
			},
			[]string{"class"},
		),
		msgRecv: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rmi_messages_received_total",
				Help:      "Total number of active messages received",
			},
		),
		bytesRecv: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rmi_bytes_received_total",
				Help:      "Total payload bytes received",
			},
		),
		hugeMsgs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rmi_huge_messages_total",
				Help:      "Total number of rendezvous (huge) messages",
			},
		),
		oooQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rmi_out_of_order_queue_depth",
				Help:      "Current depth of the out-of-order message queue",
			},
		),

		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks executed",
			},
			[]string{"priority"},
		),
		taskQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "task_queue_depth",
				Help:      "Current depth of the task queue",
			},
			[]string{"priority"},
		),

		treeNodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tree_nodes",
				Help:      "Current number of locally owned tree nodes",
			},
			[]string{"kind"},
		),
		fences: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fences_total",
				Help:      "Total number of global fences",
			},
		),

		applyKernelDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_kernel_duration_seconds",
				Help:      "Duration of integral-operator kernel applications",
				Buckets:   buckets,
			},
		),
		applyScreened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "apply_displacements_screened_total",
				Help:      "Displacements screened out by norm products",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.msgSent, m.bytesSent, m.msgRecv, m.bytesRecv, m.hugeMsgs, m.oooQueueDepth,
		m.tasksExecuted, m.taskQueueDepth,
		m.treeNodes, m.fences,
		m.applyKernelDuration, m.applyScreened,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// enabled reports whether this instance records anything.
func (m *Metrics) enabled() bool { return m != nil && m.registry != nil }

// RecordSend records an outbound message of the given delivery class.
func (m *Metrics) RecordSend(ordered bool, nbytes int) {
	if !m.enabled() {
		return
	}
	class := "unordered"
	if ordered {
		class = "ordered"
	}
	m.msgSent.WithLabelValues(class).Inc()
	m.bytesSent.WithLabelValues(class).Add(float64(nbytes))
}

// RecordRecv records an inbound message.
func (m *Metrics) RecordRecv(nbytes int) {
	if !m.enabled() {
		return
	}
	m.msgRecv.Inc()
	m.bytesRecv.Add(float64(nbytes))
}

// RecordHuge records a rendezvous message.
func (m *Metrics) RecordHuge() {
	if m.enabled() {
		m.hugeMsgs.Inc()
	}
}

// SetOutOfOrderDepth records the out-of-order queue depth.
func (m *Metrics) SetOutOfOrderDepth(n int) {
	if m.enabled() {
		m.oooQueueDepth.Set(float64(n))
	}
}

// RecordTask records an executed task of the given priority.
func (m *Metrics) RecordTask(priority string) {
	if m.enabled() {
		m.tasksExecuted.WithLabelValues(priority).Inc()
	}
}

// SetTaskQueueDepth records the queue depth for a priority class.
func (m *Metrics) SetTaskQueueDepth(priority string, n int) {
	if m.enabled() {
		m.taskQueueDepth.WithLabelValues(priority).Set(float64(n))
	}
}

// SetTreeNodes records local node counts by kind (leaf, interior).
func (m *Metrics) SetTreeNodes(kind string, n int) {
	if m.enabled() {
		m.treeNodes.WithLabelValues(kind).Set(float64(n))
	}
}

// RecordFence counts a completed global fence.
func (m *Metrics) RecordFence() {
	if m.enabled() {
		m.fences.Inc()
	}
}

// ObserveApplyKernel records the duration of one kernel application.
func (m *Metrics) ObserveApplyKernel(d time.Duration) {
	if m.enabled() {
		m.applyKernelDuration.Observe(d.Seconds())
	}
}

// RecordApplyScreened counts a displacement screened out before the kernel.
func (m *Metrics) RecordApplyScreened() {
	if m.enabled() {
		m.applyScreened.Inc()
	}
}

// StartServer starts the metrics HTTP server if metrics are enabled.
func (m *Metrics) StartServer() error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}
	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: m.config.ListenAddress, Handler: mux}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Server failure is not fatal for the engine
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Shutdown stops the metrics HTTP server.
func (m *Metrics) Shutdown() error {
	if m.server != nil {
		return m.server.Close()
	}
	return nil
}

// Registry returns the underlying Prometheus registry (nil if disabled).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
