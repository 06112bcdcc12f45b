package telemetry

import (
	"context"
	"fmt"
)

// Telemetry bundles the logger, tracer, metrics, and event publisher
// for one process.
type Telemetry struct {
	Config  Config
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *Events
}

// New initializes the full telemetry stack from the configuration.
func New(cfg Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	logger, err := NewLogger(cfg.Logging, cfg.Rank)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return &Telemetry{
		Config:  cfg,
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEvents(cfg.Events, cfg.Rank),
	}, nil
}

// Noop returns a disabled telemetry stack suitable for tests.
func Noop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "json"
	t, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return t
}

// Shutdown flushes and stops all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.Events.Shutdown()
	if err := t.Metrics.Shutdown(); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}
