package config

import (
	"fmt"

	"github.com/mrakit/mrakit/pkg/mra"
	"github.com/mrakit/mrakit/pkg/rml"
	"github.com/mrakit/mrakit/pkg/telemetry"
)

// EngineConfig is the full per-process configuration: tree defaults,
// messaging knobs, and telemetry.
type EngineConfig struct {
	// Service names the deployment for telemetry.
	Service string `json:"service" yaml:"service" validate:"required"`

	// Tree holds the function-tree construction defaults.
	Tree TreeConfig `json:"tree" yaml:"tree" validate:"required"`

	// Messaging overrides the messaging-layer configuration; zero
	// values defer to the environment.
	Messaging MessagingConfig `json:"messaging" yaml:"messaging"`

	// Logging configures structured logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// TreeConfig mirrors the recognized factory options.
type TreeConfig struct {
	Dim               int       `json:"dim" yaml:"dim" validate:"required,min=1,max=6"`
	K                 int       `json:"k" yaml:"k" validate:"required,min=1,max=30"`
	Thresh            float64   `json:"thresh" yaml:"thresh" validate:"gt=0"`
	InitialLevel      int       `json:"initial_level" yaml:"initial_level" validate:"min=0"`
	MaxRefineLevel    int       `json:"max_refine_level" yaml:"max_refine_level" validate:"min=0"`
	TruncateMode      int       `json:"truncate_mode" yaml:"truncate_mode" validate:"min=0,max=2"`
	Refine            bool      `json:"refine" yaml:"refine"`
	Autorefine        bool      `json:"autorefine" yaml:"autorefine"`
	TruncateOnProject bool      `json:"truncate_on_project" yaml:"truncate_on_project"`
	BC                []string  `json:"bc" yaml:"bc" validate:"dive,oneof=zero periodic"`
	CellLo            []float64 `json:"cell_lo" yaml:"cell_lo"`
	CellHi            []float64 `json:"cell_hi" yaml:"cell_hi"`

	// Functor is an optional Starlark script defining f(x) for the
	// projection demo paths.
	Functor string `json:"functor" yaml:"functor"`
}

// MessagingConfig mirrors the messaging environment options.
type MessagingConfig struct {
	MaxMsgLen string `json:"max_msg_len" yaml:"max_msg_len"`
	NRecv     int    `json:"n_recv" yaml:"n_recv" validate:"omitempty,min=2"`
}

// LoggingConfig mirrors telemetry.LoggingConfig for file decoding.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=console json"`
	Output string `json:"output" yaml:"output"`
}

// MetricsConfig mirrors telemetry.MetricsConfig.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ListenAddress string `json:"listen_address" yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `json:"path" yaml:"path"`
}

// TracingConfig mirrors telemetry.TracingConfig.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Exporter     string  `json:"exporter" yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `json:"endpoint" yaml:"endpoint"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" validate:"min=0,max=1"`
	Insecure     bool    `json:"insecure" yaml:"insecure"`
}

// Default returns the stock configuration for dimension d.
func Default(d int) *EngineConfig {
	df := mra.DefaultsFor(d)
	bc := make([]string, d)
	lo := make([]float64, d)
	hi := make([]float64, d)
	for i := 0; i < d; i++ {
		bc[i] = "zero"
		hi[i] = 1
	}
	return &EngineConfig{
		Service: "mrakit",
		Tree: TreeConfig{
			Dim:               d,
			K:                 df.K,
			Thresh:            df.Thresh,
			InitialLevel:      df.InitialLevel,
			MaxRefineLevel:    df.MaxRefineLevel,
			TruncateMode:      df.TruncateMode,
			Refine:            df.Refine,
			Autorefine:        df.Autorefine,
			TruncateOnProject: df.TruncateOnProject,
			BC:                bc,
			CellLo:            lo,
			CellHi:            hi,
		},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stderr"},
	}
}

// ToDefaults converts the tree section to factory defaults.
func (tc TreeConfig) ToDefaults() (mra.Defaults, error) {
	d := tc.Dim
	df := mra.DefaultsFor(d)
	df.K = tc.K
	df.Thresh = tc.Thresh
	df.InitialLevel = tc.InitialLevel
	df.MaxRefineLevel = tc.MaxRefineLevel
	df.TruncateMode = tc.TruncateMode
	df.Refine = tc.Refine
	df.Autorefine = tc.Autorefine
	df.TruncateOnProject = tc.TruncateOnProject

	if len(tc.BC) > 0 {
		if len(tc.BC) != d {
			return df, fmt.Errorf("bc has %d entries for dimension %d", len(tc.BC), d)
		}
		bc := mra.ZeroBC(d)
		for i, kind := range tc.BC {
			k := mra.BoundaryZero
			if kind == "periodic" {
				k = mra.BoundaryPeriodic
			}
			bc.Set(i, 0, k)
			bc.Set(i, 1, k)
		}
		df.BC = bc
	}
	if len(tc.CellLo) == d && len(tc.CellHi) == d {
		df.Cell = mra.NewCell(tc.CellLo, tc.CellHi)
	}
	return df, df.Validate()
}

// Telemetry converts to the telemetry stack configuration.
func (c *EngineConfig) Telemetry(rank int) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = c.Service
	cfg.Rank = rank
	if c.Logging.Level != "" {
		cfg.Logging.Level = c.Logging.Level
	}
	if c.Logging.Format != "" {
		cfg.Logging.Format = c.Logging.Format
	}
	if c.Logging.Output != "" {
		cfg.Logging.Output = c.Logging.Output
	}
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.ListenAddress = c.Metrics.ListenAddress
	if c.Metrics.Path != "" {
		cfg.Metrics.Path = c.Metrics.Path
	}
	cfg.Tracing.Enabled = c.Tracing.Enabled
	if c.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = c.Tracing.Exporter
	}
	cfg.Tracing.Endpoint = c.Tracing.Endpoint
	if c.Tracing.SamplingRate > 0 {
		cfg.Tracing.SamplingRate = c.Tracing.SamplingRate
	}
	cfg.Tracing.Insecure = c.Tracing.Insecure
	return cfg
}

// MessagingRML converts to the messaging-layer configuration, with
// file values overriding the environment.
func (c *EngineConfig) MessagingRML() (rml.Config, error) {
	cfg := rml.FromEnv()
	if c.Messaging.MaxMsgLen != "" {
		n, err := rml.ParseByteSize(c.Messaging.MaxMsgLen)
		if err != nil {
			return cfg, fmt.Errorf("bad max_msg_len: %w", err)
		}
		cfg.MaxMsgLen = n
	}
	if c.Messaging.NRecv > 0 {
		cfg.NRecv = c.Messaging.NRecv
	}
	return cfg, nil
}
