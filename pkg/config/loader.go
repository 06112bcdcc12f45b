package config

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader parses and validates engine configuration files. CUE files
// get full constraint evaluation; YAML files are decoded directly.
// Both pass through the struct validator afterwards.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{validator: validator.New()}
}

// Load reads, decodes, and validates the file at path, dispatching on
// the extension (.cue, .yaml, .yml).
func (l *Loader) Load(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg *EngineConfig
	switch filepath.Ext(path) {
	case ".cue":
		cfg, err = l.parseCUE(path, data)
	case ".yaml", ".yml":
		cfg, err = l.parseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseCUE evaluates a CUE file and decodes the `engine` value (or
// the file's top level when no such field exists).
func (l *Loader) parseCUE(path string, data []byte) (*EngineConfig, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data)
	if v.Err() != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", path, v.Err())
	}
	if engine := v.LookupPath(cue.ParsePath("engine")); engine.Exists() {
		v = engine
	}
	var cfg EngineConfig
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &cfg, nil
}

// parseYAML decodes a YAML configuration.
func (l *Loader) parseYAML(data []byte) (*EngineConfig, error) {
	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode yaml: %w", err)
	}
	return &cfg, nil
}

// Validate runs the struct-level validation rules.
func (l *Loader) Validate(cfg *EngineConfig) error {
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := cfg.Tree.ToDefaults(); err != nil {
		return fmt.Errorf("tree defaults invalid: %w", err)
	}
	return nil
}
