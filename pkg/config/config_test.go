package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "engine.yaml", `
service: mrakit
tree:
  dim: 3
  k: 6
  thresh: 1e-6
  initial_level: 2
  max_refine_level: 20
  refine: true
  bc: [zero, zero, periodic]
logging:
  level: debug
  format: json
`)
	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	require.Equal(t, 6, cfg.Tree.K)
	require.Equal(t, 1e-6, cfg.Tree.Thresh)
	require.Equal(t, "debug", cfg.Logging.Level)

	df, err := cfg.Tree.ToDefaults()
	require.NoError(t, err)
	require.True(t, df.BC.IsPeriodic(2))
	require.False(t, df.BC.IsPeriodic(0))
}

func TestLoadCUE(t *testing.T) {
	path := writeTemp(t, "engine.cue", `
engine: {
	service: "mrakit"
	tree: {
		dim:              2
		k:                8
		thresh:           1e-8
		initial_level:    2
		max_refine_level: 30
		refine:           true
	}
}
`)
	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Tree.K)
	require.Equal(t, 2, cfg.Tree.Dim)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	loader := NewLoader()

	_, err := loader.Load(writeTemp(t, "bad.yaml", `
service: mrakit
tree:
  dim: 3
  k: 99
  thresh: 1e-6
`))
	require.Error(t, err, "k above the table limit must fail validation")

	_, err = loader.Load(writeTemp(t, "bad2.yaml", `
tree:
  dim: 3
  k: 6
  thresh: 1e-6
`))
	require.Error(t, err, "missing service must fail validation")

	_, err = loader.Load(writeTemp(t, "bad.txt", "whatever"))
	require.Error(t, err)
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default(3)
	require.NoError(t, NewLoader().Validate(cfg))
	df, err := cfg.Tree.ToDefaults()
	require.NoError(t, err)
	require.Equal(t, 6, df.K)
}

func TestStarlarkFunctor(t *testing.T) {
	f, err := NewStarlarkFunctor(`
def f(x):
    return math_sin(pi * x[0]) * math_exp(-x[1])
`)
	require.NoError(t, err)

	got := f.Eval([]float64{0.5, 0.0})
	require.InDelta(t, 1.0, got, 1e-12)
	got = f.Eval([]float64{0.25, 1.0})
	require.InDelta(t, math.Sin(math.Pi*0.25)*math.Exp(-1), got, 1e-12)
}

func TestStarlarkFunctorRejectsBadScripts(t *testing.T) {
	_, err := NewStarlarkFunctor(`g = 3`)
	require.Error(t, err, "script without f must be rejected")

	_, err = NewStarlarkFunctor(`f = 3`)
	require.Error(t, err, "non-callable f must be rejected")

	_, err = NewStarlarkFunctor(`this is not starlark`)
	require.Error(t, err)
}
