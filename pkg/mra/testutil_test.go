package mra

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrakit/mrakit/pkg/telemetry"
	"github.com/mrakit/mrakit/pkg/transport"
	"github.com/mrakit/mrakit/pkg/world"
)

// singleWorld builds a one-rank world for serial algorithm tests.
func singleWorld(t *testing.T) *world.World {
	t.Helper()
	mesh, err := transport.NewLoopbackMesh(1)
	require.NoError(t, err)
	w, err := world.New(mesh.Endpoint(0), telemetry.Noop(), world.Options{Workers: 4})
	require.NoError(t, err)
	t.Cleanup(w.Shutdown)
	return w
}

// runWorlds spins up n connected ranks and executes fn on each.
func runWorlds(t *testing.T, n int, fn func(w *world.World)) {
	t.Helper()
	mesh, err := transport.NewLoopbackMesh(n)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			w, err := world.New(mesh.Endpoint(r), telemetry.Noop(), world.Options{Workers: 3})
			require.NoError(t, err)
			fn(w)
			w.Shutdown()
		}(r)
	}
	wg.Wait()
}

func sinPi(x []float64) float64 { return math.Sin(math.Pi * x[0]) }
func cosPi(x []float64) float64 { return math.Cos(math.Pi * x[0]) }

func gaussian(x []float64) float64 {
	var r2 float64
	for _, xi := range x {
		r2 += xi * xi
	}
	return math.Exp(-r2)
}

// gaussianSquaredIntegral is the exact integral of exp(-2 r^2) over
// the unit cube in d dimensions.
func gaussianSquaredIntegral(d int) float64 {
	oneDim := math.Sqrt(math.Pi/8) * math.Erf(math.Sqrt2)
	return math.Pow(oneDim, float64(d))
}

func project1D(t *testing.T, w *world.World, f func([]float64) float64, k int, thresh float64) *Tree[float64] {
	t.Helper()
	tr, err := NewFactory[float64](w, 1).
		F(f).K(k).Thresh(thresh).
		Build()
	require.NoError(t, err)
	return tr
}

// uniform1D projects without refinement for structure-sensitive tests.
func uniform1D(t *testing.T, w *world.World, f func([]float64) float64, k int, level Level) *Tree[float64] {
	t.Helper()
	tr, err := NewFactory[float64](w, 1).
		F(f).K(k).Thresh(1e-12).
		InitialLevel(level).NoRefine().
		Build()
	require.NoError(t, err)
	return tr
}

// emptyLike builds an empty tree sharing the source's layout options.
func emptyLike(t *testing.T, src *Tree[float64], thresh float64) *Tree[float64] {
	t.Helper()
	tr, err := NewFactory[float64](src.World(), src.NDim()).
		K(src.K()).Thresh(thresh).Empty().
		PMap(src.PMap()).
		Build()
	require.NoError(t, err)
	return tr
}
