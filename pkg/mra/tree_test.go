package mra

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrakit/mrakit/pkg/tensor"
	"github.com/mrakit/mrakit/pkg/world"
)

func TestProjectGaussianNorm3D(t *testing.T) {
	w := singleWorld(t)
	f, err := NewFactory[float64](w, 3).
		F(gaussian).K(6).Thresh(1e-6).
		Build()
	require.NoError(t, err)
	defer f.Destroy()

	f.Compress(false, false, true)
	norm2 := f.Norm2Sq()
	require.InDelta(t, gaussianSquaredIntegral(3), norm2, 1e-6)
}

func TestCompressReconstructRoundTrip(t *testing.T) {
	w := singleWorld(t)
	f := project1D(t, w, sinPi, 8, 1e-8)
	defer f.Destroy()

	before := map[Key][]float64{}
	f.Coeffs().IterLocal(func(key Key, node Node[float64]) bool {
		if node.HasCoeff() {
			before[key] = append([]float64(nil), node.Coeff.Data()...)
		}
		return true
	})
	require.NotEmpty(t, before)

	f.Compress(false, false, true)
	require.True(t, f.IsCompressed())
	f.Reconstruct(true)
	require.False(t, f.IsCompressed())

	after := 0
	f.Coeffs().IterLocal(func(key Key, node Node[float64]) bool {
		if !node.HasCoeff() {
			return true
		}
		after++
		want, ok := before[key]
		require.True(t, ok, "leaf %s appeared out of nowhere", key)
		for i, v := range node.Coeff.Data() {
			require.InDelta(t, want[i], v, 1e-10, "leaf %s entry %d", key, i)
		}
		return true
	})
	require.Equal(t, len(before), after)
}

func TestModeClassification(t *testing.T) {
	w := singleWorld(t)
	f := project1D(t, w, sinPi, 6, 1e-6)
	defer f.Destroy()

	f.Compress(false, false, true)
	f.Coeffs().IterLocal(func(key Key, node Node[float64]) bool {
		if key.Level() > 0 && node.HasChildren && node.HasCoeff() {
			s0 := node.Coeff.SliceCopy([]int{0}, []int{6})
			require.Equal(t, 0.0, s0.NormF(), "s0 not zeroed at %s", key)
		}
		return true
	})

	f.Reconstruct(true)
	f.Coeffs().IterLocal(func(key Key, node Node[float64]) bool {
		if node.HasChildren {
			require.False(t, node.HasCoeff(), "interior %s still has coefficients", key)
		} else {
			require.True(t, node.HasCoeff(), "leaf %s lost its coefficients", key)
			require.Equal(t, 6, node.Coeff.Dim(0))
		}
		return true
	})
}

func TestNonstandardKeepsScaling(t *testing.T) {
	w := singleWorld(t)
	f := project1D(t, w, sinPi, 6, 1e-6)
	defer f.Destroy()

	f.Compress(true, true, true)
	require.True(t, f.IsNonstandard())

	sawInteriorScaling := false
	f.Coeffs().IterLocal(func(key Key, node Node[float64]) bool {
		if key.Level() > 0 && node.HasChildren && node.HasCoeff() {
			s0 := node.Coeff.SliceCopy([]int{0}, []int{6})
			if s0.NormF() > 1e-12 {
				sawInteriorScaling = true
			}
		}
		return true
	})
	require.True(t, sawInteriorScaling)

	f.Standard(true)
	require.False(t, f.IsNonstandard())
	f.Coeffs().IterLocal(func(key Key, node Node[float64]) bool {
		if key.Level() > 0 && node.HasCoeff() {
			require.True(t, node.HasChildren)
			s0 := node.Coeff.SliceCopy([]int{0}, []int{6})
			require.Equal(t, 0.0, s0.NormF())
		}
		return true
	})
}

func TestProjectionAccuracyAfterTruncate(t *testing.T) {
	w := singleWorld(t)
	f := project1D(t, w, sinPi, 8, 1e-8)
	defer f.Destroy()

	f.Compress(false, false, true)
	f.Truncate(1e-6, true)
	f.Reconstruct(true)

	err2 := f.ErrSq(FunctorFunc[float64](sinPi))
	require.Less(t, math.Sqrt(err2), 1e-4)
}

func TestTruncateMonotonicity(t *testing.T) {
	w := singleWorld(t)

	sizes := make(map[float64]uint64)
	for _, eps := range []float64{1e-8, 1e-6, 1e-4, 1e-2} {
		f := project1D(t, w, sinPi, 6, 1e-10)
		f.Compress(false, false, true)
		f.Truncate(eps, true)
		sizes[eps] = f.TreeSize()
		f.Destroy()
	}
	require.GreaterOrEqual(t, sizes[1e-8], sizes[1e-6])
	require.GreaterOrEqual(t, sizes[1e-6], sizes[1e-4])
	require.GreaterOrEqual(t, sizes[1e-4], sizes[1e-2])
}

func TestGaxpySumOfSquaresIsOne(t *testing.T) {
	w := singleWorld(t)
	a := project1D(t, w, sinPi, 8, 1e-8)
	b := project1D(t, w, cosPi, 8, 1e-8)
	one, err := NewFactory[float64](w, 1).
		F(func([]float64) float64 { return 1 }).
		K(8).Thresh(1e-8).InitialLevel(2).NoRefine().
		PMap(a.PMap()).
		Build()
	require.NoError(t, err)
	defer a.Destroy()
	defer b.Destroy()
	defer one.Destroy()

	a.SquareInplace(true)
	b.SquareInplace(true)

	a.Compress(false, false, true)
	b.Compress(false, false, true)
	one.Compress(false, false, true)

	// 0.5*(a^2 + b^2) - 0.5*1 must vanish.
	a.GaxpyInplace(1, b, 1, true)
	a.ScaleInplace(0.5, true)
	a.GaxpyInplace(1, one, -0.5, true)

	require.LessOrEqual(t, a.Norm2Sq(), 1e-12)
}

func TestGaxpyCommutesWithCompress(t *testing.T) {
	w := singleWorld(t)
	a := uniform1D(t, w, sinPi, 6, 3)
	b := uniform1D(t, w, cosPi, 6, 3)
	defer a.Destroy()
	defer b.Destroy()

	// Path 1: combine reconstructed (uniform structures), compress.
	r1 := emptyLike(t, a, 1e-12)
	defer r1.Destroy()
	r1.CopyCoeffs(a, true)
	r1.GaxpyInplace(1, b, 2, true)
	r1.Compress(false, false, true)

	// Path 2: compress, then combine.
	a.Compress(false, false, true)
	b.Compress(false, false, true)
	r2 := emptyLike(t, a, 1e-12)
	defer r2.Destroy()
	r2.CopyCoeffs(a, true)
	r2.GaxpyInplace(1, b, 2, true)

	r1.GaxpyInplace(1, r2, -1, true)
	require.LessOrEqual(t, r1.Norm2Sq(), 1e-20)
}

func TestMulScalesExactly(t *testing.T) {
	w := singleWorld(t)
	a := uniform1D(t, w, sinPi, 8, 3)
	b := uniform1D(t, w, cosPi, 8, 3)
	defer a.Destroy()
	defer b.Destroy()

	const c1, c2 = 2.0, -1.5

	ca := emptyLike(t, a, 1e-12)
	cb := emptyLike(t, a, 1e-12)
	defer ca.Destroy()
	defer cb.Destroy()
	ca.CopyCoeffs(a, true)
	cb.CopyCoeffs(b, true)
	ca.ScaleInplace(c1, true)
	cb.ScaleInplace(c2, true)

	r1 := emptyLike(t, a, 1e-12)
	r2 := emptyLike(t, a, 1e-12)
	defer r1.Destroy()
	defer r2.Destroy()

	r1.MulXX(ca, cb, 0, true)
	r2.MulXX(a, b, 0, true)
	r2.ScaleInplace(c1*c2, true)

	r1.GaxpyInplace(1, r2, -1, true)
	require.LessOrEqual(t, r1.Norm2Sq(), 1e-20)
}

func TestDiffTwiceSin(t *testing.T) {
	w := singleWorld(t)
	a := project1D(t, w, sinPi, 10, 1e-10)
	defer a.Destroy()

	d1 := emptyLike(t, a, 1e-10)
	defer d1.Destroy()
	d1.Diff(a, 0, true)

	d2 := emptyLike(t, a, 1e-10)
	defer d2.Destroy()
	d2.Diff(d1, 0, true)

	// The stencil is exact away from the cell boundary; sample the
	// interior against -pi^2 sin(pi x).
	for _, x := range []float64{0.2, 0.3, 0.45, 0.6, 0.75, 0.8} {
		got := d2.Eval([]float64{x}).Get()
		want := -math.Pi * math.Pi * math.Sin(math.Pi*x)
		require.InDelta(t, want, got, 1e-5, "x=%f", x)
	}
}

func TestDiffFirstDerivative(t *testing.T) {
	w := singleWorld(t)
	a := project1D(t, w, sinPi, 10, 1e-10)
	defer a.Destroy()

	d1 := emptyLike(t, a, 1e-10)
	defer d1.Destroy()
	d1.Diff(a, 0, true)

	for _, x := range []float64{0.1, 0.25, 0.5, 0.7, 0.9} {
		got := d1.Eval([]float64{x}).Get()
		want := math.Pi * math.Cos(math.Pi*x)
		require.InDelta(t, want, got, 1e-7, "x=%f", x)
	}
}

// identityOp is the identity convolution: one zero displacement with
// unit norm, applying the identity matrix.
type identityOp struct{}

func (identityOp) Displacements(level Level) []Key { return []Key{NewKey(0, []Translation{0})} }
func (identityOp) Norm(Level, Key) float64         { return 1 }
func (identityOp) DoLeaves() bool                  { return true }
func (identityOp) ApplyBlock(_, _ Key, c tensor.Tensor[float64], _ float64) tensor.Tensor[float64] {
	return c.Copy()
}

func TestApplyIdentityBitwise(t *testing.T) {
	w := singleWorld(t)
	a := project1D(t, w, gaussian, 6, 1e-4)
	defer a.Destroy()

	r := emptyLike(t, a, 1e-12)
	defer r.Destroy()
	r.Apply(identityOp{}, a, true)

	a.Coeffs().IterLocal(func(key Key, node Node[float64]) bool {
		if !node.HasCoeff() {
			return true
		}
		got, ok := r.Coeffs().Get(key)
		require.True(t, ok, "missing output node %s", key)
		require.Equal(t, node.Coeff.Data(), got.Coeff.Data(), "output differs at %s", key)
		return true
	})
}

func TestApplyRecordsTime(t *testing.T) {
	w := singleWorld(t)
	a := project1D(t, w, gaussian, 6, 1e-4)
	defer a.Destroy()

	at := NewApplyTime(w, a.PMap())
	defer at.Detach()

	r := emptyLike(t, a, 1e-12)
	defer r.Destroy()
	r.SetApplyTime(at)
	r.Apply(identityOp{}, a, true)

	n := 0
	at.IterLocal(func(key Key, seconds float64) bool {
		require.GreaterOrEqual(t, seconds, 0.0)
		n++
		return true
	})
	require.Greater(t, n, 0)
}

func TestApplyTimeDecay(t *testing.T) {
	w := singleWorld(t)
	at := NewApplyTime(w, NewLevelMap(1))
	defer at.Detach()

	key := RootKey(2)
	at.Update(key, 1.0)
	require.InDelta(t, 1.0, at.Get(key), 1e-15)
	at.Update(key, 0.0)
	// s <- s + (y-s)*0.9 = 0.1
	require.InDelta(t, 0.1, at.Get(key), 1e-15)
}

func TestInnerSymmetryComplex(t *testing.T) {
	w := singleWorld(t)
	fa := func(x []float64) complex128 {
		return complex(math.Sin(math.Pi*x[0]), 0.5*math.Cos(math.Pi*x[0]))
	}
	fb := func(x []float64) complex128 {
		return complex(math.Exp(-x[0]), x[0])
	}
	a, err := NewFactory[complex128](w, 1).F(fa).K(8).Thresh(1e-8).InitialLevel(3).NoRefine().Build()
	require.NoError(t, err)
	defer a.Destroy()
	b, err := NewFactory[complex128](w, 1).F(fb).K(8).Thresh(1e-8).InitialLevel(3).NoRefine().PMap(a.PMap()).Build()
	require.NoError(t, err)
	defer b.Destroy()

	a.Compress(false, false, true)
	b.Compress(false, false, true)

	ab := a.Inner(b)
	ba := b.Inner(a)
	diff := ab - complex(real(ba), -imag(ba))
	bound := 1e-12 * math.Sqrt(a.Norm2Sq()) * math.Sqrt(b.Norm2Sq())
	require.LessOrEqual(t, math.Hypot(real(diff), imag(diff)), bound+1e-14)
}

func TestNeighborBoundaryConditions(t *testing.T) {
	w := singleWorld(t)
	zero, err := NewFactory[float64](w, 2).Empty().K(4).BC(ZeroBC(2)).Build()
	require.NoError(t, err)
	defer zero.Destroy()
	periodic, err := NewFactory[float64](w, 2).Empty().K(4).BC(PeriodicBC(2)).Build()
	require.NoError(t, err)
	defer periodic.Destroy()

	key := NewKey(2, []Translation{0, 3})

	// Zero BC: leaving the cube yields the invalid key.
	require.False(t, zero.Neighbor(key, 0, -1).IsValid())
	require.False(t, zero.Neighbor(key, 1, 1).IsValid())
	require.True(t, zero.Neighbor(key, 0, 1).IsValid())

	// Periodic BC wraps and round-trips.
	wrapped := periodic.Neighbor(key, 0, -1)
	require.Equal(t, NewKey(2, []Translation{3, 3}), wrapped)
	require.Equal(t, key, periodic.Neighbor(periodic.Neighbor(key, 0, 1), 0, -1))
	require.Equal(t, key, periodic.Neighbor(periodic.Neighbor(key, 1, 1), 1, -1))
}

func TestEvalPoint(t *testing.T) {
	w := singleWorld(t)
	a := project1D(t, w, sinPi, 8, 1e-8)
	defer a.Destroy()

	for _, x := range []float64{0.1, 0.37, 0.5, 0.93} {
		got := a.Eval([]float64{x}).Get()
		require.InDelta(t, math.Sin(math.Pi*x), got, 1e-7, "x=%f", x)
	}
}

func TestTraceIntegral(t *testing.T) {
	w := singleWorld(t)
	a := project1D(t, w, sinPi, 8, 1e-8)
	defer a.Destroy()

	// integral of sin(pi x) over [0,1] = 2/pi
	require.InDelta(t, 2/math.Pi, a.Trace(), 1e-7)
}

func TestAddScalarInplace(t *testing.T) {
	w := singleWorld(t)
	a := project1D(t, w, sinPi, 8, 1e-8)
	defer a.Destroy()

	a.AddScalarInplace(2.5, true)
	got := a.Eval([]float64{0.3}).Get()
	require.InDelta(t, math.Sin(0.3*math.Pi)+2.5, got, 1e-7)
}

func TestRefineSplitsSquaringCandidates(t *testing.T) {
	w := singleWorld(t)
	f, err := NewFactory[float64](w, 1).
		F(func(x []float64) float64 { return math.Exp(-20 * (x[0] - 0.5) * (x[0] - 0.5)) }).
		K(4).Thresh(1e-3).InitialLevel(1).NoRefine().
		Build()
	require.NoError(t, err)
	defer f.Destroy()

	before := f.TreeSize()
	f.Refine(true)
	require.Greater(t, f.TreeSize(), before)
}

func TestVerifyTreeAcceptsHealthyTree(t *testing.T) {
	w := singleWorld(t)
	f := project1D(t, w, sinPi, 6, 1e-6)
	defer f.Destroy()
	f.VerifyTree()
	f.Compress(false, false, true)
	f.VerifyTree()
}

func TestTreeSizeAndDepthDiagnostics(t *testing.T) {
	w := singleWorld(t)
	f := project1D(t, w, sinPi, 6, 1e-8)
	defer f.Destroy()

	require.Greater(t, f.TreeSize(), uint64(1))
	require.Greater(t, f.MaxDepth(), uint64(0))
	require.Equal(t, f.MaxNodes(), f.MinNodes())

	leaves, interior := f.NodeCounts()
	require.Len(t, leaves, 1)
	require.Equal(t, f.TreeSize(), leaves[0]+interior[0])
}

func TestSnapshotRoundTrip(t *testing.T) {
	w := singleWorld(t)
	f := project1D(t, w, sinPi, 6, 1e-6)
	defer f.Destroy()
	norm := f.Norm2Sq()

	meta := f.Meta()
	var pairs [][2][]byte
	require.NoError(t, f.ExportNodes(func(key, node []byte) error {
		pairs = append(pairs, [2][]byte{
			append([]byte(nil), key...),
			append([]byte(nil), node...),
		})
		return nil
	}))

	g, err := NewTreeFromMeta[float64](w, meta, f.PMap())
	require.NoError(t, err)
	defer g.Destroy()
	for _, p := range pairs {
		g.ImportNode(p[0], p[1])
	}
	w.Gop.Fence()

	require.InDelta(t, norm, g.Norm2Sq(), 1e-14)
	require.Equal(t, f.TreeSize(), g.TreeSize())
}

func TestCoeffsAtLevelGathersScaling(t *testing.T) {
	w := singleWorld(t)
	f := uniform1D(t, w, sinPi, 6, 2)
	defer f.Destroy()

	f.Compress(true, true, true)
	r := f.CoeffsAtLevel(2, 0)
	require.Equal(t, []int{4, 6}, r.Dims())

	// Block l holds the scaling coefficients of box (2, l); entry
	// (l, 0) is the box average times the level scale.
	for l := 0; l < 4; l++ {
		width := 0.25
		mid := (float64(l) + 0.5) * width
		avg := r.At(l, 0) * math.Pow(2, 1.0) // phi_0 contribution at n=2: 2^{n/2}
		require.InDelta(t, math.Sin(math.Pi*mid), avg, 0.05, "box %d", l)
	}
}

func TestTwoRankProjection(t *testing.T) {
	want := gaussianSquaredIntegral(2)
	runWorlds(t, 2, func(w *world.World) {
		f, err := NewFactory[float64](w, 2).
			F(gaussian).K(5).Thresh(1e-5).
			Build()
		require.NoError(t, err)

		f.Compress(false, false, true)
		norm2 := f.Norm2Sq()
		require.InDelta(t, want, norm2, 1e-4)

		f.Reconstruct(true)
		f.VerifyTree()

		leaves, interior := f.NodeCounts()
		if w.Rank() == 0 {
			require.Len(t, leaves, 2)
			require.Equal(t, f.TreeSize(), leaves[0]+leaves[1]+interior[0]+interior[1])
		} else {
			require.Nil(t, leaves)
		}
		f.Destroy()
		w.Gop.Fence()
	})
}

func TestTwoRankGaxpyMatchesSerial(t *testing.T) {
	var serial float64
	runWorlds(t, 1, func(w *world.World) {
		a := project1D(t, w, sinPi, 6, 1e-6)
		b := project1D(t, w, cosPi, 6, 1e-6)
		a.Compress(false, false, true)
		b.Compress(false, false, true)
		a.GaxpyInplace(1, b, 3, true)
		serial = a.Norm2Sq()
		a.Destroy()
		b.Destroy()
	})

	runWorlds(t, 2, func(w *world.World) {
		a := project1D(t, w, sinPi, 6, 1e-6)
		b := project1D(t, w, cosPi, 6, 1e-6)
		a.Compress(false, false, true)
		b.Compress(false, false, true)
		a.GaxpyInplace(1, b, 3, true)
		require.InDelta(t, serial, a.Norm2Sq(), 1e-12)
		a.Destroy()
		b.Destroy()
		w.Gop.Fence()
	})
}
