package mra

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuadratureIntegratesPolynomialsExactly(t *testing.T) {
	for _, k := range []int{1, 2, 4, 6, 8, 10} {
		x, w, _, _, _ := initQuadrature(k, k)
		// The k-point rule is exact through degree 2k-1 on [0, 1]:
		// integral of x^p is 1/(p+1).
		for p := 0; p <= 2*k-1; p++ {
			var sum float64
			for i := range x {
				sum += w[i] * math.Pow(x[i], float64(p))
			}
			require.InDelta(t, 1/float64(p+1), sum, 1e-12, "k=%d p=%d", k, p)
		}
	}
}

func TestLegendreScalingOrthonormal(t *testing.T) {
	const k = 8
	x, w, _, _, _ := initQuadrature(k, k)
	p := make([]float64, k)
	gram := make([][]float64, k)
	for i := range gram {
		gram[i] = make([]float64, k)
	}
	for m := range x {
		legendreScaling(x[m], k, p)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				gram[i][j] += w[m] * p[i] * p[j]
			}
		}
	}
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			require.InDelta(t, want, gram[i][j], 1e-12, "i=%d j=%d", i, j)
		}
	}
}

func TestTwoscaleMatrixOrthogonal(t *testing.T) {
	for _, k := range []int{1, 2, 3, 6, 8, 10} {
		_, _, _, _, hg, hgT, _ := initTwoscale(k)
		two := 2 * k
		// hg * hgT = I is what makes filter/unfilter exact inverses.
		for i := 0; i < two; i++ {
			for j := 0; j < two; j++ {
				var sum float64
				for l := 0; l < two; l++ {
					sum += hg.At(i, l) * hgT.At(l, j)
				}
				want := 0.0
				if i == j {
					want = 1.0
				}
				require.InDelta(t, want, sum, 1e-12, "k=%d i=%d j=%d", k, i, j)
			}
		}
	}
}

func TestTwoscaleReproducesConstant(t *testing.T) {
	// The constant function has s = (c, 0, ..., 0) at every level;
	// filtering two constant children must give a constant parent and
	// zero wavelet block.
	const k = 6
	h0, h1, g0, g1, _, _, _ := initTwoscale(k)
	s0 := make([]float64, k)
	// Child scaling coefficients of the constant 1 on each half box:
	// value 1 with phi_0 = 1 gives coefficient 2^{-1/2} after the
	// level normalization.
	c := 1 / math.Sqrt2
	s0[0] = c
	for i := 0; i < k; i++ {
		var s, d float64
		for j := 0; j < k; j++ {
			s += h0.At(i, j)*s0[j] + h1.At(i, j)*s0[j]
			d += g0.At(i, j)*s0[j] + g1.At(i, j)*s0[j]
		}
		if i == 0 {
			require.InDelta(t, 1.0, s, 1e-13)
		} else {
			require.InDelta(t, 0.0, s, 1e-13)
		}
		require.InDelta(t, 0.0, d, 1e-13)
	}
}

func TestDerivativeBlocksSmallOrders(t *testing.T) {
	rm, r0, rp, _, _, _, _ := initDCPeriodic(1)
	require.InDelta(t, 0.0, r0.At(0, 0), 1e-15)
	require.InDelta(t, 0.5, rm.At(0, 0), 1e-15)
	require.InDelta(t, -0.5, rp.At(0, 0), 1e-15)

	// Periodic constant: the three blocks must sum to zero row-wise
	// against constant input.
	const k = 4
	rm4, r04, rp4, _, _, _, _ := initDCPeriodic(k)
	for i := 0; i < k; i++ {
		sum := rm4.At(i, 0) + r04.At(i, 0) + rp4.At(i, 0)
		require.InDelta(t, 0.0, sum, 1e-12, "row %d", i)
	}
}

func TestCommonDataCached(t *testing.T) {
	a := GetCommonData(6, 3)
	b := GetCommonData(6, 3)
	require.Same(t, a, b)
	c := GetCommonData(6, 2)
	require.NotSame(t, a, c)

	require.Equal(t, []int{6, 6, 6}, a.VK)
	require.Equal(t, []int{12, 12, 12}, a.V2K)
	require.Panics(t, func() { GetCommonData(0, 3) })
	require.Panics(t, func() { GetCommonData(6, MaxDim+1) })
}

func TestChildPatchLo(t *testing.T) {
	cd := GetCommonData(4, 2)
	parent := RootKey(2)
	children := parent.Children()
	require.Equal(t, []int{0, 0}, cd.ChildPatchLo(children[0]))
	require.Equal(t, []int{4, 0}, cd.ChildPatchLo(children[1]))
	require.Equal(t, []int{0, 4}, cd.ChildPatchLo(children[2]))
	require.Equal(t, []int{4, 4}, cd.ChildPatchLo(children[3]))
}
