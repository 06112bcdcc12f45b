package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewShapeAndIndexing(t *testing.T) {
	a := New[float64](2, 3, 4)
	require.Equal(t, 3, a.NDim())
	require.Equal(t, 24, a.Size())
	a.SetAt(7.5, 1, 2, 3)
	require.Equal(t, 7.5, a.At(1, 2, 3))
	require.Equal(t, 0.0, a.At(0, 0, 0))
}

func TestSliceRoundTrip(t *testing.T) {
	a := New[float64](4, 4)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a.SetAt(float64(10*i+j), i, j)
		}
	}
	block := a.SliceCopy([]int{2, 2}, []int{2, 2})
	require.Equal(t, 22.0, block.At(0, 0))
	require.Equal(t, 33.0, block.At(1, 1))

	b := New[float64](4, 4)
	b.SetSlice([]int{2, 2}, block)
	require.Equal(t, 22.0, b.At(2, 2))
	require.Equal(t, 0.0, b.At(0, 0))

	b.FillSlice([]int{0, 0}, []int{2, 2}, 5)
	require.Equal(t, 5.0, b.At(1, 1))
	require.Equal(t, 22.0, b.At(2, 2))
}

func TestGaxpyAndNorm(t *testing.T) {
	a := FromSlice([]float64{1, 2, 3, 4}, 2, 2)
	b := FromSlice([]float64{4, 3, 2, 1}, 2, 2)
	a.Gaxpy(2, b, 1)
	require.Equal(t, []float64{6, 7, 8, 9}, a.Data())

	c := FromSlice([]float64{3, 4}, 2)
	require.InDelta(t, 5.0, c.NormF(), 1e-15)
}

func TestTraceConjComplex(t *testing.T) {
	a := FromSlice([]complex128{1 + 2i, 3}, 2)
	b := FromSlice([]complex128{2 - 1i, 1i}, 2)
	// sum a_i * conj(b_i) = (1+2i)(2+1i) + 3*(-1i) = (0+5i) + (0-3i)
	got := a.TraceConj(b)
	require.InDelta(t, 0.0, real(got), 1e-15)
	require.InDelta(t, 2.0, imag(got), 1e-15)
}

// An orthogonal transform applied forward and backward must be the
// identity; this is the algebra the two-scale filter relies on.
func TestTransformOrthogonalRoundTrip(t *testing.T) {
	theta := 0.3
	q := FromSlice([]float64{
		math.Cos(theta), -math.Sin(theta),
		math.Sin(theta), math.Cos(theta),
	}, 2, 2)
	qt := Transpose(q)

	a := FromSlice([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 2, 2, 2)
	fwd := Transform(a, q)
	back := Transform(fwd, qt)
	for i, v := range back.Data() {
		require.InDelta(t, a.Data()[i], v, 1e-13)
	}
}

func TestTransformMatchesManualContraction(t *testing.T) {
	c := FromSlice([]float64{1, 2, 0, 1}, 2, 2)
	a := FromSlice([]float64{1, 0, 0, 0}, 2, 2)
	// result_ij = sum_pq a_pq c_pi c_qj; with a = e00: result_ij = c_0i c_0j
	got := Transform(a, c)
	want := []float64{1, 2, 2, 4}
	for i, v := range got.Data() {
		require.InDelta(t, want[i], v, 1e-14)
	}
}

func TestGeneralTransformPerAxis(t *testing.T) {
	cx := FromSlice([]float64{2, 0, 0, 1}, 2, 2)
	cy := FromSlice([]float64{1, 1, 0, 1}, 2, 2)
	a := FromSlice([]float64{1, 0, 0, 0}, 2, 2)
	// result_ij = sum_pq a_pq cx_pi cy_qj = cx_0i cy_0j
	got := GeneralTransform(a, []Matrix{cx, cy})
	want := []float64{2, 2, 0, 0}
	for i, v := range got.Data() {
		require.InDelta(t, want[i], v, 1e-14)
	}
}

func TestContractAxis(t *testing.T) {
	// Identity on axis 1 leaves the tensor untouched.
	id := FromSlice([]float64{1, 0, 0, 1}, 2, 2)
	a := FromSlice([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 2, 2, 2)
	got := ContractAxis(a, id, 1)
	require.Equal(t, a.Data(), got.Data())

	// A row-swap matrix on axis 0 swaps the two outer slabs.
	swap := FromSlice([]float64{0, 1, 1, 0}, 2, 2)
	got = ContractAxis(a, swap, 0)
	require.Equal(t, []float64{5, 6, 7, 8, 1, 2, 3, 4}, got.Data())
}

func TestMatMul(t *testing.T) {
	a := FromSlice([]float64{1, 2, 3, 4}, 2, 2)
	b := FromSlice([]float64{5, 6, 7, 8}, 2, 2)
	got := MatMul(a, b)
	require.Equal(t, []float64{19, 22, 43, 50}, got.Data())
}

func TestComplexScaleFloat(t *testing.T) {
	a := FromSlice([]complex128{2 + 4i}, 1)
	a.ScaleFloat(0.5)
	require.Equal(t, complex128(1+2i), a.Data()[0])
}
