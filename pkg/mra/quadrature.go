package mra

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/mrakit/mrakit/pkg/tensor"
)

// legendreScaling evaluates the first k Legendre scaling functions at
// x in [0, 1]: phi_j(x) = sqrt(2j+1) * P_j(2x-1), orthonormal on the
// unit interval.
func legendreScaling(x float64, k int, p []float64) {
	y := 2*x - 1
	var pjm1, pj float64 = 1, y
	p[0] = 1
	if k > 1 {
		p[1] = y * math.Sqrt(3)
	}
	for j := 2; j < k; j++ {
		// Legendre recurrence on [-1, 1].
		pjp1 := (float64(2*j-1)*y*pj - float64(j-1)*pjm1) / float64(j)
		pjm1, pj = pj, pjp1
		p[j] = pj * math.Sqrt(float64(2*j+1))
	}
}

// initQuadrature fills the Gauss-Legendre rule of npt points on [0, 1]
// and the evaluation matrices:
//
//	quadPhi(i,j)  = phi_j(x_i)
//	quadPhiW(i,j) = w_i * phi_j(x_i)
//
// Shared with the error estimator, which uses an order k+1 rule.
func initQuadrature(k, npt int) (x, w []float64, phi, phiw, phiT tensor.Matrix) {
	x = make([]float64, npt)
	w = make([]float64, npt)
	quad.Legendre{}.FixedLocations(x, w, 0, 1)

	phi = tensor.New[float64](npt, k)
	phiw = tensor.New[float64](npt, k)
	p := make([]float64, k)
	for i := 0; i < npt; i++ {
		legendreScaling(x[i], k, p)
		for j := 0; j < k; j++ {
			phi.SetAt(p[j], i, j)
			phiw.SetAt(w[i]*p[j], i, j)
		}
	}
	phiT = tensor.Transpose(phi)
	return x, w, phi, phiw, phiT
}
