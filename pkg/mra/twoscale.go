package mra

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mrakit/mrakit/pkg/tensor"
)

// initTwoscale computes the two-scale coefficient blocks for order k.
//
// The scaling half follows from the refinement relation
//
//	phi_i(x) = sqrt(2) * sum_j [ h0_ij phi_j(2x) + h1_ij phi_j(2x-1) ]
//
// whose blocks are exact Gauss-Legendre integrals of products of
// Legendre scaling functions (polynomials of degree <= 2k-2, so the
// k-point rule is exact). The wavelet half [g0 g1] is the orthonormal
// completion of [h0 h1] in the 2k coefficient space, obtained from a
// QR factorization seeded with generic columns; any orthonormal
// completion yields the same wavelet energies and round trips.
func initTwoscale(k int) (h0, h1, g0, g1, hg, hgT, hgSonly tensor.Matrix) {
	x, w, _, _, _ := initQuadrature(k, k)

	h0 = tensor.New[float64](k, k)
	h1 = tensor.New[float64](k, k)
	invRoot2 := 1 / math.Sqrt2

	pHalf := make([]float64, k)
	pFull := make([]float64, k)
	for m := 0; m < k; m++ {
		legendreScaling(x[m], k, pFull)
		// Left child: phi_i evaluated at x/2.
		legendreScaling(x[m]/2, k, pHalf)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				h0.SetAt(h0.At(i, j)+invRoot2*w[m]*pHalf[i]*pFull[j], i, j)
			}
		}
		// Right child: phi_i evaluated at (x+1)/2.
		legendreScaling((x[m]+1)/2, k, pHalf)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				h1.SetAt(h1.At(i, j)+invRoot2*w[m]*pHalf[i]*pFull[j], i, j)
			}
		}
	}

	// Complete [h0 h1] to an orthogonal 2k x 2k matrix. The first k
	// columns of the QR input are the rows of H; the seed columns are
	// a Hilbert-like block that is generically independent of them.
	two := 2 * k
	b := mat.NewDense(two, two, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			b.Set(j, i, h0.At(i, j))
			b.Set(k+j, i, h1.At(i, j))
		}
	}
	for i := 0; i < two; i++ {
		for j := 0; j < k; j++ {
			b.Set(i, k+j, 1/float64(1+i+j))
		}
	}
	var qr mat.QR
	qr.Factorize(b)
	var q mat.Dense
	qr.QTo(&q)

	g0 = tensor.New[float64](k, k)
	g1 = tensor.New[float64](k, k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			g0.SetAt(q.At(j, k+i), i, j)
			g1.SetAt(q.At(k+j, k+i), i, j)
		}
	}

	// hg = [[h0 h1], [g0 g1]]; filter multiplies by hgT, unfilter by
	// hg.
	hg = tensor.New[float64](two, two)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			hg.SetAt(h0.At(i, j), i, j)
			hg.SetAt(h1.At(i, j), i, k+j)
			hg.SetAt(g0.At(i, j), k+i, j)
			hg.SetAt(g1.At(i, j), k+i, k+j)
		}
	}
	hgT = tensor.Transpose(hg)
	hgSonly = hg.SliceCopy([]int{0, 0}, []int{k, two})
	return h0, h1, g0, g1, hg, hgT, hgSonly
}

// initDCPeriodic builds the level-0 blocks of the periodic central
// difference derivative operator in the Legendre basis, plus the
// rank-1 factors of the off-diagonal blocks.
func initDCPeriodic(k int) (rm, r0, rp tensor.Matrix, rmLeft, rmRight, rpLeft, rpRight []float64) {
	rm = tensor.New[float64](k, k)
	r0 = tensor.New[float64](k, k)
	rp = tensor.New[float64](k, k)

	iphase := 1.0
	for i := 0; i < k; i++ {
		jphase := 1.0
		for j := 0; j < k; j++ {
			gammaij := math.Sqrt(float64((2*i + 1) * (2*j + 1)))
			kij := 0.0
			if i-j > 0 && (i-j)%2 == 1 {
				kij = 2.0
			}
			r0.SetAt(0.5*(1.0-iphase*jphase-2.0*kij)*gammaij, i, j)
			rm.SetAt(0.5*jphase*gammaij, i, j)
			rp.SetAt(-0.5*iphase*gammaij, i, j)
			jphase = -jphase
		}
		iphase = -iphase
	}

	rmLeft = make([]float64, k)
	rmRight = make([]float64, k)
	rpLeft = make([]float64, k)
	rpRight = make([]float64, k)
	iphase = 1.0
	for i := 0; i < k; i++ {
		gamma := math.Sqrt(float64(2*i+1) * 0.5)
		rmLeft[i] = gamma
		rmRight[i] = gamma * iphase
		rpLeft[i] = -gamma * iphase
		rpRight[i] = gamma
		iphase = -iphase
	}
	return rm, r0, rp, rmLeft, rmRight, rpLeft, rpRight
}
