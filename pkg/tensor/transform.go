package tensor

import "fmt"

// Matrix is a dense real matrix used for basis transforms. Two-scale
// and quadrature matrices are always real even for complex
// coefficient tensors.
type Matrix = Tensor[float64]

// contractFirst contracts the first axis of t with the first axis of
// the (k x m) matrix c and appends the new axis last:
//
//	out[rest..., i] = sum_j t[j, rest...] * c[j, i]
//
// Applying it NDim times transforms every axis and restores the
// original axis order.
func contractFirst[T Elem](t Tensor[T], c Matrix) Tensor[T] {
	k := c.Dim(0)
	m := c.Dim(1)
	if t.Dim(0) != k {
		panic(fmt.Sprintf("tensor: contract dim %d vs matrix %dx%d", t.Dim(0), k, m))
	}
	rest := t.Size() / k

	outDims := make([]int, 0, t.NDim())
	outDims = append(outDims, t.dims[1:]...)
	outDims = append(outDims, m)
	out := New[T](outDims...)

	// t is row-major: t[j, r] = data[j*rest + r].
	td := t.data
	cd := c.data
	od := out.data
	for j := 0; j < k; j++ {
		row := td[j*rest : (j+1)*rest]
		crow := cd[j*m : (j+1)*m]
		for r, tv := range row {
			if tv == 0 {
				continue
			}
			base := r * m
			for i, cv := range crow {
				od[base+i] += scaleElem(tv, cv)
			}
		}
	}
	return out
}

// Transform contracts every axis of t with c: the multiwavelet basis
// change s' = c^T s applied per dimension.
func Transform[T Elem](t Tensor[T], c Matrix) Tensor[T] {
	out := t
	for d := 0; d < t.NDim(); d++ {
		out = contractFirst(out, c)
	}
	return out
}

// FastTransform is Transform with a double-scratch signature. The
// scratch tensors are ignored; every contraction allocates its own
// result.
func FastTransform[T Elem](t Tensor[T], c Matrix, _, _ Tensor[T]) Tensor[T] {
	// The generic kernel allocates per contraction; the scratch
	// arguments are accepted for interface fidelity and future reuse.
	return Transform(t, c)
}

// GeneralTransform contracts axis d of t with mats[d]. Used when each
// dimension needs a different matrix (parent-to-child projection).
func GeneralTransform[T Elem](t Tensor[T], mats []Matrix) Tensor[T] {
	if len(mats) != t.NDim() {
		panic(fmt.Sprintf("tensor: %d matrices for rank-%d tensor", len(mats), t.NDim()))
	}
	out := t
	for d := 0; d < t.NDim(); d++ {
		out = contractFirst(out, mats[d])
	}
	return out
}

// MatMul returns the matrix product a*b of two real matrices.
func MatMul(a, b Matrix) Matrix {
	if a.Dim(1) != b.Dim(0) {
		panic(fmt.Sprintf("tensor: matmul %dx%d * %dx%d", a.Dim(0), a.Dim(1), b.Dim(0), b.Dim(1)))
	}
	n, k, m := a.Dim(0), a.Dim(1), b.Dim(1)
	out := New[float64](n, m)
	for i := 0; i < n; i++ {
		for l := 0; l < k; l++ {
			av := a.data[i*k+l]
			if av == 0 {
				continue
			}
			for j := 0; j < m; j++ {
				out.data[i*m+j] += av * b.data[l*m+j]
			}
		}
	}
	return out
}

// Transpose returns the transpose of a real matrix.
func Transpose(a Matrix) Matrix {
	n, m := a.Dim(0), a.Dim(1)
	out := New[float64](m, n)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			out.data[j*n+i] = a.data[i*m+j]
		}
	}
	return out
}

// ContractAxis contracts axis `axis` of t (extent k) with the (m x k)
// matrix c:
//
//	out[..., i, ...] = sum_j c[i, j] * t[..., j, ...]
//
// The derivative blocks apply along a single chosen axis.
func ContractAxis[T Elem](t Tensor[T], c Matrix, axis int) Tensor[T] {
	k := c.Dim(1)
	m := c.Dim(0)
	if t.Dim(axis) != k {
		panic(fmt.Sprintf("tensor: contract axis %d dim %d vs matrix %dx%d", axis, t.Dim(axis), m, k))
	}
	outDims := t.Dims()
	outDims[axis] = m
	out := New[T](outDims...)

	// Split the index space into outer (before axis), the axis, and
	// inner (after axis) blocks.
	outer := 1
	for d := 0; d < axis; d++ {
		outer *= t.dims[d]
	}
	inner := 1
	for d := axis + 1; d < t.NDim(); d++ {
		inner *= t.dims[d]
	}

	for o := 0; o < outer; o++ {
		tbase := o * k * inner
		obase := o * m * inner
		for i := 0; i < m; i++ {
			crow := c.data[i*k : (i+1)*k]
			orow := out.data[obase+i*inner : obase+(i+1)*inner]
			for j := 0; j < k; j++ {
				cv := crow[j]
				if cv == 0 {
					continue
				}
				trow := t.data[tbase+j*inner : tbase+(j+1)*inner]
				for x, tv := range trow {
					orow[x] += scaleElem(tv, cv)
				}
			}
		}
	}
	return out
}
