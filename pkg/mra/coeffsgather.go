package mra

import (
	"github.com/mrakit/mrakit/pkg/tensor"
)

// CoeffsAtLevel gathers the scaling coefficients of every box at
// level n from the nonstandard compressed tree into one dense tensor
// on rank 0 (nil elsewhere). Boxes whose coefficients live above
// level n are synthesized with ParentToChild.
//
// With q == 0 the result is shaped [N,...,N, k,...,k] for the direct
// sum, N = 2^n. With q > 0 (q a power of two dividing N) the flat
// ordering groups boxes for an FFT sum: writing l = q*b + c with
// c in [0,q), box (c, b) lands at flat index
//
//	sum_i ( c_i * M^d * q^{d-1-i} + b_i * M^{d-1-i} ),  M = N/q
//
// times k^d plus the polynomial offset. At q == 1 this coincides with
// the direct-sum ordering.
func (t *Tree[T]) CoeffsAtLevel(n Level, q int64) tensor.Tensor[T] {
	if !t.compressed || !t.nonstandard {
		Abort(Fault{Kind: FaultTree, Detail: "level gather requires the nonstandard compressed form"})
	}
	cd := t.cdata
	d := cd.NDim
	N := int64(1) << uint(n)
	M := N
	if q > 0 {
		if N%q != 0 {
			Abort(Fault{Kind: FaultConfig, Detail: "q must divide 2^n", K: int(q)})
		}
		M = N / q
	} else {
		q = 1
	}

	kd := 1
	for i := 0; i < d; i++ {
		kd *= cd.K
	}
	boxes := int64(1)
	for i := 0; i < d; i++ {
		boxes *= N
	}
	local := make([]T, boxes*int64(kd))

	// Per-dimension place values for the (c, b) split.
	powQ := make([]int64, d)
	powM := make([]int64, d)
	powQ[d-1], powM[d-1] = 1, 1
	for i := d - 2; i >= 0; i-- {
		powQ[i] = powQ[i+1] * q
		powM[i] = powM[i+1] * M
	}
	powMNDim := powM[0] * M

	me := t.w.Rank()
	idx := make([]Translation, d)
	for {
		key := NewKey(n, idx)
		if t.pmap.Owner(key) == me {
			block := t.levelBlock(key)
			var ll int64
			for i := 0; i < d; i++ {
				c := idx[i] % q
				b := idx[i] / q
				ll += c*powMNDim*powQ[i] + b*powM[i]
			}
			copy(local[ll*int64(kd):], block.Data())
		}
		// Advance the translation vector.
		done := true
		for i := d - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < Translation(N) {
				done = false
				break
			}
			idx[i] = 0
		}
		if done {
			break
		}
	}

	t.w.Gop.Fence()

	// Reduce at rank 0 by summing the per-rank partial grids.
	var wr wbuf
	for _, v := range local {
		putElem(&wr, v)
	}
	blobs := t.w.Gop.Gather(0, wr.b)
	if blobs == nil {
		return tensor.Tensor[T]{}
	}
	sum := make([]T, len(local))
	for _, b := range blobs {
		r := rbuf{b: b}
		for i := range sum {
			sum[i] += getElem[T](&r)
		}
	}

	if q == 1 {
		dims := make([]int, 0, 2*d)
		for i := 0; i < d; i++ {
			dims = append(dims, int(N))
		}
		for i := 0; i < d; i++ {
			dims = append(dims, cd.K)
		}
		return tensor.FromSlice(sum, dims...)
	}
	return tensor.FromSlice(sum, len(sum))
}

// levelBlock returns the k^d scaling block of the box, synthesizing
// it from the first ancestor with coefficients when the box is not in
// the tree.
func (t *Tree[T]) levelBlock(key Key) tensor.Tensor[T] {
	if node, ok := t.coeffs.Get(key); ok && node.HasCoeff() {
		if node.Coeff.Dim(0) == 2*t.k {
			return t.sBlock(node.Coeff)
		}
		return node.Coeff
	}
	pair := t.SockItToMe(key).Get()
	if pair.Coeff.IsEmpty() {
		return tensor.New[T](t.cdata.VK...)
	}
	s := pair.Coeff
	if s.Dim(0) == 2*t.k {
		s = t.sBlock(s)
	}
	return t.ParentToChild(s, pair.Key, key)
}
