package mra

import (
	"github.com/mrakit/mrakit/pkg/container"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/tensor"
)

// fcube evaluates the functor on the quadrature grid of the box:
// point m of dimension i sits at cell.lo + width*(l_i + x_m)/2^n.
func (t *Tree[T]) fcube(key Key, f Functor[T], qx []float64) tensor.Tensor[T] {
	cd := t.cdata
	d := cd.NDim
	npt := len(qx)
	fval := tensor.New[T](repeat(npt, d)...)

	scale := 1.0 / float64(int64(1)<<uint(key.Level()))
	x := make([]float64, d)
	idx := make([]int, d)
	data := fval.Data()
	for i := range data {
		for dim := 0; dim < d; dim++ {
			c := (float64(key.Translation(dim)) + qx[idx[dim]]) * scale
			x[dim] = t.cell.Lo(dim) + t.cell.Width(dim)*c
		}
		data[i] = f.Eval(x)
		// Row-major walk over the npt^d grid.
		for dim := d - 1; dim >= 0; dim-- {
			idx[dim]++
			if idx[dim] < npt {
				break
			}
			idx[dim] = 0
		}
	}
	return fval
}

// projectBox computes the scaling coefficients of the box by
// quadrature: evaluate, transform through quad_phiw, rescale.
func (t *Tree[T]) projectBox(key Key) tensor.Tensor[T] {
	if t.functor == nil {
		Abort(Fault{Kind: FaultTree, Detail: "project called without a functor", Key: key})
	}
	fval := t.fcube(key, t.functor, t.cdata.QuadX)
	return tensor.Transform(fval, t.cdata.QuadPhiW).ScaleFloat(t.scaleToCoeffs(key.Level()))
}

// projectRefineM is the projection task at a seeded leaf: project the
// box, or with refinement requested project the children, test the
// wavelet energy, and either keep or recurse.
func (t *Tree[T]) projectRefineM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	r := rbuf{b: args}
	refine := r.boolean()
	t.submit(sched.High, func() {
		t.projectRefineOp(key, refine)
		if reply != nil {
			reply(nil)
		}
	})
}

func (t *Tree[T]) projectRefineOp(key Key, refine bool) {
	cd := t.cdata
	if !refine {
		t.coeffs.Replace(key, NewNode(t.projectBox(key), false))
		return
	}

	// Project every child box and filter to expose the wavelet
	// energy the refinement decision screens against.
	r2 := tensor.New[T](cd.V2K...)
	for _, child := range key.Children() {
		r2.SetSlice(cd.ChildPatchLo(child), t.projectBox(child))
	}
	d := t.filter(r2)
	s0 := t.sBlock(d)
	d.FillSlice(cd.S0LoVec, cd.VK, 0)
	dnorm := d.NormF()

	if key.Level() < t.maxRefineLevel && dnorm > t.truncateTol(t.thresh, key) {
		t.coeffs.Replace(key, NewNode[T](tensor.Tensor[T]{}, true))
		var wr wbuf
		wr.boolean(true)
		for _, child := range key.Children() {
			t.coeffs.Send(child, t.mProjectRefine, wr.b)
		}
		return
	}

	if t.truncateOnProject {
		// Coefficients live at this level (the parent of the boxes
		// just evaluated), never at the finer one.
		t.coeffs.Replace(key, NewNode(s0, false))
		return
	}
	t.coeffs.Replace(key, NewNode[T](tensor.Tensor[T]{}, true))
	for _, child := range key.Children() {
		t.coeffs.Replace(child, NewNode(t.childPatch(r2, child), false))
	}
}

// Reproject builds this tree's coefficients from another tree's
// refinement structure (reconstructed form): leaves of old become
// leaves here with coefficients embedded into this order's basis.
func Reproject[T tensor.Elem](t *Tree[T], old *Tree[T], fence bool) {
	kOld := old.k
	if kOld > t.k {
		kOld = t.k
	}
	lo := make([]int, t.cdata.NDim)
	shape := repeat(kOld, t.cdata.NDim)
	old.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() {
			c := tensor.New[T](t.cdata.VK...)
			c.SetSlice(lo, node.Coeff.SliceCopy(lo, shape))
			t.coeffs.Replace(key, NewNode(c, false))
		} else {
			t.coeffs.Replace(key, NewNode[T](tensor.Tensor[T]{}, true))
		}
		return true
	})
	if fence {
		t.w.Gop.Fence()
	}
}
