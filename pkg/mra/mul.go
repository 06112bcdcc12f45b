package mra

import (
	"github.com/mrakit/mrakit/pkg/container"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/tensor"
	"github.com/mrakit/mrakit/pkg/world"
)

// lookupTree resolves a tree id shipped inside method arguments. The
// registry holds a weak view: a missing id means someone used a tree
// across ranks after destroying it locally.
func lookupTree[T tensor.Elem](w *world.World, id world.ObjID) *Tree[T] {
	obj, ok := w.LookupObject(id)
	if !ok {
		Abort(Fault{Kind: FaultTree, Detail: "remote operation references an unregistered tree"})
	}
	t, ok := obj.(*Tree[T])
	if !ok {
		Abort(Fault{Kind: FaultTree, Detail: "object id does not name a tree"})
	}
	return t
}

// MulXX computes this = left * right pointwise by shared recursive
// descent. All three trees must be reconstructed, share one process
// map, and have norm_tree caches (NormTree) populated on the
// operands when tol > 0.
func (t *Tree[T]) MulXX(left, right *Tree[T], tol float64, fence bool) {
	if !left.SamePMap(right) || !left.SamePMap(t) {
		Abort(Fault{Kind: FaultTree, Detail: "multiply requires identical process maps"})
	}
	t.spawnAtRoot(func() {
		var wr wbuf
		wr.f64(tol)
		wr.u64(uint64(left.id))
		wr.u64(uint64(right.id))
		putTensor(&wr, tensor.Tensor[T]{})
		putTensor(&wr, tensor.Tensor[T]{})
		t.coeffs.Send(t.cdata.Key0, t.mMulXXa, wr.b)
	})
	if fence {
		t.w.Gop.Fence()
	}
}

// mulXXaM is the shared-descent multiplication: at each box multiply
// if both sides have scaling coefficients, write a zero leaf if the
// norm product screens out, otherwise synthesize child blocks with
// unfilter and recurse.
func (t *Tree[T]) mulXXaM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	t.submit(sched.High, func() {
		r := rbuf{b: args}
		tol := r.f64()
		leftID := world.ObjID(r.u64())
		rightID := world.ObjID(r.u64())
		lc := getTensor[T](&r)
		rc := getTensor[T](&r)
		t.mulXXa(key, lookupTree[T](t.w, leftID), lc, lookupTree[T](t.w, rightID), rc, tol)
		if reply != nil {
			reply(nil)
		}
	})
}

func (t *Tree[T]) mulXXa(key Key, left *Tree[T], lcin tensor.Tensor[T], right *Tree[T], rcin tensor.Tensor[T], tol float64) {
	cd := t.cdata
	lnorm, rnorm := 1e99, 1e99

	lc := lcin
	if lc.IsEmpty() {
		node := left.localNode(key)
		lnorm = node.NormTree
		if node.HasCoeff() {
			lc = node.Coeff
		}
	}
	rc := rcin
	if rc.IsEmpty() {
		node := right.localNode(key)
		rnorm = node.NormTree
		if node.HasCoeff() {
			rc = node.Coeff
		}
	}

	if !lc.IsEmpty() && !rc.IsEmpty() {
		t.doMul(key, lc, keyTensorPair[T]{Key: key, Coeff: rc})
		return
	}

	if tol > 0 {
		if !lc.IsEmpty() {
			lnorm = lc.NormF()
		}
		if !rc.IsEmpty() {
			rnorm = rc.NormF()
		}
		if lnorm*rnorm < t.truncateTol(tol, key) {
			// Zero leaf.
			t.coeffs.Replace(key, NewNode(tensor.New[T](cd.VK...), false))
			return
		}
	}

	// Recur down, pushing whichever side has coefficients through the
	// two-scale synthesis.
	t.coeffs.Replace(key, NewNode[T](tensor.Tensor[T]{}, true))

	var lss, rss tensor.Tensor[T]
	if !lc.IsEmpty() {
		lss = left.unfilter(left.expandToV2K(lc))
	}
	if !rc.IsEmpty() {
		rss = right.unfilter(right.expandToV2K(rc))
	}

	for _, child := range key.Children() {
		var wr wbuf
		wr.f64(tol)
		wr.u64(uint64(left.id))
		wr.u64(uint64(right.id))
		var ll, rr tensor.Tensor[T]
		if !lss.IsEmpty() {
			ll = t.childPatch(lss, child)
		}
		if !rss.IsEmpty() {
			rr = t.childPatch(rss, child)
		}
		putTensor(&wr, ll)
		putTensor(&wr, rr)
		t.coeffs.Send(child, t.mMulXXa, wr.b)
	}
}

// doMul evaluates both factors on the box's quadrature grid,
// multiplies pointwise, and transforms back to scaling coefficients.
func (t *Tree[T]) doMul(key Key, left tensor.Tensor[T], arg keyTensorPair[T]) {
	rcube := t.fcubeForMul(key, arg.Key, arg.Coeff)
	lcube := t.fcubeForMul(key, key, left)
	tcube := tensor.Mul(lcube, rcube)
	tcube = tensor.Transform(tcube, t.cdata.QuadPhiW).ScaleFloat(t.scaleToCoeffs(key.Level()))
	t.coeffs.Replace(key, NewNode(tcube, false))
}

// MulXXVec multiplies one left operand against several right operands
// with one shared descent, writing into the paired result trees.
func MulXXVec[T tensor.Elem](left *Tree[T], rights, results []*Tree[T], tol float64, fence bool) {
	if len(rights) != len(results) || len(results) == 0 {
		Abort(Fault{Kind: FaultTree, Detail: "vector multiply needs matched operand lists"})
	}
	drv := results[0]
	drv.spawnAtRoot(func() {
		var wr wbuf
		wr.f64(tol)
		wr.u64(uint64(left.id))
		putTensor(&wr, tensor.Tensor[T]{})
		wr.u16(uint16(len(rights)))
		for i := range rights {
			wr.u64(uint64(rights[i].id))
			wr.u64(uint64(results[i].id))
			putTensor(&wr, tensor.Tensor[T]{})
		}
		drv.coeffs.Send(drv.cdata.Key0, drv.mMulXXveca, wr.b)
	})
	if fence {
		drv.w.Gop.Fence()
	}
}

func (t *Tree[T]) mulXXvecaM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	t.submit(sched.High, func() {
		r := rbuf{b: args}
		tol := r.f64()
		left := lookupTree[T](t.w, world.ObjID(r.u64()))
		lcin := getTensor[T](&r)
		n := int(r.u16())
		rights := make([]*Tree[T], n)
		results := make([]*Tree[T], n)
		vrcin := make([]tensor.Tensor[T], n)
		for i := 0; i < n; i++ {
			rights[i] = lookupTree[T](t.w, world.ObjID(r.u64()))
			results[i] = lookupTree[T](t.w, world.ObjID(r.u64()))
			vrcin[i] = getTensor[T](&r)
		}
		t.mulXXveca(key, left, lcin, rights, vrcin, results, tol)
		if reply != nil {
			reply(nil)
		}
	})
}

func (t *Tree[T]) mulXXveca(key Key, left *Tree[T], lcin tensor.Tensor[T], rights []*Tree[T], vrcin []tensor.Tensor[T], results []*Tree[T], tol float64) {
	lnorm := 1e99
	lc := lcin
	if lc.IsEmpty() {
		node := left.localNode(key)
		lnorm = node.NormTree
		if node.HasCoeff() {
			lc = node.Coeff
		}
	}

	// Split the right-hand sides into multiply-now, screen-out, and
	// recurse groups.
	var recRights, recResults []*Tree[T]
	var recRC []tensor.Tensor[T]
	for i := range rights {
		right, result := rights[i], results[i]
		rc := vrcin[i]
		rnorm := 0.0
		if rc.IsEmpty() {
			node := right.localNode(key)
			rnorm = node.NormTree
			if node.HasCoeff() {
				rc = node.Coeff
			}
		} else {
			rnorm = rc.NormF()
		}

		switch {
		case !rc.IsEmpty() && !lc.IsEmpty():
			result.doMul(key, lc, keyTensorPair[T]{Key: key, Coeff: rc})
		case tol > 0 && lnorm*rnorm < t.truncateTol(tol, key):
			result.coeffs.Replace(key, NewNode(tensor.New[T](t.cdata.VK...), false))
		default:
			result.coeffs.Replace(key, NewNode[T](tensor.Tensor[T]{}, true))
			recRights = append(recRights, right)
			recResults = append(recResults, result)
			recRC = append(recRC, rc)
		}
	}

	if len(recResults) == 0 {
		return
	}

	var lss tensor.Tensor[T]
	if !lc.IsEmpty() {
		lss = left.unfilter(left.expandToV2K(lc))
	}
	vrss := make([]tensor.Tensor[T], len(recRC))
	for i, rc := range recRC {
		if !rc.IsEmpty() {
			vrss[i] = recRights[i].unfilter(recRights[i].expandToV2K(rc))
		}
	}

	for _, child := range key.Children() {
		var wr wbuf
		wr.f64(tol)
		wr.u64(uint64(left.id))
		var ll tensor.Tensor[T]
		if !lss.IsEmpty() {
			ll = t.childPatch(lss, child)
		}
		putTensor(&wr, ll)
		wr.u16(uint16(len(recResults)))
		for i := range recResults {
			wr.u64(uint64(recRights[i].id))
			wr.u64(uint64(recResults[i].id))
			var rr tensor.Tensor[T]
			if !vrss[i].IsEmpty() {
				rr = t.childPatch(vrss[i], child)
			}
			putTensor(&wr, rr)
		}
		t.coeffs.Send(child, t.mMulXXveca, wr.b)
	}
}

// SquareInplace squares the function pointwise in reconstructed form.
// With autorefine enabled a box whose high-order content would alias
// is split first and the children squared on the refined grid.
func (t *Tree[T]) SquareInplace(fence bool) {
	var leaves []Key
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() {
			leaves = append(leaves, key)
		}
		return true
	})
	for _, key := range leaves {
		key := key
		t.submit(sched.Normal, func() { t.doSquareInplace(key) })
	}
	if fence {
		t.w.Gop.Fence()
	}
}

func (t *Tree[T]) doSquareInplace(key Key) {
	node := t.localNode(key)
	if !node.HasCoeff() {
		return
	}
	coeff := node.Coeff

	if t.autorefine && key.Level() < t.maxRefineLevel && t.autorefineSquareTest(key, coeff) {
		d := t.unfilter(t.expandToV2K(coeff))
		t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
			n.Coeff = tensor.Tensor[T]{}
			n.HasChildren = true
			return n, true
		})
		for _, child := range key.Children() {
			sc := t.childPatch(d, child)
			t.coeffs.Replace(child, NewNode(t.squareBlock(child, sc), false))
		}
		return
	}

	t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
		n.Coeff = t.squareBlock(key, n.Coeff)
		return n, true
	})
}

// squareBlock squares one scaling block through the quadrature grid.
func (t *Tree[T]) squareBlock(key Key, c tensor.Tensor[T]) tensor.Tensor[T] {
	values := t.fcubeForMul(key, key, c)
	values = tensor.Mul(values, values)
	return tensor.Transform(values, t.cdata.QuadPhiW).ScaleFloat(t.scaleToCoeffs(key.Level()))
}
