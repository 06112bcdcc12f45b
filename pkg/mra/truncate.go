package mra

import (
	"github.com/mrakit/mrakit/pkg/container"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/tensor"
)

// Truncate discards negligible wavelet coefficients depth-first. The
// tree must be in compressed form. tol <= 0 uses the tree threshold.
func (t *Tree[T]) Truncate(tol float64, fence bool) {
	if tol <= 0 {
		tol = t.thresh
	}
	t.spawnAtRoot(func() {
		var wr wbuf
		wr.f64(tol)
		t.coeffs.Task(t.cdata.Key0, t.mTruncateSpawn, wr.b, sched.High)
	})
	if fence {
		t.w.Gop.Fence()
	}
}

// truncateSpawnM returns (as one encoded bool) whether this subtree
// still holds coefficients after truncation.
func (t *Tree[T]) truncateSpawnM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	node := t.localNode(key)
	if node.IsLeaf() {
		var wr wbuf
		wr.boolean(node.HasCoeff())
		reply(wr.b)
		return
	}

	children := key.Children()
	futs := make([]*sched.Future[[]byte], len(children))
	for i, child := range children {
		futs[i] = t.coeffs.Task(child, t.mTruncateSpawn, args, sched.High)
	}
	sched.WhenAll(futs, func(vals [][]byte) {
		t.submit(sched.Normal, func() {
			reply(t.truncateOp(key, args, vals))
		})
	})
}

// truncateOp deletes the children and this node's wavelet block when
// nothing below survived and the block is negligible.
func (t *Tree[T]) truncateOp(key Key, args []byte, childResults [][]byte) []byte {
	r := rbuf{b: args}
	tol := r.f64()

	anyChild := false
	for _, v := range childResults {
		cr := rbuf{b: v}
		if cr.boolean() {
			anyChild = true
		}
	}

	hasLeft := false
	dropChildren := false
	t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
		if !ok {
			Abort(Fault{Kind: FaultTree, Detail: "truncate found missing node", Key: key})
		}
		// Level 0 and 1 are never truncated away so the top of the
		// tree stays intact for the process map.
		if !anyChild && key.Level() > 1 && n.HasCoeff() &&
			n.Coeff.NormF() < t.truncateTol(tol, key) {
			n.Coeff = tensor.Tensor[T]{}
			if n.HasChildren {
				n.HasChildren = false
				dropChildren = true
			}
		}
		hasLeft = n.HasCoeff() || n.HasChildren
		return n, true
	})
	if dropChildren {
		for _, child := range key.Children() {
			t.coeffs.Erase(child)
		}
	}

	var wr wbuf
	wr.boolean(hasLeft)
	return wr.b
}
