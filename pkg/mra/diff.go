package mra

import (
	"math"

	"github.com/mrakit/mrakit/pkg/container"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/tensor"
	"github.com/mrakit/mrakit/pkg/world"
)

// findNeighbor locates the scaling coefficients of the step-neighbor
// along axis. The reply key tells the caller what it got: the
// same-level neighbor (exact), an ancestor (coarser), the neighbor
// with an empty tensor (finer), or the invalid key with a zero block
// (zero boundary).
func (t *Tree[T]) findNeighbor(f *Tree[T], key Key, axis, step int) *sched.Future[keyTensorPair[T]] {
	neigh := f.Neighbor(key, axis, step)
	if !neigh.IsValid() {
		return sched.Ready(keyTensorPair[T]{
			Key:   neigh,
			Coeff: tensor.New[T](f.cdata.VK...),
		})
	}
	return f.SockItToMe(neigh)
}

// Diff places the derivative of f along axis into this tree. The
// result tree must be empty, share f's process map, and f must be
// reconstructed.
func (t *Tree[T]) Diff(f *Tree[T], axis int, fence bool) {
	if !t.SamePMap(f) {
		Abort(Fault{Kind: FaultTree, Detail: "differentiate requires identical process maps"})
	}
	var leaves []Key
	f.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() {
			leaves = append(leaves, key)
		} else {
			// Interior structure carries over so connectivity holds.
			t.coeffs.Replace(key, NewNode[T](tensor.Tensor[T]{}, true))
		}
		return true
	})
	for _, key := range leaves {
		node := f.localNode(key)
		t.spawnDiff(f, axis, key, keyTensorPair[T]{Key: key, Coeff: node.Coeff})
	}
	if fence {
		t.w.Gop.Fence()
	}
}

// spawnDiff fetches both neighbors and forwards do_diff1 once they
// arrive. Tasks that may trigger further communication run at high
// priority so refinement overlaps compute.
func (t *Tree[T]) spawnDiff(f *Tree[T], axis int, key Key, center keyTensorPair[T]) {
	lfut := t.findNeighbor(f, key, axis, -1)
	rfut := t.findNeighbor(f, key, axis, +1)
	sched.WhenAll([]*sched.Future[keyTensorPair[T]]{lfut, rfut}, func(vals []keyTensorPair[T]) {
		left, right := vals[0], vals[1]
		owner := t.pmap.Owner(key)
		if owner == t.w.Rank() {
			t.submit(sched.High, func() { t.doDiff1(f, axis, key, left, center, right) })
			return
		}
		// A not-ready future cannot travel; materialized pairs go as
		// an active message that reschedules remotely.
		var wr wbuf
		wr.u8(uint8(axis))
		wr.u64(uint64(f.id))
		wr.b = append(wr.b, encodePair(left)...)
		wr.b = append(wr.b, encodePair(center)...)
		wr.b = append(wr.b, encodePair(right)...)
		t.coeffs.Send(key, t.mForwardDoDiff1, wr.b)
	})
}

func (t *Tree[T]) forwardDoDiff1M(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	r := rbuf{b: args}
	axis := int(r.u8())
	f := lookupTree[T](t.w, world.ObjID(r.u64()))
	left := keyTensorPair[T]{Key: r.key(), Coeff: getTensor[T](&r)}
	center := keyTensorPair[T]{Key: r.key(), Coeff: getTensor[T](&r)}
	right := keyTensorPair[T]{Key: r.key(), Coeff: getTensor[T](&r)}
	t.submit(sched.High, func() { t.doDiff1(f, axis, key, left, center, right) })
	if reply != nil {
		reply(nil)
	}
}

// doDiff1 handles adaptive refinement: a finer neighbor (empty
// tensor) forces the center box to split and the derivative to be
// retried on each child; a coarser neighbor is interpolated down with
// ParentToChild; level-matched neighbors go straight to the stencil.
func (t *Tree[T]) doDiff1(f *Tree[T], axis int, key Key, left, center, right keyTensorPair[T]) {
	finer := (left.Key.IsValid() && left.Coeff.IsEmpty()) ||
		(right.Key.IsValid() && right.Coeff.IsEmpty())

	if finer {
		// Synthesize the child scaling blocks and restart one level
		// down; the result tree gains an interior node here.
		d := f.unfilter(f.expandToV2K(center.Coeff))
		t.coeffs.Replace(key, NewNode[T](tensor.Tensor[T]{}, true))
		for _, child := range key.Children() {
			cc := keyTensorPair[T]{Key: child, Coeff: f.childPatch(d, child)}
			t.spawnDiff(f, axis, child, cc)
		}
		return
	}

	if left.Key.IsValid() && left.Key.Level() < key.Level() {
		neigh := f.Neighbor(key, axis, -1)
		left = keyTensorPair[T]{Key: neigh, Coeff: f.ParentToChild(left.Coeff, left.Key, neigh)}
	}
	if right.Key.IsValid() && right.Key.Level() < key.Level() {
		neigh := f.Neighbor(key, axis, +1)
		right = keyTensorPair[T]{Key: neigh, Coeff: f.ParentToChild(right.Coeff, right.Key, neigh)}
	}
	t.doDiff2(f, axis, key, left, center, right)
}

// doDiff2 applies the three-block central difference stencil along
// the axis with the per-level scale.
func (t *Tree[T]) doDiff2(f *Tree[T], axis int, key Key, left, center, right keyTensorPair[T]) {
	cd := t.cdata
	d := tensor.ContractAxis(left.Coeff, cd.RP, axis)
	d.Add(tensor.ContractAxis(center.Coeff, cd.R0, axis))
	d.Add(tensor.ContractAxis(right.Coeff, cd.RM, axis))
	scale := math.Pow(2, float64(key.Level())) / t.cell.Width(axis)
	d.ScaleFloat(scale)
	t.coeffs.Replace(key, NewNode(d, false))
}
