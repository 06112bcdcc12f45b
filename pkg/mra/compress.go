package mra

import (
	"math"

	"github.com/mrakit/mrakit/pkg/container"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/tensor"
)

// Compress converts the tree to compressed form: every node carries
// scaling+wavelet coefficients, with the scaling sub-block zeroed
// except at the root (standard form) or kept everywhere (nonstandard
// form, used by operator application). keepLeaves retains the leaf
// scaling coefficients alongside.
func (t *Tree[T]) Compress(nonstandard, keepLeaves, fence bool) {
	// Set eagerly so back-to-back calls without a fence compose.
	t.compressed = true
	t.nonstandard = nonstandard
	t.spawnAtRoot(func() {
		var wr wbuf
		wr.boolean(nonstandard)
		wr.boolean(keepLeaves)
		t.coeffs.Task(t.cdata.Key0, t.mCompressSpawn, wr.b, sched.High)
	})
	if fence {
		t.w.Gop.Fence()
	}
}

// compressSpawnM is the post-order compression recursion: child tasks
// return their scaling blocks; the fan-in assembles, filters, stores,
// and passes this node's scaling block upward.
func (t *Tree[T]) compressSpawnM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	r := rbuf{b: args}
	nonstandard := r.boolean()
	keepLeaves := r.boolean()

	node := t.localNode(key)
	if key.Level() == 0 && node.IsLeaf() {
		// Single-box tree: the root absorbs its own scaling block with
		// zero wavelet content.
		d := t.expandToV2K(node.Coeff)
		t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
			n.Coeff = d
			return n, true
		})
		var wr wbuf
		putTensor(&wr, t.sBlock(d))
		reply(wr.b)
		return
	}
	if node.IsLeaf() {
		s := node.Coeff
		if !keepLeaves {
			t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
				n.Coeff = tensor.Tensor[T]{}
				return n, true
			})
		}
		var wr wbuf
		putTensor(&wr, s)
		reply(wr.b)
		return
	}

	children := key.Children()
	futs := make([]*sched.Future[[]byte], len(children))
	for i, child := range children {
		futs[i] = t.coeffs.Task(child, t.mCompressSpawn, args, sched.High)
	}
	sched.WhenAll(futs, func(vals [][]byte) {
		t.submit(sched.Normal, func() {
			reply(t.compressOp(key, vals, nonstandard))
		})
	})
}

// compressOp assembles the child scaling blocks into a (2k)^d tensor,
// filters, stores the result, and returns the scaling sub-block for
// the parent. Away from the root in standard form the stored scaling
// sub-block is zeroed.
func (t *Tree[T]) compressOp(key Key, childBlocks [][]byte, nonstandard bool) []byte {
	cd := t.cdata
	d := tensor.New[T](cd.V2K...)
	for i, child := range key.Children() {
		r := rbuf{b: childBlocks[i]}
		s := getTensor[T](&r)
		if s.IsEmpty() {
			Abort(Fault{Kind: FaultTree, Detail: "compress found child without scaling block", Key: child})
		}
		d.SetSlice(cd.ChildPatchLo(child), s)
	}
	d = t.filter(d)
	s := t.sBlock(d)
	if key.Level() > 0 && !nonstandard {
		d.FillSlice(cd.S0LoVec, cd.VK, 0)
	}
	t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
		n.Coeff = d
		n.HasChildren = true
		return n, true
	})
	var wr wbuf
	putTensor(&wr, s)
	return wr.b
}

// Reconstruct converts the tree back to reconstructed form: leaves
// carry scaling coefficients, interior nodes are empty.
func (t *Tree[T]) Reconstruct(fence bool) {
	t.nonstandard = false
	t.compressed = false
	t.spawnAtRoot(func() {
		var wr wbuf
		putTensor(&wr, tensor.Tensor[T]{})
		t.coeffs.Send(t.cdata.Key0, t.mReconstructOp, wr.b)
	})
	if fence {
		t.w.Gop.Fence()
	}
}

// reconstructOpM is the pre-order inverse: combine the incoming
// parent scaling block with the local wavelet block, unfilter, carve
// into child patches, and push each down.
func (t *Tree[T]) reconstructOpM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	t.submit(sched.High, func() {
		r := rbuf{b: args}
		s := getTensor[T](&r)
		t.reconstructOp(key, s)
		if reply != nil {
			reply(nil)
		}
	})
}

func (t *Tree[T]) reconstructOp(key Key, s tensor.Tensor[T]) {
	cd := t.cdata
	node := t.localNode(key)
	if node.HasChildren {
		var d tensor.Tensor[T]
		if node.HasCoeff() {
			d = node.Coeff.Copy()
		} else {
			d = tensor.New[T](cd.V2K...)
		}
		if !s.IsEmpty() {
			d.SetSlice(cd.S0LoVec, s)
		}
		d = t.unfilter(d)
		t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
			n.Coeff = tensor.Tensor[T]{}
			return n, true
		})
		for _, child := range key.Children() {
			var wr wbuf
			putTensor(&wr, t.childPatch(d, child))
			t.coeffs.Send(child, t.mReconstructOp, wr.b)
		}
		return
	}
	switch {
	case !s.IsEmpty():
		t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
			n.Coeff = s.Copy()
			return n, true
		})
	case node.HasCoeff() && node.Coeff.Dim(0) == 2*t.k:
		// Single-box tree: the root leaf carries its own s+d block.
		t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
			n.Coeff = t.sBlock(n.Coeff)
			return n, true
		})
	default:
		t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
			n.Coeff = tensor.New[T](cd.VK...)
			return n, true
		})
	}
}

// Standard converts a nonstandard compressed tree to standard form:
// interior scaling sub-blocks are zeroed and leaf coefficient blocks
// dropped entirely.
func (t *Tree[T]) Standard(fence bool) {
	cd := t.cdata
	var drop []Key
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if key.Level() == 0 || !node.HasCoeff() {
			return true
		}
		if node.HasChildren {
			node.Coeff.FillSlice(cd.S0LoVec, cd.VK, 0)
		} else {
			drop = append(drop, key)
		}
		return true
	})
	for _, key := range drop {
		t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
			n.Coeff = tensor.Tensor[T]{}
			return n, true
		})
	}
	t.nonstandard = false
	if fence {
		t.w.Gop.Fence()
	}
}

// NormTree computes and caches the subtree norms consumed by the
// multiplication screening.
func (t *Tree[T]) NormTree(fence bool) {
	t.spawnAtRoot(func() {
		t.coeffs.Task(t.cdata.Key0, t.mNormTreeSpawn, nil, sched.High)
	})
	if fence {
		t.w.Gop.Fence()
	}
}

func (t *Tree[T]) normTreeSpawnM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	node := t.localNode(key)
	if node.IsLeaf() {
		norm := 0.0
		if node.HasCoeff() {
			norm = node.Coeff.NormF()
		}
		t.setNormTree(key, norm)
		var wr wbuf
		wr.f64(norm)
		reply(wr.b)
		return
	}
	children := key.Children()
	futs := make([]*sched.Future[[]byte], len(children))
	for i, child := range children {
		futs[i] = t.coeffs.Task(child, t.mNormTreeSpawn, nil, sched.High)
	}
	sched.WhenAll(futs, func(vals [][]byte) {
		t.submit(sched.Normal, func() {
			var sum float64
			for _, v := range vals {
				r := rbuf{b: v}
				x := r.f64()
				sum += x * x
			}
			if n := t.localNode(key); n.HasCoeff() {
				c := n.Coeff.NormF()
				sum += c * c
			}
			norm := math.Sqrt(sum)
			t.setNormTree(key, norm)
			var wr wbuf
			wr.f64(norm)
			reply(wr.b)
		})
	})
}

func (t *Tree[T]) setNormTree(key Key, norm float64) {
	t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
		n.NormTree = norm
		return n, ok
	})
}
