package mra

import (
	"math"

	"github.com/mrakit/mrakit/pkg/container"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/tensor"
)

// gaxpyInplaceM merges an incoming node into the local one:
// this = alpha*this + beta*other, creating the node if absent.
func (t *Tree[T]) gaxpyInplaceM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	r := rbuf{b: args}
	alpha := getElem[T](&r)
	beta := getElem[T](&r)
	other := treeCodec[T]{}.DecodeValue(args[r.off:])
	t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
		if !ok {
			n = NewNode[T](tensor.Tensor[T]{}, false)
		}
		n.GaxpyInplace(alpha, other, beta)
		return n, true
	})
	if reply != nil {
		reply(nil)
	}
}

// accumulateM adds a coefficient tensor into the node, creating it
// and connecting it to its parent if it is new.
func (t *Tree[T]) accumulateM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	r := rbuf{b: args}
	inc := getTensor[T](&r)
	created := false
	t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
		if ok && n.HasCoeff() {
			n.Coeff.Add(inc)
			return n, true
		}
		if !ok {
			n = NewNode[T](tensor.Tensor[T]{}, false)
		}
		n.Coeff = inc.Copy()
		created = !n.HasChildren
		return n, true
	})
	if created && key.Level() > 0 {
		// A node created by accumulation must announce itself to its
		// parent before anything walks down to it; ordered delivery
		// makes the registration land first.
		t.coeffs.Send(key.Parent(), t.mSetHasChildren, nil)
	}
	if reply != nil {
		reply(nil)
	}
}

// setHasChildrenRecursiveM marks the node interior, recurring upward
// until it meets a node that is already connected.
func (t *Tree[T]) setHasChildrenRecursiveM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	recurse := false
	t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
		if !ok {
			n = NewNode[T](tensor.Tensor[T]{}, false)
		}
		// A node that already knows it has children or carries
		// coefficients is already connected to its parent.
		recurse = !(n.HasChildren || n.HasCoeff() || key.Level() == 0)
		n.HasChildren = true
		return n, true
	})
	if recurse {
		t.coeffs.Send(key.Parent(), t.mSetHasChildren, nil)
	}
	if reply != nil {
		reply(nil)
	}
}

func (t *Tree[T]) sendGaxpy(key Key, alpha T, other Node[T], beta T) {
	var wr wbuf
	putElem(&wr, alpha)
	putElem(&wr, beta)
	wr.b = append(wr.b, treeCodec[T]{}.EncodeValue(other)...)
	t.coeffs.Send(key, t.mGaxpyInplace, wr.b)
}

// GaxpyInplace computes this = alpha*this + beta*other over the union
// of nodes. With a shared process map the merge is purely local.
func (t *Tree[T]) GaxpyInplace(alpha T, other *Tree[T], beta T, fence bool) {
	other.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		t.sendGaxpy(key, alpha, node, beta)
		return true
	})
	if fence {
		t.w.Gop.Fence()
	}
}

// Gaxpy builds this = alpha*left + beta*right in the wavelet basis,
// with no assumption that the three trees share a distribution.
func (t *Tree[T]) Gaxpy(alpha T, left *Tree[T], beta T, right *Tree[T], fence bool) {
	left.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		t.sendGaxpy(key, 1, node, alpha)
		return true
	})
	right.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		t.sendGaxpy(key, 1, node, beta)
		return true
	})
	if fence {
		t.w.Gop.Fence()
	}
}

// CopyCoeffs deep-copies all nodes of other into this tree.
func (t *Tree[T]) CopyCoeffs(other *Tree[T], fence bool) {
	other.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		t.coeffs.Replace(key, Node[T]{Coeff: node.Coeff.Copy(), HasChildren: node.HasChildren, NormTree: node.NormTree})
		return true
	})
	t.compressed = other.compressed
	t.nonstandard = other.nonstandard
	if fence {
		t.w.Gop.Fence()
	}
}

// ScaleInplace multiplies every coefficient block by q.
func (t *Tree[T]) ScaleInplace(q T, fence bool) {
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() {
			node.Coeff.Scale(q)
		}
		return true
	})
	if fence {
		t.w.Gop.Fence()
	}
}

// ScaleOop stores q*other into this tree.
func (t *Tree[T]) ScaleOop(q T, other *Tree[T], fence bool) {
	other.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() {
			t.coeffs.Replace(key, NewNode(node.Coeff.Copy().Scale(q), node.HasChildren))
		} else {
			t.coeffs.Replace(key, NewNode[T](tensor.Tensor[T]{}, node.HasChildren))
		}
		return true
	})
	t.compressed = other.compressed
	t.nonstandard = other.nonstandard
	if fence {
		t.w.Gop.Fence()
	}
}

// AddScalarInplace adds a constant to the function. In the scaling
// basis the constant lands on the first polynomial of every leaf with
// the per-level scaling; in the wavelet basis only the root changes.
func (t *Tree[T]) AddScalarInplace(v T, fence bool) {
	d := t.cdata.NDim
	zeroIdx := make([]int, d)
	if t.compressed {
		t.spawnAtRoot(func() {
			t.coeffs.Update(t.cdata.Key0, func(n Node[T], ok bool) (Node[T], bool) {
				if !ok || !n.HasCoeff() {
					Abort(Fault{Kind: FaultTree, Detail: "compressed tree has no root block", Key: t.cdata.Key0})
				}
				scale := tensor.FromReal[T](math.Sqrt(t.cell.Volume()))
				n.Coeff.SetAt(n.Coeff.At(zeroIdx...)+v*scale, zeroIdx...)
				return n, true
			})
		})
	} else {
		t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
			if node.HasCoeff() {
				s := tensor.FromReal[T](math.Pow(0.5, 0.5*float64(d)*float64(key.Level())) * math.Sqrt(t.cell.Volume()))
				node.Coeff.SetAt(node.Coeff.At(zeroIdx...)+v*s, zeroIdx...)
			}
			return true
		})
	}
	if fence {
		t.w.Gop.Fence()
	}
}

// InnerLocal sums trace-conjugate products over co-located nodes that
// both carry coefficients. Requires identical process maps.
func (t *Tree[T]) InnerLocal(g *Tree[T]) T {
	if t == g {
		return tensor.FromReal[T](t.Norm2SqLocal())
	}
	var sum T
	t.coeffs.IterLocal(func(key Key, fnode Node[T]) bool {
		if !fnode.HasCoeff() {
			return true
		}
		gnode, ok := g.coeffs.Get(key)
		if !ok || !gnode.HasCoeff() {
			return true
		}
		if gnode.Coeff.Dim(0) != fnode.Coeff.Dim(0) {
			Abort(Fault{Kind: FaultShape, Detail: "inner over mismatched blocks", Key: key})
		}
		sum += fnode.Coeff.TraceConj(gnode.Coeff)
		return true
	})
	return sum
}

// Inner returns the global inner product <f, g> of two compressed
// trees with identical process maps.
func (t *Tree[T]) Inner(g *Tree[T]) T {
	local := t.InnerLocal(g)
	return t.sumElem(local)
}

// sumElem reduces an element across ranks (real and imaginary parts
// separately for complex trees).
func (t *Tree[T]) sumElem(v T) T {
	switch x := any(v).(type) {
	case float64:
		return any(t.w.Gop.Sum(x)).(T)
	case complex128:
		re := t.w.Gop.Sum(real(x))
		im := t.w.Gop.Sum(imag(x))
		return any(complex(re, im)).(T)
	default:
		return v
	}
}

// Norm2SqLocal returns the square of the local Frobenius content.
func (t *Tree[T]) Norm2SqLocal() float64 {
	var sum float64
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() {
			n := node.Coeff.NormF()
			sum += n * n
		}
		return true
	})
	return sum
}

// Norm2Sq returns the global squared L2 norm.
func (t *Tree[T]) Norm2Sq() float64 { return t.w.Gop.Sum(t.Norm2SqLocal()) }

// TraceLocal integrates the function over the locally owned leaves.
func (t *Tree[T]) TraceLocal() T {
	d := t.cdata.NDim
	zeroIdx := make([]int, d)
	var sum T
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() && node.IsLeaf() {
			s := math.Pow(0.5, 0.5*float64(d)*float64(key.Level())) * math.Sqrt(t.cell.Volume())
			sum += node.Coeff.At(zeroIdx...) * tensor.FromReal[T](s)
		}
		return true
	})
	return sum
}

// Trace returns the global integral of the function (reconstructed
// form).
func (t *Tree[T]) Trace() T { return t.sumElem(t.TraceLocal()) }

// TreeSize returns the global number of nodes.
func (t *Tree[T]) TreeSize() uint64 {
	return t.w.Gop.SumUint64(uint64(t.coeffs.LocalLen()))
}

// Size returns the global number of coefficients.
func (t *Tree[T]) Size() uint64 {
	var blocks uint64
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() {
			blocks++
		}
		return true
	})
	per := uint64(1)
	width := uint64(t.k)
	if t.compressed {
		width = uint64(2 * t.k)
	}
	for i := 0; i < t.cdata.NDim; i++ {
		per *= width
	}
	return t.w.Gop.SumUint64(blocks * per)
}

// MaxDepth returns the global maximum refinement level.
func (t *Tree[T]) MaxDepth() uint64 {
	var depth uint64
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if uint64(key.Level()) > depth {
			depth = uint64(key.Level())
		}
		return true
	})
	return t.w.Gop.Max(depth)
}

// MaxNodes returns the largest per-rank node count.
func (t *Tree[T]) MaxNodes() uint64 {
	return t.w.Gop.Max(uint64(t.coeffs.LocalLen()))
}

// MinNodes returns the smallest per-rank node count.
func (t *Tree[T]) MinNodes() uint64 {
	return t.w.Gop.Min(uint64(t.coeffs.LocalLen()))
}

// UnaryOpCoeffInplace applies op to every coefficient block without
// refinement.
func (t *Tree[T]) UnaryOpCoeffInplace(op func(key Key, c tensor.Tensor[T]), fence bool) {
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() {
			op(key, node.Coeff)
		}
		return true
	})
	if fence {
		t.w.Gop.Fence()
	}
}

// UnaryOpValueInplace applies op to the function values on each
// leaf's quadrature grid and transforms back (reconstructed form).
func (t *Tree[T]) UnaryOpValueInplace(op func(key Key, values tensor.Tensor[T]), fence bool) {
	var keys []Key
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() {
			keys = append(keys, key)
		}
		return true
	})
	sched.ForEach(t.w.Pool(), keys, func(key Key) {
		node := t.localNode(key)
		values := t.fcubeForMul(key, key, node.Coeff)
		op(key, values)
		coeff := tensor.Transform(values, t.cdata.QuadPhiW).ScaleFloat(t.scaleToCoeffs(key.Level()))
		t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
			n.Coeff = coeff
			return n, true
		})
	})
	if fence {
		t.w.Gop.Fence()
	}
}
