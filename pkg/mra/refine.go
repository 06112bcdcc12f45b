package mra

import (
	"math"

	"github.com/mrakit/mrakit/pkg/container"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/tensor"
	"github.com/mrakit/mrakit/pkg/world"
)

// Neighbor returns the key shifted by step boxes along axis. An
// out-of-volume coordinate wraps under a periodic condition and maps
// to the invalid key under a zero condition.
func (t *Tree[T]) Neighbor(key Key, axis, step int) Key {
	d := t.cdata.NDim
	l := key.Translations()
	l[axis] += Translation(step)
	return t.mapIntoVolume(key.Level(), l, d)
}

// NeighborDisp returns the key shifted by a displacement vector.
func (t *Tree[T]) NeighborDisp(key Key, disp Key) Key {
	d := t.cdata.NDim
	l := key.Translations()
	for i := 0; i < d; i++ {
		l[i] += disp.Translation(i)
	}
	return t.mapIntoVolume(key.Level(), l, d)
}

func (t *Tree[T]) mapIntoVolume(n Level, l []Translation, d int) Key {
	twoN := Translation(1) << uint(n)
	for i := 0; i < d; i++ {
		if l[i] < 0 || l[i] >= twoN {
			if !t.bc.IsPeriodic(i) {
				return InvalidKey(d)
			}
			l[i] = ((l[i] % twoN) + twoN) % twoN
		}
	}
	return NewKey(n, l)
}

// keyTensorPair is the reply of the upward coefficient walk.
type keyTensorPair[T tensor.Elem] struct {
	Key   Key
	Coeff tensor.Tensor[T]
}

func encodePair[T tensor.Elem](p keyTensorPair[T]) []byte {
	var wr wbuf
	wr.key(p.Key)
	putTensor(&wr, p.Coeff)
	return wr.b
}

func decodePair[T tensor.Elem](b []byte) keyTensorPair[T] {
	r := rbuf{b: b}
	k := r.key()
	return keyTensorPair[T]{Key: k, Coeff: getTensor[T](&r)}
}

// SockItToMe walks upward from key for the first node carrying
// coefficients. Three outcomes: the node itself has them (key, coeff);
// an ancestor has them (ancestor key, coeff — synthesize the child
// block with ParentToChild); the coefficients live further down
// (key, empty).
func (t *Tree[T]) SockItToMe(key Key) *sched.Future[keyTensorPair[T]] {
	fut := sched.NewFuture[keyTensorPair[T]]()
	ref := t.w.Hub().NewRemoteRef(func(b []byte) {
		fut.Set(decodePair[T](b))
	})
	var wr wbuf
	wr.u32(uint32(ref.Rank))
	wr.u64(ref.ID)
	t.coeffs.Send(key, t.mSockWalk, wr.b)
	return fut
}

func (t *Tree[T]) sockWalkM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	r := rbuf{b: args}
	ref := world.RemoteRef{Rank: int(r.u32()), ID: r.u64()}

	node, ok := t.coeffs.Get(key)
	switch {
	case ok && node.HasCoeff():
		t.w.Hub().Reply(ref, encodePair(keyTensorPair[T]{Key: key, Coeff: node.Coeff}))
	case ok && node.HasChildren:
		// Coefficients are further down; the caller sees an empty
		// tensor at the requested key.
		t.w.Hub().Reply(ref, encodePair(keyTensorPair[T]{Key: key}))
	case key.Level() == 0:
		t.w.Hub().Reply(ref, encodePair(keyTensorPair[T]{Key: key}))
	default:
		t.coeffs.Send(key.Parent(), t.mSockWalk, args)
	}
}

// phiForMul evaluates the parent box's scaling functions on the
// quadrature points of a child box, including the 2^{np/2} prefactor.
// The result has shape (k, npt).
func (t *Tree[T]) phiForMul(np Level, lp Translation, nc Level, lc Translation) tensor.Matrix {
	cd := t.cdata
	phi := tensor.New[float64](cd.K, cd.NPt)
	scale := math.Pow(2, float64(np-nc))
	p := make([]float64, cd.K)
	for mu := 0; mu < cd.NPt; mu++ {
		xmu := scale*(cd.QuadX[mu]+float64(lc)) - float64(lp)
		if xmu < -1e-15 || xmu > 1+1e-15 {
			Abort(Fault{Kind: FaultShape, Detail: "phi evaluation outside the parent box"})
		}
		legendreScaling(xmu, cd.K, p)
		for i := 0; i < cd.K; i++ {
			phi.SetAt(p[i], i, mu)
		}
	}
	return phi.ScaleFloat(math.Pow(2, 0.5*float64(np)))
}

// fcubeForMul computes function values on the child's quadrature grid
// from coefficients held at parent (which may equal child).
func (t *Tree[T]) fcubeForMul(child, parent Key, coeff tensor.Tensor[T]) tensor.Tensor[T] {
	cd := t.cdata
	if child.Level() == parent.Level() {
		return tensor.Transform(coeff, cd.QuadPhiT).ScaleFloat(t.scaleToValues(parent.Level()))
	}
	if child.Level() < parent.Level() {
		Abort(Fault{Kind: FaultTree, Detail: "bad child-parent relationship", Key: child})
	}
	mats := make([]tensor.Matrix, cd.NDim)
	for d := 0; d < cd.NDim; d++ {
		mats[d] = t.phiForMul(parent.Level(), parent.Translation(d), child.Level(), child.Translation(d))
	}
	return tensor.GeneralTransform(coeff, mats).ScaleFloat(1 / math.Sqrt(t.cell.Volume()))
}

// ParentToChild projects scaling coefficients held at parent directly
// onto a child box's basis.
func (t *Tree[T]) ParentToChild(s tensor.Tensor[T], parent, child Key) tensor.Tensor[T] {
	if parent == child || s.IsEmpty() {
		return s
	}
	values := t.fcubeForMul(child, parent, s)
	return tensor.Transform(values, t.cdata.QuadPhiW).ScaleFloat(t.scaleToCoeffs(child.Level()))
}

// Refine walks the tree and splits leaves whose coefficients fail the
// autorefine test.
func (t *Tree[T]) Refine(fence bool) {
	t.spawnAtRoot(func() {
		t.coeffs.Send(t.cdata.Key0, t.mRefineSpawn, nil)
	})
	if fence {
		t.w.Gop.Fence()
	}
}

func (t *Tree[T]) refineSpawnM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	t.submit(sched.High, func() {
		node := t.localNode(key)
		if node.HasChildren {
			for _, child := range key.Children() {
				t.coeffs.Send(child, t.mRefineSpawn, nil)
			}
		} else {
			t.coeffs.Send(key, t.mRefineOp, nil)
		}
		if reply != nil {
			reply(nil)
		}
	})
}

func (t *Tree[T]) refineOpM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	t.submit(sched.Normal, func() {
		t.refineOp(key)
		if reply != nil {
			reply(nil)
		}
	})
}

// refineOp splits one leaf: unfilter the scaling block to child
// blocks and install each child as a new leaf. Someone may have
// autorefined concurrently, so the state is re-checked under the
// write accessor.
func (t *Tree[T]) refineOp(key Key) {
	var d tensor.Tensor[T]
	split := false
	t.coeffs.Update(key, func(n Node[T], ok bool) (Node[T], bool) {
		if !ok {
			Abort(Fault{Kind: FaultTree, Detail: "refine found missing node", Key: key})
		}
		if n.HasCoeff() && key.Level() < t.maxRefineLevel && t.autorefineSquareTest(key, n.Coeff) {
			d = t.unfilter(t.expandToV2K(n.Coeff))
			n.Coeff = tensor.Tensor[T]{}
			n.HasChildren = true
			split = true
		}
		return n, true
	})
	if !split {
		return
	}
	for _, child := range key.Children() {
		t.coeffs.Replace(child, NewNode(t.childPatch(d, child), false))
	}
}
