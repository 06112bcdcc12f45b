package mra

import (
	"fmt"
	"io"
	"sort"

	"github.com/mrakit/mrakit/pkg/container"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/tensor"
	"github.com/mrakit/mrakit/pkg/world"
)

// Eval evaluates the reconstructed function at a point in user
// coordinates. Only the calling rank sees the result; active messages
// walk the tree to the owning leaf. Call outside tasks.
func (t *Tree[T]) Eval(x []float64) *sched.Future[T] {
	d := t.cdata.NDim
	xs := make([]float64, d)
	for i := 0; i < d; i++ {
		xs[i] = (x[i] - t.cell.Lo(i)) / t.cell.Width(i)
		if xs[i] < 0 || xs[i] > 1 {
			Abort(Fault{Kind: FaultConfig, Detail: "evaluation point outside the cell"})
		}
	}
	fut := sched.NewFuture[T]()
	ref := t.w.Hub().NewRemoteRef(func(b []byte) {
		r := rbuf{b: b}
		fut.Set(getElem[T](&r))
	})
	var wr wbuf
	wr.u32(uint32(ref.Rank))
	wr.u64(ref.ID)
	for i := 0; i < d; i++ {
		wr.f64(xs[i])
	}
	t.coeffs.Send(t.cdata.Key0, t.mEvalPoint, wr.b)
	return fut
}

func (t *Tree[T]) evalPointM(c *container.Container[Key, Node[T]], src int, key Key, args []byte, reply func([]byte)) {
	d := t.cdata.NDim
	r := rbuf{b: args}
	ref := world.RemoteRef{Rank: int(r.u32()), ID: r.u64()}
	xs := make([]float64, d)
	for i := 0; i < d; i++ {
		xs[i] = r.f64()
	}

	node, ok := t.coeffs.Get(key)
	if !ok {
		Abort(Fault{Kind: FaultTree, Detail: "eval walked into a missing node", Key: key})
	}
	if node.HasCoeff() && node.IsLeaf() {
		var wr wbuf
		putElem(&wr, t.evalCube(key, xs, node.Coeff))
		t.w.Hub().Reply(ref, wr.b)
		return
	}

	// Descend into the child whose box contains the point; x = 1.0
	// clamps into the last box.
	next := Key{n: key.Level() + 1, d: d}
	twoN1 := Translation(1) << uint(key.Level()+1)
	for i := 0; i < d; i++ {
		l := Translation(xs[i] * float64(twoN1))
		if l >= twoN1 {
			l = twoN1 - 1
		}
		next.l[i] = l
	}
	t.coeffs.Send(next, t.mEvalPoint, args)
}

// evalCube evaluates the scaling expansion of one box at a point
// given in global simulation coordinates.
func (t *Tree[T]) evalCube(key Key, xs []float64, coeff tensor.Tensor[T]) T {
	cd := t.cdata
	d := cd.NDim
	scale := float64(Translation(1) << uint(key.Level()))

	p := make([][]float64, d)
	for i := 0; i < d; i++ {
		xl := xs[i]*scale - float64(key.Translation(i))
		if xl < 0 {
			xl = 0
		}
		if xl > 1 {
			xl = 1
		}
		p[i] = make([]float64, cd.K)
		legendreScaling(xl, cd.K, p[i])
	}

	idx := make([]int, d)
	var sum T
	data := coeff.Data()
	for pos := range data {
		w := 1.0
		for i := 0; i < d; i++ {
			w *= p[i][idx[i]]
		}
		sum += data[pos] * tensor.FromReal[T](w)
		for i := d - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < cd.K {
				break
			}
			idx[i] = 0
		}
	}
	return sum * tensor.FromReal[T](t.scaleToValues(key.Level()))
}

// ErrSqLocal returns the local sum of squared projection errors
// against f, measured box-by-box with a one-order-higher quadrature
// rule. Reconstructed form; no communication.
func (t *Tree[T]) ErrSqLocal(f Functor[T]) float64 {
	kk := t.k + 1
	qx, _, _, phiw, _ := initQuadrature(kk, kk)

	var sum float64
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.HasCoeff() && node.IsLeaf() {
			sum += t.errBox(key, node, f, qx, phiw)
		}
		return true
	})
	return sum
}

// ErrSq returns the global squared L2 error against f.
func (t *Tree[T]) ErrSq(f Functor[T]) float64 {
	return t.w.Gop.Sum(t.ErrSqLocal(f))
}

func (t *Tree[T]) errBox(key Key, node Node[T], f Functor[T], qx []float64, phiw tensor.Matrix) float64 {
	// Coefficients of the "exact" function in the order-(k+1) basis.
	fval := t.fcube(key, f, qx)
	fc := tensor.Transform(fval, phiw).ScaleFloat(t.scaleToCoeffs(key.Level()))

	// Subtract the stored order-k coefficients from the matching
	// corner; the high-order remainder is the error content.
	fc.SetSlice(t.cdata.S0LoVec, node.Coeff.Copy().Scale(-1).Add(t.childlessCorner(fc)))
	return fc.NormF() * fc.NormF()
}

// childlessCorner extracts the k^d corner of an order-(k+1) block.
func (t *Tree[T]) childlessCorner(fc tensor.Tensor[T]) tensor.Tensor[T] {
	return fc.SliceCopy(t.cdata.S0LoVec, t.cdata.VK)
}

// VerifyTree checks connectivity and shape invariants across ranks,
// aborting with a diagnostic on the first violation. Collective.
func (t *Tree[T]) VerifyTree() {
	type check struct {
		key Key
		fut *sched.Future[container.FindResult[Node[T]]]
	}
	var checks []check
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if d0 := nodeDim0(node); d0 != 0 && d0 != t.k && d0 != 2*t.k {
			Abort(Fault{Kind: FaultShape, Detail: "coefficient block has illegal first dimension", Key: key})
		}
		if key.Level() > 0 && (node.HasCoeff() || node.HasChildren) {
			checks = append(checks, check{key: key, fut: t.coeffs.Find(key.Parent())})
		}
		return true
	})
	for _, ch := range checks {
		res := ch.fut.Get()
		if !res.OK {
			Abort(Fault{Kind: FaultTree, Detail: "node has no parent", Key: ch.key})
		}
		if !res.Value.HasChildren {
			Abort(Fault{Kind: FaultTree, Detail: "parent does not know it has children", Key: ch.key})
		}
	}
	t.w.Gop.Fence()
	t.w.Tel.Events.Publish("tree.verified", "verify pass complete", nil)
}

func nodeDim0[T tensor.Elem](n Node[T]) int {
	if !n.HasCoeff() {
		return 0
	}
	return n.Coeff.Dim(0)
}

// NodeCounts gathers (leaf, interior) counts per rank at rank 0; the
// returned slices are nil elsewhere.
func (t *Tree[T]) NodeCounts() (leaves, interior []uint64) {
	var nl, ni uint64
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if node.IsLeaf() {
			nl++
		} else {
			ni++
		}
		return true
	})
	var wr wbuf
	wr.u64(nl)
	wr.u64(ni)
	blobs := t.w.Gop.Gather(0, wr.b)
	if blobs == nil {
		return nil, nil
	}
	leaves = make([]uint64, len(blobs))
	interior = make([]uint64, len(blobs))
	for i, b := range blobs {
		r := rbuf{b: b}
		leaves[i] = r.u64()
		interior[i] = r.u64()
	}
	return leaves, interior
}

// PrintTree writes the local shard, sorted by key, to w.
func (t *Tree[T]) PrintTree(w io.Writer, maxLevel Level) {
	type entry struct {
		key  Key
		node Node[T]
	}
	var entries []entry
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if key.Level() <= maxLevel {
			entries = append(entries, entry{key, node})
		}
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].key.Less(entries[j].key) })
	for _, e := range entries {
		for i := 0; i < e.key.Level(); i++ {
			fmt.Fprint(w, "  ")
		}
		fmt.Fprintf(w, "%s %s\n", e.key, e.node)
	}
}
