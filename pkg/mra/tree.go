package mra

import (
	"math"

	"github.com/mrakit/mrakit/pkg/container"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/telemetry"
	"github.com/mrakit/mrakit/pkg/tensor"
	"github.com/mrakit/mrakit/pkg/world"
)

// Functor evaluates the function being projected at a point given in
// user (cell) coordinates.
type Functor[T tensor.Elem] interface {
	Eval(x []float64) T
}

// FunctorFunc adapts a plain function to the Functor interface.
type FunctorFunc[T tensor.Elem] func(x []float64) T

// Eval implements Functor.
func (f FunctorFunc[T]) Eval(x []float64) T { return f(x) }

// Tree is one multiresolution function: the sharded coefficient tree
// plus the configuration it was built with. Handles are shared; deep
// copies are explicit.
type Tree[T tensor.Elem] struct {
	w   *world.World
	log *telemetry.Logger
	id  world.ObjID

	cdata *CommonData

	k                 int
	thresh            float64
	initialLevel      Level
	maxRefineLevel    Level
	truncateMode      int
	autorefine        bool
	truncateOnProject bool
	nonstandard       bool
	compressed        bool

	bc   BoundaryConds
	cell Cell

	functor Functor[T]

	coeffs *container.Container[Key, Node[T]]
	pmap   ProcessMap

	applyTime *ApplyTime

	// Registered container method ids, in registration order.
	mGaxpyInplace   container.MethodID
	mAccumulate     container.MethodID
	mSetHasChildren container.MethodID
	mSockWalk       container.MethodID
	mProjectRefine  container.MethodID
	mCompressSpawn  container.MethodID
	mReconstructOp  container.MethodID
	mTruncateSpawn  container.MethodID
	mNormTreeSpawn  container.MethodID
	mMulXXa         container.MethodID
	mMulXXveca      container.MethodID
	mForwardDoDiff1 container.MethodID
	mEvalPoint      container.MethodID
	mRefineSpawn    container.MethodID
	mRefineOp       container.MethodID
}

// pmapAdapter bridges ProcessMap to the container's PMap.
type pmapAdapter struct{ pm ProcessMap }

func (a pmapAdapter) Owner(k Key) int { return a.pm.Owner(k) }

// newTree builds the tree shell: container, method registration, and
// configuration. Projection or zero seeding is the factory's job.
func newTree[T tensor.Elem](w *world.World, df Defaults, pm ProcessMap, functor Functor[T], d int) *Tree[T] {
	t := &Tree[T]{
		w:                 w,
		log:               w.Tel.Logger.NewComponentLogger("mra"),
		cdata:             GetCommonData(df.K, d),
		k:                 df.K,
		thresh:            df.Thresh,
		initialLevel:      df.InitialLevel,
		maxRefineLevel:    df.MaxRefineLevel,
		truncateMode:      df.TruncateMode,
		autorefine:        df.Autorefine,
		truncateOnProject: df.TruncateOnProject,
		bc:                df.BC,
		cell:              df.Cell,
		functor:           functor,
		pmap:              pm,
	}
	t.coeffs = container.New[Key, Node[T]](w, pmapAdapter{pm}, treeCodec[T]{}, keyHash)
	t.id = w.RegisterObject(t)

	t.mGaxpyInplace = t.coeffs.RegisterMethod(t.gaxpyInplaceM)
	t.mAccumulate = t.coeffs.RegisterMethod(t.accumulateM)
	t.mSetHasChildren = t.coeffs.RegisterMethod(t.setHasChildrenRecursiveM)
	t.mSockWalk = t.coeffs.RegisterMethod(t.sockWalkM)
	t.mProjectRefine = t.coeffs.RegisterMethod(t.projectRefineM)
	t.mCompressSpawn = t.coeffs.RegisterMethod(t.compressSpawnM)
	t.mReconstructOp = t.coeffs.RegisterMethod(t.reconstructOpM)
	t.mTruncateSpawn = t.coeffs.RegisterMethod(t.truncateSpawnM)
	t.mNormTreeSpawn = t.coeffs.RegisterMethod(t.normTreeSpawnM)
	t.mMulXXa = t.coeffs.RegisterMethod(t.mulXXaM)
	t.mMulXXveca = t.coeffs.RegisterMethod(t.mulXXvecaM)
	t.mForwardDoDiff1 = t.coeffs.RegisterMethod(t.forwardDoDiff1M)
	t.mEvalPoint = t.coeffs.RegisterMethod(t.evalPointM)
	t.mRefineSpawn = t.coeffs.RegisterMethod(t.refineSpawnM)
	t.mRefineOp = t.coeffs.RegisterMethod(t.refineOpM)
	return t
}

// World returns the world handle.
func (t *Tree[T]) World() *world.World { return t.w }

// K returns the wavelet order.
func (t *Tree[T]) K() int { return t.k }

// NDim returns the spatial dimension.
func (t *Tree[T]) NDim() int { return t.cdata.NDim }

// Thresh returns the screening threshold.
func (t *Tree[T]) Thresh() float64 { return t.thresh }

// IsCompressed reports the compression status.
func (t *Tree[T]) IsCompressed() bool { return t.compressed }

// IsNonstandard reports whether compress kept scaling coefficients.
func (t *Tree[T]) IsNonstandard() bool { return t.nonstandard }

// PMap returns the process map.
func (t *Tree[T]) PMap() ProcessMap { return t.pmap }

// SamePMap reports whether other shares this tree's process map.
func (t *Tree[T]) SamePMap(other *Tree[T]) bool { return t.pmap == other.pmap }

// Coeffs exposes the node container (diagnostics and load balancing).
func (t *Tree[T]) Coeffs() *container.Container[Key, Node[T]] { return t.coeffs }

// RootKey returns the root key.
func (t *Tree[T]) RootKey() Key { return t.cdata.Key0 }

// SetApplyTime attaches a timing table for operator application.
func (t *Tree[T]) SetApplyTime(at *ApplyTime) { t.applyTime = at }

// Destroy detaches the tree from the world. The handle must not be
// used afterwards.
func (t *Tree[T]) Destroy() {
	t.coeffs.Detach()
	t.w.DeregisterObject(t.id)
}

// filter transforms 2^d children's scaling coefficients, assembled
// into a (2k)^d block, to one parent's scaling+wavelet coefficients:
//
//	s_i = sum(j) h0_ij*s0_j + h1_ij*s1_j
//	d_i = sum(j) g0_ij*s0_j + g1_ij*s1_j
func (t *Tree[T]) filter(s tensor.Tensor[T]) tensor.Tensor[T] {
	return tensor.Transform(s, t.cdata.HGT)
}

// unfilter is the inverse of filter: scaling+wavelet at level n to
// scaling at level n+1.
func (t *Tree[T]) unfilter(d tensor.Tensor[T]) tensor.Tensor[T] {
	return tensor.Transform(d, t.cdata.HG)
}

// truncateTol applies the truncation policy to the threshold at key.
func (t *Tree[T]) truncateTol(tol float64, key Key) float64 {
	switch t.truncateMode {
	case 0:
		return tol
	case 1:
		L := t.cell.MinWidth()
		return tol * math.Min(1.0, math.Pow(0.5, float64(key.Level()))*L)
	case 2:
		L := t.cell.MinWidth()
		return tol * math.Min(1.0, math.Pow(0.25, float64(key.Level()))*L*L)
	default:
		Abort(Fault{Kind: FaultConfig, Detail: "truncate mode invalid", K: t.truncateMode})
		return 0
	}
}

// sBlock extracts the scaling sub-block of a (2k)^d tensor.
func (t *Tree[T]) sBlock(d tensor.Tensor[T]) tensor.Tensor[T] {
	return d.SliceCopy(t.cdata.S0LoVec, t.cdata.VK)
}

// childPatch extracts the child's k^d patch from a parent (2k)^d
// block.
func (t *Tree[T]) childPatch(d tensor.Tensor[T], child Key) tensor.Tensor[T] {
	return d.SliceCopy(t.cdata.ChildPatchLo(child), t.cdata.VK)
}

// expandToV2K embeds a k^d scaling tensor into the s0 corner of a
// zeroed (2k)^d tensor, ready for unfilter.
func (t *Tree[T]) expandToV2K(s tensor.Tensor[T]) tensor.Tensor[T] {
	d := tensor.New[T](t.cdata.V2K...)
	d.SetSlice(t.cdata.S0LoVec, s)
	return d
}

// tnorm computes the norms of the low-order and high-order halves of
// a k^d coefficient tensor, used by the autorefine test.
func (t *Tree[T]) tnorm(c tensor.Tensor[T]) (lo, hi float64) {
	lowBlock := c.SliceCopy(t.cdata.S0LoVec, t.cdata.ShShape)
	lo = lowBlock.NormF()
	total := c.NormF()
	diff := total*total - lo*lo
	if diff < 0 {
		diff = 0
	}
	return lo, math.Sqrt(diff)
}

// autorefineSquareTest reports whether squaring (or multiplying) the
// coefficients in this box would need a refined grid: the high-order
// half contributes 2*lo*hi + hi^2 beyond exactly representable
// content.
func (t *Tree[T]) autorefineSquareTest(key Key, c tensor.Tensor[T]) bool {
	lo, hi := t.tnorm(c)
	test := 2*lo*hi + hi*hi
	return test > t.truncateTol(t.thresh, key)
}

// insertZeroDownToInitialLevel seeds locally owned zero nodes from key
// down to the initial level. Works in either basis; no communication.
func (t *Tree[T]) insertZeroDownToInitialLevel(key Key) {
	me := t.w.Rank()
	if key.Level() < t.initialLevel {
		if t.pmap.Owner(key) == me {
			t.coeffs.Replace(key, NewNode[T](tensor.Tensor[T]{}, true))
		}
		for _, child := range key.Children() {
			t.insertZeroDownToInitialLevel(child)
		}
		return
	}
	if t.pmap.Owner(key) == me {
		t.coeffs.Replace(key, NewNode(tensor.New[T](t.cdata.VK...), false))
	}
}

// localNode fetches a locally owned node, aborting on absence: a
// missing node after a fence is a broken invariant.
func (t *Tree[T]) localNode(key Key) Node[T] {
	n, ok := t.coeffs.Get(key)
	if !ok {
		Abort(Fault{Kind: FaultTree, Detail: "expected node missing", Key: key})
	}
	return n
}

// spawnAtRoot submits fn on the root's owner.
func (t *Tree[T]) spawnAtRoot(fn func()) {
	if t.w.Rank() == t.pmap.Owner(t.cdata.Key0) {
		fn()
	}
}

// scaleToValues is the per-level factor turning coefficients into
// quadrature-grid values.
func (t *Tree[T]) scaleToValues(n Level) float64 {
	return math.Pow(2, 0.5*float64(t.cdata.NDim)*float64(n)) / math.Sqrt(t.cell.Volume())
}

// scaleToCoeffs is the inverse factor turning values into
// coefficients.
func (t *Tree[T]) scaleToCoeffs(n Level) float64 {
	return math.Pow(0.5, 0.5*float64(t.cdata.NDim)*float64(n)) * math.Sqrt(t.cell.Volume())
}

// submit schedules fn on the local pool.
func (t *Tree[T]) submit(pri sched.Priority, fn func()) {
	t.w.Pool().Submit(pri, fn)
}
