package mra

import (
	"github.com/mrakit/mrakit/pkg/tensor"
	"github.com/mrakit/mrakit/pkg/world"
)

// Factory assembles a tree with the named-parameter idiom:
//
//	f, err := mra.NewFactory[float64](w, 3).
//		Functor(g).K(6).Thresh(1e-6).Build()
//
// Unset options fall back to DefaultsFor(d).
type Factory[T tensor.Elem] struct {
	w       *world.World
	d       int
	df      Defaults
	empty   bool
	fence   bool
	pmap    ProcessMap
	functor Functor[T]
}

// NewFactory starts a factory for dimension d.
func NewFactory[T tensor.Elem](w *world.World, d int) *Factory[T] {
	return &Factory[T]{
		w:     w,
		d:     d,
		df:    DefaultsFor(d),
		fence: true,
	}
}

// Functor sets the function to project.
func (f *Factory[T]) Functor(fn Functor[T]) *Factory[T] { f.functor = fn; return f }

// F sets the function to project from a plain func.
func (f *Factory[T]) F(fn func(x []float64) T) *Factory[T] {
	f.functor = FunctorFunc[T](fn)
	return f
}

// K sets the wavelet order.
func (f *Factory[T]) K(k int) *Factory[T] { f.df.K = k; return f }

// Thresh sets the screening threshold.
func (f *Factory[T]) Thresh(thresh float64) *Factory[T] { f.df.Thresh = thresh; return f }

// InitialLevel sets the projection seeding level.
func (f *Factory[T]) InitialLevel(n Level) *Factory[T] { f.df.InitialLevel = n; return f }

// MaxRefineLevel bounds adaptive refinement.
func (f *Factory[T]) MaxRefineLevel(n Level) *Factory[T] { f.df.MaxRefineLevel = n; return f }

// TruncateMode selects the truncation policy (0, 1, or 2).
func (f *Factory[T]) TruncateMode(mode int) *Factory[T] { f.df.TruncateMode = mode; return f }

// Refine enables refinement during projection.
func (f *Factory[T]) Refine(refine bool) *Factory[T] { f.df.Refine = refine; return f }

// NoRefine disables refinement during projection.
func (f *Factory[T]) NoRefine() *Factory[T] { f.df.Refine = false; return f }

// Empty requests a tree with no coefficients at all.
func (f *Factory[T]) Empty() *Factory[T] { f.empty = true; return f }

// Autorefine enables refinement during squaring and multiplication.
func (f *Factory[T]) Autorefine(v bool) *Factory[T] { f.df.Autorefine = v; return f }

// TruncateOnProject stores projection results at the parent level.
func (f *Factory[T]) TruncateOnProject(v bool) *Factory[T] { f.df.TruncateOnProject = v; return f }

// Fence controls whether Build fences before returning when a functor
// is projected; empty and zero-valued trees are returned unfenced.
func (f *Factory[T]) Fence(v bool) *Factory[T] { f.fence = v; return f }

// BC sets the boundary conditions.
func (f *Factory[T]) BC(bc BoundaryConds) *Factory[T] { f.df.BC = bc; return f }

// Cell sets the simulation cell.
func (f *Factory[T]) Cell(c Cell) *Factory[T] { f.df.Cell = c; return f }

// PMap sets the process map.
func (f *Factory[T]) PMap(pm ProcessMap) *Factory[T] { f.pmap = pm; return f }

// Build constructs the tree collectively: every rank must call Build
// with the same options in the same order.
func (f *Factory[T]) Build() (*Tree[T], error) {
	if err := f.df.Validate(); err != nil {
		return nil, err
	}
	pm := f.pmap
	if pm == nil {
		pm = NewLevelMap(f.w.Size())
	}

	df := f.df
	if df.Refine && df.InitialLevel > 0 {
		// With refinement requested projection evaluates child boxes,
		// so seeding starts one level up.
		df.InitialLevel--
	}

	t := newTree(f.w, df, pm, f.functor, f.d)

	switch {
	case f.empty:
		// No coefficients at all.
	case f.functor != nil:
		t.insertZeroDownToInitialLevel(t.cdata.Key0)
		var wr wbuf
		wr.boolean(f.df.Refine)
		var leaves []Key
		t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
			if node.IsLeaf() {
				leaves = append(leaves, key)
			}
			return true
		})
		for _, key := range leaves {
			t.coeffs.Send(key, t.mProjectRefine, wr.b)
		}
	default:
		// A zero-valued function.
		t.initialLevel = 1
		t.insertZeroDownToInitialLevel(t.cdata.Key0)
	}

	t.coeffs.ProcessPending()
	if f.fence && f.functor != nil {
		t.w.Gop.Fence()
	}
	return t, nil
}
