package mra

import (
	"time"

	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/tensor"
)

// Operator is the integral-operator contract consumed by Apply. The
// displacement list must be isotropic and ordered by monotonically
// decreasing operator norm so screening can abandon the scan.
type Operator[T tensor.Elem] interface {
	// Displacements returns the neighbor offsets relevant at a level.
	Displacements(level Level) []Key

	// Norm bounds the operator block for a displacement at a level.
	Norm(level Level, disp Key) float64

	// ApplyBlock applies the operator block for (key, disp) to the
	// source coefficients within the given tolerance.
	ApplyBlock(key, disp Key, c tensor.Tensor[T], tol float64) tensor.Tensor[T]

	// DoLeaves reports whether pure scaling-coefficient leaves are
	// processed too (nonstandard-form apply normally skips them).
	DoLeaves() bool
}

// applyScreenFac is the over-screening safety factor.
const applyScreenFac = 3.0

// applyAccumulateFrac screens negligible kernel results before they
// travel to the destination node.
const applyAccumulateFrac = 0.3

// Apply drives op over every source node of f carrying coefficients
// and accumulates the results into this tree.
func (t *Tree[T]) Apply(op Operator[T], f *Tree[T], fence bool) {
	var work []keyTensorPair[T]
	f.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		if !node.HasCoeff() {
			return true
		}
		if node.Coeff.Dim(0) != f.k || op.DoLeaves() {
			work = append(work, keyTensorPair[T]{Key: key, Coeff: node.Coeff})
		}
		return true
	})
	for _, src := range work {
		src := src
		t.submit(sched.High, func() { t.doApply(op, src.Key, src.Coeff) })
	}
	if fence {
		t.w.Gop.Fence()
	}
}

// doApply walks the displacement list for one source box, screening
// against the product of coefficient and operator norms.
func (t *Tree[T]) doApply(op Operator[T], key Key, c tensor.Tensor[T]) {
	start := time.Now()
	cnorm := c.NormF()
	d := t.cdata.NDim
	lmax := Translation(1) << uint(max(key.Level()-1, 0))

	for _, disp := range op.Displacements(key.Level()) {
		// Periodic directions cap displacements at half the unit cell
		// to avoid double counting.
		doit := true
		for i := 0; i < d; i++ {
			if t.bc.IsPeriodic(i) {
				if disp.Translation(i) > lmax || disp.Translation(i) <= -lmax {
					doit = false
				}
				break
			}
		}
		if !doit {
			break
		}

		dest := t.NeighborDisp(key, disp)
		if !dest.IsValid() {
			continue
		}

		opnorm := op.Norm(key.Level(), disp)
		tol := t.truncateTol(t.thresh, key)

		if cnorm*opnorm > tol/applyScreenFac {
			t.submit(sched.Normal, func() {
				t.doApplyKernel(op, key, disp, dest, c, tol, cnorm)
			})
		} else if disp.DistSq() >= 1 {
			// The operator decays monotonically beyond the nearest
			// neighbor; nothing further out can pass the screen.
			if t.w.Tel.Metrics != nil {
				t.w.Tel.Metrics.RecordApplyScreened()
			}
			break
		}
	}

	if t.applyTime != nil {
		t.applyTime.Update(key, time.Since(start).Seconds())
	}
}

// doApplyKernel runs the operator block and accumulates a
// non-negligible result into the destination node.
func (t *Tree[T]) doApplyKernel(op Operator[T], key, disp, dest Key, c tensor.Tensor[T], tol, cnorm float64) {
	start := time.Now()
	result := op.ApplyBlock(key, disp, c, tol/applyScreenFac/cnorm)
	if t.w.Tel.Metrics != nil {
		t.w.Tel.Metrics.ObserveApplyKernel(time.Since(start))
	}
	if result.IsEmpty() {
		return
	}
	// Screen again to keep negligible blocks off the wire and the
	// tree from widening needlessly.
	if result.NormF() > applyAccumulateFrac*tol/applyScreenFac {
		var wr wbuf
		putTensor(&wr, result)
		t.coeffs.Send(dest, t.mAccumulate, wr.b)
	}
}
