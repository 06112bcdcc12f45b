package mra

import (
	"fmt"

	"github.com/mrakit/mrakit/pkg/tensor"
)

// normTreeUnset is the sentinel for a node whose subtree norm has not
// been computed.
const normTreeUnset = 1e300

// Node holds the per-box state of a function tree: the coefficient
// tensor (scaling, scaling+wavelet, or empty), the interior flag, and
// the cached subtree norm. A node with neither coefficients nor
// children is invalid and exists only transiently during remote
// construction.
type Node[T tensor.Elem] struct {
	Coeff       tensor.Tensor[T]
	HasChildren bool
	NormTree    float64
}

// NewNode makes a node from coefficients. The tensor is stored
// shallowly; pass a copy if the caller keeps mutating it.
func NewNode[T tensor.Elem](coeff tensor.Tensor[T], hasChildren bool) Node[T] {
	return Node[T]{Coeff: coeff, HasChildren: hasChildren, NormTree: normTreeUnset}
}

// HasCoeff reports whether the node carries coefficients.
func (n Node[T]) HasCoeff() bool { return !n.Coeff.IsEmpty() }

// IsLeaf reports whether the node has no children.
func (n Node[T]) IsLeaf() bool { return !n.HasChildren }

// IsInvalid reports whether the node has neither coefficients nor
// children.
func (n Node[T]) IsInvalid() bool { return !n.HasCoeff() && !n.HasChildren }

// GaxpyInplace merges other into n under this = alpha*this +
// beta*other; the result is interior if either input is.
func (n *Node[T]) GaxpyInplace(alpha T, other Node[T], beta T) {
	if other.HasChildren {
		n.HasChildren = true
	}
	switch {
	case n.HasCoeff() && other.HasCoeff():
		n.Coeff.Gaxpy(alpha, other.Coeff, beta)
	case n.HasCoeff():
		n.Coeff.Scale(alpha)
	case other.HasCoeff():
		n.Coeff = other.Coeff.Copy().Scale(beta)
	}
}

func (n Node[T]) String() string {
	norm := 0.0
	if n.HasCoeff() {
		norm = n.Coeff.NormF()
		if norm < 1e-12 {
			norm = 0.0
		}
	}
	return fmt.Sprintf("(%v, %v, %.2e)", n.HasCoeff(), n.HasChildren, norm)
}
