// Package tensor provides the dense N-dimensional coefficient arrays
// the tree algorithms operate on, generic over real and complex
// elements.
//
// The transform kernels contract every axis of a tensor with a real
// basis matrix (the two-scale filter, the quadrature evaluation
// matrices) by repeated first-axis contraction, which restores axis
// order after NDim applications. Elementwise gaxpy, scaling, Frobenius
// norm, trace-conjugate inner products, and block slice assignment
// round out the interface consumed by the multiresolution layer.
package tensor
