// Package mra is the multiresolution core: real- and complex-valued
// functions on a d-dimensional cell represented as adaptively refined
// multiwavelet expansions over a 2^d-ary tree of boxes, sharded
// across ranks by a process map.
//
// A tree is built through a Factory and mutated in place by the
// recursive algorithms: projection from a functor, compression and
// reconstruction through the two-scale transform, truncation of
// negligible wavelet blocks, pointwise multiplication and squaring on
// shared descents, differentiation with an adaptive three-box
// stencil, and integral-operator application driven by screened
// displacement lists. Every user-facing operation takes a fence flag;
// global invariants (connectivity, mode consistency, leaf tiling)
// hold only after a fence.
//
// The per-order tables (two-scale blocks, Gauss-Legendre rules,
// derivative blocks) live in CommonData, allocated once per (k, d)
// and shared read-only.
package mra
