// Package world provides the per-process handle that distributed
// structures are built against: rank and size, the task runtime, the
// messaging layer, the global operations (fence, reductions, gather),
// and the unique-id registry that pending remote operations use to
// resolve their target object without extending its lifetime.
//
// There are no package-level singletons: several worlds can coexist in
// one process, which is exactly how the loopback tests run N ranks in
// a single binary.
package world
