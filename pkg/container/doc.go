// Package container provides the distributed hash table that backs
// the function tree: a map sharded across ranks by a pluggable
// process map, with one-way method calls (Send), future-returning
// calls (Task), remote lookup (Find), and local iteration.
//
// Ordering: Send uses ordered delivery, so two Sends from the same
// rank to keys owned by the same destination run in issue order. The
// tree algorithms that register a parent before using a child rely on
// exactly this. Task replies are unordered.
//
// Construction is collective. Messages addressed to a container that
// a rank has not finished constructing park in the world hub until
// ProcessPending releases them.
package container
