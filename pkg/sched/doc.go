// Package sched is the task runtime: a fixed worker pool with two
// priority classes and write-once futures for fan-in.
//
// All tree algorithms are expressed as trees of tasks. A task may
// block only on a future that is already ready; dependencies are
// expressed by passing futures as arguments (TaskWhenAll) so the
// runtime launches a task only when its inputs are satisfied. High
// priority is reserved for tasks that issue communication or recurse,
// which keeps refinement and messaging overlapped with compute.
package sched
