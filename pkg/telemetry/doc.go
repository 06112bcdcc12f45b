// Package telemetry provides observability instrumentation for the engine.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and an async event publisher
// into a unified stack shared by the messaging layer, the task runtime, and
// the tree algorithms.
//
// Every process creates one Telemetry instance at startup; the world handle
// threads it down to the components (there are no package-level singletons,
// so multi-rank loopback worlds can coexist inside one test binary).
//
// Hot paths (per-message, per-task) log at Debug and record counters only;
// spans are created around user-facing algorithms and fences, never inside
// the recursive descent.
package telemetry
