// Package config declares, loads, and validates the engine's
// configuration: tree construction defaults, messaging knobs, and
// telemetry settings, in CUE or YAML, plus a Starlark adapter for
// user-scripted projection functors and a file watcher for live
// reload in dev mode.
package config
