package mra

import (
	"fmt"
)

// FaultKind classifies fatal contract violations.
type FaultKind string

const (
	// FaultConfig is an illegal configuration detected at
	// construction.
	FaultConfig FaultKind = "config"
	// FaultShape is an inconsistent tensor shape.
	FaultShape FaultKind = "shape"
	// FaultTree is a broken tree invariant (missing node after a
	// fence, bad mode).
	FaultTree FaultKind = "tree"
	// FaultMessaging is an unrecoverable messaging-layer condition.
	FaultMessaging FaultKind = "messaging"
)

// Fault is the structured diagnostic carried by the single abort
// path. Contract violations are fatal by design; only configuration
// problems surface as ordinary errors to the caller.
type Fault struct {
	Kind   FaultKind
	Detail string
	Key    Key
	K      int
}

// Error implements the error interface so config faults can travel as
// ordinary errors out of the factory.
func (f Fault) Error() string {
	if f.Key.NDim() > 0 {
		return fmt.Sprintf("[%s] %s (key=%s)", f.Kind, f.Detail, f.Key)
	}
	if f.K != 0 {
		return fmt.Sprintf("[%s] %s (value=%d)", f.Kind, f.Detail, f.K)
	}
	return fmt.Sprintf("[%s] %s", f.Kind, f.Detail)
}

// Abort is the single abort path for contract violations: it panics
// with the structured diagnostic. Nothing in the module recovers the
// panic, so it terminates the process with the fault as its message.
func Abort(f Fault) {
	panic(f)
}
