// Package rml implements the reliable messaging layer: one-way active
// messages with a small-message/huge-message split and optional
// per-peer FIFO ordering.
//
// A single background I/O goroutine per process owns a fixed ring of
// posted eager receive buffers. Messages whose stamped sequence number
// matches the receiver's counter are dispatched immediately; the rest
// park in a bounded out-of-order queue that is sorted and drained
// after every wakeup. Payloads larger than the eager buffer negotiate
// a rendezvous: the sender ships a control record, the receiver posts
// a dedicated buffer and acks, and only then does the payload move.
//
// Failure policy is fail-fast: queue overflow, allocation failure,
// and malformed control records abort the process. Transient
// conditions (a not-yet-registered handler on another rank) are
// ordinary dependencies for the layers above, not errors here.
package rml
