// Package transport provides the point-to-point and collective
// substrate the messaging layer runs on.
//
// The contract is deliberately MPI-shaped: non-blocking Isend/Irecv
// with untyped byte payloads, a small set of reserved tags, and the
// collectives the tree algorithms need (barrier, sum, max, min,
// gather). Implementations must preserve per-(source, destination,
// tag) FIFO order; everything above that (sequencing, rendezvous,
// dispatch) belongs to the messaging layer.
//
// Two implementations are provided. LoopbackMesh connects n ranks
// inside one process over shared memory and is what every test uses.
// TCPMesh provides the same contract across machines with one duplex
// connection per rank pair carrying length-prefixed binary frames.
package transport
