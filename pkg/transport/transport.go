package transport

// Reserved message tags. The messaging layer owns the RMI tags; the
// collectives implementation owns TagColl.
const (
	// TagRMI carries eager active messages.
	TagRMI = 1
	// TagRMIHugeDat carries the payload of a rendezvous (huge) message.
	TagRMIHugeDat = 2
	// TagRMIHugeAck carries the zero-byte rendezvous acknowledgement.
	TagRMIHugeAck = 3
	// TagColl carries collective traffic (barrier, reductions, gather).
	TagColl = 4
)

// AnySource matches a receive against every peer.
const AnySource = -1

// Status describes a completed point-to-point operation.
type Status struct {
	// Source is the rank the message came from.
	Source int
	// Tag is the message tag.
	Tag int
	// Nbytes is the payload length.
	Nbytes int
}

// Request is the handle of a non-blocking send or receive.
type Request interface {
	// Test reports whether the operation has completed. The Status is
	// meaningful only when done is true.
	Test() (st Status, done bool)

	// Wait blocks until the operation completes.
	Wait() Status
}

// Transport is the point-to-point and collective substrate the
// messaging layer runs on. Implementations must deliver messages with
// per-(source, destination, tag) FIFO order.
type Transport interface {
	// Rank returns this process's rank in [0, Size).
	Rank() int

	// Size returns the number of ranks.
	Size() int

	// Isend starts a non-blocking send of buf to dest. The buffer may
	// be reused once the returned request completes.
	Isend(buf []byte, dest, tag int) Request

	// Irecv posts a non-blocking receive into buf from src (or
	// AnySource). Completion delivers at most len(buf) bytes.
	Irecv(buf []byte, src, tag int) Request

	// Barrier blocks until every rank has entered it.
	Barrier()

	// SumFloat64 returns the sum of x over all ranks.
	SumFloat64(x float64) float64

	// SumUint64 returns the sum of x over all ranks.
	SumUint64(x uint64) uint64

	// MaxUint64 returns the maximum of x over all ranks.
	MaxUint64(x uint64) uint64

	// MinUint64 returns the minimum of x over all ranks.
	MinUint64(x uint64) uint64

	// Gather collects each rank's data at root. On root the result
	// holds Size() entries indexed by rank; elsewhere it is nil.
	Gather(root int, data []byte) [][]byte

	// Close tears the transport down. Outstanding requests are
	// abandoned.
	Close() error
}

// TestAny polls a set of requests and returns the index of the first
// completed one. Slots holding nil are skipped. Returns ok=false if
// nothing has completed.
func TestAny(reqs []Request) (index int, st Status, ok bool) {
	for i, r := range reqs {
		if r == nil {
			continue
		}
		if s, done := r.Test(); done {
			return i, s, true
		}
	}
	return -1, Status{}, false
}
