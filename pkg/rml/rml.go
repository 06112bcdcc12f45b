package rml

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrakit/mrakit/pkg/telemetry"
	"github.com/mrakit/mrakit/pkg/transport"
)

// Attr carries the delivery attributes of a message. The low 16 bits
// hold flags; the high 16 bits hold the sequence counter stamped by
// ordered sends.
type Attr uint32

const (
	// AttrUnordered requests arbitrary delivery order.
	AttrUnordered Attr = 0
	// AttrOrdered requests per source/destination FIFO delivery.
	AttrOrdered Attr = 1
)

// isOrdered reports whether the ordered flag is set.
func isOrdered(attr Attr) bool { return attr&AttrOrdered != 0 }

// HandlerID identifies a registered active-message handler. The same
// handler must be registered in the same order on every rank.
type HandlerID uint16

// Handler consumes the payload of one active message. Handlers run on
// the I/O goroutine and must be short; long work belongs in a task.
type Handler func(src int, attr Attr, payload []byte)

// headerLen is the {handler, attr} prefix written into every message.
const headerLen = 8

// hugeHandlerID is the internal handler that receives rendezvous
// control records.
const hugeHandlerID HandlerID = 0

// Stats counts messaging traffic.
type Stats struct {
	NmsgSent  uint64
	NbyteSent uint64
	NmsgRecv  uint64
	NbyteRecv uint64
	NmsgHuge  uint64
}

// hugeReq is a pending rendezvous request.
type hugeReq struct {
	src   int
	nbyte int
}

// qmsg is an ordered message parked while waiting for its
// predecessors.
type qmsg struct {
	buf   []byte
	h     HandlerID
	attr  Attr
	src   int
	count uint16
	slot  int
}

// RML is the reliable messaging layer: one instance per process, one
// background I/O goroutine draining a ring of posted eager receive
// buffers plus the rendezvous side-channel.
type RML struct {
	tr  transport.Transport
	log *telemetry.Logger
	met *telemetry.Metrics

	nproc int
	rank  int

	cfg Config

	// sendMu guards sequence-number increment and send submission so
	// that ordered sends hit the wire in counter order.
	sendMu       sync.Mutex
	sendCounters []uint16

	recvCounters []uint16

	recvBuf [][]byte
	recvReq []transport.Request

	hugeMu sync.Mutex
	hugeq  []hugeReq

	handlerMu sync.Mutex
	handlers  []Handler

	finished atomic.Bool
	done     chan struct{}

	nmsgSent  atomic.Uint64
	nbyteSent atomic.Uint64
	nmsgRecv  atomic.Uint64
	nbyteRecv atomic.Uint64
	nmsgHuge  atomic.Uint64
}

// New creates the messaging layer on top of a transport and starts the
// I/O goroutine. The configuration should come from FromEnv unless a
// test needs explicit control.
func New(tr transport.Transport, cfg Config, tel *telemetry.Telemetry) (*RML, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	r := &RML{
		tr:           tr,
		log:          tel.Logger.NewComponentLogger("rml"),
		met:          tel.Metrics,
		nproc:        tr.Size(),
		rank:         tr.Rank(),
		cfg:          cfg,
		sendCounters: make([]uint16, tr.Size()),
		recvCounters: make([]uint16, tr.Size()),
		recvBuf:      make([][]byte, cfg.NRecv+1),
		recvReq:      make([]transport.Request, cfg.NRecv+1),
		done:         make(chan struct{}),
	}

	// Handler slot 0 is the rendezvous control handler.
	r.handlers = append(r.handlers, r.hugeMsgHandler)

	if r.nproc > 1 {
		for i := 0; i < cfg.NRecv; i++ {
			r.recvBuf[i] = alignedAlloc(cfg.MaxMsgLen, cfg.Alignment)
			r.postRecvBuf(i)
		}
		go r.run()
	}
	return r, nil
}

// Register adds a handler and returns its id. Registration must happen
// before any rank sends to it, in the same order everywhere.
func (r *RML) Register(h Handler) HandlerID {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	id := HandlerID(len(r.handlers))
	r.handlers = append(r.handlers, h)
	return id
}

// MaxMsgLen returns the largest payload sent eagerly: the eager buffer
// size minus the message header. Larger payloads take the rendezvous
// path.
func (r *RML) MaxMsgLen() int { return r.cfg.MaxMsgLen - headerLen }

// Rank returns the local rank.
func (r *RML) Rank() int { return r.rank }

// Size returns the number of ranks.
func (r *RML) Size() int { return r.nproc }

// GetStats returns a snapshot of the traffic counters.
func (r *RML) GetStats() Stats {
	return Stats{
		NmsgSent:  r.nmsgSent.Load(),
		NbyteSent: r.nbyteSent.Load(),
		NmsgRecv:  r.nmsgRecv.Load(),
		NbyteRecv: r.nbyteRecv.Load(),
		NmsgHuge:  r.nmsgHuge.Load(),
	}
}

// Send delivers payload to the handler on dest. Ordered sends are
// delivered in send order relative to other ordered sends to the same
// destination. Send may block only on the rendezvous handshake.
func (r *RML) Send(dest int, h HandlerID, attr Attr, payload []byte) {
	if dest == r.rank {
		// Local delivery short-circuits the wire but not the handler
		// or the statistics (fence relies on sent == received).
		r.nmsgSent.Add(1)
		r.nbyteSent.Add(uint64(len(payload)))
		r.nmsgRecv.Add(1)
		r.nbyteRecv.Add(uint64(len(payload)))
		r.handler(h)(r.rank, attr, payload)
		return
	}

	nbyte := len(payload) + headerLen
	tag := transport.TagRMI

	if nbyte > r.cfg.MaxMsgLen {
		// Huge message protocol: tell dest the size and origin, wait
		// for it to post a buffer and ack, then send the real thing.
		var info [12]byte
		binary.LittleEndian.PutUint32(info[0:4], uint32(r.rank))
		binary.LittleEndian.PutUint64(info[4:12], uint64(nbyte))

		ack := make([]byte, 1)
		reqAck := r.tr.Irecv(ack, dest, transport.TagRMIHugeAck)
		r.Send(dest, hugeHandlerID, AttrUnordered, info[:])
		reqAck.Wait()
		r.nmsgHuge.Add(1)
		if r.met != nil {
			r.met.RecordHuge()
		}
		tag = transport.TagRMIHugeDat
	}

	buf := make([]byte, nbyte)
	copy(buf[headerLen:], payload)

	// The mutex encloses counter increment and send submission;
	// without it a starved goroutine holding an early counter can
	// livelock the receiver's ordering queue.
	r.sendMu.Lock()
	if isOrdered(attr) {
		attr |= Attr(uint32(r.sendCounters[dest]) << 16)
		r.sendCounters[dest]++
	}
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(attr))

	r.nmsgSent.Add(1)
	r.nbyteSent.Add(uint64(nbyte))
	req := r.tr.Isend(buf, dest, tag)
	r.sendMu.Unlock()

	req.Wait()
	if r.met != nil {
		r.met.RecordSend(isOrdered(attr), nbyte)
	}
}

// End signals the I/O goroutine to exit and gives it a moment to see
// the flag.
func (r *RML) End() {
	if r.finished.CompareAndSwap(false, true) {
		if r.nproc > 1 {
			select {
			case <-r.done:
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

func (r *RML) handler(id HandlerID) Handler {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	if int(id) >= len(r.handlers) {
		fatalf("rml: message for unregistered handler %d", id)
	}
	return r.handlers[id]
}

// postRecvBuf reposts slot i. Slot NRecv is the rendezvous slot: its
// buffer is released and the next pending huge message, if any, gets a
// fresh posting.
func (r *RML) postRecvBuf(i int) {
	switch {
	case i < r.cfg.NRecv:
		r.recvReq[i] = r.tr.Irecv(r.recvBuf[i], transport.AnySource, transport.TagRMI)
	case i == r.cfg.NRecv:
		r.recvBuf[i] = nil
		r.recvReq[i] = nil
		r.postPendingHugeMsg()
	default:
		fatalf("rml: postRecvBuf: confusion, slot %d", i)
	}
}

// postPendingHugeMsg posts the receive for the next queued rendezvous
// message and acks the sender.
func (r *RML) postPendingHugeMsg() {
	if r.recvBuf[r.cfg.NRecv] != nil {
		return // message already pending
	}
	r.hugeMu.Lock()
	if len(r.hugeq) == 0 {
		r.hugeMu.Unlock()
		return
	}
	req := r.hugeq[0]
	r.hugeq = r.hugeq[1:]
	r.hugeMu.Unlock()

	buf := alignedAlloc(req.nbyte, r.cfg.Alignment)
	r.recvBuf[r.cfg.NRecv] = buf
	r.recvReq[r.cfg.NRecv] = r.tr.Irecv(buf, req.src, transport.TagRMIHugeDat)
	r.tr.Isend(nil, req.src, transport.TagRMIHugeAck).Wait()
}

// hugeMsgHandler receives the rendezvous control record.
func (r *RML) hugeMsgHandler(_ int, _ Attr, payload []byte) {
	if len(payload) != 12 {
		fatalf("rml: malformed huge-message control record (%d bytes)", len(payload))
	}
	src := int(binary.LittleEndian.Uint32(payload[0:4]))
	nbyte := int(binary.LittleEndian.Uint64(payload[4:12]))
	r.hugeMu.Lock()
	r.hugeq = append(r.hugeq, hugeReq{src: src, nbyte: nbyte})
	r.hugeMu.Unlock()
	r.postPendingHugeMsg()
}

// run is the I/O goroutine: it spends its life draining the receive
// ring, dispatching in-order messages immediately and parking the
// rest in a bounded out-of-order queue.
func (r *RML) run() {
	// The server goroutine keeps its own OS thread so scheduler
	// migrations never stall message progress under load.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)
	r.log.Debug().Msg("server goroutine is running")

	maxq := r.cfg.NRecv + 1
	q := make([]qmsg, 0, maxq)
	var waiter spinWaiter

	for {
		// Poll the ring until something arrives or we are told to go.
		idx, st, ok := transport.TestAny(r.recvReq)
		if !ok {
			if r.finished.Load() {
				return
			}
			waiter.wait()
			continue
		}
		waiter.reset()

		for ok {
			r.recvReq[idx] = nil
			src := st.Source
			buf := r.recvBuf[idx][:st.Nbytes]

			r.nmsgRecv.Add(1)
			r.nbyteRecv.Add(uint64(st.Nbytes))
			if r.met != nil {
				r.met.RecordRecv(st.Nbytes)
			}

			h := HandlerID(binary.LittleEndian.Uint16(buf[0:2]))
			attr := Attr(binary.LittleEndian.Uint32(buf[4:8]))
			count := uint16(attr >> 16)

			if !isOrdered(attr) || count == r.recvCounters[src] {
				// Unordered and in-order messages are digested as
				// soon as possible.
				if isOrdered(attr) {
					r.recvCounters[src]++
				}
				r.dispatch(h, src, attr, buf[headerLen:])
				r.postRecvBuf(idx)
			} else {
				if len(q) >= maxq {
					fatalf("rml: overflowed out-of-order message queue (%d)", len(q))
				}
				// Park the message; its buffer slot stays ours until
				// the queue drains it.
				q = append(q, qmsg{
					buf: buf, h: h, attr: attr, src: src, count: count, slot: idx,
				})
			}

			idx, st, ok = transport.TestAny(r.recvReq)
		}

		// Only ordered messages land in the queue. Sort by sequence;
		// one pass then suffices, with unprocessable entries kept at
		// the front.
		sort.SliceStable(q, func(i, j int) bool { return q[i].count < q[j].count })
		nleft := 0
		for _, m := range q {
			if m.count == r.recvCounters[m.src] {
				r.recvCounters[m.src]++
				r.dispatch(m.h, m.src, m.attr, m.buf[headerLen:])
				r.postRecvBuf(m.slot)
			} else {
				q[nleft] = m
				nleft++
			}
		}
		q = q[:nleft]
		if r.met != nil {
			r.met.SetOutOfOrderDepth(len(q))
		}

		r.postPendingHugeMsg()
	}
}

func (r *RML) dispatch(h HandlerID, src int, attr Attr, payload []byte) {
	fn := r.handler(h)
	fn(src, attr, payload)
}

// fatalf is the single abort path for unrecoverable messaging errors.
func fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// spinWaiter spins briefly then sleeps, keeping the idle I/O goroutine
// cheap without adding latency to bursts.
type spinWaiter struct{ n int }

func (w *spinWaiter) wait() {
	w.n++
	if w.n < 1000 {
		return
	}
	time.Sleep(20 * time.Microsecond)
}

func (w *spinWaiter) reset() { w.n = 0 }

// alignedAlloc returns a buffer of at least n bytes whose backing
// array start is aligned. Go allocations of this size are already
// page-aligned in practice; the explicit over-allocation keeps the
// contract independent of the allocator.
func alignedAlloc(n, align int) []byte {
	if align <= 1 {
		return make([]byte, n)
	}
	raw := make([]byte, n+align)
	off := 0
	// Alignment is a power of two by configuration.
	addr := uintptrOf(raw)
	if rem := int(addr) & (align - 1); rem != 0 {
		off = align - rem
	}
	return raw[off : off+n]
}
