package transport

import (
	"fmt"
	"sync"
)

// LoopbackMesh is an in-process transport connecting n ranks through
// shared memory. It is the reference implementation used by every test
// and by single-machine runs; the TCP mesh provides the same contract
// across machines.
type LoopbackMesh struct {
	n     int
	eps   []*loopbackEndpoint
	barry *barrierState
	redux *reduxState
}

// NewLoopbackMesh creates a mesh of n connected endpoints.
func NewLoopbackMesh(n int) (*LoopbackMesh, error) {
	if n < 1 {
		return nil, fmt.Errorf("mesh size must be positive, got %d", n)
	}
	m := &LoopbackMesh{
		n:     n,
		barry: newBarrierState(n),
		redux: newReduxState(n),
	}
	m.eps = make([]*loopbackEndpoint, n)
	for i := 0; i < n; i++ {
		m.eps[i] = &loopbackEndpoint{mesh: m, rank: i}
		m.eps[i].cond = sync.NewCond(&m.eps[i].mu)
	}
	return m, nil
}

// Endpoint returns the transport for the given rank.
func (m *LoopbackMesh) Endpoint(rank int) Transport { return m.eps[rank] }

// inboundMsg is a delivered-but-unmatched message.
type inboundMsg struct {
	src  int
	tag  int
	data []byte
}

// postedRecv is a receive waiting for a matching message.
type postedRecv struct {
	src int // AnySource or explicit rank
	tag int
	buf []byte
	req *loopbackRequest
}

type loopbackEndpoint struct {
	mesh *LoopbackMesh
	rank int

	mu     sync.Mutex
	cond   *sync.Cond
	inbox  []inboundMsg
	posted []*postedRecv
	closed bool
}

// loopbackRequest implements Request with a condition variable.
type loopbackRequest struct {
	mu   sync.Mutex
	cond *sync.Cond
	st   Status
	done bool
}

func newLoopbackRequest() *loopbackRequest {
	r := &loopbackRequest{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *loopbackRequest) complete(st Status) {
	r.mu.Lock()
	r.st = st
	r.done = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *loopbackRequest) Test() (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st, r.done
}

func (r *loopbackRequest) Wait() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.done {
		r.cond.Wait()
	}
	return r.st
}

func (e *loopbackEndpoint) Rank() int { return e.rank }
func (e *loopbackEndpoint) Size() int { return e.mesh.n }

func (e *loopbackEndpoint) Isend(buf []byte, dest, tag int) Request {
	req := newLoopbackRequest()
	data := make([]byte, len(buf))
	copy(data, buf)
	e.mesh.eps[dest].deliver(inboundMsg{src: e.rank, tag: tag, data: data})
	// Buffered semantics: the sender's buffer is free as soon as the
	// copy above is taken.
	req.complete(Status{Source: e.rank, Tag: tag, Nbytes: len(buf)})
	return req
}

func (e *loopbackEndpoint) deliver(msg inboundMsg) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	// Try to match a posted receive first, in post order.
	for i, p := range e.posted {
		if p.tag == msg.tag && (p.src == AnySource || p.src == msg.src) {
			e.posted = append(e.posted[:i], e.posted[i+1:]...)
			n := copy(p.buf, msg.data)
			p.req.complete(Status{Source: msg.src, Tag: msg.tag, Nbytes: n})
			return
		}
	}
	e.inbox = append(e.inbox, msg)
}

func (e *loopbackEndpoint) Irecv(buf []byte, src, tag int) Request {
	req := newLoopbackRequest()
	e.mu.Lock()
	// Match the oldest queued message first to preserve FIFO per pair.
	for i, msg := range e.inbox {
		if msg.tag == tag && (src == AnySource || src == msg.src) {
			e.inbox = append(e.inbox[:i], e.inbox[i+1:]...)
			e.mu.Unlock()
			n := copy(buf, msg.data)
			req.complete(Status{Source: msg.src, Tag: msg.tag, Nbytes: n})
			return req
		}
	}
	e.posted = append(e.posted, &postedRecv{src: src, tag: tag, buf: buf, req: req})
	e.mu.Unlock()
	return req
}

func (e *loopbackEndpoint) Barrier() { e.mesh.barry.enter() }

func (e *loopbackEndpoint) SumFloat64(x float64) float64 {
	return e.mesh.redux.sumFloat64(e.rank, x)
}

func (e *loopbackEndpoint) SumUint64(x uint64) uint64 {
	return e.mesh.redux.reduceUint64(e.rank, x, func(a, b uint64) uint64 { return a + b })
}

func (e *loopbackEndpoint) MaxUint64(x uint64) uint64 {
	return e.mesh.redux.reduceUint64(e.rank, x, func(a, b uint64) uint64 {
		if a > b {
			return a
		}
		return b
	})
}

func (e *loopbackEndpoint) MinUint64(x uint64) uint64 {
	return e.mesh.redux.reduceUint64(e.rank, x, func(a, b uint64) uint64 {
		if a < b {
			return a
		}
		return b
	})
}

func (e *loopbackEndpoint) Gather(root int, data []byte) [][]byte {
	return e.mesh.redux.gather(e.rank, root, data)
}

func (e *loopbackEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.inbox = nil
	pending := e.posted
	e.posted = nil
	e.mu.Unlock()
	for _, p := range pending {
		p.req.complete(Status{Source: -1, Tag: -1, Nbytes: 0})
	}
	return nil
}

// barrierState implements a reusable generation-counting barrier.
type barrierState struct {
	mu    sync.Mutex
	cond  *sync.Cond
	n     int
	count int
	gen   uint64
}

func newBarrierState(n int) *barrierState {
	b := &barrierState{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrierState) enter() {
	b.mu.Lock()
	gen := b.gen
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
	} else {
		for gen == b.gen {
			b.cond.Wait()
		}
	}
	b.mu.Unlock()
}

// reduxState implements allreduce and gather over shared slots.
type reduxState struct {
	mu    sync.Mutex
	cond  *sync.Cond
	n     int
	count int
	gen   uint64
	f64   []float64
	u64   []uint64
	blobs [][]byte
}

func newReduxState(n int) *reduxState {
	r := &reduxState{
		n:     n,
		f64:   make([]float64, n),
		u64:   make([]uint64, n),
		blobs: make([][]byte, n),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// rendezvous deposits a contribution and blocks until every rank has
// contributed to the current generation.
func (r *reduxState) rendezvous(rank int, deposit func()) {
	r.mu.Lock()
	deposit()
	gen := r.gen
	r.count++
	if r.count == r.n {
		r.count = 0
		r.gen++
		r.cond.Broadcast()
	} else {
		for gen == r.gen {
			r.cond.Wait()
		}
	}
	r.mu.Unlock()
}

func (r *reduxState) sumFloat64(rank int, x float64) float64 {
	r.rendezvous(rank, func() { r.f64[rank] = x })
	var sum float64
	for _, v := range r.f64 {
		sum += v
	}
	// A second rendezvous keeps slot reuse safe across back-to-back
	// reductions.
	r.rendezvous(rank, func() {})
	return sum
}

func (r *reduxState) reduceUint64(rank int, x uint64, combine func(a, b uint64) uint64) uint64 {
	r.rendezvous(rank, func() { r.u64[rank] = x })
	acc := r.u64[0]
	for _, v := range r.u64[1:] {
		acc = combine(acc, v)
	}
	r.rendezvous(rank, func() {})
	return acc
}

func (r *reduxState) gather(rank, root int, data []byte) [][]byte {
	cp := make([]byte, len(data))
	copy(cp, data)
	r.rendezvous(rank, func() { r.blobs[rank] = cp })
	var out [][]byte
	if rank == root {
		out = make([][]byte, r.n)
		copy(out, r.blobs)
	}
	r.rendezvous(rank, func() {})
	return out
}
