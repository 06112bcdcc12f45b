package world

import (
	"encoding/binary"
	"sync"

	"github.com/mrakit/mrakit/pkg/rml"
)

// Active-message kinds multiplexed over the hub's single handler.
const (
	amSend  = 1 // one-way method call on a target object
	amTask  = 2 // method call expecting a reply
	amReply = 3 // reply carrying a remote future's value
)

// AMTarget is implemented by distributed objects (containers) that
// receive hub traffic. HandleSend runs inline on the I/O goroutine to
// preserve per-peer FIFO; it must be short. HandleTask may defer its
// work to the pool and deliver the result through reply.
type AMTarget interface {
	HandleSend(src int, body []byte)
	HandleTask(src int, body []byte, reply func([]byte))
}

type pendingMsg struct {
	src  int
	kind byte
	body []byte
	// reply is non-nil for parked task messages.
	reply func([]byte)
}

// AMHub routes active messages to registered objects. Messages that
// arrive before their target is registered are parked and released by
// ProcessPending; this is an ordinary dependency, not an error.
type AMHub struct {
	w *World
	h rml.HandlerID

	mu      sync.Mutex
	targets map[ObjID]AMTarget
	pending map[ObjID][]pendingMsg

	futMu   sync.Mutex
	futs    map[uint64]func([]byte)
	nextFut uint64
}

// newAMHub wires the hub's handler into the messaging layer. Called
// exactly once from New so the handler id is identical on every rank.
func newAMHub(w *World) *AMHub {
	h := &AMHub{
		w:       w,
		targets: make(map[ObjID]AMTarget),
		pending: make(map[ObjID][]pendingMsg),
		futs:    make(map[uint64]func([]byte)),
	}
	h.h = w.msg.Register(h.handle)
	return h
}

// Attach registers a target object. Parked messages stay parked until
// ProcessPending releases them, mirroring the construction contract:
// attach, finish local setup, then ProcessPending.
func (h *AMHub) Attach(id ObjID, t AMTarget) {
	h.mu.Lock()
	h.targets[id] = t
	h.mu.Unlock()
}

// Detach removes a target object.
func (h *AMHub) Detach(id ObjID) {
	h.mu.Lock()
	delete(h.targets, id)
	h.mu.Unlock()
}

// ProcessPending releases messages that arrived for id before it was
// attached.
func (h *AMHub) ProcessPending(id ObjID) {
	h.mu.Lock()
	t := h.targets[id]
	parked := h.pending[id]
	delete(h.pending, id)
	h.mu.Unlock()
	if t == nil {
		return
	}
	for _, m := range parked {
		switch m.kind {
		case amSend:
			t.HandleSend(m.src, m.body)
		case amTask:
			t.HandleTask(m.src, m.body, m.reply)
		}
	}
}

// RemoteRef identifies a pending future on some rank. It serializes
// to (rank, id) and can be fulfilled from any rank; this is how
// upward tree walks reply to the original requester without threading
// a callback through intermediate hops.
type RemoteRef struct {
	Rank int
	ID   uint64
}

// NewRemoteRef registers onReady and returns a serializable reference
// to it.
func (h *AMHub) NewRemoteRef(onReady func([]byte)) RemoteRef {
	h.futMu.Lock()
	h.nextFut++
	fid := h.nextFut
	h.futs[fid] = onReady
	h.futMu.Unlock()
	return RemoteRef{Rank: h.w.Rank(), ID: fid}
}

// Reply fulfills a remote reference with data.
func (h *AMHub) Reply(ref RemoteRef, data []byte) {
	h.w.msg.Send(ref.Rank, h.h, rml.AttrUnordered, h.wrap(amReply, 0, ref.ID, data))
}

// Send issues a one-way method call on the object's owner.
func (h *AMHub) Send(dest int, id ObjID, attr rml.Attr, body []byte) {
	h.w.msg.Send(dest, h.h, attr, h.wrap(amSend, id, 0, body))
}

// Task issues a method call on dest and invokes onReply with the
// result when it comes back.
func (h *AMHub) Task(dest int, id ObjID, attr rml.Attr, body []byte, onReply func([]byte)) {
	h.futMu.Lock()
	h.nextFut++
	fid := h.nextFut
	h.futs[fid] = onReply
	h.futMu.Unlock()
	h.w.msg.Send(dest, h.h, attr, h.wrap(amTask, id, fid, body))
}

// wrap prepends the routing header: kind, object id, future id, and
// the reply rank for tasks.
func (h *AMHub) wrap(kind byte, id ObjID, fid uint64, body []byte) []byte {
	buf := make([]byte, 1+8+8+4+len(body))
	buf[0] = kind
	binary.LittleEndian.PutUint64(buf[1:9], uint64(id))
	binary.LittleEndian.PutUint64(buf[9:17], fid)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(h.w.Rank()))
	copy(buf[21:], body)
	return buf
}

// handle is the single RML handler for all hub traffic.
func (h *AMHub) handle(src int, _ rml.Attr, payload []byte) {
	kind := payload[0]
	id := ObjID(binary.LittleEndian.Uint64(payload[1:9]))
	fid := binary.LittleEndian.Uint64(payload[9:17])
	replyRank := int(binary.LittleEndian.Uint32(payload[17:21]))
	// The messaging layer reposts its buffer after dispatch; anything
	// that may outlive this call needs its own copy.
	body := make([]byte, len(payload)-21)
	copy(body, payload[21:])

	if kind == amReply {
		h.futMu.Lock()
		cb := h.futs[fid]
		delete(h.futs, fid)
		h.futMu.Unlock()
		if cb != nil {
			cb(body)
		}
		return
	}

	var reply func([]byte)
	if kind == amTask {
		reply = func(res []byte) {
			h.w.msg.Send(replyRank, h.h, rml.AttrUnordered, h.wrap(amReply, 0, fid, res))
		}
	}

	h.mu.Lock()
	t, ok := h.targets[id]
	if !ok {
		// Target not yet registered here; park until ProcessPending.
		h.pending[id] = append(h.pending[id], pendingMsg{src: src, kind: kind, body: body, reply: reply})
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	switch kind {
	case amSend:
		t.HandleSend(src, body)
	case amTask:
		t.HandleTask(src, body, reply)
	}
}
