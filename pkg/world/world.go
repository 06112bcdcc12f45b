package world

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mrakit/mrakit/pkg/rml"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/telemetry"
	"github.com/mrakit/mrakit/pkg/transport"
)

// ObjID identifies a registered world object (a tree, a container, a
// timing table) across ranks. Ids are dense and allocated in the same
// order on every rank, so the same logical object gets the same id
// everywhere as long as construction order matches.
type ObjID uint64

// World is the per-process handle tying together the transport, the
// messaging layer, the task runtime, and the object registry. All
// distributed structures are built against a World.
type World struct {
	ID  uuid.UUID
	Tel *telemetry.Telemetry

	tr   transport.Transport
	msg  *rml.RML
	pool *sched.Pool

	Gop Gop

	hub *AMHub

	nextObj atomic.Uint64
	objMu   sync.RWMutex
	objects map[ObjID]interface{}
}

// Options configures world construction.
type Options struct {
	// Workers is the task pool size; <= 0 sizes to the machine.
	Workers int
	// RML overrides the messaging configuration; zero value means
	// FromEnv.
	RML rml.Config
}

// New creates a world on top of a transport.
func New(tr transport.Transport, tel *telemetry.Telemetry, opts Options) (*World, error) {
	cfg := opts.RML
	if cfg == (rml.Config{}) {
		cfg = rml.FromEnv()
	}
	msg, err := rml.New(tr, cfg, tel)
	if err != nil {
		return nil, err
	}
	w := &World{
		ID:      uuid.New(),
		Tel:     tel,
		tr:      tr,
		msg:     msg,
		pool:    sched.NewPool(opts.Workers, tel),
		objects: make(map[ObjID]interface{}),
	}
	w.Gop = Gop{w: w}
	w.hub = newAMHub(w)
	// Collective: no rank may inject hub traffic until every rank has
	// its handler registered.
	tr.Barrier()
	return w, nil
}

// Hub returns the active-message hub.
func (w *World) Hub() *AMHub { return w.hub }

// Rank returns this process's rank.
func (w *World) Rank() int { return w.tr.Rank() }

// Size returns the number of ranks.
func (w *World) Size() int { return w.tr.Size() }

// Pool returns the task runtime.
func (w *World) Pool() *sched.Pool { return w.pool }

// Msg returns the messaging layer.
func (w *World) Msg() *rml.RML { return w.msg }

// Transport returns the underlying transport.
func (w *World) Transport() transport.Transport { return w.tr }

// RegisterObject assigns the next object id to obj. Construction order
// must match across ranks for ids to line up; this mirrors how the
// containers and trees are always built collectively.
func (w *World) RegisterObject(obj interface{}) ObjID {
	id := ObjID(w.nextObj.Add(1))
	w.objMu.Lock()
	w.objects[id] = obj
	w.objMu.Unlock()
	return id
}

// LookupObject resolves an object id. A miss is not an error: pending
// remote operations hold a weak reference resolved at dispatch time.
func (w *World) LookupObject(id ObjID) (interface{}, bool) {
	w.objMu.RLock()
	obj, ok := w.objects[id]
	w.objMu.RUnlock()
	return obj, ok
}

// DeregisterObject drops a registered object.
func (w *World) DeregisterObject(id ObjID) {
	w.objMu.Lock()
	delete(w.objects, id)
	w.objMu.Unlock()
}

// Shutdown tears the world down: fence, stop messaging, stop workers.
func (w *World) Shutdown() {
	w.Gop.Fence()
	w.msg.End()
	w.pool.Close()
}

// Gop bundles the global operations. It is the only place global
// invariants are re-established.
type Gop struct {
	w *World
}

// Fence is a barrier plus a drain of the task queue and of in-flight
// messages. On return every rank has executed all tasks and delivered
// all messages that were outstanding when any rank entered the fence.
func (g Gop) Fence() {
	w := g.w
	prevSent, prevRecv := ^uint64(0), ^uint64(0)
	for {
		w.pool.Quiesce()
		w.tr.Barrier()
		st := w.msg.GetStats()
		sent := w.tr.SumUint64(st.NmsgSent)
		recv := w.tr.SumUint64(st.NmsgRecv)
		pending := w.tr.SumUint64(uint64(w.pool.Pending()))
		// Quiescent when nothing is queued or in flight anywhere and
		// two consecutive sweeps observe identical totals. Every term
		// is a global value so all ranks take the same branch.
		if pending == 0 && sent == recv && sent == prevSent && recv == prevRecv {
			break
		}
		prevSent, prevRecv = sent, recv
	}
	w.tr.Barrier()
	if w.Tel.Metrics != nil {
		w.Tel.Metrics.RecordFence()
	}
	w.Tel.Events.Publish(telemetry.EventFence, "fence complete", nil)
}

// Sum returns the global sum of x.
func (g Gop) Sum(x float64) float64 { return g.w.tr.SumFloat64(x) }

// SumUint64 returns the global sum of x.
func (g Gop) SumUint64(x uint64) uint64 { return g.w.tr.SumUint64(x) }

// Max returns the global maximum of x.
func (g Gop) Max(x uint64) uint64 { return g.w.tr.MaxUint64(x) }

// Min returns the global minimum of x.
func (g Gop) Min(x uint64) uint64 { return g.w.tr.MinUint64(x) }

// Gather collects byte blobs at root; nil away from root.
func (g Gop) Gather(root int, data []byte) [][]byte { return g.w.tr.Gather(root, data) }

// Barrier blocks until all ranks arrive. Prefer Fence for algorithm
// boundaries; Barrier alone does not drain tasks or messages.
func (g Gop) Barrier() { g.w.tr.Barrier() }
