package mra

import (
	"github.com/mrakit/mrakit/pkg/container"
	"github.com/mrakit/mrakit/pkg/world"
)

// applyTimeDecay is the exponential smoothing factor for per-key
// wallclock samples.
const applyTimeDecay = 0.9

// ApplyTime records an exponentially decayed wallclock per tree key
// during operator application. Load balancing reads it to weight
// node migration.
type ApplyTime struct {
	w       *world.World
	table   *container.Container[Key, float64]
	mUpdate container.MethodID
}

// NewApplyTime creates the distributed timing table. Collective.
func NewApplyTime(w *world.World, pm ProcessMap) *ApplyTime {
	at := &ApplyTime{w: w}
	at.table = container.New[Key, float64](w, pmapAdapter{pm}, float64Codec{}, keyHash)
	at.mUpdate = at.table.RegisterMethod(at.updateM)
	at.table.ProcessPending()
	return at
}

// Set overwrites the record for a key.
func (at *ApplyTime) Set(key Key, seconds float64) {
	at.table.Replace(key, seconds)
}

// Get returns the decayed time for a key (zero when absent). The key
// must be owned locally.
func (at *ApplyTime) Get(key Key) float64 {
	v, _ := at.table.Get(key)
	return v
}

// Update folds a new sample into the record on the owner:
// s <- s + (y-s)*decay.
func (at *ApplyTime) Update(key Key, seconds float64) {
	var wr wbuf
	wr.f64(seconds)
	at.table.Send(key, at.mUpdate, wr.b)
}

func (at *ApplyTime) updateM(c *container.Container[Key, float64], src int, key Key, args []byte, reply func([]byte)) {
	r := rbuf{b: args}
	y := r.f64()
	c.Update(key, func(s float64, ok bool) (float64, bool) {
		if !ok {
			return y, true
		}
		return s + (y-s)*applyTimeDecay, true
	})
	if reply != nil {
		reply(nil)
	}
}

// Clear drops the local shard of the table.
func (at *ApplyTime) Clear() { at.table.Clear() }

// IterLocal visits the local records.
func (at *ApplyTime) IterLocal(fn func(key Key, seconds float64) bool) {
	at.table.IterLocal(fn)
}

// Detach releases the table from the world.
func (at *ApplyTime) Detach() { at.table.Detach() }
