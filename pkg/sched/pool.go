package sched

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/mrakit/mrakit/pkg/telemetry"
)

// Priority classifies tasks. High-priority tasks are those that
// themselves issue communication or recurse, so that communication
// and refinement overlap productive compute.
type Priority int

const (
	// Normal is the default priority for compute tasks.
	Normal Priority = iota
	// High is for latency-sensitive tasks that spawn further work.
	High
)

func (p Priority) String() string {
	if p == High {
		return "high"
	}
	return "normal"
}

// Pool is the per-process task runtime: a fixed set of workers
// draining a high-priority queue ahead of the normal one.
type Pool struct {
	log *telemetry.Logger
	met *telemetry.Metrics

	mu     sync.Mutex
	cond   *sync.Cond
	high   []func()
	normal []func()
	closed bool

	// pending counts queued plus running tasks; quiescence means zero.
	pending atomic.Int64

	wg sync.WaitGroup
}

// NewPool creates a pool with nworkers workers. If nworkers <= 0 the
// pool sizes itself to the machine, reserving one logical CPU for the
// messaging I/O goroutine.
func NewPool(nworkers int, tel *telemetry.Telemetry) *Pool {
	if nworkers <= 0 {
		nworkers = runtime.NumCPU() - 1
		if nworkers < 1 {
			nworkers = 1
		}
	}
	p := &Pool{
		log: tel.Logger.NewComponentLogger("sched"),
		met: tel.Metrics,
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(nworkers)
	for i := 0; i < nworkers; i++ {
		go p.worker()
	}
	p.log.Debug().Int("workers", nworkers).Msg("task pool started")
	return p
}

// Submit enqueues fn at the given priority.
func (p *Pool) Submit(pri Priority, fn func()) {
	p.pending.Add(1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.pending.Add(-1)
		return
	}
	if pri == High {
		p.high = append(p.high, fn)
	} else {
		p.normal = append(p.normal, fn)
	}
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.high) == 0 && len(p.normal) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed && len(p.high) == 0 && len(p.normal) == 0 {
			p.mu.Unlock()
			return
		}
		var fn func()
		var pri Priority
		if len(p.high) > 0 {
			fn = p.high[0]
			p.high = p.high[1:]
			pri = High
		} else {
			fn = p.normal[0]
			p.normal = p.normal[1:]
			pri = Normal
		}
		p.mu.Unlock()

		fn()
		if p.met != nil {
			p.met.RecordTask(pri.String())
		}
		p.pending.Add(-1)
	}
}

// Pending returns the number of queued plus running tasks.
func (p *Pool) Pending() int64 { return p.pending.Load() }

// Quiesce runs until the pool has no queued or running tasks. Tasks
// submitted while draining are waited for too.
func (p *Pool) Quiesce() {
	var w waiter
	for p.pending.Load() != 0 {
		w.wait()
	}
}

// Close shuts the pool down after the queues drain.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
