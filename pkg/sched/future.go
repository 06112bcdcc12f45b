package sched

import (
	"runtime"
	"sync"
	"time"
)

// Future is a write-once value shared between a producer task and any
// number of consumers. Consumers either block in Get (legal only
// outside tasks or once the future is known ready) or register a
// callback that the producer's Set invokes.
type Future[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	val       T
	done      bool
	callbacks []func(T)
}

// NewFuture creates an unset future.
func NewFuture[T any]() *Future[T] {
	f := &Future[T]{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Ready returns an already-set future holding v.
func Ready[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Set(v)
	return f
}

// Set assigns the value and fires the callbacks. Setting twice is a
// contract violation.
func (f *Future[T]) Set(v T) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		panic("sched: future assigned twice")
	}
	f.val = v
	f.done = true
	cbs := f.callbacks
	f.callbacks = nil
	f.cond.Broadcast()
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(v)
	}
}

// Get blocks until the value is set. Inside a task, call Get only when
// Probe already reported true; blocking a worker on an unready future
// can deadlock the pool.
func (f *Future[T]) Get() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	for !f.done {
		f.cond.Wait()
	}
	return f.val
}

// Probe reports whether the value is available.
func (f *Future[T]) Probe() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// OnReady invokes cb with the value, immediately if already set,
// otherwise from the producer's Set.
func (f *Future[T]) OnReady(cb func(T)) {
	f.mu.Lock()
	if f.done {
		v := f.val
		f.mu.Unlock()
		cb(v)
		return
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// Spawn submits fn to the pool and returns a future for its result.
func Spawn[T any](p *Pool, pri Priority, fn func() T) *Future[T] {
	f := NewFuture[T]()
	p.Submit(pri, func() { f.Set(fn()) })
	return f
}

// WhenAll invokes fn once every future in futs is ready. The trigger
// runs inline on the goroutine that completes the last input.
func WhenAll[T any](futs []*Future[T], fn func(vals []T)) {
	n := len(futs)
	if n == 0 {
		fn(nil)
		return
	}
	var mu sync.Mutex
	remaining := n
	for _, f := range futs {
		f.OnReady(func(T) {
			mu.Lock()
			remaining--
			last := remaining == 0
			mu.Unlock()
			if last {
				vals := make([]T, n)
				for i, f := range futs {
					vals[i] = f.Get()
				}
				fn(vals)
			}
		})
	}
}

// TaskWhenAll schedules fn as a pool task once every input is ready
// and returns a future for its result. This is the fan-in primitive
// the recursive tree algorithms use: dependencies are futures passed
// as arguments, and the task launches only when inputs are satisfied.
func TaskWhenAll[T, R any](p *Pool, pri Priority, futs []*Future[T], fn func(vals []T) R) *Future[R] {
	out := NewFuture[R]()
	WhenAll(futs, func(vals []T) {
		p.Submit(pri, func() { out.Set(fn(vals)) })
	})
	return out
}

// ForEach runs op over every item as an independent task and returns a
// future that completes when all iterations have finished.
func ForEach[T any](p *Pool, items []T, op func(T)) *Future[struct{}] {
	out := NewFuture[struct{}]()
	if len(items) == 0 {
		out.Set(struct{}{})
		return out
	}
	var mu sync.Mutex
	remaining := len(items)
	for _, item := range items {
		item := item
		p.Submit(Normal, func() {
			op(item)
			mu.Lock()
			remaining--
			last := remaining == 0
			mu.Unlock()
			if last {
				out.Set(struct{}{})
			}
		})
	}
	return out
}

// waiter spins briefly then sleeps; used by quiescence loops.
type waiter struct{ n int }

func (w *waiter) wait() {
	w.n++
	if w.n < 200 {
		runtime.Gosched()
		return
	}
	time.Sleep(50 * time.Microsecond)
}
