package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrakit/mrakit/pkg/telemetry"
)

func newTestPool(t *testing.T, workers int) *Pool {
	t.Helper()
	p := NewPool(workers, telemetry.Noop())
	t.Cleanup(p.Close)
	return p
}

func TestSubmitAndQuiesce(t *testing.T) {
	p := newTestPool(t, 4)
	var count atomic.Int64
	for i := 0; i < 100; i++ {
		p.Submit(Normal, func() { count.Add(1) })
	}
	p.Quiesce()
	require.Equal(t, int64(100), count.Load())
	require.Equal(t, int64(0), p.Pending())
}

func TestHighPriorityRunsFirst(t *testing.T) {
	p := newTestPool(t, 1)

	// Block the single worker so both queues fill while it is busy.
	gate := make(chan struct{})
	p.Submit(Normal, func() { <-gate })

	var mu sync.Mutex
	var order []Priority
	record := func(pri Priority) func() {
		return func() {
			mu.Lock()
			order = append(order, pri)
			mu.Unlock()
		}
	}
	p.Submit(Normal, record(Normal))
	p.Submit(High, record(High))
	p.Submit(Normal, record(Normal))
	p.Submit(High, record(High))

	close(gate)
	p.Quiesce()

	require.Equal(t, []Priority{High, High, Normal, Normal}, order)
}

func TestFutureSetGet(t *testing.T) {
	f := NewFuture[int]()
	require.False(t, f.Probe())
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Set(42)
	}()
	require.Equal(t, 42, f.Get())
	require.True(t, f.Probe())
}

func TestFutureDoubleSetPanics(t *testing.T) {
	f := Ready(1)
	require.Panics(t, func() { f.Set(2) })
}

func TestOnReadyBeforeAndAfterSet(t *testing.T) {
	f := NewFuture[string]()
	var got []string
	var mu sync.Mutex
	f.OnReady(func(v string) { mu.Lock(); got = append(got, "early:"+v); mu.Unlock() })
	f.Set("x")
	f.OnReady(func(v string) { mu.Lock(); got = append(got, "late:"+v); mu.Unlock() })
	require.ElementsMatch(t, []string{"early:x", "late:x"}, got)
}

func TestSpawnReturnsResult(t *testing.T) {
	p := newTestPool(t, 2)
	f := Spawn(p, Normal, func() int { return 7 })
	require.Equal(t, 7, f.Get())
}

func TestWhenAllFiresOnce(t *testing.T) {
	futs := make([]*Future[int], 8)
	for i := range futs {
		futs[i] = NewFuture[int]()
	}
	var fired atomic.Int64
	var sum atomic.Int64
	WhenAll(futs, func(vals []int) {
		fired.Add(1)
		for _, v := range vals {
			sum.Add(int64(v))
		}
	})
	for i, f := range futs {
		f.Set(i)
	}
	require.Equal(t, int64(1), fired.Load())
	require.Equal(t, int64(28), sum.Load())
}

func TestTaskWhenAll(t *testing.T) {
	p := newTestPool(t, 2)
	a := NewFuture[int]()
	b := NewFuture[int]()
	out := TaskWhenAll(p, Normal, []*Future[int]{a, b}, func(vals []int) int {
		return vals[0] * vals[1]
	})
	a.Set(6)
	require.False(t, out.Probe())
	b.Set(7)
	require.Equal(t, 42, out.Get())
}

func TestForEach(t *testing.T) {
	p := newTestPool(t, 4)
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	var sum atomic.Int64
	done := ForEach(p, items, func(v int) { sum.Add(int64(v)) })
	done.Get()
	require.Equal(t, int64(1225), sum.Load())
}
