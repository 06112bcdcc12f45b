package container

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/telemetry"
	"github.com/mrakit/mrakit/pkg/transport"
	"github.com/mrakit/mrakit/pkg/world"
)

// parityMap owns even keys on rank 0 and odd keys on rank 1.
type parityMap struct{ nproc int }

func (m parityMap) Owner(k uint64) int { return int(k % uint64(m.nproc)) }

// u64Codec serializes uint64 keys and values.
type u64Codec struct{}

func (u64Codec) EncodeKey(k uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, k)
}
func (u64Codec) DecodeKey(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
func (u64Codec) EncodeValue(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}
func (u64Codec) DecodeValue(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

// testWorlds builds n connected worlds over loopback and runs fn on
// each in its own goroutine.
func testWorlds(t *testing.T, n int, fn func(w *world.World)) {
	t.Helper()
	mesh, err := transport.NewLoopbackMesh(n)
	require.NoError(t, err)

	worlds := make([]*world.World, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			w, err := world.New(mesh.Endpoint(r), telemetry.Noop(), world.Options{Workers: 2})
			require.NoError(t, err)
			worlds[r] = w
			fn(w)
			w.Shutdown()
		}(r)
	}
	wg.Wait()
}

func TestReplaceFindAcrossRanks(t *testing.T) {
	testWorlds(t, 2, func(w *world.World) {
		c := New[uint64, uint64](w, parityMap{2}, u64Codec{}, func(k uint64) uint64 { return k })
		c.ProcessPending()
		w.Gop.Barrier()

		// Every rank stores to keys it does not own; Replace routes.
		for k := uint64(0); k < 20; k++ {
			if c.Owner(k) != w.Rank() {
				c.Replace(k, k*100)
			}
		}
		w.Gop.Fence()

		// Local shard holds exactly the owned keys.
		require.Equal(t, 10, c.LocalLen())
		c.IterLocal(func(k, v uint64) bool {
			require.Equal(t, w.Rank(), c.Owner(k))
			require.Equal(t, k*100, v)
			return true
		})

		// Find works for both local and remote keys.
		for k := uint64(0); k < 20; k++ {
			res := c.Find(k).Get()
			require.True(t, res.OK)
			require.Equal(t, k*100, res.Value)
		}
		res := c.Find(999).Get()
		require.False(t, res.OK)
		w.Gop.Fence()
	})
}

func TestSendRunsOnOwnerInOrder(t *testing.T) {
	testWorlds(t, 2, func(w *world.World) {
		c := New[uint64, uint64](w, parityMap{2}, u64Codec{}, func(k uint64) uint64 { return k })

		// append-style method: value = value*10 + arg
		mAppend := c.RegisterMethod(func(c *Container[uint64, uint64], src int, key uint64, args []byte, reply func([]byte)) {
			inc := binary.LittleEndian.Uint64(args)
			c.Update(key, func(v uint64, ok bool) (uint64, bool) {
				return v*10 + inc, true
			})
			if reply != nil {
				reply(nil)
			}
		})
		c.ProcessPending()
		w.Gop.Barrier()

		// Rank 0 sends digits to a key owned by rank 1; ordered
		// delivery means the digits assemble in send order.
		const key = uint64(7)
		if w.Rank() == 0 {
			for _, d := range []uint64{1, 2, 3, 4} {
				var args [8]byte
				binary.LittleEndian.PutUint64(args[:], d)
				c.Send(key, mAppend, args[:])
			}
		}
		w.Gop.Fence()

		if w.Rank() == 1 {
			v, ok := c.Get(key)
			require.True(t, ok)
			require.Equal(t, uint64(1234), v)
		}
		w.Gop.Fence()
	})
}

func TestTaskReturnsValue(t *testing.T) {
	testWorlds(t, 2, func(w *world.World) {
		c := New[uint64, uint64](w, parityMap{2}, u64Codec{}, func(k uint64) uint64 { return k })
		mDouble := c.RegisterMethod(func(c *Container[uint64, uint64], src int, key uint64, args []byte, reply func([]byte)) {
			v, _ := c.Get(key)
			reply(binary.LittleEndian.AppendUint64(nil, v*2))
		})
		c.ProcessPending()
		w.Gop.Barrier()

		for k := uint64(0); k < 10; k++ {
			if c.Owner(k) == w.Rank() {
				c.Replace(k, k+1)
			}
		}
		w.Gop.Fence()

		for k := uint64(0); k < 10; k++ {
			res := c.Task(k, mDouble, nil, sched.Normal).Get()
			require.Equal(t, (k+1)*2, binary.LittleEndian.Uint64(res))
		}
		w.Gop.Fence()
	})
}

func TestEraseAcrossRanks(t *testing.T) {
	testWorlds(t, 2, func(w *world.World) {
		c := New[uint64, uint64](w, parityMap{2}, u64Codec{}, func(k uint64) uint64 { return k })
		c.ProcessPending()
		w.Gop.Barrier()

		for k := uint64(0); k < 10; k++ {
			if c.Owner(k) == w.Rank() {
				c.Replace(k, k)
			}
		}
		w.Gop.Fence()

		// Rank 0 erases everything, local and remote.
		if w.Rank() == 0 {
			for k := uint64(0); k < 10; k++ {
				c.Erase(k)
			}
		}
		w.Gop.Fence()
		require.Equal(t, 0, c.LocalLen())
		w.Gop.Fence()
	})
}
