package rml

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrakit/mrakit/pkg/telemetry"
	"github.com/mrakit/mrakit/pkg/transport"
)

// testPair builds a two-rank messaging layer over loopback.
func testPair(t *testing.T, cfg Config) (*RML, *RML) {
	t.Helper()
	mesh, err := transport.NewLoopbackMesh(2)
	require.NoError(t, err)
	a, err := New(mesh.Endpoint(0), cfg, telemetry.Noop())
	require.NoError(t, err)
	b, err := New(mesh.Endpoint(1), cfg, telemetry.Noop())
	require.NoError(t, err)
	t.Cleanup(func() {
		a.End()
		b.End()
	})
	return a, b
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOrderedDeliverySequence(t *testing.T) {
	a, b := testPair(t, DefaultConfig())

	const n = 10000
	var mu sync.Mutex
	var got []int
	// Registration order must match on both ranks.
	ha := a.Register(func(src int, attr Attr, payload []byte) {})
	hb := b.Register(func(src int, attr Attr, payload []byte) {
		mu.Lock()
		got = append(got, int(binary.LittleEndian.Uint32(payload)))
		mu.Unlock()
	})
	require.Equal(t, ha, hb)

	for i := 0; i < n; i++ {
		var payload [4]byte
		binary.LittleEndian.PutUint32(payload[:], uint32(i))
		a.Send(1, hb, AttrOrdered, payload[:])
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		require.Equal(t, i, v, "message %d delivered out of order", i)
	}

	st := b.GetStats()
	require.Equal(t, uint64(n), st.NmsgRecv)
}

func TestHugeMessageRoundTrip(t *testing.T) {
	cfg := Config{MaxMsgLen: 4096, NRecv: 4}
	a, b := testPair(t, cfg)

	// One byte past the eager buffer forces the rendezvous path.
	payload := make([]byte, cfg.MaxMsgLen+1)
	for i := range payload {
		payload[i] = byte(i * 31)
	}

	var mu sync.Mutex
	var got []byte
	a.Register(func(src int, attr Attr, p []byte) {})
	hb := b.Register(func(src int, attr Attr, p []byte) {
		mu.Lock()
		got = append([]byte(nil), p...)
		mu.Unlock()
	})

	a.Send(1, hb, AttrOrdered, payload)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})

	mu.Lock()
	defer mu.Unlock()
	require.True(t, bytes.Equal(payload, got), "huge payload corrupted in flight")
	require.Equal(t, uint64(1), a.GetStats().NmsgHuge, "rendezvous path not taken")
}

func TestInterleavedOrderedAndHuge(t *testing.T) {
	cfg := Config{MaxMsgLen: 2048, NRecv: 4}
	a, b := testPair(t, cfg)

	var mu sync.Mutex
	var sizes []int
	a.Register(func(src int, attr Attr, p []byte) {})
	hb := b.Register(func(src int, attr Attr, p []byte) {
		mu.Lock()
		sizes = append(sizes, len(p))
		mu.Unlock()
	})

	const rounds = 50
	small := make([]byte, 64)
	big := make([]byte, cfg.MaxMsgLen*2)
	for i := 0; i < rounds; i++ {
		a.Send(1, hb, AttrOrdered, small)
		a.Send(1, hb, AttrOrdered, big)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) == 2*rounds
	})

	mu.Lock()
	defer mu.Unlock()
	for i, sz := range sizes {
		if i%2 == 0 {
			require.Equal(t, len(small), sz)
		} else {
			require.Equal(t, len(big), sz)
		}
	}
}

func TestLocalSendShortCircuits(t *testing.T) {
	mesh, err := transport.NewLoopbackMesh(1)
	require.NoError(t, err)
	r, err := New(mesh.Endpoint(0), DefaultConfig(), telemetry.Noop())
	require.NoError(t, err)
	defer r.End()

	var got []byte
	h := r.Register(func(src int, attr Attr, p []byte) {
		got = append([]byte(nil), p...)
		require.Equal(t, 0, src)
	})
	r.Send(0, h, AttrOrdered, []byte("local"))
	require.Equal(t, "local", string(got))

	st := r.GetStats()
	require.Equal(t, st.NmsgSent, st.NmsgRecv)
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.normalize())
	require.Equal(t, DefaultMaxMsgLen, cfg.MaxMsgLen)
	require.Equal(t, DefaultNRecv, cfg.NRecv)

	cfg = Config{MaxMsgLen: 5000, NRecv: 4, Alignment: 64}
	require.NoError(t, cfg.normalize())
	require.Equal(t, 0, cfg.MaxMsgLen%64)
	require.GreaterOrEqual(t, cfg.MaxMsgLen, 5000)

	cfg = Config{NRecv: 1}
	require.Error(t, cfg.normalize())

	cfg = Config{Alignment: 48}
	require.Error(t, cfg.normalize())
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"1024", 1024},
		{"4KB", 4 * 1024},
		{"4 kB", 4 * 1024},
		{"3MB", 3 * 1024 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"1.5MB", 1536 * 1024},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
	_, err := ParseByteSize("nope")
	require.Error(t, err)
	_, err = ParseByteSize("-3KB")
	require.Error(t, err)
}
