package transport

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoopbackSendRecv(t *testing.T) {
	mesh, err := NewLoopbackMesh(2)
	require.NoError(t, err)
	a, b := mesh.Endpoint(0), mesh.Endpoint(1)

	buf := make([]byte, 16)
	req := b.Irecv(buf, 0, TagRMI)
	a.Isend([]byte("hello"), 1, TagRMI).Wait()
	st := req.Wait()
	require.Equal(t, 0, st.Source)
	require.Equal(t, TagRMI, st.Tag)
	require.Equal(t, 5, st.Nbytes)
	require.Equal(t, "hello", string(buf[:st.Nbytes]))
}

func TestLoopbackPerPairFIFO(t *testing.T) {
	mesh, err := NewLoopbackMesh(2)
	require.NoError(t, err)
	a, b := mesh.Endpoint(0), mesh.Endpoint(1)

	const n = 1000
	for i := 0; i < n; i++ {
		a.Isend([]byte{byte(i), byte(i >> 8)}, 1, TagRMI)
	}
	for i := 0; i < n; i++ {
		buf := make([]byte, 2)
		st := b.Irecv(buf, 0, TagRMI).Wait()
		require.Equal(t, 2, st.Nbytes)
		require.Equal(t, i, int(buf[0])|int(buf[1])<<8)
	}
}

func TestLoopbackAnySource(t *testing.T) {
	mesh, err := NewLoopbackMesh(3)
	require.NoError(t, err)
	c := mesh.Endpoint(2)

	mesh.Endpoint(0).Isend([]byte{1}, 2, TagRMI).Wait()
	mesh.Endpoint(1).Isend([]byte{2}, 2, TagRMI).Wait()

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		buf := make([]byte, 1)
		st := c.Irecv(buf, AnySource, TagRMI).Wait()
		seen[st.Source] = true
	}
	require.True(t, seen[0] && seen[1])
}

func TestLoopbackCollectives(t *testing.T) {
	const n = 4
	mesh, err := NewLoopbackMesh(n)
	require.NoError(t, err)

	var wg sync.WaitGroup
	sums := make([]float64, n)
	maxs := make([]uint64, n)
	gathers := make([][][]byte, n)
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ep := mesh.Endpoint(r)
			ep.Barrier()
			sums[r] = ep.SumFloat64(float64(r + 1))
			maxs[r] = ep.MaxUint64(uint64(r * 10))
			gathers[r] = ep.Gather(0, []byte(fmt.Sprintf("rank%d", r)))
		}(r)
	}
	wg.Wait()

	for r := 0; r < n; r++ {
		require.InDelta(t, 10.0, sums[r], 1e-15)
		require.Equal(t, uint64(30), maxs[r])
	}
	require.Len(t, gathers[0], n)
	require.Equal(t, "rank2", string(gathers[0][2]))
	require.Nil(t, gathers[1])
}

func TestCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	payload := []byte("some coefficient block")
	require.NoError(t, enc.Encode(frame{Tag: TagRMIHugeDat, Src: 3, Payload: payload}))
	require.NoError(t, enc.Encode(frame{Tag: TagRMI, Src: 1}))

	dec := NewDecoder(&buf)
	f1, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, TagRMIHugeDat, f1.Tag)
	require.Equal(t, 3, f1.Src)
	require.Equal(t, payload, f1.Payload)

	f2, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, TagRMI, f2.Tag)
	require.Empty(t, f2.Payload)
}

func TestCodecRejectsBadMagic(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}))
	_, err := dec.Decode()
	require.Error(t, err)
}

func TestTCPMeshSendRecvAndCollectives(t *testing.T) {
	const n = 3
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("127.0.0.1:%d", 39100+i)
	}

	meshes := make([]*TCPMesh, n)
	var wg sync.WaitGroup
	errs := make([]error, n)
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			meshes[r], errs[r] = NewTCPMesh(TCPConfig{Rank: r, Peers: addrs})
		}(r)
	}
	wg.Wait()
	for r := 0; r < n; r++ {
		require.NoError(t, errs[r])
		defer func(r int) { _ = meshes[r].Close() }(r)
	}

	// Point-to-point with FIFO.
	for i := 0; i < 100; i++ {
		meshes[0].Isend([]byte{byte(i)}, 1, TagRMI).Wait()
	}
	for i := 0; i < 100; i++ {
		buf := make([]byte, 1)
		st := meshes[1].Irecv(buf, 0, TagRMI).Wait()
		require.Equal(t, 1, st.Nbytes)
		require.Equal(t, byte(i), buf[0])
	}

	// Collectives.
	sums := make([]uint64, n)
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			meshes[r].Barrier()
			sums[r] = meshes[r].SumUint64(uint64(r + 1))
		}(r)
	}
	wg.Wait()
	for r := 0; r < n; r++ {
		require.Equal(t, uint64(6), sums[r])
	}
}
