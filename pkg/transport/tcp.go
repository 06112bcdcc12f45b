package transport

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
	"time"
)

// TCPConfig configures one endpoint of a TCP mesh.
type TCPConfig struct {
	// Rank is this process's rank.
	Rank int

	// Peers holds the listen address of every rank, indexed by rank.
	Peers []string

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration

	// DialRetry is how long to keep retrying dials while the mesh
	// comes up out of order.
	DialRetry time.Duration
}

// TCPMesh is a fully connected TCP transport: every pair of ranks
// shares one duplex connection carrying length-prefixed frames.
// Per-pair FIFO follows from TCP stream ordering plus the single
// writer lock per link.
type TCPMesh struct {
	rank int
	size int

	mu     sync.Mutex
	cond   *sync.Cond
	inbox  []inboundMsg
	posted []*postedRecv
	closed bool

	links []*tcpLink // indexed by peer rank; links[rank] is nil
	ln    net.Listener
}

type tcpLink struct {
	mu  sync.Mutex
	enc *Encoder
	c   net.Conn
}

// NewTCPMesh creates the endpoint, listens on its own address, and
// connects to every peer. Returns once the mesh is fully connected.
func NewTCPMesh(cfg TCPConfig) (*TCPMesh, error) {
	size := len(cfg.Peers)
	if cfg.Rank < 0 || cfg.Rank >= size {
		return nil, fmt.Errorf("rank %d out of range for %d peers", cfg.Rank, size)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.DialRetry <= 0 {
		cfg.DialRetry = 30 * time.Second
	}

	m := &TCPMesh{
		rank:  cfg.Rank,
		size:  size,
		links: make([]*tcpLink, size),
	}
	m.cond = sync.NewCond(&m.mu)

	ln, err := net.Listen("tcp", cfg.Peers[cfg.Rank])
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Peers[cfg.Rank], err)
	}
	m.ln = ln

	// Lower ranks dial higher ranks; higher ranks accept. The first
	// frame on each link is a hello carrying the dialer's rank.
	errc := make(chan error, size)
	var wg sync.WaitGroup
	for peer := cfg.Rank + 1; peer < size; peer++ {
		wg.Add(1)
		go func(peer int) {
			defer wg.Done()
			conn, err := dialRetry(cfg.Peers[peer], cfg.DialTimeout, cfg.DialRetry)
			if err != nil {
				errc <- fmt.Errorf("failed to dial rank %d: %w", peer, err)
				return
			}
			enc := NewEncoder(conn)
			var hello [4]byte
			binary.LittleEndian.PutUint32(hello[:], uint32(cfg.Rank))
			if err := enc.Encode(frame{Tag: 0, Src: cfg.Rank, Payload: hello[:]}); err != nil {
				errc <- fmt.Errorf("failed to send hello to rank %d: %w", peer, err)
				return
			}
			m.attach(peer, conn, enc)
		}(peer)
	}
	for i := 0; i < cfg.Rank; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := ln.Accept()
			if err != nil {
				errc <- fmt.Errorf("accept failed: %w", err)
				return
			}
			dec := NewDecoder(conn)
			hello, err := dec.Decode()
			if err != nil || len(hello.Payload) != 4 {
				errc <- fmt.Errorf("bad hello frame: %v", err)
				return
			}
			peer := int(binary.LittleEndian.Uint32(hello.Payload))
			m.attachWithDecoder(peer, conn, NewEncoder(conn), dec)
		}()
	}
	wg.Wait()
	select {
	case err := <-errc:
		_ = m.Close()
		return nil, err
	default:
	}
	return m, nil
}

func dialRetry(addr string, timeout, retry time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(retry)
	for {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (m *TCPMesh) attach(peer int, conn net.Conn, enc *Encoder) {
	m.attachWithDecoder(peer, conn, enc, NewDecoder(conn))
}

func (m *TCPMesh) attachWithDecoder(peer int, conn net.Conn, enc *Encoder, dec *Decoder) {
	link := &tcpLink{enc: enc, c: conn}
	m.mu.Lock()
	m.links[peer] = link
	m.mu.Unlock()
	go m.readLoop(dec)
}

func (m *TCPMesh) readLoop(dec *Decoder) {
	for {
		f, err := dec.Decode()
		if err != nil {
			return // link closed; Close handles teardown
		}
		m.deliver(inboundMsg{src: f.Src, tag: f.Tag, data: f.Payload})
	}
}

func (m *TCPMesh) deliver(msg inboundMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for i, p := range m.posted {
		if p.tag == msg.tag && (p.src == AnySource || p.src == msg.src) {
			m.posted = append(m.posted[:i], m.posted[i+1:]...)
			n := copy(p.buf, msg.data)
			p.req.complete(Status{Source: msg.src, Tag: msg.tag, Nbytes: n})
			return
		}
	}
	m.inbox = append(m.inbox, msg)
}

func (m *TCPMesh) Rank() int { return m.rank }
func (m *TCPMesh) Size() int { return m.size }

func (m *TCPMesh) Isend(buf []byte, dest, tag int) Request {
	req := newLoopbackRequest()
	if dest == m.rank {
		data := make([]byte, len(buf))
		copy(data, buf)
		m.deliver(inboundMsg{src: m.rank, tag: tag, data: data})
		req.complete(Status{Source: m.rank, Tag: tag, Nbytes: len(buf)})
		return req
	}
	link := m.links[dest]
	link.mu.Lock()
	err := link.enc.Encode(frame{Tag: tag, Src: m.rank, Payload: buf})
	link.mu.Unlock()
	if err != nil {
		// Transport failure is fatal by policy: panic at once with
		// the peer rank and the encode error.
		panic(fmt.Sprintf("tcp mesh: send to rank %d failed: %v", dest, err))
	}
	req.complete(Status{Source: m.rank, Tag: tag, Nbytes: len(buf)})
	return req
}

func (m *TCPMesh) Irecv(buf []byte, src, tag int) Request {
	req := newLoopbackRequest()
	m.mu.Lock()
	for i, msg := range m.inbox {
		if msg.tag == tag && (src == AnySource || src == msg.src) {
			m.inbox = append(m.inbox[:i], m.inbox[i+1:]...)
			m.mu.Unlock()
			n := copy(buf, msg.data)
			req.complete(Status{Source: msg.src, Tag: msg.tag, Nbytes: n})
			return req
		}
	}
	m.posted = append(m.posted, &postedRecv{src: src, tag: tag, buf: buf, req: req})
	m.mu.Unlock()
	return req
}

// recvColl blocks for one collective message from src.
func (m *TCPMesh) recvColl(src int, buf []byte) int {
	st := m.Irecv(buf, src, TagColl).Wait()
	return st.Nbytes
}

// Barrier gathers a token at rank 0 and broadcasts the release.
func (m *TCPMesh) Barrier() {
	var b [1]byte
	if m.rank == 0 {
		tmp := make([]byte, 1)
		for peer := 1; peer < m.size; peer++ {
			m.recvColl(peer, tmp)
		}
		for peer := 1; peer < m.size; peer++ {
			m.Isend(b[:], peer, TagColl).Wait()
		}
	} else {
		m.Isend(b[:], 0, TagColl).Wait()
		m.recvColl(0, b[:])
	}
}

// allreduce runs a gather-combine-broadcast of an 8-byte word.
func (m *TCPMesh) allreduce(x uint64, combine func(a, b uint64) uint64) uint64 {
	var word [8]byte
	if m.rank == 0 {
		acc := x
		tmp := make([]byte, 8)
		for peer := 1; peer < m.size; peer++ {
			m.recvColl(peer, tmp)
			acc = combine(acc, binary.LittleEndian.Uint64(tmp))
		}
		binary.LittleEndian.PutUint64(word[:], acc)
		for peer := 1; peer < m.size; peer++ {
			m.Isend(word[:], peer, TagColl).Wait()
		}
		return acc
	}
	binary.LittleEndian.PutUint64(word[:], x)
	m.Isend(word[:], 0, TagColl).Wait()
	m.recvColl(0, word[:])
	return binary.LittleEndian.Uint64(word[:])
}

func (m *TCPMesh) SumFloat64(x float64) float64 {
	bits := m.allreduceFloat(x, func(a, b float64) float64 { return a + b })
	return bits
}

func (m *TCPMesh) allreduceFloat(x float64, combine func(a, b float64) float64) float64 {
	var word [8]byte
	if m.rank == 0 {
		acc := x
		tmp := make([]byte, 8)
		for peer := 1; peer < m.size; peer++ {
			m.recvColl(peer, tmp)
			acc = combine(acc, math.Float64frombits(binary.LittleEndian.Uint64(tmp)))
		}
		binary.LittleEndian.PutUint64(word[:], math.Float64bits(acc))
		for peer := 1; peer < m.size; peer++ {
			m.Isend(word[:], peer, TagColl).Wait()
		}
		return acc
	}
	binary.LittleEndian.PutUint64(word[:], math.Float64bits(x))
	m.Isend(word[:], 0, TagColl).Wait()
	m.recvColl(0, word[:])
	return math.Float64frombits(binary.LittleEndian.Uint64(word[:]))
}

func (m *TCPMesh) SumUint64(x uint64) uint64 {
	return m.allreduce(x, func(a, b uint64) uint64 { return a + b })
}

func (m *TCPMesh) MaxUint64(x uint64) uint64 {
	return m.allreduce(x, func(a, b uint64) uint64 {
		if a > b {
			return a
		}
		return b
	})
}

func (m *TCPMesh) MinUint64(x uint64) uint64 {
	return m.allreduce(x, func(a, b uint64) uint64 {
		if a < b {
			return a
		}
		return b
	})
}

func (m *TCPMesh) Gather(root int, data []byte) [][]byte {
	if m.rank == root {
		out := make([][]byte, m.size)
		own := make([]byte, len(data))
		copy(own, data)
		out[m.rank] = own
		hdr := make([]byte, 8)
		for peer := 0; peer < m.size; peer++ {
			if peer == root {
				continue
			}
			m.recvColl(peer, hdr)
			n := binary.LittleEndian.Uint64(hdr)
			buf := make([]byte, n)
			if n > 0 {
				m.recvColl(peer, buf)
			}
			out[peer] = buf
		}
		return out
	}
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint64(hdr, uint64(len(data)))
	m.Isend(hdr, root, TagColl).Wait()
	if len(data) > 0 {
		m.Isend(data, root, TagColl).Wait()
	}
	return nil
}

func (m *TCPMesh) Close() error {
	m.mu.Lock()
	m.closed = true
	pending := m.posted
	m.posted = nil
	m.inbox = nil
	m.mu.Unlock()
	for _, p := range pending {
		p.req.complete(Status{Source: -1, Tag: -1, Nbytes: 0})
	}
	if m.ln != nil {
		_ = m.ln.Close()
	}
	for _, l := range m.links {
		if l != nil && l.c != nil {
			_ = l.c.Close()
		}
	}
	return nil
}
