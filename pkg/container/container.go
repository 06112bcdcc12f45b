package container

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mrakit/mrakit/pkg/rml"
	"github.com/mrakit/mrakit/pkg/sched"
	"github.com/mrakit/mrakit/pkg/world"
)

// PMap decides which rank owns a key. Implementations must be pure
// functions of the key so every rank computes the same owner.
type PMap[K comparable] interface {
	Owner(key K) int
}

// Codec serializes keys and values for the wire.
type Codec[K comparable, V any] interface {
	EncodeKey(K) []byte
	DecodeKey([]byte) K
	EncodeValue(V) []byte
	DecodeValue([]byte) V
}

// MethodID identifies a registered container method. Built-in methods
// occupy the low ids; user methods must be registered in the same
// order on every rank.
type MethodID uint16

const (
	methodFind MethodID = iota
	methodReplace
	methodErase
	methodUserBase
)

// Method is a container method. It runs on the owner of key holding
// no container locks of its own; use Update for write access to the
// value. For Task calls reply must be invoked exactly once with the
// encoded result (possibly after further asynchronous work — methods
// never block on unready futures); for Send calls reply is nil.
type Method[K comparable, V any] func(c *Container[K, V], src int, key K, args []byte, reply func([]byte))

// FindResult is the payload of Find.
type FindResult[V any] struct {
	Value V
	OK    bool
}

const nbuckets = 64

type bucket[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]V
}

// Container is a hash table sharded across ranks by a process map.
// Remote operations travel as active messages through the world hub;
// one-way Sends are per-destination FIFO when issued ordered.
type Container[K comparable, V any] struct {
	w     *world.World
	id    world.ObjID
	pmap  PMap[K]
	codec Codec[K, V]

	buckets [nbuckets]bucket[K, V]
	hash    func(K) uint64

	methodMu sync.Mutex
	methods  []Method[K, V]
}

// New creates a container collectively. Every rank must call New in
// the same order with an equivalent pmap. Call ProcessPending once
// local construction is complete.
func New[K comparable, V any](w *world.World, pmap PMap[K], codec Codec[K, V], hash func(K) uint64) *Container[K, V] {
	c := &Container[K, V]{w: w, pmap: pmap, codec: codec, hash: hash}
	for i := range c.buckets {
		c.buckets[i].m = make(map[K]V)
	}
	c.id = w.RegisterObject(c)
	w.Hub().Attach(c.id, c)
	return c
}

// ProcessPending releases messages that arrived before this rank
// finished constructing the container.
func (c *Container[K, V]) ProcessPending() { c.w.Hub().ProcessPending(c.id) }

// Detach removes the container from the hub and the registry.
func (c *Container[K, V]) Detach() {
	c.w.Hub().Detach(c.id)
	c.w.DeregisterObject(c.id)
}

// World returns the world this container lives in.
func (c *Container[K, V]) World() *world.World { return c.w }

// ID returns the container's world object id.
func (c *Container[K, V]) ID() world.ObjID { return c.id }

// PMapRef returns the process map (for equality checks by algorithms
// that require co-located operands).
func (c *Container[K, V]) PMapRef() PMap[K] { return c.pmap }

// Owner returns the rank owning key.
func (c *Container[K, V]) Owner(key K) int { return c.pmap.Owner(key) }

// RegisterMethod adds a user method and returns its id. Must be called
// in the same order on every rank before any traffic uses the id.
func (c *Container[K, V]) RegisterMethod(m Method[K, V]) MethodID {
	c.methodMu.Lock()
	defer c.methodMu.Unlock()
	c.methods = append(c.methods, m)
	return methodUserBase + MethodID(len(c.methods)-1)
}

func (c *Container[K, V]) method(id MethodID) Method[K, V] {
	c.methodMu.Lock()
	defer c.methodMu.Unlock()
	if id < methodUserBase || int(id-methodUserBase) >= len(c.methods) {
		panic(fmt.Sprintf("container: unknown method %d", id))
	}
	return c.methods[id-methodUserBase]
}

func (c *Container[K, V]) bucketFor(key K) *bucket[K, V] {
	return &c.buckets[c.hash(key)%nbuckets]
}

// Replace stores value unconditionally on the owner.
func (c *Container[K, V]) Replace(key K, value V) {
	owner := c.pmap.Owner(key)
	if owner == c.w.Rank() {
		b := c.bucketFor(key)
		b.mu.Lock()
		b.m[key] = value
		b.mu.Unlock()
		return
	}
	body := encodeCall(uint16(methodReplace), c.codec.EncodeKey(key), c.codec.EncodeValue(value))
	c.w.Hub().Send(owner, c.id, rml.AttrOrdered, body)
}

// Erase removes the entry on key's owner, wherever it lives.
func (c *Container[K, V]) Erase(key K) {
	owner := c.pmap.Owner(key)
	if owner == c.w.Rank() {
		c.Delete(key)
		return
	}
	body := encodeCall(uint16(methodErase), c.codec.EncodeKey(key), nil)
	c.w.Hub().Send(owner, c.id, rml.AttrOrdered, body)
}

// Get returns the local value for key. The key must be owned locally.
func (c *Container[K, V]) Get(key K) (V, bool) {
	b := c.bucketFor(key)
	b.mu.Lock()
	v, ok := b.m[key]
	b.mu.Unlock()
	return v, ok
}

// Delete removes a locally owned key.
func (c *Container[K, V]) Delete(key K) {
	b := c.bucketFor(key)
	b.mu.Lock()
	delete(b.m, key)
	b.mu.Unlock()
}

// Update gives fn exclusive write access to the value under key,
// creating it from the zero value if absent. fn returns the value to
// store, or keep=false to delete the entry. The key must be owned
// locally; this is the accessor that accumulate-style merges use to
// avoid torn tensors.
func (c *Container[K, V]) Update(key K, fn func(v V, exists bool) (V, bool)) {
	if c.pmap.Owner(key) != c.w.Rank() {
		panic("container: Update on a remotely owned key")
	}
	b := c.bucketFor(key)
	b.mu.Lock()
	v, ok := b.m[key]
	nv, keep := fn(v, ok)
	if keep {
		b.m[key] = nv
	} else if ok {
		delete(b.m, key)
	}
	b.mu.Unlock()
}

// Send issues a fire-and-forget method call on key's owner. Local
// calls run synchronously on the caller; remote calls travel as an
// ordered active message and run inline on the receiver's I/O
// goroutine, preserving per-destination FIFO.
func (c *Container[K, V]) Send(key K, m MethodID, args []byte) {
	owner := c.pmap.Owner(key)
	if owner == c.w.Rank() {
		c.method(m)(c, c.w.Rank(), key, args, nil)
		return
	}
	body := encodeCall(uint16(m), c.codec.EncodeKey(key), args)
	c.w.Hub().Send(owner, c.id, rml.AttrOrdered, body)
}

// Task schedules a method call on key's owner and returns a future
// for its encoded return value.
func (c *Container[K, V]) Task(key K, m MethodID, args []byte, pri sched.Priority) *sched.Future[[]byte] {
	owner := c.pmap.Owner(key)
	fut := sched.NewFuture[[]byte]()
	if owner == c.w.Rank() {
		c.w.Pool().Submit(pri, func() {
			c.method(m)(c, c.w.Rank(), key, args, func(res []byte) { fut.Set(res) })
		})
		return fut
	}
	body := encodeCall(uint16(m), c.codec.EncodeKey(key), args)
	c.w.Hub().Task(owner, c.id, rml.AttrOrdered, body, func(res []byte) { fut.Set(res) })
	return fut
}

// Find returns a future of the value under key, local or remote.
func (c *Container[K, V]) Find(key K) *sched.Future[FindResult[V]] {
	owner := c.pmap.Owner(key)
	fut := sched.NewFuture[FindResult[V]]()
	if owner == c.w.Rank() {
		v, ok := c.Get(key)
		fut.Set(FindResult[V]{Value: v, OK: ok})
		return fut
	}
	body := encodeCall(uint16(methodFind), c.codec.EncodeKey(key), nil)
	c.w.Hub().Task(owner, c.id, rml.AttrOrdered, body, func(res []byte) {
		if len(res) == 0 {
			var zero V
			fut.Set(FindResult[V]{Value: zero, OK: false})
			return
		}
		fut.Set(FindResult[V]{Value: c.codec.DecodeValue(res), OK: true})
	})
	return fut
}

// IterLocal visits every locally stored pair. The iteration holds one
// bucket lock at a time; fn must not call back into the same bucket.
func (c *Container[K, V]) IterLocal(fn func(key K, value V) bool) {
	for i := range c.buckets {
		b := &c.buckets[i]
		b.mu.Lock()
		for k, v := range b.m {
			if !fn(k, v) {
				b.mu.Unlock()
				return
			}
		}
		b.mu.Unlock()
	}
}

// LocalKeys snapshots the locally stored keys.
func (c *Container[K, V]) LocalKeys() []K {
	var keys []K
	c.IterLocal(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// LocalLen returns the number of locally stored pairs.
func (c *Container[K, V]) LocalLen() int {
	n := 0
	for i := range c.buckets {
		b := &c.buckets[i]
		b.mu.Lock()
		n += len(b.m)
		b.mu.Unlock()
	}
	return n
}

// Clear removes every locally stored pair.
func (c *Container[K, V]) Clear() {
	for i := range c.buckets {
		b := &c.buckets[i]
		b.mu.Lock()
		b.m = make(map[K]V)
		b.mu.Unlock()
	}
}

// HandleSend implements world.AMTarget.
func (c *Container[K, V]) HandleSend(src int, body []byte) {
	m, keyBytes, args := decodeCall(body)
	key := c.codec.DecodeKey(keyBytes)
	switch MethodID(m) {
	case methodReplace:
		b := c.bucketFor(key)
		b.mu.Lock()
		b.m[key] = c.codec.DecodeValue(args)
		b.mu.Unlock()
	case methodErase:
		c.Delete(key)
	default:
		c.method(MethodID(m))(c, src, key, args, nil)
	}
}

// HandleTask implements world.AMTarget.
func (c *Container[K, V]) HandleTask(src int, body []byte, reply func([]byte)) {
	m, keyBytes, args := decodeCall(body)
	key := c.codec.DecodeKey(keyBytes)
	if MethodID(m) == methodFind {
		v, ok := c.Get(key)
		if !ok {
			reply(nil)
			return
		}
		reply(c.codec.EncodeValue(v))
		return
	}
	c.w.Pool().Submit(sched.High, func() {
		c.method(MethodID(m))(c, src, key, args, reply)
	})
}

// encodeCall packs [method u16][keyLen u16][key][args].
func encodeCall(method uint16, key, args []byte) []byte {
	buf := make([]byte, 4+len(key)+len(args))
	binary.LittleEndian.PutUint16(buf[0:2], method)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(key)))
	copy(buf[4:], key)
	copy(buf[4+len(key):], args)
	return buf
}

func decodeCall(body []byte) (method uint16, key, args []byte) {
	method = binary.LittleEndian.Uint16(body[0:2])
	klen := int(binary.LittleEndian.Uint16(body[2:4]))
	return method, body[4 : 4+klen], body[4+klen:]
}
