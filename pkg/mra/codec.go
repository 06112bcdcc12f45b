package mra

import (
	"encoding/binary"
	"math"

	"github.com/mrakit/mrakit/pkg/tensor"
)

// wbuf is a little-endian append-only writer for method arguments and
// serialized nodes.
type wbuf struct{ b []byte }

func (w *wbuf) u8(v uint8)   { w.b = append(w.b, v) }
func (w *wbuf) u16(v uint16) { w.b = binary.LittleEndian.AppendUint16(w.b, v) }
func (w *wbuf) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *wbuf) u64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }
func (w *wbuf) i64(v int64)  { w.u64(uint64(v)) }
func (w *wbuf) f64(v float64) {
	w.u64(math.Float64bits(v))
}
func (w *wbuf) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *wbuf) key(k Key) {
	w.i64(int64(k.n))
	w.u8(uint8(k.d))
	for i := 0; i < k.d; i++ {
		w.i64(k.l[i])
	}
}

// putElem writes one coefficient.
func putElem[T tensor.Elem](w *wbuf, v T) {
	switch x := any(v).(type) {
	case float64:
		w.f64(x)
	case complex128:
		w.f64(real(x))
		w.f64(imag(x))
	}
}

// putTensor writes a tensor: rank, dims, elements. The empty tensor
// writes rank 0xff.
func putTensor[T tensor.Elem](w *wbuf, t tensor.Tensor[T]) {
	if t.IsEmpty() && t.NDim() == 0 {
		w.u8(0xff)
		return
	}
	w.u8(uint8(t.NDim()))
	for i := 0; i < t.NDim(); i++ {
		w.u32(uint32(t.Dim(i)))
	}
	for _, v := range t.Data() {
		putElem(w, v)
	}
}

// rbuf is the matching reader.
type rbuf struct {
	b   []byte
	off int
}

func (r *rbuf) u8() uint8 {
	v := r.b[r.off]
	r.off++
	return v
}

func (r *rbuf) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *rbuf) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *rbuf) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *rbuf) i64() int64    { return int64(r.u64()) }
func (r *rbuf) f64() float64  { return math.Float64frombits(r.u64()) }
func (r *rbuf) boolean() bool { return r.u8() != 0 }

func (r *rbuf) key() Key {
	n := Level(r.i64())
	d := int(r.u8())
	k := Key{n: n, d: d}
	for i := 0; i < d; i++ {
		k.l[i] = r.i64()
	}
	return k
}

func getElem[T tensor.Elem](r *rbuf) T {
	var zero T
	switch any(zero).(type) {
	case complex128:
		re := r.f64()
		im := r.f64()
		return any(complex(re, im)).(T)
	default:
		return any(r.f64()).(T)
	}
}

func getTensor[T tensor.Elem](r *rbuf) tensor.Tensor[T] {
	rank := r.u8()
	if rank == 0xff {
		return tensor.Tensor[T]{}
	}
	dims := make([]int, rank)
	size := 1
	for i := range dims {
		dims[i] = int(r.u32())
		size *= dims[i]
	}
	data := make([]T, size)
	for i := range data {
		data[i] = getElem[T](r)
	}
	return tensor.FromSlice(data, dims...)
}

// treeCodec serializes keys and nodes for the distributed container.
type treeCodec[T tensor.Elem] struct{}

func (treeCodec[T]) EncodeKey(k Key) []byte {
	var w wbuf
	w.key(k)
	return w.b
}

func (treeCodec[T]) DecodeKey(b []byte) Key {
	r := rbuf{b: b}
	return r.key()
}

func (treeCodec[T]) EncodeValue(n Node[T]) []byte {
	var w wbuf
	w.boolean(n.HasChildren)
	w.f64(n.NormTree)
	putTensor(&w, n.Coeff)
	return w.b
}

func (treeCodec[T]) DecodeValue(b []byte) Node[T] {
	r := rbuf{b: b}
	n := Node[T]{}
	n.HasChildren = r.boolean()
	n.NormTree = r.f64()
	n.Coeff = getTensor[T](&r)
	return n
}

// float64Codec serializes the apply-time table entries.
type float64Codec struct{}

func (float64Codec) EncodeKey(k Key) []byte { return treeCodec[float64]{}.EncodeKey(k) }
func (float64Codec) DecodeKey(b []byte) Key { return treeCodec[float64]{}.DecodeKey(b) }
func (float64Codec) EncodeValue(v float64) []byte {
	var w wbuf
	w.f64(v)
	return w.b
}
func (float64Codec) DecodeValue(b []byte) float64 {
	r := rbuf{b: b}
	return r.f64()
}
