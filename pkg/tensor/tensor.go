package tensor

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Elem is the set of coefficient element types the engine supports.
// The set is closed (no ~ approximation): the serialization layer and
// the scalar helpers dispatch on the concrete type.
type Elem interface {
	float64 | complex128
}

// Tensor is a dense N-dimensional array in row-major order. The zero
// value is the empty tensor.
type Tensor[T Elem] struct {
	dims    []int
	strides []int
	data    []T
}

// New allocates a zeroed tensor with the given shape.
func New[T Elem](dims ...int) Tensor[T] {
	size := 1
	for _, d := range dims {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension %d", d))
		}
		size *= d
	}
	t := Tensor[T]{
		dims: append([]int(nil), dims...),
		data: make([]T, size),
	}
	t.strides = rowMajorStrides(t.dims)
	return t
}

// FromSlice wraps data in a tensor of the given shape without copying.
func FromSlice[T Elem](data []T, dims ...int) Tensor[T] {
	size := 1
	for _, d := range dims {
		size *= d
	}
	if size != len(data) {
		panic(fmt.Sprintf("tensor: shape %v does not match %d elements", dims, len(data)))
	}
	t := Tensor[T]{dims: append([]int(nil), dims...), data: data}
	t.strides = rowMajorStrides(t.dims)
	return t
}

func rowMajorStrides(dims []int) []int {
	strides := make([]int, len(dims))
	acc := 1
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= dims[i]
	}
	return strides
}

// IsEmpty reports whether the tensor holds no elements.
func (t Tensor[T]) IsEmpty() bool { return len(t.data) == 0 }

// NDim returns the number of dimensions.
func (t Tensor[T]) NDim() int { return len(t.dims) }

// Dim returns the extent of dimension i.
func (t Tensor[T]) Dim(i int) int { return t.dims[i] }

// Dims returns a copy of the shape.
func (t Tensor[T]) Dims() []int { return append([]int(nil), t.dims...) }

// Size returns the total number of elements.
func (t Tensor[T]) Size() int { return len(t.data) }

// Data exposes the backing slice (row-major).
func (t Tensor[T]) Data() []T { return t.data }

func (t Tensor[T]) offset(idx []int) int {
	if len(idx) != len(t.dims) {
		panic(fmt.Sprintf("tensor: index rank %d vs shape %v", len(idx), t.dims))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.dims[i] {
			panic(fmt.Sprintf("tensor: index %v out of shape %v", idx, t.dims))
		}
		off += x * t.strides[i]
	}
	return off
}

// At returns the element at idx.
func (t Tensor[T]) At(idx ...int) T { return t.data[t.offset(idx)] }

// SetAt assigns the element at idx.
func (t Tensor[T]) SetAt(v T, idx ...int) { t.data[t.offset(idx)] = v }

// Copy returns a deep copy.
func (t Tensor[T]) Copy() Tensor[T] {
	if t.IsEmpty() {
		return Tensor[T]{}
	}
	out := New[T](t.dims...)
	copy(out.data, t.data)
	return out
}

// Fill sets every element to v.
func (t Tensor[T]) Fill(v T) {
	for i := range t.data {
		t.data[i] = v
	}
}

// Scale multiplies every element by a in place and returns t.
func (t Tensor[T]) Scale(a T) Tensor[T] {
	for i := range t.data {
		t.data[i] *= a
	}
	return t
}

// ScaleFloat multiplies every element by the real scalar s in place
// and returns t.
func (t Tensor[T]) ScaleFloat(s float64) Tensor[T] {
	for i := range t.data {
		t.data[i] = scaleElem(t.data[i], s)
	}
	return t
}

// Gaxpy sets t = alpha*t + beta*other elementwise. Shapes must match.
func (t Tensor[T]) Gaxpy(alpha T, other Tensor[T], beta T) Tensor[T] {
	if t.Size() != other.Size() {
		panic(fmt.Sprintf("tensor: gaxpy shape mismatch %v vs %v", t.dims, other.dims))
	}
	for i := range t.data {
		t.data[i] = alpha*t.data[i] + beta*other.data[i]
	}
	return t
}

// Add accumulates other into t elementwise.
func (t Tensor[T]) Add(other Tensor[T]) Tensor[T] {
	return t.Gaxpy(1, other, 1)
}

// Mul returns the elementwise product of a and b.
func Mul[T Elem](a, b Tensor[T]) Tensor[T] {
	if a.Size() != b.Size() {
		panic(fmt.Sprintf("tensor: mul shape mismatch %v vs %v", a.dims, b.dims))
	}
	out := New[T](a.dims...)
	for i := range out.data {
		out.data[i] = a.data[i] * b.data[i]
	}
	return out
}

// NormF returns the Frobenius norm.
func (t Tensor[T]) NormF() float64 {
	var sum float64
	for _, v := range t.data {
		sum += absSq(v)
	}
	return math.Sqrt(sum)
}

// TraceConj returns sum_i t_i * conj(other_i).
func (t Tensor[T]) TraceConj(other Tensor[T]) T {
	if t.Size() != other.Size() {
		panic(fmt.Sprintf("tensor: trace shape mismatch %v vs %v", t.dims, other.dims))
	}
	var sum T
	for i := range t.data {
		sum += t.data[i] * conj(other.data[i])
	}
	return sum
}

// SliceCopy extracts the block starting at lo with the given shape.
func (t Tensor[T]) SliceCopy(lo, shape []int) Tensor[T] {
	out := New[T](shape...)
	idx := make([]int, len(shape))
	src := make([]int, len(shape))
	for i := 0; ; i++ {
		for d := range idx {
			src[d] = lo[d] + idx[d]
		}
		out.data[i] = t.data[t.offset(src)]
		if !increment(idx, shape) {
			break
		}
	}
	return out
}

// SetSlice assigns src into the block of t starting at lo.
func (t Tensor[T]) SetSlice(lo []int, src Tensor[T]) {
	idx := make([]int, src.NDim())
	dst := make([]int, src.NDim())
	for i := 0; ; i++ {
		for d := range idx {
			dst[d] = lo[d] + idx[d]
		}
		t.data[t.offset(dst)] = src.data[i]
		if !increment(idx, src.dims) {
			break
		}
	}
}

// FillSlice sets the block starting at lo with the given shape to v.
func (t Tensor[T]) FillSlice(lo, shape []int, v T) {
	idx := make([]int, len(shape))
	dst := make([]int, len(shape))
	for {
		for d := range idx {
			dst[d] = lo[d] + idx[d]
		}
		t.data[t.offset(dst)] = v
		if !increment(idx, shape) {
			break
		}
	}
}

// increment advances a multi-index through shape in row-major order,
// returning false after the last index.
func increment(idx, shape []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < shape[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}

// scaleElem multiplies a coefficient by a real scalar.
func scaleElem[T Elem](v T, s float64) T {
	switch x := any(v).(type) {
	case float64:
		return any(x * s).(T)
	case complex128:
		return any(x * complex(s, 0)).(T)
	default:
		panic("tensor: unsupported element type")
	}
}

// absSq returns |v|^2.
func absSq[T Elem](v T) float64 {
	switch x := any(v).(type) {
	case float64:
		return x * x
	case complex128:
		re, im := real(x), imag(x)
		return re*re + im*im
	default:
		panic("tensor: unsupported element type")
	}
}

// conj returns the complex conjugate (identity for float64).
func conj[T Elem](v T) T {
	switch x := any(v).(type) {
	case complex128:
		return any(cmplx.Conj(x)).(T)
	default:
		return v
	}
}

// FromReal converts a real scalar to the element type.
func FromReal[T Elem](s float64) T {
	var zero T
	switch any(zero).(type) {
	case complex128:
		return any(complex(s, 0)).(T)
	default:
		return any(s).(T)
	}
}
