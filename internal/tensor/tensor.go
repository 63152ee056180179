package tensor

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"

	"github.com/23skdu/longbow-bodkin/internal/device"
)

// Shape holds the dimension sizes of a Tensor, outermost first. Dimension 0
// is the batch axis and is always 1 in this pipeline.
type Shape [Dims]int

// Elements returns the total element count.
func (s Shape) Elements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%dx%d", s[0], s[1], s[2], s[3])
}

// Tensor is an immutable dense value: element kind, four dimensions stored
// row-major and contiguous, a device location tag, and the backing bytes.
// Operations return fresh tensors; nothing mutates a tensor in place.
type Tensor struct {
	dtype DType
	shape Shape
	loc   device.Location
	data  []byte
}

// New allocates a zeroed tensor.
func New(dtype DType, shape Shape, loc device.Location) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("new tensor: %v", dtype)
	}
	for i, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("new tensor: dimension %d is %d", i, d)
		}
	}
	return &Tensor{
		dtype: dtype,
		shape: shape,
		loc:   loc,
		data:  make([]byte, shape.Elements()*dtype.Size()),
	}, nil
}

// FromBytes wraps existing backing bytes without copying. The data length
// must match the shape and kind exactly.
func FromBytes(dtype DType, shape Shape, loc device.Location, data []byte) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("new tensor: %v", dtype)
	}
	for i, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("new tensor: dimension %d is %d", i, d)
		}
	}
	if want := shape.Elements() * dtype.Size(); len(data) != want {
		return nil, fmt.Errorf("tensor %v %v: have %d bytes, want %d", dtype, shape, len(data), want)
	}
	return &Tensor{dtype: dtype, shape: shape, loc: loc, data: data}, nil
}

func (t *Tensor) Dtype() DType              { return t.dtype }
func (t *Tensor) Shape() Shape              { return t.shape }
func (t *Tensor) Dim(i int) int             { return t.shape[i] }
func (t *Tensor) Location() device.Location { return t.loc }
func (t *Tensor) Bytes() []byte             { return t.data }
func (t *Tensor) Elements() int             { return t.shape.Elements() }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]byte, len(t.data))
	copy(data, t.data)
	return &Tensor{dtype: t.dtype, shape: t.shape, loc: t.loc, data: data}
}

// ToHost returns the tensor tagged host resident, copying the backing
// bytes out of any device-owned view.
func (t *Tensor) ToHost() *Tensor {
	if t.loc == device.Host {
		return t
	}
	c := t.Clone()
	c.loc = device.Host
	return c
}

func (t *Tensor) view(want DType) unsafe.Pointer {
	if t.dtype != want {
		panic(fmt.Sprintf("tensor view: %v data accessed as %v", t.dtype, want))
	}
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Pointer(&t.data[0])
}

// Int8s reinterprets the backing bytes. Panics if the kind does not match.
func (t *Tensor) Int8s() []int8 {
	return unsafe.Slice((*int8)(t.view(Int8)), t.Elements())
}

func (t *Tensor) Uint8s() []uint8 {
	return unsafe.Slice((*uint8)(t.view(Uint8)), t.Elements())
}

func (t *Tensor) Int16s() []int16 {
	return unsafe.Slice((*int16)(t.view(Int16)), t.Elements())
}

func (t *Tensor) Int32s() []int32 {
	return unsafe.Slice((*int32)(t.view(Int32)), t.Elements())
}

func (t *Tensor) Int64s() []int64 {
	return unsafe.Slice((*int64)(t.view(Int64)), t.Elements())
}

// Float16s exposes raw half-precision bit patterns; decode with the float16
// package.
func (t *Tensor) Float16s() []uint16 {
	return unsafe.Slice((*uint16)(t.view(Float16)), t.Elements())
}

func (t *Tensor) Float32s() []float32 {
	return unsafe.Slice((*float32)(t.view(Float32)), t.Elements())
}

func (t *Tensor) Float64s() []float64 {
	return unsafe.Slice((*float64)(t.view(Float64)), t.Elements())
}

// ValueAt reads flat element i widened to float64, whatever the kind.
func (t *Tensor) ValueAt(i int) float64 {
	switch t.dtype {
	case Int8:
		return float64(t.Int8s()[i])
	case Uint8:
		return float64(t.Uint8s()[i])
	case Int16:
		return float64(t.Int16s()[i])
	case Int32:
		return float64(t.Int32s()[i])
	case Int64:
		return float64(t.Int64s()[i])
	case Float16:
		return float64(float16.Frombits(t.Float16s()[i]).Float32())
	case Float32:
		return float64(t.Float32s()[i])
	case Float64:
		return t.Float64s()[i]
	}
	panic(fmt.Sprintf("tensor value: %v", t.dtype))
}

// Slice copies the subrange [start, start+length) along one dimension into
// a fresh contiguous tensor.
func (t *Tensor) Slice(dim, start, length int) (*Tensor, error) {
	if dim < 0 || dim >= Dims {
		return nil, fmt.Errorf("slice: dimension %d out of range", dim)
	}
	if start < 0 || length <= 0 || start+length > t.shape[dim] {
		return nil, fmt.Errorf("slice: [%d, %d) outside dimension %d of size %d",
			start, start+length, dim, t.shape[dim])
	}
	outShape := t.shape
	outShape[dim] = length
	out, err := New(t.dtype, outShape, t.loc)
	if err != nil {
		return nil, err
	}
	inner := t.dtype.Size()
	for d := dim + 1; d < Dims; d++ {
		inner *= t.shape[d]
	}
	outer := 1
	for d := 0; d < dim; d++ {
		outer *= t.shape[d]
	}
	srcBlock := t.shape[dim] * inner
	dstBlock := length * inner
	for o := 0; o < outer; o++ {
		src := o*srcBlock + start*inner
		copy(out.data[o*dstBlock:(o+1)*dstBlock], t.data[src:src+dstBlock])
	}
	return out, nil
}

// Permute materializes the axis rearrangement where output dimension i takes
// input dimension perm[i].
func (t *Tensor) Permute(perm [Dims]int) (*Tensor, error) {
	var seen [Dims]bool
	for _, p := range perm {
		if p < 0 || p >= Dims || seen[p] {
			return nil, fmt.Errorf("permute: %v is not a permutation", perm)
		}
		seen[p] = true
	}
	var outShape Shape
	for i, p := range perm {
		outShape[i] = t.shape[p]
	}
	out, err := New(t.dtype, outShape, t.loc)
	if err != nil {
		return nil, err
	}
	es := t.dtype.Size()
	str := t.shape.strides()
	di := 0
	for a := 0; a < outShape[0]; a++ {
		for b := 0; b < outShape[1]; b++ {
			for c := 0; c < outShape[2]; c++ {
				for d := 0; d < outShape[3]; d++ {
					oc := [Dims]int{a, b, c, d}
					si := 0
					for i, p := range perm {
						si += oc[i] * str[p]
					}
					copy(out.data[di*es:(di+1)*es], t.data[si*es:(si+1)*es])
					di++
				}
			}
		}
	}
	return out, nil
}

// ChangeLayout permutes the tensor from one axis ordering to another.
func (t *Tensor) ChangeLayout(from, to Layout) (*Tensor, error) {
	perm, err := Permutation(from, to)
	if err != nil {
		return nil, err
	}
	if perm == [Dims]int{0, 1, 2, 3} {
		return t, nil
	}
	return t.Permute(perm)
}

// strides returns per-dimension element strides for row-major storage.
func (s Shape) strides() [Dims]int {
	var str [Dims]int
	str[Dims-1] = 1
	for i := Dims - 2; i >= 0; i-- {
		str[i] = str[i+1] * s[i+1]
	}
	return str
}
