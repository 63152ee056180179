package tensor

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/x448/float16"
)

// Storer returns a function writing float64 values into dst interpreted as
// kind d. Integer destinations saturate to the kind's bounds and round to
// nearest, half away from zero; floating destinations take a direct cast.
// NaN stores as zero in integer kinds.
func Storer(d DType, dst []byte) (func(i int, v float64), error) {
	if len(dst) == 0 {
		return func(int, float64) {}, nil
	}
	p := unsafe.Pointer(&dst[0])
	switch d {
	case Int8:
		out := unsafe.Slice((*int8)(p), len(dst))
		return func(i int, v float64) { out[i] = int8(clampInt(v, math.MinInt8, math.MaxInt8)) }, nil
	case Uint8:
		out := unsafe.Slice((*uint8)(p), len(dst))
		return func(i int, v float64) { out[i] = uint8(clampInt(v, 0, math.MaxUint8)) }, nil
	case Int16:
		out := unsafe.Slice((*int16)(p), len(dst)/2)
		return func(i int, v float64) { out[i] = int16(clampInt(v, math.MinInt16, math.MaxInt16)) }, nil
	case Int32:
		out := unsafe.Slice((*int32)(p), len(dst)/4)
		return func(i int, v float64) { out[i] = int32(clampInt(v, math.MinInt32, math.MaxInt32)) }, nil
	case Int64:
		out := unsafe.Slice((*int64)(p), len(dst)/8)
		return func(i int, v float64) { out[i] = clampInt(v, math.MinInt64, math.MaxInt64) }, nil
	case Float16:
		out := unsafe.Slice((*uint16)(p), len(dst)/2)
		return func(i int, v float64) { out[i] = float16.Fromfloat32(float32(v)).Bits() }, nil
	case Float32:
		out := unsafe.Slice((*float32)(p), len(dst)/4)
		return func(i int, v float64) { out[i] = float32(v) }, nil
	case Float64:
		out := unsafe.Slice((*float64)(p), len(dst)/8)
		return func(i int, v float64) { out[i] = v }, nil
	}
	return nil, fmt.Errorf("store: unknown dtype %v", d)
}

// clampInt rounds to nearest and saturates into [lo, hi]. The comparisons
// run in float64: float64(MaxInt64) rounds up to exactly 2^63, so the >=
// branch catches every value the destination cannot represent.
func clampInt(v float64, lo, hi int64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v <= float64(lo) {
		return lo
	}
	if v >= float64(hi) {
		return hi
	}
	return int64(v)
}

// Convert returns t in kind to. Floating conversions are direct casts;
// conversions into integer kinds saturate and round rather than wrap.
// Converting to the tensor's own kind returns the receiver.
func Convert(t *Tensor, to DType) (*Tensor, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("convert: %v", to)
	}
	if t.dtype == to {
		return t, nil
	}
	out, err := New(to, t.shape, t.loc)
	if err != nil {
		return nil, err
	}
	store, err := Storer(to, out.data)
	if err != nil {
		return nil, err
	}
	for i, n := 0, t.Elements(); i < n; i++ {
		store(i, t.ValueAt(i))
	}
	return out, nil
}
