package tensor

import "fmt"

// DType identifies the element kind of a Tensor.
type DType int

const (
	Int8 DType = iota
	Uint8
	Int16
	Int32
	Int64
	Float16
	Float32
	Float64
)

// Valid reports whether d is one of the declared kinds.
func (d DType) Valid() bool {
	return d >= Int8 && d <= Float64
}

// Size returns the width of one element in bytes, or 0 for an unknown kind.
func (d DType) Size() int {
	switch d {
	case Int8, Uint8:
		return 1
	case Int16, Float16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	return 0
}

// IsFloat reports whether d is a floating kind.
func (d DType) IsFloat() bool {
	return d == Float16 || d == Float32 || d == Float64
}

// HostRepresentable reports whether a caller-facing host container may hold
// this kind. Float16 is engine-side only: host results carry it widened to
// Float32.
func (d DType) HostRepresentable() bool {
	return d.Valid() && d != Float16
}

func (d DType) String() string {
	switch d {
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// ParseDType maps a kind name (as produced by String) back to its DType.
func ParseDType(s string) (DType, error) {
	switch s {
	case "int8":
		return Int8, nil
	case "uint8":
		return Uint8, nil
	case "int16":
		return Int16, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	case "float16":
		return Float16, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}
