package tensor

import "testing"

func TestDTypeSize(t *testing.T) {
	tests := []struct {
		d    DType
		size int
	}{
		{Int8, 1},
		{Uint8, 1},
		{Int16, 2},
		{Float16, 2},
		{Int32, 4},
		{Float32, 4},
		{Int64, 8},
		{Float64, 8},
		{DType(42), 0},
	}
	for _, tt := range tests {
		if got := tt.d.Size(); got != tt.size {
			t.Errorf("%v.Size() = %d, want %d", tt.d, got, tt.size)
		}
	}
}

func TestParseDType(t *testing.T) {
	for d := Int8; d <= Float64; d++ {
		got, err := ParseDType(d.String())
		if err != nil {
			t.Fatalf("ParseDType(%q): %v", d.String(), err)
		}
		if got != d {
			t.Errorf("ParseDType(%q) = %v, want %v", d.String(), got, d)
		}
	}
	if _, err := ParseDType("complex128"); err == nil {
		t.Errorf("ParseDType accepted an unknown kind")
	}
}

func TestHostRepresentable(t *testing.T) {
	if Float16.HostRepresentable() {
		t.Errorf("float16 must not be a host kind")
	}
	for _, d := range []DType{Int8, Uint8, Int16, Int32, Int64, Float32, Float64} {
		if !d.HostRepresentable() {
			t.Errorf("%v should be a host kind", d)
		}
	}
}
