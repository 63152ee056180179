package patch

import (
	"testing"
)

func collect(t *testing.T, total, size, overlap int) []Patch {
	t.Helper()
	plan, err := NewPlan(total, size, overlap)
	if err != nil {
		t.Fatalf("NewPlan(%d, %d, %d): %v", total, size, overlap, err)
	}
	var out []Patch
	for p := range plan.Patches() {
		out = append(out, p)
	}
	return out
}

func TestPlanValidation(t *testing.T) {
	tests := []struct {
		name                 string
		total, size, overlap int
		ok                   bool
	}{
		{"good", 100, 40, 4, true},
		{"no patching", 100, 0, 50, true},
		{"zero total", 0, 40, 4, false},
		{"negative overlap", 100, 40, -1, false},
		{"negative size", 100, -40, 4, false},
		{"size equals twice overlap", 100, 8, 4, false},
		{"size one above twice overlap", 100, 9, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(tt.total, tt.size, tt.overlap)
			if tt.ok && err != nil {
				t.Errorf("NewPlan = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Errorf("NewPlan accepted invalid geometry")
			}
		})
	}
}

func TestPlanExactCover(t *testing.T) {
	// Valid regions must partition [0, total) in order with no gap or
	// overlap, for a spread of geometries.
	tests := []struct {
		total, size, overlap int
	}{
		{100, 40, 4},
		{10, 4, 1},
		{1000, 128, 16},
		{7, 100, 10},
		{5, 5, 2},
		{97, 13, 3},
		{64, 9, 4},
		{3, 3, 1},
		{2, 0, 0},
	}
	for _, tt := range tests {
		patches := collect(t, tt.total, tt.size, tt.overlap)
		cursor := 0
		for i, p := range patches {
			if p.ValidStart != cursor {
				t.Errorf("(%d,%d,%d) patch %d: valid start %d, cursor %d",
					tt.total, tt.size, tt.overlap, i, p.ValidStart, cursor)
			}
			if p.Valid <= 0 {
				t.Errorf("(%d,%d,%d) patch %d: valid length %d",
					tt.total, tt.size, tt.overlap, i, p.Valid)
			}
			if p.Start < 0 || p.Start+p.Size > tt.total {
				t.Errorf("(%d,%d,%d) patch %d: slice [%d, %d) outside axis",
					tt.total, tt.size, tt.overlap, i, p.Start, p.Start+p.Size)
			}
			if p.ValidStart < p.Start || p.ValidStart+p.Valid > p.Start+p.Size {
				t.Errorf("(%d,%d,%d) patch %d: valid region escapes the slice",
					tt.total, tt.size, tt.overlap, i)
			}
			cursor += p.Valid
		}
		if cursor != tt.total {
			t.Errorf("(%d,%d,%d): valid lengths sum to %d, want %d",
				tt.total, tt.size, tt.overlap, cursor, tt.total)
		}
	}
}

func TestPlanSinglePatch(t *testing.T) {
	// Axis fits in one patch: nothing is trimmed
	patches := collect(t, 30, 40, 4)
	if len(patches) != 1 {
		t.Fatalf("got %d patches, want 1", len(patches))
	}
	p := patches[0]
	if p.Start != 0 || p.Size != 30 || p.Valid != 30 || p.ValidStart != 0 {
		t.Errorf("patch = %+v, want untrimmed full axis", p)
	}
}

func TestPlanNoPatching(t *testing.T) {
	// Zero patch size disables patching whatever the overlap
	patches := collect(t, 100, 0, 64)
	if len(patches) != 1 {
		t.Fatalf("got %d patches, want 1", len(patches))
	}
	p := patches[0]
	if p.Start != 0 || p.Size != 100 || p.Valid != 100 {
		t.Errorf("patch = %+v, want untrimmed full axis", p)
	}
}

func TestPlanReferenceSequence(t *testing.T) {
	want := []Patch{
		{Start: 0, Size: 40, Valid: 36, ValidStart: 0},
		{Start: 32, Size: 40, Valid: 32, ValidStart: 36},
		{Start: 64, Size: 36, Valid: 32, ValidStart: 68},
	}
	patches := collect(t, 100, 40, 4)
	if len(patches) != len(want) {
		t.Fatalf("got %d patches, want %d: %+v", len(patches), len(want), patches)
	}
	for i, p := range patches {
		if p != want[i] {
			t.Errorf("patch %d = %+v, want %+v", i, p, want[i])
		}
	}
}

func TestPlanNoNegativeStart(t *testing.T) {
	// The last and middle branches derive Start from the valid cursor minus
	// the overlap; the first patch always leaves the cursor beyond the
	// overlap, so Start can never go negative. Sweep to be sure.
	for total := 1; total <= 60; total++ {
		for size := 3; size <= 20; size++ {
			for overlap := 0; 2*overlap < size; overlap++ {
				plan, err := NewPlan(total, size, overlap)
				if err != nil {
					t.Fatalf("NewPlan(%d, %d, %d): %v", total, size, overlap, err)
				}
				for p := range plan.Patches() {
					if p.Start < 0 {
						t.Fatalf("(%d,%d,%d): negative start %+v", total, size, overlap, p)
					}
				}
			}
		}
	}
}

func TestPlanRestartable(t *testing.T) {
	plan, err := NewPlan(100, 40, 4)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	var first, second []Patch
	for p := range plan.Patches() {
		first = append(first, p)
	}
	for p := range plan.Patches() {
		second = append(second, p)
	}
	if len(first) != len(second) {
		t.Fatalf("restart changed patch count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("restart changed patch %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestPlanCount(t *testing.T) {
	plan, err := NewPlan(100, 40, 4)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if n := plan.Count(); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestVolumeElements(t *testing.T) {
	v := Volume{X: 4, Y: 3, Z: 2}
	if v.Elements() != 24 {
		t.Errorf("Elements = %d, want 24", v.Elements())
	}
	if v.String() != "4x3x2" {
		t.Errorf("String = %q", v.String())
	}
}
