package patch

import (
	"fmt"
	"iter"
)

// Volume is a three-axis spatial extent. X varies fastest in flattened
// buffers, Z slowest.
type Volume struct {
	X, Y, Z int
}

// Elements returns the total element count of the extent.
func (v Volume) Elements() int { return v.X * v.Y * v.Z }

func (v Volume) String() string { return fmt.Sprintf("%dx%dx%d", v.X, v.Y, v.Z) }

// Patch is one slice along the patched axis. Start is the absolute offset
// where the engine slice begins, including leading overlap context; Size is
// the slice length handed to the engine. Valid is the authoritative output
// length within the slice and ValidStart its absolute position on the axis.
type Patch struct {
	Start int
	Size  int

	Valid      int
	ValidStart int
}

// Plan covers one axis of Total length with overlapping patches whose valid
// regions partition [0, Total) exactly once.
type Plan struct {
	Total   int
	Size    int
	Overlap int
}

// NewPlan validates the geometry. A zero patchSize disables patching: the
// whole axis becomes a single untrimmed patch and overlap is ignored.
func NewPlan(total, patchSize, overlap int) (Plan, error) {
	if total <= 0 {
		return Plan{}, fmt.Errorf("patch plan: axis length %d", total)
	}
	if overlap < 0 {
		return Plan{}, fmt.Errorf("patch plan: negative overlap %d", overlap)
	}
	if patchSize == 0 {
		return Plan{Total: total, Size: total}, nil
	}
	if patchSize < 0 {
		return Plan{}, fmt.Errorf("patch plan: negative patch size %d", patchSize)
	}
	if patchSize <= 2*overlap {
		return Plan{}, fmt.Errorf("patch plan: patch size %d must exceed twice the overlap %d", patchSize, overlap)
	}
	return Plan{Total: total, Size: patchSize, Overlap: overlap}, nil
}

// Patches yields the geometry sequence in order, advancing the valid-region
// cursor by the previous patch's valid length. Each range over the sequence
// re-derives it from the plan.
func (p Plan) Patches() iter.Seq[Patch] {
	return func(yield func(Patch) bool) {
		for validStart := 0; validStart < p.Total; {
			g := p.at(validStart)
			if !yield(g) {
				return
			}
			validStart += g.Valid
		}
	}
}

// Count returns the number of patches the plan generates.
func (p Plan) Count() int {
	n := 0
	for range p.Patches() {
		n++
	}
	return n
}

func (p Plan) at(validStart int) Patch {
	switch {
	case validStart == 0 && p.Total-validStart <= p.Size:
		// Whole axis fits in one patch, nothing to trim.
		return Patch{Start: 0, Size: p.Total, Valid: p.Total, ValidStart: 0}
	case validStart == 0:
		// First patch: only the trailing overlap is context.
		return Patch{Start: 0, Size: p.Size, Valid: p.Size - p.Overlap, ValidStart: 0}
	case p.Total-(validStart-p.Overlap) <= p.Size:
		// Last patch: spans to the end, only the leading overlap is context.
		start := validStart - p.Overlap
		if start < 0 {
			panic(fmt.Sprintf("patch plan: negative start %d at valid cursor %d", start, validStart))
		}
		size := p.Total - start
		return Patch{Start: start, Size: size, Valid: size - p.Overlap, ValidStart: validStart}
	default:
		start := validStart - p.Overlap
		if start < 0 {
			panic(fmt.Sprintf("patch plan: negative start %d at valid cursor %d", start, validStart))
		}
		return Patch{Start: start, Size: p.Size, Valid: p.Size - 2*p.Overlap, ValidStart: validStart}
	}
}
