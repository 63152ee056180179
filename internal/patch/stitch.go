package patch

import (
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Stitch copies the valid sub-region of one patch output tensor into its
// absolute position in the flattened destination volume, casting every
// element into dstType with saturation.
//
// t must be host resident and already in the final layout, batch at
// dimension 0; dimensions 1..3 correspond to (Z, Y, X) of out. patchedDim
// names the dimension that was patched; iteration is restricted to
// [ValidStart, ValidStart+Valid) along it and runs the full extent of the
// other two. Source coordinates equal destination coordinates minus Start
// along the patched dimension only.
func Stitch(dst []byte, dstType tensor.DType, out Volume, t *tensor.Tensor, patchedDim int, p Patch) error {
	if !dstType.HostRepresentable() {
		return fmt.Errorf("stitch: %v is not a host kind", dstType)
	}
	if want := out.Elements() * dstType.Size(); len(dst) != want {
		return fmt.Errorf("stitch: destination holds %d bytes, want %d for %v %v", len(dst), want, out, dstType)
	}
	if patchedDim < 1 || patchedDim >= tensor.Dims {
		return fmt.Errorf("stitch: patched dimension %d out of range", patchedDim)
	}
	if t.Location() != device.Host {
		return fmt.Errorf("stitch: patch tensor resides on %v", t.Location())
	}
	if t.Dim(0) != 1 {
		return fmt.Errorf("stitch: batch dimension is %d, want 1", t.Dim(0))
	}

	extent := [tensor.Dims]int{1, out.Z, out.Y, out.X}
	for d := 1; d < tensor.Dims; d++ {
		want := extent[d]
		if d == patchedDim {
			want = p.Size
		}
		if t.Dim(d) != want {
			return fmt.Errorf("stitch: patch tensor dimension %d is %d, want %d", d, t.Dim(d), want)
		}
	}
	if p.Valid <= 0 || p.ValidStart < 0 || p.ValidStart+p.Valid > extent[patchedDim] {
		return fmt.Errorf("stitch: valid region [%d, %d) outside axis of %d", p.ValidStart, p.ValidStart+p.Valid, extent[patchedDim])
	}
	if p.ValidStart < p.Start || p.ValidStart-p.Start+p.Valid > p.Size {
		return fmt.Errorf("stitch: valid region [%d, %d) outside patch [%d, %d)", p.ValidStart, p.ValidStart+p.Valid, p.Start, p.Start+p.Size)
	}

	store, err := tensor.Storer(dstType, dst)
	if err != nil {
		return err
	}

	lo := [tensor.Dims]int{0, 0, 0, 0}
	hi := extent
	lo[patchedDim] = p.ValidStart
	hi[patchedDim] = p.ValidStart + p.Valid

	var off [tensor.Dims]int
	off[patchedDim] = p.Start

	strY := t.Dim(3)
	strZ := t.Dim(2) * t.Dim(3)
	for z := lo[1]; z < hi[1]; z++ {
		sz := (z - off[1]) * strZ
		for y := lo[2]; y < hi[2]; y++ {
			sy := sz + (y-off[2])*strY
			dy := (z*out.Y + y) * out.X
			for x := lo[3]; x < hi[3]; x++ {
				store(dy+x, t.ValueAt(sy+x-off[3]))
			}
		}
	}
	return nil
}
