package infer

import (
	"math"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/patch"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Phantom generates a synthetic volume: a linear intensity ramp along the
// patched axis with two embedded spheres of contrasting intensity. The
// same extent always yields the same bytes, which keeps soak runs and
// benchmarks comparable.
func Phantom(v patch.Volume, dtype tensor.DType) (*tensor.Tensor, error) {
	t, err := tensor.New(dtype, tensor.Shape{1, v.Z, v.Y, v.X}, device.Host)
	if err != nil {
		return nil, err
	}
	store, err := tensor.Storer(dtype, t.Bytes())
	if err != nil {
		return nil, err
	}

	bright := sphere{
		x: float64(v.X) * 0.3, y: float64(v.Y) * 0.5, z: float64(v.Z) * 0.5,
		r: 0.15 * float64(min(v.X, v.Y, v.Z)),
	}
	dark := sphere{
		x: float64(v.X) * 0.7, y: float64(v.Y) * 0.4, z: float64(v.Z) * 0.6,
		r: 0.1 * float64(min(v.X, v.Y, v.Z)),
	}

	i := 0
	for z := 0; z < v.Z; z++ {
		for y := 0; y < v.Y; y++ {
			for x := 0; x < v.X; x++ {
				val := 40 * float64(x) / float64(v.X)
				if bright.contains(x, y, z) {
					val += 60
				}
				if dark.contains(x, y, z) {
					val -= 30
				}
				store(i, val)
				i++
			}
		}
	}
	return t, nil
}

type sphere struct {
	x, y, z, r float64
}

func (s sphere) contains(x, y, z int) bool {
	dx := float64(x) - s.x
	dy := float64(y) - s.y
	dz := float64(z) - s.z
	return math.Sqrt(dx*dx+dy*dy+dz*dz) < s.r
}
