package infer

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-bodkin/internal/simd"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// MeanStd normalizes each patch to zero mean and unit variance and undoes
// the transform on the way back out. The statistics from the most recent
// Normalize feed the next Denormalize, which is sound under the strictly
// sequential patch loop; wrap per-call instances for anything else.
type MeanStd struct {
	mean, std float64
}

var (
	_ Normalizer   = (*MeanStd)(nil)
	_ Denormalizer = (*MeanStd)(nil)
)

func NewMeanStd() *MeanStd {
	return &MeanStd{std: 1}
}

func (m *MeanStd) Normalize(_ context.Context, t *tensor.Tensor) (*tensor.Tensor, error) {
	f, err := widened(t)
	if err != nil {
		return nil, err
	}
	data := f.Float64s()
	m.mean = stat.Mean(data, nil)
	m.std = stat.StdDev(data, nil)
	if m.std == 0 || math.IsNaN(m.std) {
		m.std = 1
	}
	simd.ScaleShift(data, 1/m.std, -m.mean/m.std)
	return f, nil
}

func (m *MeanStd) Denormalize(_ context.Context, t *tensor.Tensor) (*tensor.Tensor, error) {
	f, err := widened(t)
	if err != nil {
		return nil, err
	}
	simd.ScaleShift(f.Float64s(), m.std, m.mean)
	return f, nil
}

// MinMax rescales each patch into [Lo, Hi]. Forward only; pair it with a
// denormalizer only when the model's output range is already caller scaled.
type MinMax struct {
	Lo, Hi float64
}

var _ Normalizer = (*MinMax)(nil)

func (m *MinMax) Normalize(_ context.Context, t *tensor.Tensor) (*tensor.Tensor, error) {
	f, err := widened(t)
	if err != nil {
		return nil, err
	}
	data := f.Float64s()
	lo, hi := simd.MinMax(data)
	if hi == lo {
		simd.ScaleShift(data, 0, m.Lo)
		return f, nil
	}
	scale := (m.Hi - m.Lo) / (hi - lo)
	simd.ScaleShift(data, scale, m.Lo-lo*scale)
	return f, nil
}

// widened returns a float64 tensor safe to scale in place.
func widened(t *tensor.Tensor) (*tensor.Tensor, error) {
	f, err := tensor.Convert(t, tensor.Float64)
	if err != nil {
		return nil, err
	}
	if f == t {
		f = t.Clone()
	}
	return f, nil
}
