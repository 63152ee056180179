package infer

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Smooth applies a box blur along the innermost dimension as one dense
// matrix product per patch, picking up BLAS acceleration where registered.
// It stands in for a learned despeckling model when exercising the full
// pipeline.
type Smooth struct {
	radius int
	out    tensor.DType
}

var _ Engine = (*Smooth)(nil)

func NewSmooth(radius int, out tensor.DType) *Smooth {
	if radius < 1 {
		radius = 1
	}
	return &Smooth{radius: radius, out: out}
}

func (s *Smooth) Forward(_ context.Context, t *tensor.Tensor) (*tensor.Tensor, error) {
	f, err := tensor.Convert(t, tensor.Float64)
	if err != nil {
		return nil, &EngineError{Msg: "smooth: widen input", Err: err}
	}
	shape := t.Shape()
	rows := shape[0] * shape[1] * shape[2]
	cols := shape[3]

	m := mat.NewDense(rows, cols, f.Float64s())
	k := mat.NewDense(cols, cols, boxKernel(cols, s.radius))
	var blurred mat.Dense
	blurred.Mul(m, k)

	res, err := tensor.New(tensor.Float64, shape, t.Location())
	if err != nil {
		return nil, &EngineError{Msg: "smooth: allocate output", Err: err}
	}
	copy(res.Float64s(), blurred.RawMatrix().Data)
	out, err := tensor.Convert(res, s.out)
	if err != nil {
		return nil, &EngineError{Msg: "smooth: convert output", Err: err}
	}
	return out, nil
}

// boxKernel builds a column-normalized band matrix: column c averages the
// source cells within radius of c, renormalized at the edges so border
// columns keep unit weight.
func boxKernel(n, radius int) []float64 {
	w := make([]float64, n*n)
	for c := 0; c < n; c++ {
		lo := c - radius
		if lo < 0 {
			lo = 0
		}
		hi := c + radius
		if hi > n-1 {
			hi = n - 1
		}
		weight := 1.0 / float64(hi-lo+1)
		for j := lo; j <= hi; j++ {
			w[j*n+c] = weight
		}
	}
	return w
}

func init() {
	Register("smooth", func(cfg Config) (Engine, error) {
		return NewSmooth(2, cfg.EngineOutputType), nil
	})
}
