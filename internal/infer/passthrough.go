package infer

import (
	"context"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Passthrough returns its input unchanged apart from converting to the
// declared engine output kind. It verifies the surrounding pipeline and
// drives soak load. A passthrough request must declare the same engine
// input and output layout.
type Passthrough struct {
	out tensor.DType
}

var _ Engine = (*Passthrough)(nil)

func NewPassthrough(out tensor.DType) *Passthrough {
	return &Passthrough{out: out}
}

func (p *Passthrough) Forward(_ context.Context, t *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.Convert(t, p.out)
	if err != nil {
		return nil, &EngineError{Msg: "passthrough: convert output", Err: err}
	}
	return out, nil
}

func init() {
	Register("passthrough", func(cfg Config) (Engine, error) {
		return NewPassthrough(cfg.EngineOutputType), nil
	})
}
