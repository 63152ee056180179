package client

import (
	"context"
	"errors"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// ErrCircuitOpen is returned when the breaker refuses a publish.
var ErrCircuitOpen = errors.New("client: circuit open, volume dropped")

// Putter is the slice of FlightClient the publisher needs.
type Putter interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
	Close() error
}

// Publisher ships finished volumes to a Longbow dataset, wrapping each
// DoPut in a circuit breaker so a dead server sheds load instead of
// stalling the inference loop.
type Publisher struct {
	putter  Putter
	builder *VolumeRecordBuilder
	breaker *CircuitBreaker
	dataset string
	layout  tensor.Layout
}

func NewPublisher(p Putter, dataset string, layout tensor.Layout) *Publisher {
	return &Publisher{
		putter:  p,
		builder: NewVolumeRecordBuilder(memory.NewGoAllocator()),
		breaker: NewCircuitBreaker(5, 30*time.Second),
		dataset: dataset,
		layout:  layout,
	}
}

// Publish encodes the volume and sends it to the configured dataset.
// Only wire failures feed the breaker; encode failures surface directly.
func (p *Publisher) Publish(ctx context.Context, t *tensor.Tensor) error {
	rec, err := p.builder.Build(t, p.layout)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	defer rec.Release()

	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := p.putter.DoPut(ctx, p.dataset, rec); err != nil {
		p.breaker.Failure()
		return err
	}
	p.breaker.Success()
	return nil
}

// State exposes the breaker state for health reporting.
func (p *Publisher) State() State {
	return p.breaker.State()
}

func (p *Publisher) Close() error {
	return p.putter.Close()
}
