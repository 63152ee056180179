package infer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Engine runs a loaded model over one patch tensor. Forward may block; it
// must return a tensor of the engine output kind, laid out per the engine
// output layout declared in the request configuration.
type Engine interface {
	Forward(ctx context.Context, t *tensor.Tensor) (*tensor.Tensor, error)
}

// Normalizer adjusts an engine-layout input patch before inference.
type Normalizer interface {
	Normalize(ctx context.Context, t *tensor.Tensor) (*tensor.Tensor, error)
}

// Denormalizer undoes a normalization on the raw engine output before it is
// converted back to caller form.
type Denormalizer interface {
	Denormalize(ctx context.Context, t *tensor.Tensor) (*tensor.Tensor, error)
}

// EngineError is a fault from the engine's own error domain. Stack carries
// whatever structured context the engine could attach, innermost first.
type EngineError struct {
	Msg   string
	Stack []string
	Err   error
}

func (e *EngineError) Error() string { return e.Msg }

func (e *EngineError) Unwrap() error { return e.Err }

// Factory builds a named engine for one request configuration.
type Factory func(cfg Config) (Engine, error)

var (
	enginesMu sync.RWMutex
	engines   = map[string]Factory{}
)

// Register makes an engine constructor available under name. Registering
// the same name twice panics.
func Register(name string, fn Factory) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, ok := engines[name]; ok {
		panic("infer: engine " + name + " registered twice")
	}
	engines[name] = fn
}

// NewEngine builds the named engine for cfg.
func NewEngine(name string, cfg Config) (Engine, error) {
	enginesMu.RLock()
	fn, ok := engines[name]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (have %v)", name, Engines())
	}
	return fn(cfg)
}

// Engines returns the registered engine names, sorted.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SerialEngine wraps an engine that does not tolerate concurrent Forward
// calls, so one loaded model can back parallel requests.
type SerialEngine struct {
	mu    sync.Mutex
	inner Engine
}

var _ Engine = (*SerialEngine)(nil)

// Serialize returns e behind a mutex.
func Serialize(e Engine) *SerialEngine {
	return &SerialEngine{inner: e}
}

func (s *SerialEngine) Forward(ctx context.Context, t *tensor.Tensor) (*tensor.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Forward(ctx, t)
}
