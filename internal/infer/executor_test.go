package infer

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/patch"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

func identityConfig() Config {
	return Config{
		InputVolume:        patch.Volume{X: 100, Y: 3, Z: 2},
		OutputVolume:       patch.Volume{X: 100, Y: 3, Z: 2},
		InputType:          tensor.Int16,
		OutputType:         tensor.Int16,
		InputLayout:        "NDHW",
		FinalLayout:        "NDHW",
		EngineInputType:    tensor.Float32,
		EngineOutputType:   tensor.Float32,
		EngineInputLayout:  "NDHW",
		EngineOutputLayout: "NDHW",
		PatchSize:          40,
		PatchOverlap:       4,
	}
}

func phantomBuffer(t *testing.T, v patch.Volume, dtype tensor.DType) (*tensor.Tensor, *device.HostBuffer) {
	t.Helper()
	vol, err := Phantom(v, dtype)
	if err != nil {
		t.Fatalf("Phantom: %v", err)
	}
	return vol, device.WrapHostBuffer(vol.Bytes())
}

func TestProcessIdentity(t *testing.T) {
	cfg := identityConfig()
	in, buf := phantomBuffer(t, cfg.InputVolume, cfg.InputType)

	ex := NewExecutor(NewPassthrough(cfg.EngineOutputType))
	out, err := ex.Process(context.Background(), buf, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Dtype() != tensor.Int16 {
		t.Fatalf("output dtype = %v", out.Dtype())
	}
	if out.Shape() != (tensor.Shape{1, 2, 3, 100}) {
		t.Fatalf("output shape = %v", out.Shape())
	}
	if !bytes.Equal(out.Bytes(), in.Bytes()) {
		t.Errorf("identity pipeline altered the volume")
	}
}

func TestProcessEngineLayoutShuffle(t *testing.T) {
	// The engine wants its axes reordered; the stitched result must still
	// match the caller's ordering exactly.
	cfg := identityConfig()
	cfg.EngineInputLayout = "NWDH"
	cfg.EngineOutputLayout = "NWDH"
	in, buf := phantomBuffer(t, cfg.InputVolume, cfg.InputType)

	ex := NewExecutor(NewPassthrough(cfg.EngineOutputType))
	out, err := ex.Process(context.Background(), buf, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !bytes.Equal(out.Bytes(), in.Bytes()) {
		t.Errorf("layout shuffle altered the volume")
	}
}

func TestProcessNoPatching(t *testing.T) {
	cfg := identityConfig()
	cfg.PatchSize = 0
	cfg.PatchOverlap = 90
	in, buf := phantomBuffer(t, cfg.InputVolume, cfg.InputType)

	ex := NewExecutor(NewPassthrough(cfg.EngineOutputType))
	out, err := ex.Process(context.Background(), buf, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !bytes.Equal(out.Bytes(), in.Bytes()) {
		t.Errorf("single-patch pipeline altered the volume")
	}
}

// faultyEngine fails on one numbered Forward call and delegates otherwise.
type faultyEngine struct {
	inner  Engine
	calls  int
	failOn int
}

func (f *faultyEngine) Forward(ctx context.Context, t *tensor.Tensor) (*tensor.Tensor, error) {
	f.calls++
	if f.calls == f.failOn {
		return nil, &EngineError{
			Msg:   "kernel launch failed",
			Stack: []string{"conv3d_forward", "module_forward"},
		}
	}
	return f.inner.Forward(ctx, t)
}

func TestProcessEngineFaultAborts(t *testing.T) {
	cfg := identityConfig()
	_, buf := phantomBuffer(t, cfg.InputVolume, cfg.InputType)

	// Three planned patches, the second one faults
	eng := &faultyEngine{inner: NewPassthrough(cfg.EngineOutputType), failOn: 2}
	ex := NewExecutor(eng)
	out, err := ex.Process(context.Background(), buf, cfg)
	if out != nil {
		t.Errorf("faulted operation returned a result")
	}
	if err == nil {
		t.Fatalf("faulted operation returned no error")
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("fault lost its engine error domain: %v", err)
	}
	if ee.Msg != "kernel launch failed" || len(ee.Stack) != 2 {
		t.Errorf("engine error context dropped: %+v", ee)
	}
	if eng.calls != 2 {
		t.Errorf("engine called %d times after fault, want 2", eng.calls)
	}
}

// wrongKindEngine violates its declared output kind.
type wrongKindEngine struct{}

func (wrongKindEngine) Forward(_ context.Context, t *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Convert(t, tensor.Float64)
}

func TestProcessRuntimeFault(t *testing.T) {
	cfg := identityConfig()
	_, buf := phantomBuffer(t, cfg.InputVolume, cfg.InputType)

	ex := NewExecutor(wrongKindEngine{})
	out, err := ex.Process(context.Background(), buf, cfg)
	if out != nil || err == nil {
		t.Fatalf("undeclared output kind not rejected: %v", err)
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		t.Errorf("generic runtime fault misclassified as engine fault")
	}
	if !strings.Contains(err.Error(), "declared") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestProcessConfigFaultsJoined(t *testing.T) {
	cfg := identityConfig()
	cfg.InputLayout = "NQHW"
	cfg.PatchSize = 8
	cfg.PatchOverlap = 4

	ex := NewExecutor(nil)
	out, err := ex.Process(context.Background(), nil, cfg)
	if out != nil {
		t.Errorf("misconfigured operation returned a result")
	}
	if err == nil {
		t.Fatalf("misconfigured operation returned no error")
	}
	// Every violated precondition is visible, not just the first
	for _, want := range []string{
		"no engine loaded",
		"no input buffer",
		"unknown axis role",
		"twice the overlap",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined fault report missing %q in %q", want, err.Error())
		}
	}
}

func TestProcessHalfWidening(t *testing.T) {
	cfg := identityConfig()
	cfg.InputType = tensor.Float32
	cfg.OutputType = tensor.Float32
	cfg.EngineInputType = tensor.Float16
	cfg.EngineOutputType = tensor.Float16
	in, buf := phantomBuffer(t, cfg.InputVolume, cfg.InputType)

	ex := NewExecutor(NewPassthrough(tensor.Float16))
	out, err := ex.Process(context.Background(), buf, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Dtype() != tensor.Float32 {
		t.Fatalf("output dtype = %v", out.Dtype())
	}
	// Values round-trip through half precision; compare within its step
	for i := 0; i < in.Elements(); i++ {
		a, b := in.ValueAt(i), out.ValueAt(i)
		if math.Abs(a-b) > 0.1 {
			t.Fatalf("value %d = %f, want about %f", i, b, a)
		}
	}
}

func TestProcessNormalizeRoundTrip(t *testing.T) {
	cfg := identityConfig()
	cfg.InputType = tensor.Float32
	cfg.OutputType = tensor.Float32
	cfg.EngineInputType = tensor.Float64
	cfg.EngineOutputType = tensor.Float64
	in, buf := phantomBuffer(t, cfg.InputVolume, cfg.InputType)

	hook := NewMeanStd()
	ex := NewExecutor(
		NewPassthrough(tensor.Float64),
		WithNormalizer(hook),
		WithDenormalizer(hook),
	)
	out, err := ex.Process(context.Background(), buf, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i := 0; i < in.Elements(); i++ {
		a, b := in.ValueAt(i), out.ValueAt(i)
		if math.Abs(a-b) > 1e-3 {
			t.Fatalf("value %d = %f, want %f", i, b, a)
		}
	}
}

func TestProcessSerialEngine(t *testing.T) {
	cfg := identityConfig()
	in, buf := phantomBuffer(t, cfg.InputVolume, cfg.InputType)

	ex := NewExecutor(Serialize(NewPassthrough(cfg.EngineOutputType)))
	out, err := ex.Process(context.Background(), buf, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !bytes.Equal(out.Bytes(), in.Bytes()) {
		t.Errorf("serialized engine altered the volume")
	}
}
