package infer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/patch"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Config describes one volume inference request. The input container is
// wrapped as (1, Z, Y, X) in InputLayout order; patching always runs along
// the innermost axis, whose role InputLayout names last.
type Config struct {
	InputVolume  patch.Volume
	OutputVolume patch.Volume

	InputType  tensor.DType
	OutputType tensor.DType

	InputLayout tensor.Layout
	FinalLayout tensor.Layout

	EngineInputType    tensor.DType
	EngineOutputType   tensor.DType
	EngineInputLayout  tensor.Layout
	EngineOutputLayout tensor.Layout

	// PatchSize zero disables patching; otherwise it must exceed twice
	// PatchOverlap.
	PatchSize    int
	PatchOverlap int
}

// Executor owns a loaded engine and its optional hooks, constructed once
// and reused across calls. Patches are processed strictly sequentially;
// each writes a disjoint region of the output buffer.
type Executor struct {
	engine       Engine
	normalizer   Normalizer
	denormalizer Denormalizer
	log          zerolog.Logger
	tracer       trace.Tracer
}

type Option func(*Executor)

func WithNormalizer(n Normalizer) Option {
	return func(e *Executor) { e.normalizer = n }
}

func WithDenormalizer(d Denormalizer) Option {
	return func(e *Executor) { e.denormalizer = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

func NewExecutor(engine Engine, opts ...Option) *Executor {
	e := &Executor{
		engine: engine,
		log:    log.Logger,
		tracer: otel.Tracer("bodkin-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process runs the engine over every patch of the input volume and returns
// the stitched host tensor, shaped (1, Z, Y, X) of the output volume in the
// final layout's axis order. On any fault the result is nil; a
// configuration fault reports every violated precondition at once.
func (e *Executor) Process(ctx context.Context, in device.Buffer, cfg Config) (*tensor.Tensor, error) {
	ctx, span := e.tracer.Start(ctx, "bodkin.process")
	defer span.End()

	if err := e.validate(in, cfg); err != nil {
		faultsTotal.WithLabelValues("config").Inc()
		return nil, err
	}

	plan, err := patch.NewPlan(cfg.InputVolume.X, cfg.PatchSize, cfg.PatchOverlap)
	if err != nil {
		return nil, err
	}

	if err := in.Sync(); err != nil {
		faultsTotal.WithLabelValues("runtime").Inc()
		return nil, fmt.Errorf("drain input stream %d: %w", in.Stream(), err)
	}
	input, err := tensor.FromBytes(cfg.InputType,
		tensor.Shape{1, cfg.InputVolume.Z, cfg.InputVolume.Y, cfg.InputVolume.X},
		in.Location(), in.Bytes())
	if err != nil {
		faultsTotal.WithLabelValues("runtime").Inc()
		return nil, fmt.Errorf("wrap input volume: %w", err)
	}
	patchedDim, err := tensor.PatchedDim(cfg.EngineOutputLayout, cfg.FinalLayout, cfg.InputLayout.PatchRole())
	if err != nil {
		return nil, err
	}

	// One up-front allocation; every patch writes only its own region.
	dst := make([]byte, cfg.OutputVolume.Elements()*cfg.OutputType.Size())

	started := time.Now()
	patches := 0
	for p := range plan.Patches() {
		if err := e.processPatch(ctx, input, dst, cfg, patchedDim, p); err != nil {
			e.reportFault(p, err)
			return nil, err
		}
		patches++
		patchesProcessed.Inc()
	}

	span.SetAttributes(
		attribute.Int("patches", patches),
		attribute.String("input_volume", cfg.InputVolume.String()),
		attribute.String("output_volume", cfg.OutputVolume.String()),
	)
	volumesProcessed.Inc()
	e.log.Debug().
		Int("patches", patches).
		Str("input", cfg.InputVolume.String()).
		Str("output", cfg.OutputVolume.String()).
		Dur("took", time.Since(started)).
		Msg("volume processed")

	return tensor.FromBytes(cfg.OutputType,
		tensor.Shape{1, cfg.OutputVolume.Z, cfg.OutputVolume.Y, cfg.OutputVolume.X},
		device.Host, dst)
}

func (e *Executor) processPatch(ctx context.Context, input *tensor.Tensor, dst []byte, cfg Config, patchedDim int, p patch.Patch) error {
	slice, err := input.Slice(3, p.Start, p.Size)
	if err != nil {
		return fmt.Errorf("slice patch [%d, %d): %w", p.Start, p.Start+p.Size, err)
	}
	t, err := tensor.Convert(slice, cfg.EngineInputType)
	if err != nil {
		return fmt.Errorf("convert to engine input kind: %w", err)
	}
	t, err = t.ChangeLayout(cfg.InputLayout, cfg.EngineInputLayout)
	if err != nil {
		return fmt.Errorf("rearrange to engine input layout: %w", err)
	}
	if e.normalizer != nil {
		if t, err = e.normalizer.Normalize(ctx, t); err != nil {
			return fmt.Errorf("normalize: %w", err)
		}
	}

	begin := time.Now()
	out, err := e.engine.Forward(ctx, t)
	forwardDuration.Observe(time.Since(begin).Seconds())
	if err != nil {
		return fmt.Errorf("engine forward: %w", err)
	}
	if out == nil {
		return errors.New("engine forward returned no tensor")
	}
	if out.Dtype() != cfg.EngineOutputType {
		return fmt.Errorf("engine returned %v, declared %v", out.Dtype(), cfg.EngineOutputType)
	}

	if e.denormalizer != nil {
		if out, err = e.denormalizer.Denormalize(ctx, out); err != nil {
			return fmt.Errorf("denormalize: %w", err)
		}
	}
	out, err = out.ChangeLayout(cfg.EngineOutputLayout, cfg.FinalLayout)
	if err != nil {
		return fmt.Errorf("rearrange to final layout: %w", err)
	}
	if out.Dtype() == tensor.Float16 {
		// Half is engine-side only; widen before it reaches host memory.
		if out, err = tensor.Convert(out, tensor.Float32); err != nil {
			return fmt.Errorf("widen half output: %w", err)
		}
	}
	return patch.Stitch(dst, cfg.OutputType, cfg.OutputVolume, out.ToHost(), patchedDim, p)
}

// validate reports every violated precondition individually before any
// patch is touched.
func (e *Executor) validate(in device.Buffer, cfg Config) error {
	var faults []error
	report := func(format string, args ...any) {
		err := fmt.Errorf(format, args...)
		e.log.Error().Err(err).Msg("configuration fault")
		faults = append(faults, err)
	}

	if e.engine == nil {
		report("no engine loaded")
	}
	if in == nil {
		report("no input buffer")
	}

	if !cfg.InputType.HostRepresentable() {
		report("input kind %v is not a host kind", cfg.InputType)
	}
	if !cfg.OutputType.HostRepresentable() {
		report("output kind %v is not a host kind", cfg.OutputType)
	}
	if !cfg.EngineInputType.Valid() {
		report("unknown engine input kind %v", cfg.EngineInputType)
	}
	if !cfg.EngineOutputType.Valid() {
		report("unknown engine output kind %v", cfg.EngineOutputType)
	}

	layoutOK := func(name string, l tensor.Layout) bool {
		if err := l.Validate(); err != nil {
			report("%s: %v", name, err)
			return false
		}
		return true
	}
	inLayout := layoutOK("input layout", cfg.InputLayout)
	finalLayout := layoutOK("final layout", cfg.FinalLayout)
	engInLayout := layoutOK("engine input layout", cfg.EngineInputLayout)
	engOutLayout := layoutOK("engine output layout", cfg.EngineOutputLayout)

	if inLayout && tensor.Role(cfg.InputLayout[0]) != tensor.RoleBatch {
		report("input layout %q must lead with the batch role", cfg.InputLayout)
	}
	if finalLayout && tensor.Role(cfg.FinalLayout[0]) != tensor.RoleBatch {
		report("final layout %q must lead with the batch role", cfg.FinalLayout)
	}
	if inLayout && engInLayout {
		if _, err := tensor.Permutation(cfg.InputLayout, cfg.EngineInputLayout); err != nil {
			report("input side: %v", err)
		}
	}
	if inLayout && engOutLayout && finalLayout {
		if _, err := tensor.PatchedDim(cfg.EngineOutputLayout, cfg.FinalLayout, cfg.InputLayout.PatchRole()); err != nil {
			report("output side: %v", err)
		}
	}

	volumeOK := func(name string, v patch.Volume) bool {
		if v.X <= 0 || v.Y <= 0 || v.Z <= 0 {
			report("%s extent %v has an empty axis", name, v)
			return false
		}
		return true
	}
	inVol := volumeOK("input volume", cfg.InputVolume)
	outVol := volumeOK("output volume", cfg.OutputVolume)
	if inVol && outVol && cfg.InputVolume.X != cfg.OutputVolume.X {
		report("patched axis extent differs: input %d, output %d", cfg.InputVolume.X, cfg.OutputVolume.X)
	}

	if inVol {
		if _, err := patch.NewPlan(cfg.InputVolume.X, cfg.PatchSize, cfg.PatchOverlap); err != nil {
			report("%v", err)
		}
	}
	if in != nil && inVol && cfg.InputType.HostRepresentable() {
		if want := cfg.InputVolume.Elements() * cfg.InputType.Size(); in.Len() != want {
			report("input buffer holds %d bytes, want %d for %v %v", in.Len(), want, cfg.InputVolume, cfg.InputType)
		}
	}

	if len(faults) > 0 {
		return errors.Join(faults...)
	}
	return nil
}

func (e *Executor) reportFault(p patch.Patch, err error) {
	var ee *EngineError
	if errors.As(err, &ee) {
		faultsTotal.WithLabelValues("engine").Inc()
		e.log.Error().
			Str("error", ee.Msg).
			Strs("stack", ee.Stack).
			Int("patch_start", p.Start).
			Int("patch_size", p.Size).
			Msg("engine fault, aborting volume")
		return
	}
	faultsTotal.WithLabelValues("runtime").Inc()
	e.log.Error().
		Err(err).
		Int("patch_start", p.Start).
		Int("patch_size", p.Size).
		Msg("runtime fault, aborting volume")
}
