package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-bodkin/internal/cache"
	"github.com/23skdu/longbow-bodkin/internal/client"
	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/infer"
	"github.com/23skdu/longbow-bodkin/internal/patch"
	"github.com/23skdu/longbow-bodkin/internal/tensor"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var (
	engineName   = flag.String("engine", "passthrough", "Inference engine (passthrough, smooth)")
	inVol        = flag.String("in-vol", "256x256x64", "Input volume extent (XxYxZ)")
	outVol       = flag.String("out-vol", "", "Output volume extent (XxYxZ, defaults to input)")
	inType       = flag.String("in-type", "int16", "Caller voxel kind")
	outType      = flag.String("out-type", "int16", "Result voxel kind")
	inLayout     = flag.String("in-layout", "NDHW", "Caller volume layout")
	outLayout    = flag.String("out-layout", "NDHW", "Result volume layout")
	engInType    = flag.String("engine-in-type", "float32", "Engine input kind")
	engOutType   = flag.String("engine-out-type", "float32", "Engine output kind")
	engInLayout  = flag.String("engine-in-layout", "NDHW", "Engine input layout")
	engOutLayout = flag.String("engine-out-layout", "NDHW", "Engine output layout")
	patchSize    = flag.Int("patch-size", 0, "Patch extent along the innermost axis (0 = whole axis)")
	patchOverlap = flag.Int("patch-overlap", 0, "Overlap between neighbouring patches")
	normMode     = flag.String("normalize", "", "Per-patch normalization (meanstd, minmax)")
	inputPath    = flag.String("input", "", "Arrow IPC file holding the input volume")
	cpuProfile   = flag.String("cpuprofile", "", "Write cpu profile to file")
	duration     = flag.Duration("duration", 0, "Run soak test for specified duration (e.g. 10s, 20m)")
	serverAddr   = flag.String("server", "", "Longbow server address (e.g., localhost:3000)")
	datasetName  = flag.String("dataset", "bodkin_dataset", "Target dataset name on server")
	listenAddr   = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr   = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")

	maxConcurrent = flag.Int("max-concurrent", 1024, "Maximum number of concurrent patches to process")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	enableCache   = flag.Bool("cache", false, "Cache results by input digest")
)

func parseVolume(s string) (patch.Volume, error) {
	var v patch.Volume
	if _, err := fmt.Sscanf(s, "%dx%dx%d", &v.X, &v.Y, &v.Z); err != nil {
		return patch.Volume{}, fmt.Errorf("volume extent %q: want XxYxZ", s)
	}
	return v, nil
}

func configFromFlags() (infer.Config, error) {
	var cfg infer.Config
	var err error

	if cfg.InputVolume, err = parseVolume(*inVol); err != nil {
		return cfg, err
	}
	if *outVol == "" {
		cfg.OutputVolume = cfg.InputVolume
	} else if cfg.OutputVolume, err = parseVolume(*outVol); err != nil {
		return cfg, err
	}

	kinds := []struct {
		dst *tensor.DType
		arg string
	}{
		{&cfg.InputType, *inType},
		{&cfg.OutputType, *outType},
		{&cfg.EngineInputType, *engInType},
		{&cfg.EngineOutputType, *engOutType},
	}
	for _, k := range kinds {
		if *k.dst, err = tensor.ParseDType(k.arg); err != nil {
			return cfg, err
		}
	}

	cfg.InputLayout = tensor.Layout(*inLayout)
	cfg.FinalLayout = tensor.Layout(*outLayout)
	cfg.EngineInputLayout = tensor.Layout(*engInLayout)
	cfg.EngineOutputLayout = tensor.Layout(*engOutLayout)
	cfg.PatchSize = *patchSize
	cfg.PatchOverlap = *patchOverlap
	return cfg, nil
}

// hookOptions builds fresh hook instances on every call. MeanStd keeps the
// statistics of its last Normalize, so each executor needs its own copy.
func hookOptions() []infer.Option {
	switch *normMode {
	case "":
		return nil
	case "meanstd":
		ms := infer.NewMeanStd()
		return []infer.Option{infer.WithNormalizer(ms), infer.WithDenormalizer(ms)}
	case "minmax":
		return []infer.Option{infer.WithNormalizer(&infer.MinMax{Lo: 0, Hi: 1})}
	default:
		log.Fatal().Str("normalize", *normMode).Msg("Unknown normalization mode")
		return nil
	}
}

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := configFromFlags()
	if err != nil {
		log.Fatal().Err(err).Msg("Bad pipeline configuration")
	}

	engine, err := infer.NewEngine(*engineName, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	// Server Mode
	if *listenAddr != "" || *flightAddr != "" {
		var pub PublisherInterface
		if *serverAddr != "" {
			fc, err := client.NewFlightClient(*serverAddr)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create flight client")
			}
			log.Info().Str("addr", *serverAddr).Msg("Connected to Flight Server")
			pub = client.NewPublisher(fc, *datasetName, cfg.FinalLayout)
		}

		var results cache.ResultCache
		if *enableCache {
			results = cache.NewMapCache()
		}
		// Hooks carry per-request state; every request gets its own
		// executor over the shared engine.
		newExec := func() ExecutorInterface {
			return infer.NewExecutor(engine, hookOptions()...)
		}
		srv := NewServer(newExec, pub, results, cfg, *maxConcurrent)

		if *listenAddr != "" {
			go startServer(*listenAddr, srv)
		}
		if *flightAddr != "" {
			StartFlightServer(*flightAddr, srv)
			return
		}
		select {}
	}

	exec := infer.NewExecutor(engine, hookOptions()...)
	if *duration > 0 {
		runSoak(exec, cfg)
		return
	}

	runOnce(exec, cfg)
}

func loadInput(cfg infer.Config) (device.Buffer, error) {
	if *inputPath == "" {
		log.Info().Str("volume", cfg.InputVolume.String()).Msg("No input file, generating phantom volume")
		t, err := infer.Phantom(cfg.InputVolume, cfg.InputType)
		if err != nil {
			return nil, err
		}
		return device.WrapHostBuffer(t.Bytes()), nil
	}

	f, err := os.Open(*inputPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := ipc.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s holds no records", *inputPath)
	}
	vol, _, err := client.DecodeVolume(reader.Record())
	if err != nil {
		return nil, err
	}
	want := tensor.Shape{1, cfg.InputVolume.Z, cfg.InputVolume.Y, cfg.InputVolume.X}
	if vol.Shape() != want {
		return nil, fmt.Errorf("input volume shape %v does not match configured %v", vol.Shape(), want)
	}
	in, err := tensor.Convert(vol, cfg.InputType)
	if err != nil {
		return nil, err
	}
	return device.WrapHostBuffer(in.Bytes()), nil
}

func runOnce(exec *infer.Executor, cfg infer.Config) {
	in, err := loadInput(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load input volume")
	}

	start := time.Now()
	out, err := exec.Process(context.Background(), in, cfg)
	elapsed := time.Since(start)
	if err != nil {
		log.Fatal().Err(err).Msg("Inference failed")
	}

	voxels := cfg.OutputVolume.Elements()
	log.Info().
		Str("volume", cfg.OutputVolume.String()).
		Dur("elapsed", elapsed).
		Float64("mvps", float64(voxels)/elapsed.Seconds()/1e6).
		Msg("Processed volume")

	builder := client.NewVolumeRecordBuilder(memory.NewGoAllocator())
	rec, err := builder.Build(out, cfg.FinalLayout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode result")
	}
	defer rec.Release()

	// If server is provided, send via Flight
	if *serverAddr != "" {
		log.Info().Str("server", *serverAddr).Str("dataset", *datasetName).Msg("Sending volume to Longbow")
		flightClient, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Longbow")
		}
		defer func() {
			if err := flightClient.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := flightClient.DoPut(ctx, *datasetName, rec); err != nil {
			log.Fatal().Err(err).Msg("Flight DoPut failed")
		}
		log.Info().Msg("Successfully sent volume to Longbow")
	} else {
		// Write the result as an Arrow IPC stream to stdout
		if err := writeArrowStream(os.Stdout, rec); err != nil {
			log.Warn().Err(err).Msg("Failed to write arrow stream")
		}
	}
}

func runSoak(exec *infer.Executor, cfg infer.Config) {
	log.Info().Str("duration", duration.String()).Msg("Starting soak test")

	phantom, err := infer.Phantom(cfg.InputVolume, cfg.InputType)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate phantom volume")
	}

	startTime := time.Now()
	endTime := startTime.Add(*duration)
	var totalVoxels int64
	var iter int

	for time.Now().Before(endTime) {
		buf := device.Pool.Get(len(phantom.Bytes()))
		copy(buf.Bytes(), phantom.Bytes())

		if _, err := exec.Process(context.Background(), buf, cfg); err != nil {
			log.Fatal().Err(err).Msg("Soak iteration failed")
		}
		device.Pool.Put(buf)

		totalVoxels += int64(cfg.InputVolume.Elements())
		iter++

		if iter%10 == 0 {
			elapsed := time.Since(startTime)
			vps := float64(totalVoxels) / elapsed.Seconds()
			log.Info().
				Str("elapsed", elapsed.Round(time.Second).String()).
				Int("iter", iter).
				Int64("total_voxels", totalVoxels).
				Float64("vps", vps).
				Msg("Soak test progress")
		}
	}

	totalElapsed := time.Since(startTime)
	log.Info().
		Int64("total_voxels", totalVoxels).
		Dur("total_time", totalElapsed).
		Float64("avg_vps", float64(totalVoxels)/totalElapsed.Seconds()).
		Msg("Soak test complete")
}

func writeArrowStream(w *os.File, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("bodkin"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
