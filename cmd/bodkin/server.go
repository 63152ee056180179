package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-bodkin/internal/cache"
	"github.com/23skdu/longbow-bodkin/internal/client"
	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/infer"
	"github.com/23skdu/longbow-bodkin/internal/patch"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

var (
	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bodkin_request_duration_seconds",
		Help:    "Time spent processing inference requests",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_cache_hits_total",
		Help: "Inference responses served from the result cache",
	})
)

type ExecutorInterface interface {
	Process(ctx context.Context, in device.Buffer, cfg infer.Config) (*tensor.Tensor, error)
}

// ExecutorFactory builds the executor for one request. Hooks like MeanStd
// keep per-call state, so concurrent requests must never share one; the
// factory hands every request its own instances.
type ExecutorFactory func() ExecutorInterface

type PublisherInterface interface {
	Publish(ctx context.Context, vol *tensor.Tensor) error
	Close() error
}

// InferJob is the CBOR body of a POST /infer request: raw voxels in the
// server's configured input kind and layout.
type InferJob struct {
	Voxels []byte `cbor:"voxels"`
}

// InferResult is the CBOR response to a job.
type InferResult struct {
	Shape  [4]int `cbor:"shape"`
	Dtype  string `cbor:"dtype"`
	Voxels []byte `cbor:"voxels"`
}

type Server struct {
	newExec   ExecutorFactory
	publisher PublisherInterface
	results   cache.ResultCache
	cfg       infer.Config
	cfgKey    string
	alloc     memory.Allocator
	sem       *semaphore.Weighted
	weight    int64
}

func NewServer(newExec ExecutorFactory, pub PublisherInterface, results cache.ResultCache, cfg infer.Config, maxConcurrent int) *Server {
	// Admission Control weighs each request by its patch count
	weight := int64(1)
	if plan, err := patch.NewPlan(cfg.InputVolume.X, cfg.PatchSize, cfg.PatchOverlap); err == nil {
		weight = int64(plan.Count())
	}
	if weight > int64(maxConcurrent) {
		weight = int64(maxConcurrent)
	}
	return &Server{
		newExec:   newExec,
		publisher: pub,
		results:   results,
		cfg:       cfg,
		cfgKey:    fmt.Sprintf("%+v", cfg),
		alloc:     memory.NewGoAllocator(),
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		weight:    weight,
	}
}

func startServer(addr string, srv *Server) {
	if srv.results != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "bodkin_cached_volumes",
				Help: "Volumes currently held by the result cache",
			},
			func() float64 {
				return float64(srv.results.Size())
			},
		))
	}

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/infer", srv.handleInfer)
	http.HandleFunc("/infer/arrow", srv.handleInferArrow)

	http.HandleFunc("/healthz", srv.handleHealth)

	log.Info().Str("addr", addr).Msg("Starting Bodkin Server")
	if srv.publisher != nil {
		log.Info().Msg("Publishing results to Longbow at specified server address")
	}

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("bodkin-server")

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleInfer")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var job InferJob
	decoder := cbor.NewDecoder(r.Body)
	if err := decoder.Decode(&job); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	want := s.cfg.InputVolume.Elements() * s.cfg.InputType.Size()
	if len(job.Voxels) != want {
		http.Error(w, fmt.Sprintf("voxel payload is %d bytes, config wants %d", len(job.Voxels), want), http.StatusBadRequest)
		return
	}

	span.SetAttributes(
		attribute.Int("payload_bytes", len(job.Voxels)),
	)

	out, err := s.processRaw(ctx, job.Voxels)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("Inference request failed")
		http.Error(w, "Inference failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/cbor")
	res := InferResult{
		Shape:  [4]int(out.Shape()),
		Dtype:  out.Dtype().String(),
		Voxels: out.Bytes(),
	}
	if err := cbor.NewEncoder(w).Encode(res); err != nil {
		log.Warn().Err(err).Msg("Failed to write CBOR response")
	}
}

// processRaw runs one volume through admission control, the result cache
// and the executor, then publishes fresh results when a publisher is wired.
func (s *Server) processRaw(ctx context.Context, raw []byte) (*tensor.Tensor, error) {
	var key string
	if s.results != nil {
		key = cache.Key(s.cfgKey, raw)
		if vol, ok := s.results.Get(key); ok {
			cacheHits.Inc()
			return vol, nil
		}
	}

	if err := s.sem.Acquire(ctx, s.weight); err != nil {
		return nil, fmt.Errorf("admission: %w", err)
	}
	defer s.sem.Release(s.weight)

	out, err := s.newExec().Process(ctx, device.WrapHostBuffer(raw), s.cfg)
	if err != nil {
		return nil, err
	}

	if s.results != nil {
		s.results.Put(key, out)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, out); err != nil {
			log.Error().Err(err).Msg("Error publishing volume to Longbow")
		}
	}
	return out, nil
}

// ingestDecoded checks a decoded wire volume against the configured
// geometry, converts it to the configured input kind and runs it.
func (s *Server) ingestDecoded(ctx context.Context, vol *tensor.Tensor) (*tensor.Tensor, error) {
	want := tensor.Shape{1, s.cfg.InputVolume.Z, s.cfg.InputVolume.Y, s.cfg.InputVolume.X}
	if vol.Shape() != want {
		return nil, fmt.Errorf("volume shape %v does not match configured %v", vol.Shape(), want)
	}
	in, err := tensor.Convert(vol, s.cfg.InputType)
	if err != nil {
		return nil, err
	}
	return s.processRaw(ctx, in.Bytes())
}

func (s *Server) handleInferArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleInferArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	builder := client.NewVolumeRecordBuilder(s.alloc)
	var writer *ipc.Writer
	totalProcessed := 0

	for reader.Next() {
		rec := reader.Record()

		vol, _, err := client.DecodeVolume(rec)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping record that is not a volume")
			continue
		}

		out, err := s.ingestDecoded(ctx, vol)
		if err != nil {
			span.RecordError(err)
			log.Error().Err(err).Msg("Inference failed for record")
			if writer == nil {
				http.Error(w, "Inference failed", http.StatusInternalServerError)
			}
			return
		}

		outRec, err := builder.Build(out, s.cfg.FinalLayout)
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode result record")
			if writer == nil {
				http.Error(w, "Encoding failed", http.StatusInternalServerError)
			}
			return
		}
		if writer == nil {
			// All results share a schema, the first record pins it
			w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
			writer = ipc.NewWriter(w, ipc.WithSchema(outRec.Schema()))
			defer writer.Close()
		}
		werr := writer.Write(outRec)
		outRec.Release()
		if werr != nil {
			log.Error().Err(werr).Msg("Failed to write result record")
			return
		}
		totalProcessed++
	}

	if reader.Err() != nil {
		log.Error().Err(reader.Err()).Msg("Error reading Arrow stream")
		if writer == nil {
			http.Error(w, "Stream error", http.StatusInternalServerError)
		}
		return
	}

	if writer == nil {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Processed %d volumes", totalProcessed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
