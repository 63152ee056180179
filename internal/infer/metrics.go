package infer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline throughput metrics
	volumesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_volumes_processed_total",
		Help: "Total number of volumes fully stitched",
	})

	patchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_patches_processed_total",
		Help: "Total number of patches run through the engine",
	})

	forwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bodkin_engine_forward_duration_seconds",
		Help:    "Time spent inside a single engine forward call",
		Buckets: prometheus.DefBuckets,
	})

	// Fault metrics, labelled by class: config, engine or runtime
	faultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_faults_total",
		Help: "Total number of aborted operations by fault class",
	}, []string{"class"})
)
