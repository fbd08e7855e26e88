package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videoforge_runs_total",
		Help: "Video runs by terminal outcome",
	}, []string{"outcome"})

	SegmentsGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videoforge_segments_generated_total",
		Help: "Segments produced, by source (provider or cache)",
	}, []string{"source"})

	SegmentRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "videoforge_segment_retries_total",
		Help: "Segment generation attempts beyond the first",
	})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videoforge_cache_lookups_total",
		Help: "Segment cache lookups by result",
	}, []string{"result"})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "videoforge_phase_duration_seconds",
		Help:    "Wall-clock duration per pipeline phase",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"phase"})

	ActiveRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "videoforge_active_run",
		Help: "1 while the orchestrator holds the processing lock",
	})
)
