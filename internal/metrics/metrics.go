package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salcache_cache_lookups_total",
		Help: "Artifact cache lookups, by result (hit, miss, corrupt)",
	}, []string{"result"})

	ArtifactsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "salcache_artifacts_written_total",
		Help: "Artifacts persisted to the cache",
	})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salcache_jobs_total",
		Help: "Batch jobs finished, by outcome (persisted, skipped, failed)",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salcache_job_duration_seconds",
		Help:    "Duration of one video job, by strategy",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"strategy"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "salcache_active_jobs",
		Help: "Video jobs currently running",
	})

	ClipResamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "salcache_clip_resamples_total",
		Help: "Clip decode failures that triggered a resample",
	})
)
