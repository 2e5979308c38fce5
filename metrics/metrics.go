package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type CacheMetrics struct {
	PruneRuns        prometheus.Counter
	PruneDurationSec prometheus.Histogram
	EntriesRemoved   prometheus.Counter
	EntriesSkipped   *prometheus.CounterVec
	BytesAfterPrune  prometheus.Gauge
	ActiveReferences prometheus.Gauge
}

type BuildMetrics struct {
	Started          prometheus.Counter
	Attached         prometheus.Counter
	Failed           prometheus.Counter
	InFlight         prometheus.Gauge
	BuildDurationSec *prometheus.HistogramVec
}

type SegmentedStreamingMetrics struct {
	SessionsCreated      *prometheus.CounterVec
	SessionHeartbeats    prometheus.Counter
	TokensRejected       *prometheus.CounterVec
	ReadinessWaitSec     *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	Cache  CacheMetrics
	Builds BuildMetrics
}

func NewMetrics() *SegmentedStreamingMetrics {
	m := &SegmentedStreamingMetrics{
		SessionsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "streaming_sessions_created_count",
			Help: "The total number of playback sessions created, broken up by playback profile codec",
		}, []string{"codec"}),
		SessionHeartbeats: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streaming_session_heartbeat_count",
			Help: "The total number of session heartbeats received",
		}),
		TokensRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "streaming_session_tokens_rejected_count",
			Help: "The total number of session tokens rejected, broken up by error code",
		}, []string{"code"}),
		ReadinessWaitSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streaming_manifest_readiness_wait_seconds",
			Help:    "Time spent waiting for a manifest to become playable, broken up by outcome",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"outcome"}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "A count of the http requests in flight",
		}),

		Cache: CacheMetrics{
			PruneRuns: promauto.NewCounter(prometheus.CounterOpts{
				Name: "streaming_cache_prune_runs_count",
				Help: "The total number of cache prune passes executed",
			}),
			PruneDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "streaming_cache_prune_duration_seconds",
				Help:    "Time taken by a cache prune pass",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}),
			EntriesRemoved: promauto.NewCounter(prometheus.CounterOpts{
				Name: "streaming_cache_entries_removed_count",
				Help: "The total number of cache entries evicted",
			}),
			EntriesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "streaming_cache_entries_skipped_count",
				Help: "The total number of cache entries protected from eviction, broken up by reason",
			}, []string{"reason"}),
			BytesAfterPrune: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "streaming_cache_bytes",
				Help: "Total size of the streaming cache after the last prune pass",
			}),
			ActiveReferences: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "streaming_cache_active_references",
				Help: "Number of session references currently protecting cache entries",
			}),
		},

		Builds: BuildMetrics{
			Started: promauto.NewCounter(prometheus.CounterOpts{
				Name: "streaming_builds_started_count",
				Help: "The total number of asset builds started",
			}),
			Attached: promauto.NewCounter(prometheus.CounterOpts{
				Name: "streaming_builds_attached_count",
				Help: "The total number of asset requests that attached to an existing build",
			}),
			Failed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "streaming_builds_failed_count",
				Help: "The total number of asset builds that failed",
			}),
			InFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "streaming_builds_in_flight",
				Help: "Number of asset builds currently running in this process",
			}),
			BuildDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "streaming_build_duration_seconds",
				Help:    "Time taken to build a streaming asset, broken up by success",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			}, []string{"success"}),
		},
	}

	return m
}

var Metrics = NewMetrics()
