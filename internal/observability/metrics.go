package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names recorded by the reply pipeline.
const (
	StageRetrieve        = "retrieve"
	StageRespond         = "respond"
	StagePersistEpisodic = "persist_episodic"
	StagePersistSemantic = "persist_semantic"
	StageRunTotal        = "run_total"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Runs            *prometheus.CounterVec
	StageLatency    *prometheus.HistogramVec
	Degraded        *prometheus.CounterVec
	FallbackReplies prometheus.Counter
	MemoryWrites    *prometheus.CounterVec
	MemorySearches  *prometheus.CounterVec
	EmbedCache      *prometheus.CounterVec
	ActiveStreams   prometheus.Gauge

	stages *stageWindow
}

// NewMetrics registers the service instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the instruments on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Reply pipeline runs by outcome.",
		}, []string{"outcome"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_latency_ms",
			Help:      "Reply pipeline stage latency in milliseconds.",
			Buckets:   []float64{5, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"stage"}),
		Degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_degraded_total",
			Help:      "Failures absorbed by the pipeline, by stage.",
		}, []string{"stage"}),
		FallbackReplies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_replies_total",
			Help:      "Replies replaced by the fixed fallback text.",
		}),
		MemoryWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Memory writes by kind and result.",
		}, []string{"kind", "result"}),
		MemorySearches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_searches_total",
			Help:      "Memory searches by kind and result.",
		}, []string{"kind", "result"}),
		EmbedCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_cache_lookups_total",
			Help:      "Embedding cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_chat_streams",
			Help:      "Number of open chat websocket connections.",
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.observeLatency(stage, ms)
}

func (m *Metrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.stages.observeRun(outcome)
}

// ObserveDegraded counts a failure that the pipeline absorbed instead of
// surfacing. The count is reported next to the stage's latency in the snapshot.
func (m *Metrics) ObserveDegraded(stage string) {
	if m == nil {
		return
	}
	m.Degraded.WithLabelValues(stage).Inc()
	m.stages.observeDegraded(stage)
}

func (m *Metrics) ObserveFallbackReply() {
	if m == nil {
		return
	}
	m.FallbackReplies.Inc()
	m.stages.observeFallback()
}

func (m *Metrics) ObserveMemoryWrite(kind, result string) {
	if m == nil {
		return
	}
	m.MemoryWrites.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveMemorySearch(kind, result string) {
	if m == nil {
		return
	}
	m.MemorySearches.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveEmbedCache(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EmbedCache.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// SnapshotStages returns rolling per-stage latency percentiles.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
