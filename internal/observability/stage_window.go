package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// pipelineOrder is the order stages run in, and the order they are reported.
var pipelineOrder = []string{
	StageRetrieve,
	StageRespond,
	StagePersistEpisodic,
	StagePersistSemantic,
	StageRunTotal,
}

// stageTargetP95 is the latency budget per stage, in milliseconds. Persisting
// semantic memory includes a model call, so it gets a reply-sized budget.
var stageTargetP95 = map[string]float64{
	StageRetrieve:        300,
	StageRespond:         6000,
	StagePersistEpisodic: 300,
	StagePersistSemantic: 4000,
	StageRunTotal:        10000,
}

// StageStats summarises one stage over the current window. Degraded counts
// failures the stage absorbed since the last reset.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target"`
	Degraded    int     `json:"degraded"`
}

// StageSnapshot is served by the /v1/perf/stages endpoint.
type StageSnapshot struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	WindowSize      int            `json:"window_size"`
	Stages          []StageStats   `json:"stages"`
	FallbackReplies int            `json:"fallback_replies"`
	Runs            map[string]int `json:"runs,omitempty"`
}

// latencyRing holds the most recent samples of one stage.
type latencyRing struct {
	samples []float64
	next    int
	size    int
	last    float64
}

func (r *latencyRing) add(ms float64) {
	r.samples[r.next] = ms
	r.next = (r.next + 1) % len(r.samples)
	if r.size < len(r.samples) {
		r.size++
	}
	r.last = ms
}

func (r *latencyRing) sorted() []float64 {
	out := slices.Clone(r.samples[:r.size])
	slices.Sort(out)
	return out
}

// stageWindow tracks recent per-stage latencies and the pipeline's absorbed
// failures, so /v1/perf/stages can answer without a Prometheus query.
type stageWindow struct {
	mu        sync.Mutex
	capacity  int
	latency   map[string]*latencyRing
	degraded  map[string]int
	fallbacks int
	runs      map[string]int
}

func newStageWindow(capacity int) *stageWindow {
	if capacity <= 0 {
		capacity = 256
	}
	w := &stageWindow{capacity: capacity}
	w.clear()
	return w
}

func (w *stageWindow) clear() {
	w.latency = make(map[string]*latencyRing)
	w.degraded = make(map[string]int)
	w.fallbacks = 0
	w.runs = make(map[string]int)
}

func (w *stageWindow) observeLatency(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ring := w.latency[stage]
	if ring == nil {
		ring = &latencyRing{samples: make([]float64, w.capacity)}
		w.latency[stage] = ring
	}
	ring.add(ms)
}

func (w *stageWindow) observeDegraded(stage string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.degraded[stage]++
}

func (w *stageWindow) observeFallback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fallbacks++
}

func (w *stageWindow) observeRun(outcome string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runs[outcome]++
}

func (w *stageWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clear()
}

func (w *stageWindow) snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt:     time.Now().UTC(),
		WindowSize:      w.capacity,
		Stages:          []StageStats{},
		FallbackReplies: w.fallbacks,
	}
	if len(w.runs) > 0 {
		snap.Runs = make(map[string]int, len(w.runs))
		for k, v := range w.runs {
			snap.Runs[k] = v
		}
	}
	for _, stage := range w.reportOrder() {
		snap.Stages = append(snap.Stages, w.statsFor(stage))
	}
	return snap
}

// reportOrder lists every stage with data: pipeline stages first, then any
// custom stage names alphabetically.
func (w *stageWindow) reportOrder() []string {
	seen := make(map[string]bool)
	var extra []string
	note := func(stage string) {
		if seen[stage] {
			return
		}
		seen[stage] = true
		if _, known := stageTargetP95[stage]; !known {
			extra = append(extra, stage)
		}
	}
	for stage := range w.latency {
		note(stage)
	}
	for stage := range w.degraded {
		note(stage)
	}

	var order []string
	for _, stage := range pipelineOrder {
		if seen[stage] {
			order = append(order, stage)
		}
	}
	slices.Sort(extra)
	return append(order, extra...)
}

func (w *stageWindow) statsFor(stage string) StageStats {
	stats := StageStats{
		Stage:       stage,
		TargetP95MS: stageTargetP95[stage],
		Degraded:    w.degraded[stage],
	}
	ring := w.latency[stage]
	if ring == nil || ring.size == 0 {
		return stats
	}
	samples := ring.sorted()
	var sum float64
	for _, v := range samples {
		sum += v
	}
	stats.Samples = len(samples)
	stats.LastMS = round2(ring.last)
	stats.AvgMS = round2(sum / float64(len(samples)))
	stats.P50MS = round2(nearestRank(samples, 0.50))
	stats.P95MS = round2(nearestRank(samples, 0.95))
	stats.P99MS = round2(nearestRank(samples, 0.99))
	stats.OverTarget = stats.TargetP95MS > 0 && stats.P95MS > stats.TargetP95MS
	return stats
}

// nearestRank returns the q-th percentile of sorted samples.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
