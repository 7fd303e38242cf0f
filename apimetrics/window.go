// Package apimetrics implements the rolling per-request window the health
// sampler consults for api p95 latency, inflight count and error rate.
package apimetrics

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"pullsched/clock"
)

// Sample is one observed request.
type Sample struct {
	Path      string
	Client    string
	Status    int
	DurationMS float64
	ArrivedAt time.Time
}

// Snapshot is the read-mostly aggregate computed on demand from the current
// window contents.
type Snapshot struct {
	RPS           float64
	Inflight      int64
	LatencyAvgMS  float64
	LatencyP95MS  float64
	ErrorRate     float64
	TopPaths      []PathCount
	TopClients    []PathCount
	WindowSeconds int
}

// PathCount is a (key, count) pair used for top_paths/top_clients.
type PathCount struct {
	Key   string
	Count int
}

// Window is a many-writer, single-reader rolling sample buffer. Producers
// (request middleware) must not block readers (sampler snapshots): writes
// take a short lock to append/evict, never compute aggregates inline.
type Window struct {
	mu            sync.Mutex
	clk           clock.Clock
	windowSeconds int
	excluded      map[string]struct{}
	samples       *list.List // of *Sample, oldest front

	inflight int64
}

// New constructs an empty Window. excludedPaths are never recorded (e.g.
// /metrics, /healthz).
func New(clk clock.Clock, windowSeconds int, excludedPaths []string) *Window {
	excluded := make(map[string]struct{}, len(excludedPaths))
	for _, p := range excludedPaths {
		excluded[p] = struct{}{}
	}
	return &Window{clk: clk, windowSeconds: windowSeconds, excluded: excluded, samples: list.New()}
}

// EnterRequest increments inflight; the returned func must be called exactly
// once on the request's exit path (success or failure) with its outcome.
func (w *Window) EnterRequest(path string) func(client string, status int, durationMS float64) {
	if _, skip := w.excluded[path]; skip {
		return func(string, int, float64) {}
	}
	w.mu.Lock()
	w.inflight++
	w.mu.Unlock()
	return func(client string, status int, durationMS float64) {
		w.mu.Lock()
		w.inflight--
		w.samples.PushBack(&Sample{Path: path, Client: client, Status: status, DurationMS: durationMS, ArrivedAt: w.clk.Now()})
		w.evictLocked()
		w.mu.Unlock()
	}
}

// evictLocked drops samples older than now-windowSeconds. Caller holds mu.
func (w *Window) evictLocked() {
	cutoff := w.clk.Now().Add(-time.Duration(w.windowSeconds) * time.Second)
	for e := w.samples.Front(); e != nil; {
		next := e.Next()
		s := e.Value.(*Sample)
		if s.ArrivedAt.After(cutoff) {
			break
		}
		w.samples.Remove(e)
		e = next
	}
}

// Snapshot computes the current aggregate. Safe to call concurrently with
// writers; it briefly holds the same short lock writers use.
func (w *Window) Snapshot() Snapshot {
	w.mu.Lock()
	w.evictLocked()
	n := w.samples.Len()
	durations := make([]float64, 0, n)
	errCount := 0
	pathCounts := make(map[string]int)
	clientCounts := make(map[string]int)
	var sum float64
	for e := w.samples.Front(); e != nil; e = e.Next() {
		s := e.Value.(*Sample)
		durations = append(durations, s.DurationMS)
		sum += s.DurationMS
		if s.Status >= 400 {
			errCount++
		}
		pathCounts[s.Path]++
		if s.Client != "" {
			clientCounts[s.Client]++
		}
	}
	inflight := w.inflight
	windowSeconds := w.windowSeconds
	w.mu.Unlock()

	snap := Snapshot{WindowSeconds: windowSeconds, Inflight: inflight}
	if windowSeconds > 0 {
		snap.RPS = float64(n) / float64(windowSeconds)
	}
	if n > 0 {
		snap.LatencyAvgMS = sum / float64(n)
		snap.ErrorRate = float64(errCount) / float64(n)
		sort.Float64s(durations)
		snap.LatencyP95MS = percentile95(durations)
	}
	snap.TopPaths = topN(pathCounts, 10)
	snap.TopClients = topN(clientCounts, 10)
	return snap
}

// percentile95 picks the value at the 95th percentile of a sorted slice,
// ties broken by the lower index (floor of the rank).
func percentile95(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * 0.95)
	return sorted[idx]
}

func topN(counts map[string]int, n int) []PathCount {
	out := make([]PathCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, PathCount{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
