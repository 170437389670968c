package batch

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/turtacn/citeresolve/internal/domain/citation"
)

// DefaultReservoirSize bounds the latency samples kept for percentiles.
const DefaultReservoirSize = 1024

// AdapterStats counts one source's calls across the run, derived from
// ResolutionMetadata. Cached results make no calls and are not counted.
type AdapterStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Completed    int                     `json:"completed"`
	Resumed      int                     `json:"resumed"`
	Retries      int                     `json:"retries"`
	Counts       map[citation.Status]int `json:"counts"`
	LatencyMean  time.Duration           `json:"latency_mean"`
	LatencyP50   time.Duration           `json:"latency_p50"`
	LatencyP95   time.Duration           `json:"latency_p95"`
	CacheHits    int                     `json:"cache_hits"`
	CacheLookups int                     `json:"cache_lookups"`
	CacheHitRate float64                 `json:"cache_hit_rate"`
	Adapters     map[string]AdapterStats `json:"adapters"`
}

// Stats aggregates item completions incrementally. Latencies are sampled
// into a fixed-size reservoir so memory stays bounded on large runs.
type Stats struct {
	mu sync.Mutex

	completed    int
	resumed      int
	retries      int
	counts       map[citation.Status]int
	latencySum   time.Duration
	latencyN     int
	reservoir    []time.Duration
	capacity     int
	rng          *rand.Rand
	cacheHits    int
	cacheLookups int
	adapters     map[string]*AdapterStats
}

func NewStats(capacity int) *Stats {
	if capacity <= 0 {
		capacity = DefaultReservoirSize
	}
	return &Stats{
		counts:   make(map[citation.Status]int),
		capacity: capacity,
		rng:      rand.New(rand.NewSource(1)),
		adapters: make(map[string]*AdapterStats),
	}
}

// Record adds a freshly completed item.
func (s *Stats) Record(item *ItemReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed++
	s.counts[item.Status]++
	s.sample(item.Duration)

	res := item.Result
	if res == nil {
		return
	}
	s.cacheLookups++
	if res.Metadata.FromCache {
		s.cacheHits++
		return
	}
	failed := make(map[string]bool, len(res.Metadata.SourcesFailed))
	for _, f := range res.Metadata.SourcesFailed {
		failed[f] = true
	}
	for _, name := range res.Metadata.SourcesTried {
		a := s.adapters[name]
		if a == nil {
			a = &AdapterStats{}
			s.adapters[name] = a
		}
		a.Attempts++
		if failed[name] {
			a.Failures++
		} else {
			a.Successes++
		}
	}
}

// RecordResumed counts an item restored from a checkpoint.
func (s *Stats) RecordResumed(status citation.Status) {
	s.mu.Lock()
	s.resumed++
	s.counts[status]++
	s.mu.Unlock()
}

// RecordRetry counts one scheduled retry.
func (s *Stats) RecordRetry() {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()
}

// sample is reservoir sampling (algorithm R). Caller holds mu.
func (s *Stats) sample(d time.Duration) {
	s.latencySum += d
	s.latencyN++
	if len(s.reservoir) < s.capacity {
		s.reservoir = append(s.reservoir, d)
		return
	}
	if j := s.rng.Intn(s.latencyN); j < s.capacity {
		s.reservoir[j] = d
	}
}

// Snapshot copies the current aggregates and computes percentiles.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Completed:    s.completed,
		Resumed:      s.resumed,
		Retries:      s.retries,
		Counts:       make(map[citation.Status]int, len(s.counts)),
		CacheHits:    s.cacheHits,
		CacheLookups: s.cacheLookups,
		Adapters:     make(map[string]AdapterStats, len(s.adapters)),
	}
	for k, v := range s.counts {
		snap.Counts[k] = v
	}
	for k, v := range s.adapters {
		snap.Adapters[k] = *v
	}
	if s.cacheLookups > 0 {
		snap.CacheHitRate = float64(s.cacheHits) / float64(s.cacheLookups)
	}
	if s.latencyN > 0 {
		snap.LatencyMean = s.latencySum / time.Duration(s.latencyN)
	}
	if len(s.reservoir) > 0 {
		sorted := append([]time.Duration(nil), s.reservoir...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		snap.LatencyP50 = percentile(sorted, 0.50)
		snap.LatencyP95 = percentile(sorted, 0.95)
	}
	return snap
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
