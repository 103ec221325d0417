package observe

import (
	"sync"
	"time"
)

// Stats keeps plain in-process counters mirroring the tier instruments, so
// callers can read a synchronous snapshot without scraping the exporter.
// All methods are safe for concurrent use.
type Stats struct {
	mu        sync.Mutex
	requests  map[string]int
	successes map[string]int
	failures  map[string]map[string]int
	retries   map[string]map[int]int
	fallbacks map[string]int
	latency   map[string]time.Duration
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	// Requests counts tier invocations by tier name.
	Requests map[string]int `json:"requests"`

	// Successes counts tier invocations that produced a response.
	Successes map[string]int `json:"successes"`

	// Failures counts failures per tier, by error kind.
	Failures map[string]map[string]int `json:"failures"`

	// Retries counts retries per tier, by attempt number.
	Retries map[string]map[int]int `json:"retries"`

	// Fallbacks counts cascade hops keyed "from_to", e.g. "tier2_to_tier1".
	Fallbacks map[string]int `json:"fallbacks"`

	// MeanResponseMS is the mean per-tier latency in milliseconds.
	MeanResponseMS map[string]float64 `json:"mean_response_ms"`
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{
		requests:  map[string]int{},
		successes: map[string]int{},
		failures:  map[string]map[string]int{},
		retries:   map[string]map[int]int{},
		fallbacks: map[string]int{},
		latency:   map[string]time.Duration{},
	}
}

// Request counts one tier invocation.
func (s *Stats) Request(tier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[tier]++
}

// Success counts one successful tier response with its latency.
func (s *Stats) Success(tier string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes[tier]++
	s.latency[tier] += d
}

// Failure counts one tier failure by error kind.
func (s *Stats) Failure(tier, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[tier] == nil {
		s.failures[tier] = map[string]int{}
	}
	s.failures[tier][kind]++
}

// Retry counts one retry by attempt number.
func (s *Stats) Retry(tier string, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retries[tier] == nil {
		s.retries[tier] = map[int]int{}
	}
	s.retries[tier][attempt]++
}

// Fallback counts one cascade hop.
func (s *Stats) Fallback(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacks[from+"_to_"+to]++
}

// Snapshot returns a deep copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Requests:       copyMap(s.requests),
		Successes:      copyMap(s.successes),
		Failures:       map[string]map[string]int{},
		Retries:        map[string]map[int]int{},
		Fallbacks:      copyMap(s.fallbacks),
		MeanResponseMS: map[string]float64{},
	}
	for tier, kinds := range s.failures {
		snap.Failures[tier] = copyMap(kinds)
	}
	for tier, attempts := range s.retries {
		snap.Retries[tier] = copyMap(attempts)
	}
	for tier, total := range s.latency {
		if n := s.successes[tier]; n > 0 {
			snap.MeanResponseMS[tier] = float64(total.Milliseconds()) / float64(n)
		}
	}
	return snap
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
