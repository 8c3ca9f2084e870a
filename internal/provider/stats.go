package provider

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of one provider's statistics.
type Stats struct {
	Provider            string        `json:"provider"`
	TotalCalls          int64         `json:"total_calls"`
	CacheHits           int64         `json:"cache_hits"`
	CacheMisses         int64         `json:"cache_misses"`
	TotalTokens         int64         `json:"total_tokens"`
	TotalCost           float64       `json:"total_cost"`
	AvgLatency          time.Duration `json:"avg_latency"`
	ErrorCount          int64         `json:"error_count"`
	IsAvailable         bool          `json:"is_available"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	LastChecked         time.Time     `json:"last_checked,omitempty"`
}

// Cost prices a token count at unitCost per 1K tokens.
func Cost(tokens int, unitCost float64) float64 {
	return float64(tokens) / 1000 * unitCost
}

// Tracker records statistics for a fixed set of providers. It is safe for
// concurrent use.
type Tracker struct {
	mu    sync.Mutex
	order []string
	stats map[string]*Stats
}

// NewTracker creates a tracker with every named provider marked available.
func NewTracker(names ...string) *Tracker {
	t := &Tracker{stats: make(map[string]*Stats, len(names))}
	for _, n := range names {
		if _, ok := t.stats[n]; ok {
			continue
		}
		t.order = append(t.order, n)
		t.stats[n] = &Stats{Provider: n, IsAvailable: true}
	}
	return t
}

func (t *Tracker) get(name string) *Stats {
	s, ok := t.stats[name]
	if !ok {
		s = &Stats{Provider: name, IsAvailable: true}
		t.stats[name] = s
		t.order = append(t.order, name)
	}
	return s
}

func (s *Stats) observeLatency(latency time.Duration) {
	s.TotalCalls++
	s.AvgLatency += (latency - s.AvgLatency) / time.Duration(s.TotalCalls)
}

// RecordSuccess records a completed call and clears the failure streak.
func (t *Tracker) RecordSuccess(name string, latency time.Duration, tokens int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(name)
	s.observeLatency(latency)
	s.TotalTokens += int64(tokens)
	s.TotalCost += cost
	s.ConsecutiveFailures = 0
}

// RecordFailure records a failed call and returns the current streak of
// consecutive failures.
func (t *Tracker) RecordFailure(name string, latency time.Duration, err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(name)
	s.observeLatency(latency)
	s.ErrorCount++
	s.ConsecutiveFailures++
	if err != nil {
		s.LastError = err.Error()
	}
	return s.ConsecutiveFailures
}

// RecordHit counts a cache hit against the named provider.
func (t *Tracker) RecordHit(name string) {
	t.mu.Lock()
	t.get(name).CacheHits++
	t.mu.Unlock()
}

// RecordMiss counts a cache miss against the named provider.
func (t *Tracker) RecordMiss(name string) {
	t.mu.Lock()
	t.get(name).CacheMisses++
	t.mu.Unlock()
}

// SetAvailable updates availability, typically from a health probe.
func (t *Tracker) SetAvailable(name string, available bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(name)
	s.IsAvailable = available
	s.LastChecked = time.Now()
	if available {
		s.ConsecutiveFailures = 0
	} else if err != nil {
		s.LastError = err.Error()
	}
}

// Available reports the last known availability.
func (t *Tracker) Available(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(name).IsAvailable
}

// Get returns a copy of one provider's stats.
func (t *Tracker) Get(name string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[name]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// Snapshot returns copies of all stats in registration order.
func (t *Tracker) Snapshot() []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stats, 0, len(t.order))
	for _, n := range t.order {
		out = append(out, *t.stats[n])
	}
	return out
}
