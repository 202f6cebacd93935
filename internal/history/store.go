// Package history provides a bounded per-metric time series used for
// trend and anomaly analysis. Each metric gets its own fixed-capacity
// ring buffer guarded by its own lock, so unrelated metrics never
// contend.
package history

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the per-metric sample capacity when none is given.
const DefaultCapacity = 100

// Sample is one (timestamp, value) observation of a metric.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ring is a fixed-capacity circular buffer of samples. Oldest samples
// are evicted as new ones arrive.
type ring struct {
	mu    sync.Mutex
	buf   []Sample
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) push(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = s
	if r.count == len(r.buf) {
		// Full: overwrite oldest, advance head.
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// snapshot returns the samples oldest-first.
func (r *ring) snapshot() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Sample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Store holds the history rings for all metrics of one monitor instance.
// History is monitor-scoped, not session-scoped.
type Store struct {
	mu       sync.RWMutex
	rings    map[string]*ring
	capacity int

	// Metrics (accessed atomically)
	totalAppended uint64
}

// NewStore creates a Store with the given per-metric capacity.
// A non-positive capacity falls back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		rings:    make(map[string]*ring),
		capacity: capacity,
	}
}

// Append records a sample for the metric, evicting the oldest sample
// when the ring is full.
func (s *Store) Append(metric string, value float64, ts time.Time) {
	s.mu.RLock()
	r, ok := s.rings[metric]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		r, ok = s.rings[metric]
		if !ok {
			r = newRing(s.capacity)
			s.rings[metric] = r
		}
		s.mu.Unlock()
	}

	r.push(Sample{Timestamp: ts, Value: value})
	atomic.AddUint64(&s.totalAppended, 1)
}

// Samples returns all stored samples for the metric, oldest-first.
// Returns nil when the metric has no history.
func (s *Store) Samples(metric string) []Sample {
	s.mu.RLock()
	r, ok := s.rings[metric]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.snapshot()
}

// Values returns just the stored values for the metric, oldest-first.
func (s *Store) Values(metric string) []float64 {
	samples := s.Samples(metric)
	if samples == nil {
		return nil
	}
	out := make([]float64, len(samples))
	for i, sm := range samples {
		out[i] = sm.Value
	}
	return out
}

// Len returns the number of samples stored for the metric.
func (s *Store) Len(metric string) int {
	s.mu.RLock()
	r, ok := s.rings[metric]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return r.len()
}

// Capacity returns the per-metric capacity.
func (s *Store) Capacity() int {
	return s.capacity
}

// Metrics returns the identifiers of all tracked metrics.
func (s *Store) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rings))
	for m := range s.rings {
		out = append(out, m)
	}
	return out
}

// TotalAppended returns the lifetime count of appended samples.
func (s *Store) TotalAppended() uint64 {
	return atomic.LoadUint64(&s.totalAppended)
}
