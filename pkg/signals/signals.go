package signals

import (
	"sync"

	"github.com/mendhq/mend/pkg/types"
)

// DefaultCapacity bounds each ring when no explicit capacity is given
const DefaultCapacity = 200

// Store keeps the most recent anomaly and RCA signals in two bounded rings.
// Once a ring is full the oldest entry is dropped. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	anomalies *ring[types.AnomalySignal]
	rcas      *ring[types.RcaSignal]
}

// NewStore creates a Store with the given per-kind capacity. Zero or
// negative capacity falls back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		anomalies: newRing[types.AnomalySignal](capacity),
		rcas:      newRing[types.RcaSignal](capacity),
	}
}

// AddAnomaly records an anomaly signal, evicting the oldest when full.
func (s *Store) AddAnomaly(sig types.AnomalySignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies.push(sig)
}

// AddRCA records an RCA signal, evicting the oldest when full.
func (s *Store) AddRCA(sig types.RcaSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rcas.push(sig)
}

// RecentAnomalies returns up to limit anomaly signals, newest first.
// A non-positive limit returns everything retained.
func (s *Store) RecentAnomalies(limit int) []types.AnomalySignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anomalies.newestFirst(limit)
}

// RecentRCAs returns up to limit RCA signals, newest first.
func (s *Store) RecentRCAs(limit int) []types.RcaSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rcas.newestFirst(limit)
}

// Counts returns the retained anomaly and RCA counts.
func (s *Store) Counts() (anomalies, rcas int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anomalies.size, s.rcas.size
}

// ring is a fixed-capacity circular buffer
type ring[T any] struct {
	buf   []T
	head  int // next write position
	size  int
	capac int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity), capac: capacity}
}

func (r *ring[T]) push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % r.capac
	if r.size < r.capac {
		r.size++
	}
}

func (r *ring[T]) newestFirst(limit int) []T {
	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head - 1 - i + r.capac) % r.capac
		out = append(out, r.buf[idx])
	}
	return out
}
