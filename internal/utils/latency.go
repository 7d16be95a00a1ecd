package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent prediction durations in a fixed-size
// ring and answers percentile queries over them. Old observations are
// overwritten in place, so memory stays bounded however long the process
// runs.
type LatencyTracker struct {
	mu   sync.RWMutex
	ring []time.Duration
	next int
	full bool
}

// NewLatencyTracker creates a tracker remembering the last size durations.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, size)}
}

// Observe records one duration, displacing the oldest when the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = d
	l.next++
	if l.next == len(l.ring) {
		l.next = 0
		l.full = true
	}
}

// Count reports how many observations the ring currently holds.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count()
}

// Percentile returns the nearest-rank percentile (0-100) of the retained
// observations, or zero when nothing has been observed yet.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	n := l.count()
	sorted := make([]time.Duration, n)
	copy(sorted, l.ring[:n])
	l.mu.RUnlock()

	if n == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int((p / 100.0) * float64(n-1))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

func (l *LatencyTracker) count() int {
	if l.full {
		return len(l.ring)
	}
	return l.next
}
