package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

const (
	defaultSampleCapacity = 100000
	defaultAlertCapacity  = 1000
)

// MemoryStore keeps a bounded per-unit history of validated samples plus a
// fleet-wide alert log. Oldest entries are evicted first. All methods are
// safe for concurrent use.
type MemoryStore struct {
	mu             sync.RWMutex
	samples        map[string][]models.ValidatedSample
	alerts         []models.Alert
	sampleCapacity int
	alertCapacity  int
}

// NewMemoryStore builds a store holding up to capacity samples per unit.
// A non-positive capacity selects the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultSampleCapacity
	}
	return &MemoryStore{
		samples:        make(map[string][]models.ValidatedSample),
		sampleCapacity: capacity,
		alertCapacity:  defaultAlertCapacity,
	}
}

// AppendSamples records a batch, evicting the oldest samples of each unit
// that overflows its ring.
func (s *MemoryStore) AppendSamples(batch []models.ValidatedSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sample := range batch {
		buf := append(s.samples[sample.UnitID], sample)
		if excess := len(buf) - s.sampleCapacity; excess > 0 {
			buf = append(buf[:0], buf[excess:]...)
		}
		s.samples[sample.UnitID] = buf
	}
}

// AppendAlert records one alert in the fleet-wide log.
func (s *MemoryStore) AppendAlert(alert models.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append(s.alerts, alert)
	if excess := len(s.alerts) - s.alertCapacity; excess > 0 {
		s.alerts = append(s.alerts[:0], s.alerts[excess:]...)
	}
}

// RecentSamples returns up to limit of the newest samples for a unit taken
// at or after since, in chronological order. A zero since means no time
// filter; limit <= 0 means no count cap. The returned slice is a copy.
func (s *MemoryStore) RecentSamples(unitID string, since time.Time, limit int) []models.ValidatedSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.samples[unitID]

	// Samples arrive in order, so the cutoff is a binary search.
	start := 0
	if !since.IsZero() {
		start = sort.Search(len(buf), func(i int) bool {
			return !buf[i].Timestamp.Before(since)
		})
	}
	window := buf[start:]
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}

	out := make([]models.ValidatedSample, len(window))
	copy(out, window)
	return out
}

// KnownUnits lists every unit with at least one stored sample, sorted.
func (s *MemoryStore) KnownUnits() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	units := make([]string, 0, len(s.samples))
	for id := range s.samples {
		units = append(units, id)
	}
	sort.Strings(units)
	return units
}

// SampleCount reports stored samples for one unit.
func (s *MemoryStore) SampleCount(unitID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples[unitID])
}

// RecentAlerts returns up to limit of the newest alerts, newest last.
func (s *MemoryStore) RecentAlerts(limit int) []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.alerts
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	out := make([]models.Alert, len(window))
	copy(out, window)
	return out
}
