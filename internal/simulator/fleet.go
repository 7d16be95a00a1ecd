package simulator

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

// Fleet owns the simulated units and drives them one tick at a time. All
// access to unit state goes through the fleet mutex, so scenario injection
// is safe while the collection pipeline is ticking.
type Fleet struct {
	logger *slog.Logger

	mu    sync.Mutex
	units map[string]*Unit
	order []string
	rng   *rand.Rand
}

// NewFleet creates an empty fleet. seed fixes the random source so test runs
// are reproducible.
func NewFleet(logger *slog.Logger, seed int64) *Fleet {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fleet{
		logger: logger,
		units:  make(map[string]*Unit),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// AddUnit registers a simulated battery. Adding an existing id replaces the
// previous unit.
func (f *Fleet) AddUnit(cfg UnitConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.units[cfg.ID]; !exists {
		f.order = append(f.order, cfg.ID)
	}
	f.units[cfg.ID] = NewUnit(cfg, rand.New(rand.NewSource(f.rng.Int63())))
	f.logger.Info("battery unit registered", slog.String("unit_id", cfg.ID))
}

// RemoveUnit drops a unit from the fleet.
func (f *Fleet) RemoveUnit(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.units[id]; !ok {
		return
	}
	delete(f.units, id)
	for i, uid := range f.order {
		if uid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.logger.Info("battery unit removed", slog.String("unit_id", id))
}

// UnitIDs returns the registered unit ids in insertion order.
func (f *Fleet) UnitIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// AdvanceAll moves every unit forward one tick and returns one sample per
// unit. Units randomly switch between charge and discharge cycles, matching
// real mixed duty.
func (f *Fleet) AdvanceAll(now time.Time) []models.TelemetrySample {
	f.mu.Lock()
	defer f.mu.Unlock()

	samples := make([]models.TelemetrySample, 0, len(f.order))
	for _, id := range f.order {
		unit := f.units[id]

		if f.rng.Float64() < 0.1 {
			if f.rng.Float64() < 0.5 {
				unit.BeginCharge(1.0)
			} else {
				unit.BeginDischarge(0.2 + f.rng.Float64()*0.8)
			}
		}

		unit.AdvanceTick(now)
		samples = append(samples, unit.Sample(now))
	}
	return samples
}

// InjectAnomaly opens a fault window on one unit. The window is cleared by
// elapsed time alone; overlapping injections are last-writer-wins.
func (f *Fleet) InjectAnomaly(unitID string, kind AnomalyKind, duration time.Duration, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	unit, ok := f.units[unitID]
	if !ok {
		return fmt.Errorf("unknown unit %q", unitID)
	}
	unit.InjectAnomaly(kind, duration, now)
	f.logger.Warn("anomaly injected",
		slog.String("unit_id", unitID),
		slog.String("kind", string(kind)),
		slog.Duration("duration", duration))
	return nil
}

// InjectScenario runs one of the predefined stress scenarios from the test
// bench: fleet-wide overheat, or a single-unit overcharge / internal short.
func (f *Fleet) InjectScenario(name string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch name {
	case "high_temp_stress":
		for _, unit := range f.units {
			unit.InjectAnomaly(AnomalyOverheat, 300*time.Second, now)
		}
	case "overcharge_test":
		if len(f.order) == 0 {
			return fmt.Errorf("scenario %q: fleet is empty", name)
		}
		f.units[f.order[0]].InjectAnomaly(AnomalyOvercharge, 120*time.Second, now)
	case "internal_short":
		if len(f.order) == 0 {
			return fmt.Errorf("scenario %q: fleet is empty", name)
		}
		f.units[f.order[0]].InjectAnomaly(AnomalyInternalShort, 180*time.Second, now)
	default:
		return fmt.Errorf("unknown scenario %q", name)
	}
	f.logger.Warn("scenario injected", slog.String("scenario", name))
	return nil
}

// UnitStatus summarises one unit for status reporting.
type UnitStatus struct {
	HealthScore float64 `json:"health_score"`
	Capacity    float64 `json:"capacity"`
	Temperature float64 `json:"temperature"`
	CycleCount  float64 `json:"cycle_count"`
	SOH         float64 `json:"soh"`
}

// Status returns a point-in-time snapshot of every unit.
func (f *Fleet) Status(now time.Time) map[string]UnitStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	status := make(map[string]UnitStatus, len(f.units))
	for id, unit := range f.units {
		s := unit.Sample(now)
		status[id] = UnitStatus{
			HealthScore: s.HealthScore,
			Capacity:    s.Capacity,
			Temperature: s.Temperature,
			CycleCount:  s.CycleCount,
			SOH:         unit.SOH(),
		}
	}
	return status
}
