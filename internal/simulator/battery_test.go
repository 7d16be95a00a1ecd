package simulator

import (
	"math/rand"
	"testing"
	"time"
)

func newTestUnit(t *testing.T) *Unit {
	t.Helper()
	return NewUnit(UnitConfig{
		ID:              "unit-1",
		NominalVoltage:  3.7,
		NominalCapacity: 2.5,
		InitialSOH:      1.0,
	}, rand.New(rand.NewSource(42)))
}

func TestSampleStaysWithinPhysicalBounds(t *testing.T) {
	unit := newTestUnit(t)
	now := time.Unix(1_700_000_000, 0)

	unit.BeginDischarge(1.0)
	for i := 0; i < 2000; i++ {
		now = now.Add(time.Second)
		unit.AdvanceTick(now)
		s := unit.Sample(now)

		if s.Voltage < 2.5 || s.Voltage > 4.9 {
			t.Fatalf("tick %d: voltage %.3f outside [2.5, 4.9]", i, s.Voltage)
		}
		if s.Capacity < 0 || s.Capacity > 100 {
			t.Fatalf("tick %d: capacity %.1f outside [0, 100]", i, s.Capacity)
		}
		if s.HealthScore < 0 || s.HealthScore > 100 {
			t.Fatalf("tick %d: health score %.1f outside [0, 100]", i, s.HealthScore)
		}

		// Mixed duty to exercise both branches.
		if i%600 == 599 {
			unit.BeginCharge(1.0)
		} else if i%600 == 299 {
			unit.BeginDischarge(0.8)
		}
	}
}

func TestCycleCountAndSOHMonotone(t *testing.T) {
	unit := newTestUnit(t)
	now := time.Unix(1_700_000_000, 0)

	unit.BeginDischarge(1.5)
	prevCycles := unit.CycleCount()
	prevSOH := unit.SOH()
	for i := 0; i < 500; i++ {
		now = now.Add(time.Second)
		unit.AdvanceTick(now)

		if unit.CycleCount() < prevCycles {
			t.Fatalf("cycle count decreased at tick %d", i)
		}
		if unit.SOH() > prevSOH {
			t.Fatalf("SOH increased at tick %d", i)
		}
		prevCycles = unit.CycleCount()
		prevSOH = unit.SOH()
	}

	if unit.CycleCount() <= 0 {
		t.Fatal("sustained discharge should accrue fractional cycles")
	}
	if unit.SOH() < sohFloor {
		t.Fatalf("SOH %.4f dropped below floor %.2f", unit.SOH(), sohFloor)
	}
}

func TestOverheatInjectionRaisesAndRelaxes(t *testing.T) {
	unit := newTestUnit(t)
	now := time.Unix(1_700_000_000, 0)

	// Settle to baseline.
	for i := 0; i < 120; i++ {
		now = now.Add(time.Second)
		unit.AdvanceTick(now)
	}
	baseline := unit.Sample(now).Temperature

	unit.InjectAnomaly(AnomalyOverheat, 60*time.Second, now)
	var peak float64
	for i := 0; i < 60; i++ {
		now = now.Add(time.Second)
		unit.AdvanceTick(now)
		if temp := unit.Sample(now).Temperature; temp > peak {
			peak = temp
		}
	}
	if peak < baseline+5 {
		t.Fatalf("overheat window should visibly elevate temperature: baseline %.1f, peak %.1f", baseline, peak)
	}

	// After expiry the exponential relaxation pulls temperature back toward
	// ambient within a bounded number of ticks.
	for i := 0; i < 300; i++ {
		now = now.Add(time.Second)
		unit.AdvanceTick(now)
	}
	settled := unit.Sample(now).Temperature
	if settled > baseline+5 {
		t.Fatalf("temperature %.1f did not relax toward baseline %.1f after expiry", settled, baseline)
	}
}

func TestOverlappingInjectionLastWriterWins(t *testing.T) {
	unit := newTestUnit(t)
	now := time.Unix(1_700_000_000, 0)

	unit.InjectAnomaly(AnomalyOverheat, 10*time.Second, now)
	unit.InjectAnomaly(AnomalyInternalShort, 120*time.Second, now.Add(5*time.Second))

	// Past the first window's expiry the second injection must still hold.
	at := now.Add(30 * time.Second)
	if kind := unit.activeAnomaly(at); kind != AnomalyInternalShort {
		t.Fatalf("expected internal_short still active, got %q", kind)
	}

	// And it clears on its own expiry.
	at = now.Add(5*time.Second + 121*time.Second)
	if kind := unit.activeAnomaly(at); kind != "" {
		t.Fatalf("expected anomaly cleared, got %q", kind)
	}
}

func TestFleetAdvanceAllEmitsOneSamplePerUnit(t *testing.T) {
	fleet := NewFleet(nil, 7)
	fleet.AddUnit(UnitConfig{ID: "a"})
	fleet.AddUnit(UnitConfig{ID: "b"})
	fleet.AddUnit(UnitConfig{ID: "c"})

	now := time.Unix(1_700_000_000, 0)
	samples := fleet.AdvanceAll(now)
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	seen := map[string]bool{}
	for _, s := range samples {
		seen[s.UnitID] = true
		if !s.Timestamp.Equal(now.UTC()) {
			t.Fatalf("sample timestamp %v, want %v", s.Timestamp, now.UTC())
		}
	}
	if !seen["a"] || !seen["b"] || !seen["c"] {
		t.Fatalf("missing unit samples: %v", seen)
	}
}

func TestFleetStatusAndRemoval(t *testing.T) {
	fleet := NewFleet(nil, 7)
	fleet.AddUnit(UnitConfig{ID: "a"})
	fleet.AddUnit(UnitConfig{ID: "b"})

	now := time.Unix(1_700_000_000, 0)
	fleet.AdvanceAll(now)

	status := fleet.Status(now)
	if len(status) != 2 {
		t.Fatalf("status for %d units, want 2", len(status))
	}
	for id, s := range status {
		if s.HealthScore < 0 || s.HealthScore > 100 {
			t.Fatalf("unit %s health %.1f outside [0, 100]", id, s.HealthScore)
		}
		if s.SOH <= 0 || s.SOH > 1 {
			t.Fatalf("unit %s SOH %.3f outside (0, 1]", id, s.SOH)
		}
	}

	fleet.RemoveUnit("a")
	if ids := fleet.UnitIDs(); len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("after removal ids = %v, want [b]", ids)
	}
	if len(fleet.Status(now)) != 1 {
		t.Fatal("removed unit still reported in status")
	}
}

func TestFleetScenarios(t *testing.T) {
	fleet := NewFleet(nil, 7)
	fleet.AddUnit(UnitConfig{ID: "a"})

	now := time.Unix(1_700_000_000, 0)
	for _, name := range []string{"high_temp_stress", "overcharge_test", "internal_short"} {
		if err := fleet.InjectScenario(name, now); err != nil {
			t.Fatalf("scenario %s: %v", name, err)
		}
	}
	if err := fleet.InjectScenario("nope", now); err == nil {
		t.Fatal("unknown scenario should error")
	}
	if err := fleet.InjectAnomaly("missing", AnomalyOverheat, time.Minute, now); err == nil {
		t.Fatal("unknown unit should error")
	}
}
