package features

import (
	"math"
	"testing"
	"time"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

func window(values ...func(*models.TelemetrySample)) []models.ValidatedSample {
	base := time.Unix(1_700_000_000, 0).UTC()
	out := make([]models.ValidatedSample, len(values))
	for i, mutate := range values {
		s := models.TelemetrySample{
			UnitID:      "unit-1",
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			Voltage:     3.7,
			Current:     -1.0,
			Temperature: 25,
			Capacity:    80,
			Power:       3.7,

			InternalResistance: 0.05,
		}
		if mutate != nil {
			mutate(&s)
		}
		out[i] = models.ValidatedSample{TelemetrySample: s, Valid: true, QualityScore: 1}
	}
	return out
}

func steady(n int) []models.ValidatedSample {
	mutators := make([]func(*models.TelemetrySample), n)
	return window(mutators...)
}

func TestSingleSampleWindowIsNearEmpty(t *testing.T) {
	v := Extract(steady(1))

	// Statistical and temporal groups need at least two points; only the
	// level physics features may appear.
	if v.Has("voltage_mean") || v.Has("voltage_trend") || v.Has("cycle_progression") {
		t.Fatalf("unexpected features for single-sample window: %v", v.Names())
	}
	if len(v) > 2 {
		t.Fatalf("expected a near-empty vector, got %v", v.Names())
	}
}

func TestEmptyWindow(t *testing.T) {
	if v := Extract(nil); len(v) != 0 {
		t.Fatalf("empty window should yield empty vector, got %v", v.Names())
	}
}

func TestStatisticalFeatures(t *testing.T) {
	w := window(
		func(s *models.TelemetrySample) { s.Voltage = 3.6 },
		func(s *models.TelemetrySample) { s.Voltage = 3.8 },
		func(s *models.TelemetrySample) { s.Voltage = 3.7 },
		func(s *models.TelemetrySample) { s.Voltage = 3.9 },
	)
	v := Extract(w)

	if got := v.Get("voltage_mean"); math.Abs(got-3.75) > 1e-9 {
		t.Fatalf("voltage_mean = %v, want 3.75", got)
	}
	if got := v.Get("voltage_min"); got != 3.6 {
		t.Fatalf("voltage_min = %v, want 3.6", got)
	}
	if got := v.Get("voltage_max"); got != 3.9 {
		t.Fatalf("voltage_max = %v, want 3.9", got)
	}
	if got := v.Get("voltage_range"); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("voltage_range = %v, want 0.3", got)
	}
	if v.Get("voltage_std") <= 0 {
		t.Fatal("voltage_std should be positive")
	}
	if !v.Has("voltage_skew") || !v.Has("voltage_kurtosis") {
		t.Fatal("four points should produce skewness and kurtosis")
	}
}

func TestZeroVarianceOmitsDegenerateMoments(t *testing.T) {
	v := Extract(steady(10))

	if !v.Has("voltage_mean") {
		t.Fatal("constant series still has a mean")
	}
	if v.Get("voltage_std") != 0 {
		t.Fatalf("voltage_std = %v, want 0", v.Get("voltage_std"))
	}
	if v.Has("voltage_skew") || v.Has("voltage_kurtosis") {
		t.Fatal("zero-variance series must omit skew/kurtosis")
	}
	// Correlation against a flat series is undefined and must be omitted.
	if v.Has("temp_capacity_correlation") {
		t.Fatal("flat series must omit temp_capacity_correlation")
	}
	// Consumers read omitted keys as zero.
	if v.Get("voltage_skew") != 0 {
		t.Fatal("Get on an omitted key must default to zero")
	}
}

func TestLinearTrend(t *testing.T) {
	w := window(
		func(s *models.TelemetrySample) { s.Capacity = 90 },
		func(s *models.TelemetrySample) { s.Capacity = 88 },
		func(s *models.TelemetrySample) { s.Capacity = 86 },
		func(s *models.TelemetrySample) { s.Capacity = 84 },
		func(s *models.TelemetrySample) { s.Capacity = 82 },
	)
	v := Extract(w)

	if got := v.Get("capacity_trend"); math.Abs(got-(-2)) > 1e-9 {
		t.Fatalf("capacity_trend = %v, want -2", got)
	}
	if got := v.Get("capacity_diff_mean"); math.Abs(got-(-2)) > 1e-9 {
		t.Fatalf("capacity_diff_mean = %v, want -2", got)
	}
	if got := v.Get("capacity_diff_std"); got != 0 {
		t.Fatalf("capacity_diff_std = %v, want 0 for a perfectly linear series", got)
	}
}

func TestDutyCycleRatios(t *testing.T) {
	w := window(
		func(s *models.TelemetrySample) { s.Current = 1.0 },  // charge
		func(s *models.TelemetrySample) { s.Current = 1.0 },  // charge
		func(s *models.TelemetrySample) { s.Current = -0.5 }, // discharge
		func(s *models.TelemetrySample) { s.Current = 0.0 },  // idle
	)
	v := Extract(w)

	if got := v.Get("charge_ratio"); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("charge_ratio = %v, want 0.5", got)
	}
	if got := v.Get("discharge_ratio"); math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("discharge_ratio = %v, want 0.25", got)
	}
	if got := v.Get("idle_ratio"); math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("idle_ratio = %v, want 0.25", got)
	}
}

func TestCycleProgression(t *testing.T) {
	w := window(
		func(s *models.TelemetrySample) { s.CycleCount = 10.0 },
		func(s *models.TelemetrySample) { s.CycleCount = 10.2 },
		func(s *models.TelemetrySample) { s.CycleCount = 10.5 },
	)
	v := Extract(w)

	if got := v.Get("cycle_progression"); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("cycle_progression = %v, want 0.5", got)
	}
	if got := v.Get("cycle_rate"); math.Abs(got-0.5/3) > 1e-9 {
		t.Fatalf("cycle_rate = %v, want %v", got, 0.5/3)
	}
}

func TestPhysicsFeatures(t *testing.T) {
	w := window(
		func(s *models.TelemetrySample) { s.InternalResistance = 0.05; s.Temperature = 25; s.Capacity = 90 },
		func(s *models.TelemetrySample) { s.InternalResistance = 0.06; s.Temperature = 30; s.Capacity = 85 },
		func(s *models.TelemetrySample) { s.InternalResistance = 0.07; s.Temperature = 35; s.Capacity = 80 },
	)
	v := Extract(w)

	if got := v.Get("resistance_mean"); math.Abs(got-0.06) > 1e-9 {
		t.Fatalf("resistance_mean = %v, want 0.06", got)
	}
	if got := v.Get("resistance_trend"); math.Abs(got-0.01) > 1e-9 {
		t.Fatalf("resistance_trend = %v, want 0.01", got)
	}
	// Power equals V·|I| in the fixture, so efficiency is exactly 1.
	if got := v.Get("power_efficiency_mean"); math.Abs(got-1) > 1e-9 {
		t.Fatalf("power_efficiency_mean = %v, want 1", got)
	}
	// Temperature up, capacity down: perfect negative correlation.
	if got := v.Get("temp_capacity_correlation"); math.Abs(got-(-1)) > 1e-9 {
		t.Fatalf("temp_capacity_correlation = %v, want -1", got)
	}
}
