package predictor

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/features"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

type fakeHistory struct {
	samples map[string][]models.ValidatedSample
}

func (f *fakeHistory) RecentSamples(unitID string, since time.Time, limit int) []models.ValidatedSample {
	buf := f.samples[unitID]
	out := make([]models.ValidatedSample, 0, len(buf))
	for _, s := range buf {
		if !since.IsZero() && s.Timestamp.Before(since) {
			continue
		}
		out = append(out, s)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (f *fakeHistory) KnownUnits() []string {
	units := make([]string, 0, len(f.samples))
	for id := range f.samples {
		units = append(units, id)
	}
	return units
}

type fakeModelStore struct {
	blobs map[string][]byte
}

func (f *fakeModelStore) Save(name string, blob []byte) error {
	if f.blobs == nil {
		f.blobs = make(map[string][]byte)
	}
	f.blobs[name] = blob
	return nil
}

func (f *fakeModelStore) Load(name string) ([]byte, bool, error) {
	blob, ok := f.blobs[name]
	return blob, ok, nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func unitHistory(unitID string, n int, health float64) []models.ValidatedSample {
	base := time.Now().UTC().Add(-time.Duration(n) * time.Second)
	samples := make([]models.ValidatedSample, 0, n)
	for i := 0; i < n; i++ {
		v := 3.7 + 0.02*math.Sin(float64(i)/8)
		samples = append(samples, models.ValidatedSample{
			TelemetrySample: models.TelemetrySample{
				UnitID:             unitID,
				Timestamp:          base.Add(time.Duration(i) * time.Second),
				Voltage:            v,
				Current:            1.0,
				Temperature:        25 + 0.3*math.Cos(float64(i)/5),
				Capacity:           80,
				Power:              v,
				InternalResistance: 0.05,
				CycleCount:         100,
				HealthScore:        health,
			},
			Valid:        true,
			QualityScore: 1.0,
		})
	}
	return samples
}

func TestPredictNoHistory(t *testing.T) {
	store := &fakeHistory{samples: map[string][]models.ValidatedSample{}}
	o := NewOrchestrator(quiet(), store, nil, Options{})

	result := o.Predict("battery_404")
	if result.RiskLevel != models.RiskNormal || result.HealthScore != 90 {
		t.Errorf("empty-history result = %+v", result)
	}
	if result.Explanation == "" {
		t.Error("empty-history result has no explanation")
	}

	cached, ok := o.LastPrediction("battery_404")
	if !ok || cached.UnitID != "battery_404" {
		t.Error("neutral result not cached")
	}
}

func TestPredictWithHistory(t *testing.T) {
	store := &fakeHistory{samples: map[string][]models.ValidatedSample{
		"battery_001": unitHistory("battery_001", 300, 90),
	}}
	o := NewOrchestrator(quiet(), store, &fakeModelStore{}, Options{})
	o.Bootstrap()

	result := o.Predict("battery_001")
	if result.HealthScore < 0 || result.HealthScore > 100 {
		t.Fatalf("health %v outside [0,100]", result.HealthScore)
	}
	if models.RiskIndex(result.RiskLevel) >= len(models.RiskLevels) {
		t.Fatalf("unknown risk level %q", result.RiskLevel)
	}
	if result.Explanation == "" {
		t.Error("prediction has no explanation")
	}
	if result.HealthScore > 50 && result.DegradationRate > 0 && result.EstimatedFailureTime == nil {
		t.Error("healthy degrading unit has no estimated failure time")
	}
	if result.EstimatedFailureTime != nil && !result.EstimatedFailureTime.After(result.CreatedAt) {
		t.Error("estimated failure time not in the future")
	}
}

func TestRetrainAndPersist(t *testing.T) {
	store := &fakeHistory{samples: map[string][]models.ValidatedSample{
		"battery_001": unitHistory("battery_001", 400, 92),
		"battery_002": unitHistory("battery_002", 400, 78),
	}}
	ms := &fakeModelStore{}
	o := NewOrchestrator(quiet(), store, ms, Options{})

	if !o.Retrain(context.Background()) {
		t.Fatal("retrain with 800 samples returned false")
	}
	if _, ok := ms.blobs[anomalyModelName]; !ok {
		t.Error("anomaly bundle not persisted")
	}
	if _, ok := ms.blobs[forecastModelName]; !ok {
		t.Error("forecast bundle not persisted")
	}

	// A fresh orchestrator restores the persisted models instead of
	// training on synthetic data.
	restored := NewOrchestrator(quiet(), store, ms, Options{})
	restored.Bootstrap()
	result := restored.Predict("battery_001")
	if result.Explanation == "" {
		t.Error("restored orchestrator produced no explanation")
	}
}

func TestRetrainInsufficientHistory(t *testing.T) {
	store := &fakeHistory{samples: map[string][]models.ValidatedSample{
		"battery_001": unitHistory("battery_001", 10, 90),
	}}
	o := NewOrchestrator(quiet(), store, &fakeModelStore{}, Options{})

	if o.Retrain(context.Background()) {
		t.Error("retrain succeeded with 10 samples")
	}
}

func TestRetrainCancelled(t *testing.T) {
	store := &fakeHistory{samples: map[string][]models.ValidatedSample{
		"battery_001": unitHistory("battery_001", 400, 90),
	}}
	o := NewOrchestrator(quiet(), store, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if o.Retrain(ctx) {
		t.Error("retrain succeeded on cancelled context")
	}
}

func TestFailureTimeProjection(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if _, ok := failureTime(now, 45, 0.01); ok {
		t.Error("failure time projected for health below the danger line")
	}
	if _, ok := failureTime(now, 90, 0); ok {
		t.Error("failure time projected for zero degradation rate")
	}

	ft, ok := failureTime(now, 90, 0.01)
	if !ok {
		t.Fatal("no failure time for healthy degrading unit")
	}
	// (90-50)/(0.01*365) days, a bit under 11.
	wantDays := 40.0 / 3.65
	gotDays := ft.Sub(now).Hours() / 24
	if math.Abs(gotDays-wantDays) > 0.01 {
		t.Errorf("projected %v days out, want %v", gotDays, wantDays)
	}
}

func TestPredictRiskMatchesClassifier(t *testing.T) {
	samples := unitHistory("battery_001", 300, 88)
	// Degrade the scoring window so the anomaly flags fire.
	for i := len(samples) - scoringWindowSize; i < len(samples); i++ {
		samples[i].Voltage = 2.6
		samples[i].Power = 2.6
		samples[i].Temperature = 85
	}
	store := &fakeHistory{samples: map[string][]models.ValidatedSample{
		"battery_001": samples,
	}}
	o := NewOrchestrator(quiet(), store, &fakeModelStore{}, Options{})
	o.Bootstrap()

	result := o.Predict("battery_001")
	if !result.AnomalyFlags["voltage_anomaly"] || !result.AnomalyFlags["temperature_anomaly"] {
		t.Fatalf("degraded window not flagged: %v", result.AnomalyFlags)
	}

	// The reported tier is the classifier's own, untouched by the flags.
	window := samples[len(samples)-scoringWindowSize:]
	fv := features.Extract(window)
	fv.Set("cycle_count", window[len(window)-1].CycleCount)
	forecast := o.forecaster.Predict(fv)
	if result.RiskLevel != forecast.RiskLevel {
		t.Errorf("risk level %q differs from classifier tier %q", result.RiskLevel, forecast.RiskLevel)
	}
}

func TestPredictRepeatableWithoutNewData(t *testing.T) {
	store := &fakeHistory{samples: map[string][]models.ValidatedSample{
		"battery_001": unitHistory("battery_001", 300, 90),
	}}
	o := NewOrchestrator(quiet(), store, &fakeModelStore{}, Options{})
	o.Bootstrap()

	a := o.Predict("battery_001")
	b := o.Predict("battery_001")

	if a.HealthScore != b.HealthScore ||
		a.Confidence != b.Confidence ||
		a.DegradationRate != b.DegradationRate ||
		a.RemainingCycles != b.RemainingCycles {
		t.Errorf("repeat prediction drifted: %+v vs %+v", a, b)
	}
	if a.RiskLevel != b.RiskLevel {
		t.Errorf("repeat risk level %q vs %q", b.RiskLevel, a.RiskLevel)
	}
	if a.Explanation != b.Explanation {
		t.Errorf("repeat explanation differs:\n%s\n%s", a.Explanation, b.Explanation)
	}
	for name, set := range a.AnomalyFlags {
		if b.AnomalyFlags[name] != set {
			t.Errorf("repeat flag %s = %v, want %v", name, b.AnomalyFlags[name], set)
		}
	}
}
