package ml

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/features"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func steadySample(i int, voltage, temp float64) models.ValidatedSample {
	return models.ValidatedSample{
		TelemetrySample: models.TelemetrySample{
			UnitID:             "battery_001",
			Timestamp:          time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second),
			Voltage:            voltage,
			Current:            1.0,
			Temperature:        temp,
			Capacity:           80,
			Power:              voltage,
			InternalResistance: 0.05,
			CycleCount:         10,
			HealthScore:        90,
		},
		Valid:        true,
		QualityScore: 1.0,
	}
}

func TestAnomalyScorerUntrainedNeutral(t *testing.T) {
	s := NewAnomalyScorer(quiet())
	if s.IsTrained() {
		t.Fatal("fresh scorer reports trained")
	}

	window := []models.ValidatedSample{steadySample(0, 3.7, 25), steadySample(1, 3.7, 25)}
	res := s.Score(window)
	if res.IsAnomaly || res.Score != 0 {
		t.Errorf("untrained result = %+v, want neutral", res)
	}
	if res.Flags == nil || len(res.Flags) != 0 {
		t.Errorf("untrained flags = %v, want empty map", res.Flags)
	}
}

func TestAnomalyScorerTrainInsufficient(t *testing.T) {
	s := NewAnomalyScorer(quiet())
	s.Train([]models.ValidatedSample{steadySample(0, 3.7, 25)})
	if s.IsTrained() {
		t.Fatal("scorer trained on a single sample")
	}
}

func TestAnomalyScorerScoresOutlier(t *testing.T) {
	history := make([]models.ValidatedSample, 0, 200)
	for i := 0; i < 200; i++ {
		v := 3.7 + 0.02*math.Sin(float64(i)/10)
		history = append(history, steadySample(i, v, 25+0.5*math.Cos(float64(i)/7)))
	}

	s := NewAnomalyScorer(quiet())
	s.Train(history)
	if !s.IsTrained() {
		t.Fatal("scorer not trained on 200 samples")
	}

	normal := history[100:110]
	res := s.Score(normal)
	if res.Score < 0 || res.Score > 1 {
		t.Fatalf("score %v outside [0,1]", res.Score)
	}

	hot := make([]models.ValidatedSample, 10)
	for i := range hot {
		hot[i] = steadySample(i, 2.6, 85)
	}
	outlier := s.Score(hot)
	if outlier.Score <= res.Score {
		t.Errorf("outlier score %v not above normal score %v", outlier.Score, res.Score)
	}
	if !outlier.Flags["temperature_anomaly"] {
		t.Errorf("85C window missing temperature_anomaly flag: %v", outlier.Flags)
	}
	if !outlier.Flags["voltage_anomaly"] {
		t.Errorf("2.6V window missing voltage_anomaly flag: %v", outlier.Flags)
	}
}

func TestTrainSequencesRespectBoundaries(t *testing.T) {
	// Three short sequences: enough samples overall, but no single sequence
	// reaches the minimum window size, so no training window can form
	// without crossing a boundary.
	short := make([][]models.ValidatedSample, 3)
	for s := range short {
		for i := 0; i < 4; i++ {
			short[s] = append(short[s], steadySample(s*4+i, 3.7, 25))
		}
	}
	scorer := NewAnomalyScorer(quiet())
	scorer.TrainSequences(short)
	if scorer.IsTrained() {
		t.Fatal("scorer trained: a window crossed a sequence boundary")
	}

	// The same samples joined into one sequence train fine.
	var joined []models.ValidatedSample
	for _, seq := range short {
		joined = append(joined, seq...)
	}
	scorer.Train(joined)
	if !scorer.IsTrained() {
		t.Fatal("scorer not trained on a single 12-sample sequence")
	}
}

func TestAnomalyFlagsThresholds(t *testing.T) {
	fv := features.FeatureVector{
		"voltage_mean":         4.4,
		"temperature_mean":     25,
		"capacity_mean":        5,
		"voltage_diff_std":     0.2,
		"temperature_diff_std": 1,
		"resistance_mean":      0.3,
	}
	flags := anomalyFlags(fv)

	for name, want := range map[string]bool{
		"voltage_anomaly":         true,
		"temperature_anomaly":     false,
		"capacity_anomaly":        true,
		"voltage_instability":     true,
		"temperature_instability": false,
		"resistance_anomaly":      true,
	} {
		if flags[name] != want {
			t.Errorf("flag %s = %v, want %v", name, flags[name], want)
		}
	}
}

func TestAnomalyBundleRoundTrip(t *testing.T) {
	history := make([]models.ValidatedSample, 0, 120)
	for i := 0; i < 120; i++ {
		history = append(history, steadySample(i, 3.7, 25))
	}
	src := NewAnomalyScorer(quiet())
	src.Train(history)

	blob, err := src.MarshalBundle("v1")
	if err != nil {
		t.Fatalf("marshal bundle: %v", err)
	}

	dst := NewAnomalyScorer(quiet())
	if err := dst.RestoreBundle(blob); err != nil {
		t.Fatalf("restore bundle: %v", err)
	}
	if !dst.IsTrained() {
		t.Fatal("restored scorer not trained")
	}

	window := history[50:60]
	a, b := src.Score(window), dst.Score(window)
	if math.Abs(a.Score-b.Score) > 1e-9 {
		t.Errorf("restored score %v differs from original %v", b.Score, a.Score)
	}
}
