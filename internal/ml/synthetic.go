package ml

import (
	"math"
	"math/rand"
	"time"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/features"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

// GenerateSyntheticRows produces labeled training rows spanning the full
// cycle-life range, so a forecaster trained on a young fleet still sees
// end-of-life conditions. About one row in ten carries a thermal or voltage
// fault signature.
func GenerateSyntheticRows(n int, rng *rand.Rand) []features.FeatureVector {
	rows := make([]features.FeatureVector, 0, n)
	for i := 0; i < n; i++ {
		cycle := rng.Float64() * 2000
		degradation := cycle * 0.01

		voltage := 3.7 + rng.NormFloat64()*0.1
		current := -2 + rng.Float64()*4
		temperature := 25 + rng.NormFloat64()*10
		capacity := math.Max(0, 100-degradation+rng.NormFloat64()*5)

		if rng.Float64() < 0.1 {
			if rng.Float64() < 0.5 {
				temperature += 20 + rng.Float64()*20
			} else {
				voltage *= 0.8
			}
		}

		health := 100 - degradation + rng.NormFloat64()*5
		health = math.Max(50, math.Min(100, health))

		row := features.FeatureVector{
			"voltage_mean":     voltage,
			"voltage_std":      0.05 + rng.Float64()*0.1,
			"current_mean":     current,
			"current_std":      0.1 + rng.Float64()*0.3,
			"temperature_mean": temperature,
			"temperature_std":  1 + rng.Float64()*3,
			"capacity_mean":    capacity,
			"power_mean":       math.Abs(voltage * current),
			"resistance_mean":  0.05 + cycle*1e-5 + rng.NormFloat64()*0.01,
			"cycle_count":      cycle,
			HealthLabel:        health,
		}
		rows = append(rows, row)
	}
	return rows
}

// GenerateSyntheticSamples produces a chronological sequence of plausible
// nominal telemetry, used to bootstrap the anomaly scorer before any real
// history exists. Nominal-only by intent: the scorer learns the normal
// envelope and isolates departures from it.
func GenerateSyntheticSamples(n int, rng *rand.Rand) []models.ValidatedSample {
	base := time.Now().UTC().Add(-time.Duration(n) * time.Second)
	samples := make([]models.ValidatedSample, 0, n)
	for i := 0; i < n; i++ {
		phase := float64(i) / 20
		voltage := 3.7 + 0.15*math.Sin(phase) + rng.NormFloat64()*0.01
		current := 1.2*math.Sin(phase/3) + rng.NormFloat64()*0.05
		temperature := 25 + 2*math.Sin(phase/5) + rng.NormFloat64()*0.5

		samples = append(samples, models.ValidatedSample{
			TelemetrySample: models.TelemetrySample{
				UnitID:             "synthetic",
				Timestamp:          base.Add(time.Duration(i) * time.Second),
				Voltage:            voltage,
				Current:            current,
				Temperature:        temperature,
				Capacity:           70 + 10*math.Sin(phase/7),
				Power:              voltage * math.Abs(current),
				InternalResistance: 0.05 + rng.NormFloat64()*0.002,
				CycleCount:         float64(i) / 100,
				HealthScore:        95 + rng.NormFloat64(),
				Charging:           current > 0,
			},
			Valid:        true,
			QualityScore: 1.0,
		})
	}
	return samples
}
