package features

import (
	"math"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

// Channel accessors for the per-channel feature groups.
type channel struct {
	name string
	get  func(models.ValidatedSample) float64
}

var statChannels = []channel{
	{"voltage", func(s models.ValidatedSample) float64 { return s.Voltage }},
	{"current", func(s models.ValidatedSample) float64 { return s.Current }},
	{"temperature", func(s models.ValidatedSample) float64 { return s.Temperature }},
	{"capacity", func(s models.ValidatedSample) float64 { return s.Capacity }},
	{"power", func(s models.ValidatedSample) float64 { return s.Power }},
}

var temporalChannels = []channel{
	{"voltage", func(s models.ValidatedSample) float64 { return s.Voltage }},
	{"temperature", func(s models.ValidatedSample) float64 { return s.Temperature }},
	{"capacity", func(s models.ValidatedSample) float64 { return s.Capacity }},
}

// Extract computes the full feature set over a chronologically ordered
// window. Each group skips independently when the window is too short, so an
// undersized window yields a partial (possibly empty) vector, never an
// error.
func Extract(window []models.ValidatedSample) FeatureVector {
	v := make(FeatureVector)
	v.Merge(extractStatistical(window))
	v.Merge(extractTemporal(window))
	v.Merge(extractPhysics(window))
	return v
}

// extractStatistical emits mean/std/min/max/range/cv/skew/kurtosis per
// channel. Moments that need more points than the window holds, or that are
// degenerate at zero variance, are omitted.
func extractStatistical(window []models.ValidatedSample) FeatureVector {
	v := make(FeatureVector)
	if len(window) < 2 {
		return v
	}

	for _, ch := range statChannels {
		values := collect(window, ch.get)
		mean, stdDev := meanStd(values)
		minVal, maxVal := minMax(values)

		v.Set(ch.name+"_mean", mean)
		v.Set(ch.name+"_std", stdDev)
		v.Set(ch.name+"_min", minVal)
		v.Set(ch.name+"_max", maxVal)
		v.Set(ch.name+"_range", maxVal-minVal)
		if mean != 0 {
			v.Set(ch.name+"_cv", stdDev/mean)
		}
		if stdDev > 0 {
			if len(values) >= 3 {
				v.Set(ch.name+"_skew", sampleSkewness(values, mean, stdDev))
			}
			if len(values) >= 4 {
				v.Set(ch.name+"_kurtosis", sampleKurtosis(values, mean, stdDev))
			}
		}
	}
	return v
}

// extractTemporal emits first-difference statistics and a least-squares
// trend per channel, plus cycle progression and charge/discharge/idle
// ratios.
func extractTemporal(window []models.ValidatedSample) FeatureVector {
	v := make(FeatureVector)
	if len(window) < 2 {
		return v
	}

	for _, ch := range temporalChannels {
		values := collect(window, ch.get)

		diffs := make([]float64, len(values)-1)
		for i := 1; i < len(values); i++ {
			diffs[i-1] = values[i] - values[i-1]
		}
		diffMean, diffStd := meanStd(diffs)
		v.Set(ch.name+"_diff_mean", diffMean)
		if len(diffs) >= 2 {
			v.Set(ch.name+"_diff_std", diffStd)
		}
		if len(values) >= 3 {
			v.Set(ch.name+"_trend", slope(values))
		}
	}

	first := window[0].CycleCount
	last := window[len(window)-1].CycleCount
	v.Set("cycle_progression", last-first)
	v.Set("cycle_rate", (last-first)/float64(len(window)))

	var charge, discharge int
	for _, s := range window {
		switch {
		case s.Current > 0.1:
			charge++
		case s.Current < -0.1:
			discharge++
		}
	}
	total := float64(len(window))
	chargeRatio := float64(charge) / total
	dischargeRatio := float64(discharge) / total
	v.Set("charge_ratio", chargeRatio)
	v.Set("discharge_ratio", dischargeRatio)
	v.Set("idle_ratio", 1-chargeRatio-dischargeRatio)

	return v
}

// extractPhysics emits internal-resistance level and trend, power transfer
// efficiency, and the temperature-capacity correlation.
func extractPhysics(window []models.ValidatedSample) FeatureVector {
	v := make(FeatureVector)
	if len(window) == 0 {
		return v
	}

	resistance := collect(window, func(s models.ValidatedSample) float64 { return s.InternalResistance })
	resMean, _ := meanStd(resistance)
	v.Set("resistance_mean", resMean)
	if len(resistance) >= 3 {
		v.Set("resistance_trend", slope(resistance))
	}

	// Measured power against the theoretical V·|I| transfer.
	var efficiencies []float64
	for _, s := range window {
		theoretical := s.Voltage * math.Abs(s.Current)
		if theoretical < 1e-9 {
			continue
		}
		eff := s.Power / theoretical
		if math.IsInf(eff, 0) || math.IsNaN(eff) {
			continue
		}
		efficiencies = append(efficiencies, eff)
	}
	if len(efficiencies) > 0 {
		effMean, effStd := meanStd(efficiencies)
		v.Set("power_efficiency_mean", effMean)
		if len(efficiencies) >= 2 {
			v.Set("power_efficiency_std", effStd)
		}
	}

	if len(window) >= 2 {
		temps := collect(window, func(s models.ValidatedSample) float64 { return s.Temperature })
		caps := collect(window, func(s models.ValidatedSample) float64 { return s.Capacity })
		if corr, ok := pearson(temps, caps); ok {
			v.Set("temp_capacity_correlation", corr)
		}
	}

	return v
}

func collect(window []models.ValidatedSample, get func(models.ValidatedSample) float64) []float64 {
	values := make([]float64, len(window))
	for i, s := range window {
		values[i] = get(s)
	}
	return values
}

// meanStd returns the mean and sample standard deviation (n-1 denominator).
// A single value yields std 0.
func meanStd(values []float64) (float64, float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	mean := 0.0
	for _, x := range values {
		mean += x
	}
	mean /= n
	if n < 2 {
		return mean, 0
	}
	variance := 0.0
	for _, x := range values {
		variance += (x - mean) * (x - mean)
	}
	variance /= n - 1
	return mean, math.Sqrt(variance)
}

func minMax(values []float64) (float64, float64) {
	minVal, maxVal := values[0], values[0]
	for _, x := range values[1:] {
		if x < minVal {
			minVal = x
		}
		if x > maxVal {
			maxVal = x
		}
	}
	return minVal, maxVal
}

// sampleSkewness is the adjusted Fisher-Pearson coefficient, zero for
// symmetric data.
func sampleSkewness(values []float64, mean, stdDev float64) float64 {
	n := float64(len(values))
	sum := 0.0
	for _, x := range values {
		z := (x - mean) / stdDev
		sum += z * z * z
	}
	return n / ((n - 1) * (n - 2)) * sum
}

// sampleKurtosis is the adjusted excess kurtosis, zero for a normal
// distribution.
func sampleKurtosis(values []float64, mean, stdDev float64) float64 {
	n := float64(len(values))
	sum := 0.0
	for _, x := range values {
		z := (x - mean) / stdDev
		sum += z * z * z * z
	}
	return n*(n+1)/((n-1)*(n-2)*(n-3))*sum - 3*(n-1)*(n-1)/((n-2)*(n-3))
}

// slope fits value against index by least squares and returns the per-step
// trend.
func slope(values []float64) float64 {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// pearson returns the correlation of two equal-length series, reporting
// false when either side has zero variance.
func pearson(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) < 2 {
		return 0, false
	}
	meanA, _ := meanStd(a)
	meanB, _ := meanStd(b)

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}
