// Package validate holds the stateless quality checks applied to every
// telemetry sample before it enters the pipeline buffer.
package validate

import (
	"fmt"
	"math"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

// Acceptance ranges and the penalty each failed check applies to the
// composite quality score. Penalties multiply, so quality is non-increasing
// in the number of violations.
const (
	voltageMin = 2.5
	voltageMax = 4.5
	currentAbs = 5.0
	tempMin    = -20.0
	tempMax    = 80.0

	voltagePenalty     = 0.5
	currentPenalty     = 0.7
	temperaturePenalty = 0.6
	capacityPenalty    = 0.4
	powerPenalty       = 0.8

	powerTolerance = 0.10
)

// Check validates one sample and returns it annotated with a validity flag,
// a quality score in [0,1] and the ordered list of violations. A sample with
// no violations scores exactly 1.0; minor combined violations still pass as
// long as the composite score stays above 0.5.
func Check(s models.TelemetrySample) models.ValidatedSample {
	quality := 1.0
	var violations []string

	if s.Voltage < voltageMin || s.Voltage > voltageMax {
		violations = append(violations, fmt.Sprintf("voltage out of range: %.3fV (allowed %.1f-%.1fV)", s.Voltage, voltageMin, voltageMax))
		quality *= voltagePenalty
	}

	if math.Abs(s.Current) > currentAbs {
		violations = append(violations, fmt.Sprintf("current out of range: %.3fA (allowed ±%.1fA)", s.Current, currentAbs))
		quality *= currentPenalty
	}

	if s.Temperature < tempMin || s.Temperature > tempMax {
		violations = append(violations, fmt.Sprintf("temperature out of range: %.1f°C (allowed %.0f-%.0f°C)", s.Temperature, tempMin, tempMax))
		quality *= temperaturePenalty
	}

	if s.Capacity < 0 || s.Capacity > 100 {
		violations = append(violations, fmt.Sprintf("capacity out of range: %.1f%% (allowed 0-100%%)", s.Capacity))
		quality *= capacityPenalty
	}

	expected := s.Voltage * math.Abs(s.Current)
	if math.Abs(s.Power-expected)/math.Max(expected, 0.1) > powerTolerance {
		violations = append(violations, fmt.Sprintf("power inconsistent: measured %.3fW vs expected %.3fW", s.Power, expected))
		quality *= powerPenalty
	}

	return models.ValidatedSample{
		TelemetrySample: s,
		Valid:           len(violations) == 0 || quality > 0.5,
		QualityScore:    quality,
		Violations:      violations,
	}
}
