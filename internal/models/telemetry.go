package models

import "time"

// TelemetrySample is a single reading emitted by one battery unit. Samples
// are immutable after creation; timestamps are UTC and non-decreasing per
// unit.
type TelemetrySample struct {
	UnitID             string    `json:"unit_id"`
	Timestamp          time.Time `json:"timestamp"`
	Voltage            float64   `json:"voltage"`             // V
	Current            float64   `json:"current"`             // A, positive = charge
	Temperature        float64   `json:"temperature"`         // °C
	Capacity           float64   `json:"capacity"`            // state of charge, %
	Power              float64   `json:"power"`               // W
	InternalResistance float64   `json:"internal_resistance"` // Ω
	CycleCount         float64   `json:"cycle_count"`
	HealthScore        float64   `json:"health_score"` // 0-100
	Charging           bool      `json:"is_charging"`
}

// ValidatedSample pairs a telemetry sample with its quality assessment.
type ValidatedSample struct {
	TelemetrySample

	Valid        bool     `json:"is_valid"`
	QualityScore float64  `json:"quality_score"` // 0-1
	Violations   []string `json:"violations,omitempty"`
}
