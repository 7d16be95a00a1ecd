// Package alerts maps validated samples onto threshold alerts.
package alerts

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

// Thresholds is the configured alert table. Values are read-only after
// construction.
type Thresholds struct {
	VoltageMin     float64 `yaml:"voltageMin"`
	VoltageMax     float64 `yaml:"voltageMax"`
	CurrentMax     float64 `yaml:"currentMax"`
	TemperatureMax float64 `yaml:"temperatureMax"`
	CapacityMin    float64 `yaml:"capacityMin"`
}

// DefaultThresholds returns the stock alert table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VoltageMin:     3.0,
		VoltageMax:     4.2,
		CurrentMax:     3.0,
		TemperatureMax: 60.0,
		CapacityMin:    20.0,
	}
}

// Evaluator emits alerts for samples crossing the configured thresholds. It
// is stateless: callers own persistence and dispatch of the returned alerts.
type Evaluator struct {
	thresholds Thresholds
}

// NewEvaluator builds an evaluator around a threshold table.
func NewEvaluator(thresholds Thresholds) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate returns at most one alert per category for the given sample.
// Escalation rules: temperature goes critical 10 degrees past its threshold,
// capacity goes critical below half its threshold, undervoltage is always
// critical.
func (e *Evaluator) Evaluate(s models.ValidatedSample) []models.Alert {
	var out []models.Alert
	th := e.thresholds
	now := s.Timestamp

	if s.Voltage < th.VoltageMin {
		out = append(out, newAlert(s.UnitID, models.AlertVoltage, models.SeverityCritical,
			fmt.Sprintf("voltage dropped to %.3fV", s.Voltage), s.Voltage, th.VoltageMin, now))
	} else if s.Voltage > th.VoltageMax {
		out = append(out, newAlert(s.UnitID, models.AlertVoltage, models.SeverityWarning,
			fmt.Sprintf("voltage elevated at %.3fV", s.Voltage), s.Voltage, th.VoltageMax, now))
	}

	if math.Abs(s.Current) > th.CurrentMax {
		out = append(out, newAlert(s.UnitID, models.AlertCurrent, models.SeverityWarning,
			fmt.Sprintf("current exceeds limit: %.3fA", s.Current), math.Abs(s.Current), th.CurrentMax, now))
	}

	if s.Temperature > th.TemperatureMax {
		severity := models.SeverityWarning
		if s.Temperature > th.TemperatureMax+10 {
			severity = models.SeverityCritical
		}
		out = append(out, newAlert(s.UnitID, models.AlertTemperature, severity,
			fmt.Sprintf("temperature at %.1f°C", s.Temperature), s.Temperature, th.TemperatureMax, now))
	}

	if s.Capacity < th.CapacityMin {
		severity := models.SeverityWarning
		if s.Capacity < th.CapacityMin/2 {
			severity = models.SeverityCritical
		}
		out = append(out, newAlert(s.UnitID, models.AlertCapacity, severity,
			fmt.Sprintf("remaining capacity at %.1f%%", s.Capacity), s.Capacity, th.CapacityMin, now))
	}

	if s.HealthScore < 50 {
		out = append(out, newAlert(s.UnitID, models.AlertHealth, models.SeverityWarning,
			fmt.Sprintf("health score degraded to %.1f", s.HealthScore), s.HealthScore, 50, now))
	}

	return out
}

func newAlert(unitID string, category models.AlertCategory, severity models.Severity, message string, value, threshold float64, at time.Time) models.Alert {
	return models.Alert{
		ID:        uuid.NewString(),
		UnitID:    unitID,
		Category:  category,
		Severity:  severity,
		Message:   message,
		Value:     value,
		Threshold: threshold,
		Status:    models.StatusActive,
		CreatedAt: at,
	}
}
