package models

import "time"

// AlertCategory enumerates the measured quantities alerts can fire on.
type AlertCategory string

const (
	AlertVoltage     AlertCategory = "voltage"
	AlertCurrent     AlertCategory = "current"
	AlertTemperature AlertCategory = "temperature"
	AlertCapacity    AlertCategory = "capacity"
	AlertHealth      AlertCategory = "health"
)

// Severity captures alert impact levels.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertStatus tracks the alert lifecycle. The core only ever creates alerts
// in StatusActive; acknowledgement and resolution belong to the persistence
// collaborator.
type AlertStatus string

const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
)

// Alert records a threshold crossing observed on a validated sample.
type Alert struct {
	ID        string        `json:"id"`
	UnitID    string        `json:"unit_id"`
	Category  AlertCategory `json:"category"`
	Severity  Severity      `json:"severity"`
	Message   string        `json:"message"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	Status    AlertStatus   `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}
