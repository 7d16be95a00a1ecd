package models

import "time"

// RiskLevel is the closed set of health tiers a unit can be assigned.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "normal"
	RiskWarning  RiskLevel = "warning"
	RiskCritical RiskLevel = "critical"
	RiskDanger   RiskLevel = "danger"
)

// RiskLevels lists all tiers ordered worst to best. The slice index doubles
// as the class label used by the risk classifier.
var RiskLevels = []RiskLevel{RiskDanger, RiskCritical, RiskWarning, RiskNormal}

// riskBins maps a health score to a tier. Upper bounds are inclusive and
// checked in order.
var riskBins = []struct {
	Max  float64
	Risk RiskLevel
}{
	{Max: 50, Risk: RiskDanger},
	{Max: 70, Risk: RiskCritical},
	{Max: 85, Risk: RiskWarning},
	{Max: 100, Risk: RiskNormal},
}

// RiskForHealth returns the tier for a health score in [0,100]. Scores above
// 100 are treated as normal.
func RiskForHealth(health float64) RiskLevel {
	for _, bin := range riskBins {
		if health <= bin.Max {
			return bin.Risk
		}
	}
	return RiskNormal
}

// RiskIndex returns the class label for a tier, matching RiskLevels ordering.
// Unknown tiers map to the normal class.
func RiskIndex(level RiskLevel) int {
	for i, r := range RiskLevels {
		if r == level {
			return i
		}
	}
	return len(RiskLevels) - 1
}

// PredictionResult is the health assessment produced for one unit.
type PredictionResult struct {
	UnitID               string          `json:"unit_id"`
	RiskLevel            RiskLevel       `json:"risk_level"`
	Confidence           float64         `json:"confidence"` // 0-1
	HealthScore          float64         `json:"health_score"`
	EstimatedFailureTime *time.Time      `json:"estimated_failure_time,omitempty"`
	DegradationRate      float64         `json:"degradation_rate"` // fraction/day
	RemainingCycles      int             `json:"remaining_cycles"`
	AnomalyFlags         map[string]bool `json:"anomaly_flags"`
	Explanation          string          `json:"explanation"`
	CreatedAt            time.Time       `json:"created_at"`
}
