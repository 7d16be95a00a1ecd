package models

import "testing"

func TestRiskForHealthBinEdges(t *testing.T) {
	cases := []struct {
		health float64
		want   RiskLevel
	}{
		{0, RiskDanger},
		{49.9, RiskDanger},
		{50, RiskDanger},
		{50.1, RiskCritical},
		{70, RiskCritical},
		{70.1, RiskWarning},
		{85, RiskWarning},
		{85.1, RiskNormal},
		{100, RiskNormal},
		{120, RiskNormal},
	}

	for _, tc := range cases {
		if got := RiskForHealth(tc.health); got != tc.want {
			t.Errorf("RiskForHealth(%v) = %s, want %s", tc.health, got, tc.want)
		}
	}
}

func TestRiskIndexRoundTrip(t *testing.T) {
	for i, level := range RiskLevels {
		if got := RiskIndex(level); got != i {
			t.Errorf("RiskIndex(%s) = %d, want %d", level, got, i)
		}
	}
	if got := RiskIndex(RiskLevel("unknown")); got != RiskIndex(RiskNormal) {
		t.Errorf("unknown tier should map to normal class, got %d", got)
	}
}
