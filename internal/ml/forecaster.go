package ml

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/features"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

// forecastColumns is the fixed 10-dimensional input subset of the
// forecaster. Training rows and inference vectors are both aligned to it;
// absent keys read as zero.
var forecastColumns = []string{
	"voltage_mean", "voltage_std",
	"current_mean", "current_std",
	"temperature_mean", "temperature_std",
	"capacity_mean", "power_mean",
	"resistance_mean", "cycle_count",
}

// HealthLabel is the training-row key carrying the supervised target.
const HealthLabel = "health_score"

const (
	minForecastRows = 50
	forecastSeed    = 42
	testFraction    = 0.2
)

// Prediction is the forecaster's structured output.
type Prediction struct {
	HealthScore     float64          `json:"health_score"`
	RiskLevel       models.RiskLevel `json:"risk_level"`
	Confidence      float64          `json:"confidence"`
	DegradationRate float64          `json:"degradation_rate"`
	RemainingCycles int              `json:"remaining_cycles"`
}

// neutralPrediction is what an untrained forecaster always returns.
func neutralPrediction() Prediction {
	return Prediction{
		HealthScore:     90.0,
		RiskLevel:       models.RiskNormal,
		Confidence:      0.5,
		DegradationRate: 0.01,
		RemainingCycles: 1000,
	}
}

// DegradationForecaster predicts a health score and a risk tier from window
// features: a bagged regression forest for the score and a bagged voting
// classifier for the tier, sharing one robust scaler.
type DegradationForecaster struct {
	logger *slog.Logger

	mu      sync.RWMutex
	scaler  *RobustScaler
	health  *Forest
	risk    *Forest
	trained bool
}

// NewDegradationForecaster builds an untrained forecaster.
func NewDegradationForecaster(logger *slog.Logger) *DegradationForecaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &DegradationForecaster{logger: logger}
}

// IsTrained reports whether the forecaster has fitted models.
func (d *DegradationForecaster) IsTrained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.trained
}

// Train fits both models on labeled feature rows. Rows missing the health
// label fall back to a cycle-derived estimate. When real history is scarce
// the set is augmented with synthetic rows so the forest still sees the full
// degradation range. Insufficient data is logged and leaves the previous
// model untouched.
func (d *DegradationForecaster) Train(rows []features.FeatureVector) {
	if len(rows) < minForecastRows {
		d.logger.Warn("degradation forecaster: not enough training rows", slog.Int("rows", len(rows)))
		return
	}

	rng := rand.New(rand.NewSource(forecastSeed))

	synthetic := GenerateSyntheticRows(1000, rng)
	all := append(append([]features.FeatureVector(nil), rows...), synthetic...)

	yHealth := make([]float64, len(all))
	yRisk := make([]float64, len(all))
	for i, row := range all {
		health := labelFor(row)
		yHealth[i] = health
		yRisk[i] = float64(models.RiskIndex(models.RiskForHealth(health)))
	}

	// Shuffled train/test split.
	perm := rng.Perm(len(all))
	testN := int(float64(len(all)) * testFraction)
	trainIdx, testIdx := perm[testN:], perm[:testN]

	trainRows := make([]features.FeatureVector, len(trainIdx))
	for i, j := range trainIdx {
		trainRows[i] = all[j]
	}

	scaler := NewRobustScaler(forecastColumns)
	scaler.Fit(trainRows)

	trainX := scaler.TransformAll(trainRows)
	trainHealth := make([]float64, len(trainIdx))
	trainRisk := make([]float64, len(trainIdx))
	for i, j := range trainIdx {
		trainHealth[i] = yHealth[j]
		trainRisk[i] = yRisk[j]
	}

	health := FitForest(trainX, trainHealth, rng)
	risk := FitForest(trainX, trainRisk, rng)

	// Held-out evaluation, reported for monitoring only.
	var sqErr float64
	var hits int
	for _, j := range testIdx {
		row := scaler.Transform(all[j])
		diff := health.Predict(row) - yHealth[j]
		sqErr += diff * diff

		votes := risk.Votes(row, len(models.RiskLevels))
		if argmax(votes) == int(yRisk[j]) {
			hits++
		}
	}
	rmse, accuracy := 0.0, 0.0
	if len(testIdx) > 0 {
		rmse = math.Sqrt(sqErr / float64(len(testIdx)))
		accuracy = float64(hits) / float64(len(testIdx))
	}

	d.mu.Lock()
	d.scaler = scaler
	d.health = health
	d.risk = risk
	d.trained = true
	d.mu.Unlock()

	d.logger.Info("degradation forecaster trained",
		slog.Int("rows", len(trainIdx)),
		slog.Int("synthetic", len(synthetic)),
		slog.Float64("health_rmse", rmse),
		slog.Float64("risk_accuracy", accuracy))
}

// Predict forecasts health and risk for one feature vector. Untrained
// forecasters return the fixed neutral default.
func (d *DegradationForecaster) Predict(fv features.FeatureVector) Prediction {
	d.mu.RLock()
	scaler, health, risk, trained := d.scaler, d.health, d.risk, d.trained
	d.mu.RUnlock()

	if !trained {
		return neutralPrediction()
	}

	row := scaler.Transform(fv)
	healthScore := math.Max(0, math.Min(100, health.Predict(row)))

	votes := risk.Votes(row, len(models.RiskLevels))
	class := argmax(votes)

	cycles := fv.Get("cycle_count")
	rate := math.Max(0.001, (100-healthScore)/math.Max(cycles, 1)/365)
	remaining := int(math.Max(0, (healthScore-50)/math.Max(rate*365, 0.01)))

	return Prediction{
		HealthScore:     healthScore,
		RiskLevel:       models.RiskLevels[class],
		Confidence:      votes[class],
		DegradationRate: rate,
		RemainingCycles: remaining,
	}
}

func labelFor(row features.FeatureVector) float64 {
	if row.Has(HealthLabel) {
		return row.Get(HealthLabel)
	}
	health := 100 - row.Get("cycle_count")*0.01
	return math.Max(0, math.Min(100, health))
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// forecastBundle is the atomic serialized form of the fitted state.
type forecastBundle struct {
	Version string        `json:"model_version"`
	Scaler  *RobustScaler `json:"scaler"`
	Health  *Forest       `json:"health_model"`
	Risk    *Forest       `json:"risk_classifier"`
	Trained bool          `json:"is_trained"`
}

// MarshalBundle serializes models, scaler and trained flag as one blob.
func (d *DegradationForecaster) MarshalBundle(version string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return json.Marshal(forecastBundle{
		Version: version,
		Scaler:  d.scaler,
		Health:  d.health,
		Risk:    d.risk,
		Trained: d.trained,
	})
}

// RestoreBundle swaps in a previously serialized model pair.
func (d *DegradationForecaster) RestoreBundle(blob []byte) error {
	var bundle forecastBundle
	if err := json.Unmarshal(blob, &bundle); err != nil {
		return fmt.Errorf("decode forecast bundle: %w", err)
	}
	if bundle.Trained && (bundle.Scaler == nil || bundle.Health == nil || bundle.Risk == nil) {
		return fmt.Errorf("forecast bundle marked trained but incomplete")
	}

	d.mu.Lock()
	d.scaler = bundle.Scaler
	d.health = bundle.Health
	d.risk = bundle.Risk
	d.trained = bundle.Trained
	d.mu.Unlock()
	return nil
}
