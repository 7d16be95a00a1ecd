package ml

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/features"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

const (
	// Window construction over a training sequence.
	trainWindowSpan = 50
	minWindowSize   = 5
	minTrainSamples = 10

	anomalySeed = 42
)

// AnomalyResult is the outcome of scoring one window.
type AnomalyResult struct {
	IsAnomaly bool            `json:"is_anomaly"`
	Score     float64         `json:"anomaly_score"`
	Flags     map[string]bool `json:"anomaly_flags"`
}

// AnomalyScorer detects unusual telemetry windows with an isolation forest
// over standardized feature vectors. The zero value is usable and untrained;
// an untrained scorer always returns a neutral result.
type AnomalyScorer struct {
	logger *slog.Logger

	mu      sync.RWMutex
	scaler  *StandardScaler
	forest  *IsolationForest
	trained bool
}

// NewAnomalyScorer builds an untrained scorer.
func NewAnomalyScorer(logger *slog.Logger) *AnomalyScorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnomalyScorer{logger: logger}
}

// IsTrained reports whether the scorer has a fitted model.
func (a *AnomalyScorer) IsTrained() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.trained
}

// Train fits the model on a single chronological training sequence.
func (a *AnomalyScorer) Train(history []models.ValidatedSample) {
	a.TrainSequences([][]models.ValidatedSample{history})
}

// TrainSequences fits the scaler and forest on overlapping windows drawn
// from one or more chronological sequences. Windows never cross a sequence
// boundary, so one unit's telemetry is never blended into another unit's
// feature vector. Insufficient data is logged and leaves the previous model
// in place; training never fails loudly.
func (a *AnomalyScorer) TrainSequences(sequences [][]models.ValidatedSample) {
	total := 0
	for _, seq := range sequences {
		total += len(seq)
	}
	if total < minTrainSamples {
		a.logger.Warn("anomaly scorer: not enough training samples", slog.Int("samples", total))
		return
	}

	var vectors []features.FeatureVector
	for _, history := range sequences {
		for i := range history {
			start := i - trainWindowSpan + 1
			if start < 0 {
				start = 0
			}
			window := history[start : i+1]
			if len(window) < minWindowSize {
				continue
			}
			vectors = append(vectors, features.Extract(window))
		}
	}
	if len(vectors) == 0 {
		a.logger.Warn("anomaly scorer: feature extraction produced no windows")
		return
	}

	scaler := &StandardScaler{}
	scaler.Fit(vectors)
	rows := scaler.TransformAll(vectors)

	rng := rand.New(rand.NewSource(anomalySeed))
	forest := FitIsolationForest(rows, defaultTreeCount, defaultContamination, rng)

	a.mu.Lock()
	a.scaler = scaler
	a.forest = forest
	a.trained = true
	a.mu.Unlock()

	a.logger.Info("anomaly scorer trained",
		slog.Int("windows", len(vectors)),
		slog.Int("features", len(scaler.Features)))
}

// Score evaluates one window. Untrained scorers return the neutral result.
// The interpretive flags come from fixed domain thresholds on the raw
// features, independent of the learned score, so they stay explainable.
func (a *AnomalyScorer) Score(window []models.ValidatedSample) AnomalyResult {
	a.mu.RLock()
	scaler, forest, trained := a.scaler, a.forest, a.trained
	a.mu.RUnlock()

	if !trained {
		return AnomalyResult{Flags: map[string]bool{}}
	}

	fv := features.Extract(window)
	if len(fv) == 0 {
		return AnomalyResult{Flags: map[string]bool{}}
	}

	row := scaler.Transform(fv)
	return AnomalyResult{
		IsAnomaly: forest.Anomalous(row),
		Score:     forest.Score(row),
		Flags:     anomalyFlags(fv),
	}
}

// anomalyFlags applies the fixed interpretive thresholds. Keys are only
// emitted when the underlying feature was computable.
func anomalyFlags(fv features.FeatureVector) map[string]bool {
	flags := make(map[string]bool)

	if fv.Has("voltage_mean") {
		mean := fv.Get("voltage_mean")
		flags["voltage_anomaly"] = mean < 3.0 || mean > 4.3
	}
	if fv.Has("temperature_mean") {
		mean := fv.Get("temperature_mean")
		flags["temperature_anomaly"] = mean > 60 || mean < -10
	}
	if fv.Has("capacity_mean") {
		flags["capacity_anomaly"] = fv.Get("capacity_mean") < 10
	}
	if fv.Has("voltage_diff_std") {
		flags["voltage_instability"] = fv.Get("voltage_diff_std") > 0.1
	}
	if fv.Has("temperature_diff_std") {
		flags["temperature_instability"] = fv.Get("temperature_diff_std") > 5.0
	}
	if fv.Has("resistance_mean") {
		flags["resistance_anomaly"] = fv.Get("resistance_mean") > 0.2
	}

	return flags
}

// anomalyBundle is the serialized form: model, scaler and trained flag
// always travel together so a restored scaler can never be paired with the
// wrong forest.
type anomalyBundle struct {
	Version string           `json:"model_version"`
	Scaler  *StandardScaler  `json:"scaler"`
	Forest  *IsolationForest `json:"forest"`
	Trained bool             `json:"is_trained"`
}

// MarshalBundle serializes the fitted state as one atomic blob.
func (a *AnomalyScorer) MarshalBundle(version string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return json.Marshal(anomalyBundle{
		Version: version,
		Scaler:  a.scaler,
		Forest:  a.forest,
		Trained: a.trained,
	})
}

// RestoreBundle swaps in a previously serialized model.
func (a *AnomalyScorer) RestoreBundle(blob []byte) error {
	var bundle anomalyBundle
	if err := json.Unmarshal(blob, &bundle); err != nil {
		return fmt.Errorf("decode anomaly bundle: %w", err)
	}
	if bundle.Trained && (bundle.Scaler == nil || bundle.Forest == nil) {
		return fmt.Errorf("anomaly bundle marked trained but incomplete")
	}

	a.mu.Lock()
	a.scaler = bundle.Scaler
	a.forest = bundle.Forest
	a.trained = bundle.Trained
	a.mu.Unlock()
	return nil
}
