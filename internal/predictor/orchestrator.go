// Package predictor orchestrates the two ML models over stored telemetry:
// it assembles the feature window, runs anomaly scoring and degradation
// forecasting, and folds both into one explained prediction per unit.
package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/features"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/metrics"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/ml"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/utils"
)

const (
	defaultHistoryWindow  = 24 * time.Hour
	defaultHistoryLimit   = 500
	defaultTrainingWindow = 30 * 24 * time.Hour

	// Scoring window: the newest slice of the pulled history.
	scoringWindowSize = 50

	// Retraining skips units with too little history to matter.
	minRetrainSamples = 100

	anomalyModelName  = "anomaly_detector.json"
	forecastModelName = "degradation_forecaster.json"

	latencyLogEvery = 20
)

// HistoryStore provides the stored telemetry the orchestrator predicts from.
type HistoryStore interface {
	RecentSamples(unitID string, since time.Time, limit int) []models.ValidatedSample
	KnownUnits() []string
}

// ModelStore persists serialized model bundles across restarts.
type ModelStore interface {
	Save(name string, blob []byte) error
	Load(name string) ([]byte, bool, error)
}

// Options tunes history pulls and retraining. Zero values select defaults.
type Options struct {
	HistoryWindow  time.Duration
	HistoryLimit   int
	TrainingWindow time.Duration
}

// Orchestrator runs predictions and manages the model lifecycle.
type Orchestrator struct {
	logger     *slog.Logger
	store      HistoryStore
	modelStore ModelStore
	scorer     *ml.AnomalyScorer
	forecaster *ml.DegradationForecaster
	latency    *utils.LatencyTracker
	opts       Options

	mu        sync.RWMutex
	lastByID  map[string]models.PredictionResult
	predCount int
}

// NewOrchestrator wires the prediction flow. A nil modelStore disables
// persistence but not prediction.
func NewOrchestrator(logger *slog.Logger, store HistoryStore, modelStore ModelStore, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.TrainingWindow <= 0 {
		opts.TrainingWindow = defaultTrainingWindow
	}

	return &Orchestrator{
		logger:     logger.With(slog.String("component", "predictor")),
		store:      store,
		modelStore: modelStore,
		scorer:     ml.NewAnomalyScorer(logger),
		forecaster: ml.NewDegradationForecaster(logger),
		latency:    utils.NewLatencyTracker(512),
		opts:       opts,
		lastByID:   make(map[string]models.PredictionResult),
	}
}

// Predict assembles the recent window for one unit and runs both models.
// Units with no stored history get a neutral result, not an error.
func (o *Orchestrator) Predict(unitID string) models.PredictionResult {
	start := time.Now()

	now := time.Now().UTC()
	history := o.store.RecentSamples(unitID, now.Add(-o.opts.HistoryWindow), o.opts.HistoryLimit)
	if len(history) == 0 {
		o.observe(start, metrics.OutcomeError)
		result := neutralResult(unitID, now)
		o.remember(result)
		return result
	}

	window := history
	if len(window) > scoringWindowSize {
		window = window[len(window)-scoringWindowSize:]
	}
	last := window[len(window)-1]

	anomaly := o.scorer.Score(window)

	fv := features.Extract(window)
	fv.Set("cycle_count", last.CycleCount)
	forecast := o.forecaster.Predict(fv)

	result := models.PredictionResult{
		UnitID:          unitID,
		RiskLevel:       forecast.RiskLevel,
		Confidence:      forecast.Confidence,
		HealthScore:     forecast.HealthScore,
		DegradationRate: forecast.DegradationRate,
		RemainingCycles: forecast.RemainingCycles,
		AnomalyFlags:    anomaly.Flags,
		CreatedAt:       now,
	}
	if t, ok := failureTime(now, forecast.HealthScore, forecast.DegradationRate); ok {
		result.EstimatedFailureTime = &t
	}
	result.Explanation = explain(result, anomaly)

	o.remember(result)
	o.observe(start, metrics.OutcomeSuccess)
	return result
}

// PredictAll runs Predict for every known unit.
func (o *Orchestrator) PredictAll() map[string]models.PredictionResult {
	out := make(map[string]models.PredictionResult)
	for _, unitID := range o.store.KnownUnits() {
		out[unitID] = o.Predict(unitID)
	}
	return out
}

// LastPrediction returns the cached result for a unit, if any.
func (o *Orchestrator) LastPrediction(unitID string) (models.PredictionResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	result, ok := o.lastByID[unitID]
	return result, ok
}

// Retrain refits both models on the stored training window and persists the
// new bundles. It reports whether anything was retrained; errors along the
// way are logged, never propagated, so a failed retrain keeps the previous
// models serving.
func (o *Orchestrator) Retrain(ctx context.Context) bool {
	since := time.Now().UTC().Add(-o.opts.TrainingWindow)

	var sequences [][]models.ValidatedSample
	var rows []features.FeatureVector
	total := 0
	for _, unitID := range o.store.KnownUnits() {
		if ctx.Err() != nil {
			o.logger.Warn("retrain cancelled", slog.Any("error", ctx.Err()))
			return false
		}
		samples := o.store.RecentSamples(unitID, since, 0)
		if len(samples) < minRetrainSamples {
			o.logger.Debug("skipping unit for retraining",
				slog.String("unit_id", unitID),
				slog.Int("samples", len(samples)))
			continue
		}
		sequences = append(sequences, samples)
		total += len(samples)
		rows = append(rows, trainingRows(samples)...)
	}

	if len(sequences) == 0 {
		o.logger.Warn("retrain skipped: no unit has enough history")
		return false
	}

	start := time.Now()
	o.scorer.TrainSequences(sequences)
	metrics.ObserveTraining("anomaly_detector", time.Since(start))

	start = time.Now()
	o.forecaster.Train(rows)
	metrics.ObserveTraining("degradation_forecaster", time.Since(start))

	o.persistModels()
	o.logger.Info("models retrained",
		slog.Int("units", len(sequences)),
		slog.Int("samples", total),
		slog.Int("feature_rows", len(rows)))
	return true
}

// Bootstrap restores persisted bundles, or trains the forecaster on
// synthetic data so the first predictions are not all defaults.
func (o *Orchestrator) Bootstrap() {
	if o.modelStore != nil {
		o.restoreModel(anomalyModelName, o.scorer.RestoreBundle)
		o.restoreModel(forecastModelName, o.forecaster.RestoreBundle)
	}

	trainedAny := false
	if !o.scorer.IsTrained() {
		o.logger.Info("no persisted anomaly detector, training on synthetic data")
		start := time.Now()
		o.scorer.Train(ml.GenerateSyntheticSamples(500, rand.New(rand.NewSource(1))))
		metrics.ObserveTraining("anomaly_detector", time.Since(start))
		trainedAny = true
	}
	if !o.forecaster.IsTrained() {
		o.logger.Info("no persisted forecaster, training on synthetic data")
		start := time.Now()
		o.forecaster.Train(ml.GenerateSyntheticRows(200, rand.New(rand.NewSource(1))))
		metrics.ObserveTraining("degradation_forecaster", time.Since(start))
		trainedAny = true
	}
	if trainedAny {
		o.persistModels()
	}
}

type restoreFunc func(blob []byte) error

func (o *Orchestrator) restoreModel(name string, restore restoreFunc) {
	blob, ok, err := o.modelStore.Load(name)
	if err != nil {
		o.logger.Warn("load model bundle", slog.String("name", name), slog.Any("error", err))
		return
	}
	if !ok {
		return
	}
	if err := restore(blob); err != nil {
		o.logger.Warn("restore model bundle", slog.String("name", name), slog.Any("error", err))
		return
	}
	o.logger.Info("model restored", slog.String("name", name))
}

func (o *Orchestrator) persistModels() {
	if o.modelStore == nil {
		return
	}
	version := time.Now().UTC().Format("20060102T150405Z")

	if blob, err := o.scorer.MarshalBundle(version); err != nil {
		o.logger.Warn("marshal anomaly bundle", slog.Any("error", err))
	} else if err := o.modelStore.Save(anomalyModelName, blob); err != nil {
		o.logger.Warn("save anomaly bundle", slog.Any("error", err))
	}

	if blob, err := o.forecaster.MarshalBundle(version); err != nil {
		o.logger.Warn("marshal forecast bundle", slog.Any("error", err))
	} else if err := o.modelStore.Save(forecastModelName, blob); err != nil {
		o.logger.Warn("save forecast bundle", slog.Any("error", err))
	}
}

// trainingRows converts one unit's sample sequence into labeled feature
// rows over overlapping windows. The label is the window's mean reported
// health score.
func trainingRows(samples []models.ValidatedSample) []features.FeatureVector {
	const span, minSize = 50, 5

	rows := make([]features.FeatureVector, 0, len(samples))
	for i := minSize - 1; i < len(samples); i++ {
		start := i - span + 1
		if start < 0 {
			start = 0
		}
		window := samples[start : i+1]

		fv := features.Extract(window)
		if len(fv) == 0 {
			continue
		}
		fv.Set("cycle_count", window[len(window)-1].CycleCount)

		var health float64
		for _, s := range window {
			health += s.HealthScore
		}
		fv.Set(ml.HealthLabel, health/float64(len(window)))

		rows = append(rows, fv)
	}
	return rows
}

func (o *Orchestrator) remember(result models.PredictionResult) {
	o.mu.Lock()
	o.lastByID[result.UnitID] = result
	o.mu.Unlock()
}

func (o *Orchestrator) observe(start time.Time, outcome string) {
	elapsed := time.Since(start)
	metrics.ObservePrediction(elapsed, outcome)
	o.latency.Observe(elapsed)

	o.mu.Lock()
	o.predCount++
	count := o.predCount
	o.mu.Unlock()

	if count%latencyLogEvery == 0 {
		o.logger.Info("prediction latency",
			slog.Int("predictions", count),
			slog.Duration("p95", o.latency.Percentile(95)))
	}
}

func neutralResult(unitID string, now time.Time) models.PredictionResult {
	return models.PredictionResult{
		UnitID:          unitID,
		RiskLevel:       models.RiskNormal,
		Confidence:      0.5,
		HealthScore:     90,
		DegradationRate: 0.01,
		RemainingCycles: 1000,
		AnomalyFlags:    map[string]bool{},
		Explanation:     "Insufficient telemetry history; reporting baseline expectations.",
		CreatedAt:       now,
	}
}

// failureTime projects the date health crosses the danger line at the
// current degradation rate. Undefined for units already at or below it.
func failureTime(now time.Time, health, rate float64) (time.Time, bool) {
	if rate <= 0 || health <= 50 {
		return time.Time{}, false
	}
	days := (health - 50) / (rate * 365)
	return now.Add(time.Duration(days * 24 * float64(time.Hour))), true
}

func explain(result models.PredictionResult, anomaly ml.AnomalyResult) string {
	var b strings.Builder

	switch {
	case result.HealthScore >= 80:
		b.WriteString(fmt.Sprintf("Battery is in good condition (health %.1f).", result.HealthScore))
	case result.HealthScore >= 60:
		b.WriteString(fmt.Sprintf("Battery shows moderate degradation (health %.1f).", result.HealthScore))
	case result.HealthScore >= 40:
		b.WriteString(fmt.Sprintf("Battery is significantly degraded (health %.1f); schedule replacement.", result.HealthScore))
	default:
		b.WriteString(fmt.Sprintf("Battery is critically degraded (health %.1f); replace immediately.", result.HealthScore))
	}

	if anomaly.IsAnomaly {
		var active []string
		for name, set := range anomaly.Flags {
			if set {
				active = append(active, name)
			}
		}
		if len(active) > 0 {
			sort.Strings(active)
			b.WriteString(fmt.Sprintf(" Anomalous behaviour detected (%s).", strings.Join(active, ", ")))
		} else {
			b.WriteString(" Anomalous behaviour detected.")
		}
	}

	switch {
	case result.DegradationRate > 0.05:
		b.WriteString(" Capacity is degrading rapidly.")
	case result.DegradationRate > 0.02:
		b.WriteString(" Capacity is degrading at an elevated rate.")
	}

	if result.RemainingCycles > 0 {
		b.WriteString(fmt.Sprintf(" Estimated %d cycles remaining.", result.RemainingCycles))
	}

	return b.String()
}
