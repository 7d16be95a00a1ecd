// Package ml implements the two predictive models: an unsupervised anomaly
// scorer and a supervised degradation forecaster, plus the feature scaling
// and tree-ensemble machinery they share.
package ml

import (
	"math"
	"sort"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/features"
)

// StandardScaler standardizes features to zero mean and unit variance. The
// fitted feature list is the canonical schema: Transform aligns any vector
// to it, defaulting unseen features to zero and dropping extras, so training
// and inference can never disagree on column order.
type StandardScaler struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Std      []float64 `json:"std"`
}

// Fit learns mean and deviation per feature over the union of all keys seen
// in the training vectors, in sorted name order.
func (s *StandardScaler) Fit(vectors []features.FeatureVector) {
	s.Features = unionNames(vectors)
	s.Mean = make([]float64, len(s.Features))
	s.Std = make([]float64, len(s.Features))

	n := float64(len(vectors))
	for i, name := range s.Features {
		sum := 0.0
		for _, v := range vectors {
			sum += v.Get(name)
		}
		mean := sum / n

		variance := 0.0
		for _, v := range vectors {
			d := v.Get(name) - mean
			variance += d * d
		}
		std := math.Sqrt(variance / n)
		if std == 0 {
			std = 1
		}
		s.Mean[i] = mean
		s.Std[i] = std
	}
}

// Transform maps a vector onto the fitted schema.
func (s *StandardScaler) Transform(v features.FeatureVector) []float64 {
	out := make([]float64, len(s.Features))
	for i, name := range s.Features {
		out[i] = (v.Get(name) - s.Mean[i]) / s.Std[i]
	}
	return out
}

// TransformAll scales a batch of vectors.
func (s *StandardScaler) TransformAll(vectors []features.FeatureVector) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		out[i] = s.Transform(v)
	}
	return out
}

// RobustScaler centers on the median and scales by the interquartile range,
// which keeps outlier windows from dominating the forecaster's inputs. The
// feature schema is fixed at construction rather than learned, matching the
// forecaster's fixed input subset.
type RobustScaler struct {
	Features []string  `json:"features"`
	Median   []float64 `json:"median"`
	IQR      []float64 `json:"iqr"`
}

// NewRobustScaler creates a scaler over a fixed feature schema.
func NewRobustScaler(featureNames []string) *RobustScaler {
	return &RobustScaler{Features: append([]string(nil), featureNames...)}
}

// Fit learns median and IQR per feature.
func (s *RobustScaler) Fit(vectors []features.FeatureVector) {
	s.Median = make([]float64, len(s.Features))
	s.IQR = make([]float64, len(s.Features))

	for i, name := range s.Features {
		column := make([]float64, len(vectors))
		for j, v := range vectors {
			column[j] = v.Get(name)
		}
		sort.Float64s(column)

		s.Median[i] = quantile(column, 0.5)
		iqr := quantile(column, 0.75) - quantile(column, 0.25)
		if iqr == 0 {
			iqr = 1
		}
		s.IQR[i] = iqr
	}
}

// Transform maps a vector onto the fitted schema.
func (s *RobustScaler) Transform(v features.FeatureVector) []float64 {
	out := make([]float64, len(s.Features))
	for i, name := range s.Features {
		out[i] = (v.Get(name) - s.Median[i]) / s.IQR[i]
	}
	return out
}

// TransformAll scales a batch of vectors.
func (s *RobustScaler) TransformAll(vectors []features.FeatureVector) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		out[i] = s.Transform(v)
	}
	return out
}

// quantile interpolates linearly over a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func unionNames(vectors []features.FeatureVector) []string {
	seen := make(map[string]struct{})
	for _, v := range vectors {
		for name := range v {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
