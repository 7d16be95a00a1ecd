package ml

import (
	"math"
	"math/rand"
	"sort"
)

// IsolationForest is an ensemble of random isolation trees. Scores are
// normalized to [0,1] with higher values indicating anomalies; the fitted
// Threshold is the contamination quantile of the training scores, so
// Anomalous reports roughly the configured fraction of training data as
// anomalous.
type IsolationForest struct {
	Trees         []*isoNode `json:"trees"`
	SampleSize    int        `json:"sample_size"`
	Threshold     float64    `json:"threshold"`
	Contamination float64    `json:"contamination"`
}

type isoNode struct {
	Feature int      `json:"f"`
	Split   float64  `json:"s"`
	Left    *isoNode `json:"l,omitempty"`
	Right   *isoNode `json:"r,omitempty"`
	Size    int      `json:"n"` // external node size, 0 for internal nodes
}

const (
	defaultTreeCount     = 100
	defaultContamination = 0.1
)

// FitIsolationForest trains an ensemble over the given rows. The random
// source is injected for reproducibility.
func FitIsolationForest(rows [][]float64, trees int, contamination float64, rng *rand.Rand) *IsolationForest {
	if trees <= 0 {
		trees = defaultTreeCount
	}
	if contamination <= 0 || contamination >= 1 {
		contamination = defaultContamination
	}

	sampleSize := len(rows)
	if sampleSize > 256 {
		sampleSize = 256
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))

	forest := &IsolationForest{
		Trees:         make([]*isoNode, 0, trees),
		SampleSize:    sampleSize,
		Contamination: contamination,
	}
	for t := 0; t < trees; t++ {
		sample := subsample(rows, sampleSize, rng)
		forest.Trees = append(forest.Trees, buildIsoTree(sample, 0, heightLimit, rng))
	}

	// Contamination quantile over the training scores sets the decision
	// threshold.
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = forest.Score(row)
	}
	forest.Threshold = upperQuantile(scores, contamination)

	return forest
}

// Score returns the anomaly score for one row in [0,1].
func (f *IsolationForest) Score(row []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	total := 0.0
	for _, tree := range f.Trees {
		total += pathLength(tree, row, 0)
	}
	avg := total / float64(len(f.Trees))
	return math.Pow(2, -avg/averagePathLength(float64(f.SampleSize)))
}

// Anomalous reports whether a row's score crosses the fitted threshold.
func (f *IsolationForest) Anomalous(row []float64) bool {
	return f.Score(row) >= f.Threshold
}

func buildIsoTree(rows [][]float64, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(rows) <= 1 {
		return &isoNode{Size: len(rows)}
	}

	dims := len(rows[0])
	// Pick a feature with spread; give up after a few tries on constant data.
	for attempt := 0; attempt < dims; attempt++ {
		feature := rng.Intn(dims)
		lo, hi := rows[0][feature], rows[0][feature]
		for _, row := range rows[1:] {
			if row[feature] < lo {
				lo = row[feature]
			}
			if row[feature] > hi {
				hi = row[feature]
			}
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, row := range rows {
			if row[feature] < split {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &isoNode{
			Feature: feature,
			Split:   split,
			Left:    buildIsoTree(left, depth+1, limit, rng),
			Right:   buildIsoTree(right, depth+1, limit, rng),
		}
	}
	return &isoNode{Size: len(rows)}
}

func pathLength(node *isoNode, row []float64, depth float64) float64 {
	if node.Left == nil && node.Right == nil {
		return depth + averagePathLength(float64(node.Size))
	}
	if row[node.Feature] < node.Split {
		return pathLength(node.Left, row, depth+1)
	}
	return pathLength(node.Right, row, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search, used to normalize isolation depths.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	const eulerMascheroni = 0.5772156649
	h := math.Log(n-1) + eulerMascheroni
	return 2*h - 2*(n-1)/n
}

func subsample(rows [][]float64, size int, rng *rand.Rand) [][]float64 {
	if size >= len(rows) {
		return rows
	}
	perm := rng.Perm(len(rows))
	out := make([][]float64, size)
	for i := 0; i < size; i++ {
		out[i] = rows[perm[i]]
	}
	return out
}

// upperQuantile returns the value below which (1-q) of the scores fall.
func upperQuantile(scores []float64, q float64) float64 {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(float64(len(sorted)) * (1 - q)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
