package ml

import (
	"math"
	"math/rand"
)

// TreeNode is one node of a CART regression tree. Leaves carry the mean
// target of the rows they isolate.
type TreeNode struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Left      *TreeNode `json:"l,omitempty"`
	Right     *TreeNode `json:"r,omitempty"`
	Value     float64   `json:"v"`
	Leaf      bool      `json:"leaf"`
}

// Forest is a bagged ensemble of regression trees. Predict averages the
// trees; Votes bins each tree's prediction to the nearest class and returns
// the vote distribution, which is how the risk classifier derives class
// probabilities.
type Forest struct {
	Trees    []*TreeNode `json:"trees"`
	MaxDepth int         `json:"max_depth"`
}

const (
	forestTreeCount = 100
	forestMaxDepth  = 10
	forestMinLeaf   = 2
)

// FitForest trains a bagged forest on the given rows and targets.
func FitForest(x [][]float64, y []float64, rng *rand.Rand) *Forest {
	forest := &Forest{MaxDepth: forestMaxDepth}

	n := len(x)
	for t := 0; t < forestTreeCount; t++ {
		// Bootstrap sample with replacement.
		bx := make([][]float64, n)
		by := make([]float64, n)
		for i := 0; i < n; i++ {
			j := rng.Intn(n)
			bx[i] = x[j]
			by[i] = y[j]
		}
		forest.Trees = append(forest.Trees, buildRegTree(bx, by, 0, rng))
	}
	return forest
}

// Predict returns the ensemble mean for one row.
func (f *Forest) Predict(row []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	total := 0.0
	for _, tree := range f.Trees {
		total += predictTree(tree, row)
	}
	return total / float64(len(f.Trees))
}

// Votes bins each tree's prediction to the nearest class index and returns
// the normalized vote shares across the given number of classes.
func (f *Forest) Votes(row []float64, classes int) []float64 {
	votes := make([]float64, classes)
	if len(f.Trees) == 0 || classes == 0 {
		return votes
	}
	for _, tree := range f.Trees {
		class := int(math.Round(predictTree(tree, row)))
		if class < 0 {
			class = 0
		}
		if class >= classes {
			class = classes - 1
		}
		votes[class]++
	}
	for i := range votes {
		votes[i] /= float64(len(f.Trees))
	}
	return votes
}

func predictTree(node *TreeNode, row []float64) float64 {
	for !node.Leaf {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

func buildRegTree(x [][]float64, y []float64, depth int, rng *rand.Rand) *TreeNode {
	if depth >= forestMaxDepth || len(y) < 2*forestMinLeaf || constant(y) {
		return &TreeNode{Leaf: true, Value: mean(y)}
	}

	feature, threshold, ok := bestSplit(x, y, rng)
	if !ok {
		return &TreeNode{Leaf: true, Value: mean(y)}
	}

	var lx, rx [][]float64
	var ly, ry []float64
	for i, row := range x {
		if row[feature] <= threshold {
			lx = append(lx, row)
			ly = append(ly, y[i])
		} else {
			rx = append(rx, row)
			ry = append(ry, y[i])
		}
	}
	if len(ly) < forestMinLeaf || len(ry) < forestMinLeaf {
		return &TreeNode{Leaf: true, Value: mean(y)}
	}

	return &TreeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      buildRegTree(lx, ly, depth+1, rng),
		Right:     buildRegTree(rx, ry, depth+1, rng),
	}
}

// bestSplit scans a random sqrt-subset of features and candidate thresholds
// for the split with the lowest weighted variance.
func bestSplit(x [][]float64, y []float64, rng *rand.Rand) (int, float64, bool) {
	dims := len(x[0])
	tryDims := int(math.Ceil(math.Sqrt(float64(dims))))

	bestScore := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	for _, feature := range rng.Perm(dims)[:tryDims] {
		lo, hi := x[0][feature], x[0][feature]
		for _, row := range x[1:] {
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

		// A handful of random thresholds per feature is enough for bagged
		// trees and keeps training linear in the row count.
		for c := 0; c < 8; c++ {
			threshold := lo + rng.Float64()*(hi-lo)

			var leftSum, leftSq, rightSum, rightSq float64
			var leftN, rightN int
			for i, row := range x {
				if row[feature] <= threshold {
					leftSum += y[i]
					leftSq += y[i] * y[i]
					leftN++
				} else {
					rightSum += y[i]
					rightSq += y[i] * y[i]
					rightN++
				}
			}
			if leftN < forestMinLeaf || rightN < forestMinLeaf {
				continue
			}

			score := sse(leftSum, leftSq, leftN) + sse(rightSum, rightSq, rightN)
			if score < bestScore {
				bestScore = score
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

// sse is the sum of squared errors around the subset mean.
func sse(sum, sumSq float64, n int) float64 {
	return sumSq - sum*sum/float64(n)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func constant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
