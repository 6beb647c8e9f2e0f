package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// ForestConfig tunes the random forest regressor.
type ForestConfig struct {
	Trees    int
	MaxDepth int
	Seed     uint64
}

// DefaultForestConfig returns 100 trees of depth 10 with seed 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 100, MaxDepth: 10, Seed: 42}
}

// Forest is a bagged ensemble of regression trees split on squared error.
type Forest struct {
	cfg        ForestConfig
	trees      []*regressionTree
	features   int
	importance []float64
}

// NewForest creates an unfitted forest.
func NewForest(cfg ForestConfig) *Forest {
	if cfg.Trees <= 0 {
		cfg.Trees = 1
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	return &Forest{cfg: cfg}
}

// Fit grows every tree on its own bootstrap sample. Trees are fit concurrently and
// each tree's randomness depends only on the seed and its index.
func (f *Forest) Fit(ctx context.Context, X [][]float64, y []float64) error {
	if len(X) == 0 {
		return fmt.Errorf("fit forest: no samples")
	}
	if len(X) != len(y) {
		return fmt.Errorf("fit forest: %d rows for %d targets", len(X), len(y))
	}
	p := len(X[0])
	for i, row := range X {
		if len(row) != p {
			return fmt.Errorf("fit forest: row %d has %d features, want %d", i, len(row), p)
		}
	}

	trees := make([]*regressionTree, f.cfg.Trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rnd := rand.New(rand.NewPCG(f.cfg.Seed, uint64(i)))
			sample := make([]int, len(X))
			for j := range sample {
				sample[j] = rnd.IntN(len(X))
			}
			trees[i] = growTree(X, y, sample, p, f.cfg.MaxDepth)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fit forest: %w", err)
	}

	f.trees = trees
	f.features = p
	f.importance = averageImportance(trees, p)
	return nil
}

// Predict averages the tree outputs for each row.
func (f *Forest) Predict(X [][]float64) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, ErrModelNotFit
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != f.features {
			return nil, fmt.Errorf("predict forest: row %d has %d features, want %d", i, len(row), f.features)
		}
		var sum float64
		for _, t := range f.trees {
			sum += t.predict(row)
		}
		out[i] = sum / float64(len(f.trees))
	}
	return out, nil
}

// Importances returns impurity-based importances summing to 1. A forest that never
// split reports uniform importances.
func (f *Forest) Importances() ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, ErrModelNotFit
	}
	out := make([]float64, len(f.importance))
	copy(out, f.importance)
	return out, nil
}

func averageImportance(trees []*regressionTree, p int) []float64 {
	total := make([]float64, p)
	for _, t := range trees {
		var sum float64
		for _, v := range t.importance {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for j, v := range t.importance {
			total[j] += v / sum
		}
	}
	return normalize(total)
}

func normalize(values []float64) []float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	out := make([]float64, len(values))
	for j := range out {
		if sum > 0 {
			out[j] = values[j] / sum
		} else if len(values) > 0 {
			out[j] = 1 / float64(len(values))
		}
	}
	return out
}

type treeNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      int
	right     int
}

type regressionTree struct {
	nodes      []treeNode
	importance []float64
}

func (t *regressionTree) predict(row []float64) float64 {
	idx := 0
	for {
		n := t.nodes[idx]
		if n.leaf {
			return n.value
		}
		if row[n.feature] <= n.threshold {
			idx = n.left
		} else {
			idx = n.right
		}
	}
}

type treeBuilder struct {
	X        [][]float64
	y        []float64
	features int
	maxDepth int
	total    float64
	tree     *regressionTree
}

func growTree(X [][]float64, y []float64, sample []int, features, maxDepth int) *regressionTree {
	b := &treeBuilder{
		X:        X,
		y:        y,
		features: features,
		maxDepth: maxDepth,
		total:    float64(len(sample)),
		tree:     &regressionTree{importance: make([]float64, features)},
	}
	b.build(sample, 0)
	return b.tree
}

// build appends the subtree for the given sample indices and returns its node index.
func (b *treeBuilder) build(sample []int, depth int) int {
	mean, impurity := b.stats(sample)
	idx := len(b.tree.nodes)
	b.tree.nodes = append(b.tree.nodes, treeNode{leaf: true, value: mean})

	if depth >= b.maxDepth || len(sample) < 2 || impurity <= 1e-12 {
		return idx
	}

	split, ok := b.bestSplit(sample, impurity)
	if !ok {
		return idx
	}

	left := make([]int, 0, split.leftCount)
	right := make([]int, 0, len(sample)-split.leftCount)
	for _, s := range sample {
		if b.X[s][split.feature] <= split.threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	if len(left) == 0 || len(right) == 0 {
		return idx
	}

	b.tree.importance[split.feature] += split.gain * float64(len(sample)) / b.total

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.nodes[idx] = treeNode{feature: split.feature, threshold: split.threshold, left: l, right: r, value: mean}
	return idx
}

func (b *treeBuilder) stats(sample []int) (mean, variance float64) {
	var sum, sq float64
	for _, s := range sample {
		sum += b.y[s]
		sq += b.y[s] * b.y[s]
	}
	n := float64(len(sample))
	mean = sum / n
	variance = math.Max(0, sq/n-mean*mean)
	return mean, variance
}

type splitChoice struct {
	feature   int
	threshold float64
	gain      float64
	leftCount int
}

// bestSplit scans every feature for the threshold with the largest impurity decrease.
func (b *treeBuilder) bestSplit(sample []int, impurity float64) (splitChoice, bool) {
	n := len(sample)
	order := make([]int, n)
	best := splitChoice{gain: 0}
	found := false

	for feat := 0; feat < b.features; feat++ {
		copy(order, sample)
		sort.SliceStable(order, func(i, j int) bool { return b.X[order[i]][feat] < b.X[order[j]][feat] })

		var totalSum, totalSq float64
		for _, s := range order {
			totalSum += b.y[s]
			totalSq += b.y[s] * b.y[s]
		}

		var leftSum, leftSq float64
		for i := 0; i < n-1; i++ {
			v := b.y[order[i]]
			leftSum += v
			leftSq += v * v

			cur, next := b.X[order[i]][feat], b.X[order[i+1]][feat]
			if cur == next {
				continue
			}

			nl := float64(i + 1)
			nr := float64(n - i - 1)
			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			leftVar := math.Max(0, leftSq/nl-(leftSum/nl)*(leftSum/nl))
			rightVar := math.Max(0, rightSq/nr-(rightSum/nr)*(rightSum/nr))
			gain := impurity - (nl*leftVar+nr*rightVar)/float64(n)

			if gain > best.gain+1e-15 {
				threshold := cur + (next-cur)/2
				if threshold >= next {
					threshold = cur
				}
				best = splitChoice{
					feature:   feat,
					threshold: threshold,
					gain:      gain,
					leftCount: i + 1,
				}
				found = true
			}
		}
	}
	return best, found
}
