package anomaly

import (
	"math"
	"math/rand"
	"sort"
)

const (
	maxSubsample = 256
	forestSeed   = 42
	eulerGamma   = 0.5772156649015329
)

// isolationForest is a one-dimensional isolation forest. Points that are
// isolated by fewer random splits score lower.
type isolationForest struct {
	trees      []*isolationNode
	sampleSize int
	offset     float64
}

type isolationNode struct {
	split       float64
	left, right *isolationNode
	size        int
	lo, hi      float64
}

func (n *isolationNode) leaf() bool {
	return n.left == nil && n.right == nil
}

// fitIsolationForest builds the ensemble on values and places the decision
// threshold at the contamination percentile of the training scores.
func fitIsolationForest(values []float64, trees int, contamination float64) *isolationForest {
	rng := rand.New(rand.NewSource(forestSeed))

	sampleSize := len(values)
	if sampleSize > maxSubsample {
		sampleSize = maxSubsample
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	f := &isolationForest{
		trees:      make([]*isolationNode, 0, trees),
		sampleSize: sampleSize,
	}
	for i := 0; i < trees; i++ {
		perm := rng.Perm(len(values))[:sampleSize]
		sample := make([]float64, sampleSize)
		for j, idx := range perm {
			sample[j] = values[idx]
		}
		f.trees = append(f.trees, buildIsolationTree(sample, 0, heightLimit, rng))
	}

	trainScores := make([]float64, len(values))
	for i, v := range values {
		trainScores[i] = f.scoreSample(v)
	}
	sort.Float64s(trainScores)
	f.offset = percentile(trainScores, contamination)

	return f
}

func buildIsolationTree(sample []float64, depth, heightLimit int, rng *rand.Rand) *isolationNode {
	if len(sample) == 0 {
		return &isolationNode{}
	}

	lo, hi := sample[0], sample[0]
	for _, v := range sample[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if depth >= heightLimit || len(sample) == 1 || lo == hi {
		return &isolationNode{size: len(sample), lo: lo, hi: hi}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range sample {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}

	return &isolationNode{
		split: split,
		left:  buildIsolationTree(left, depth+1, heightLimit, rng),
		right: buildIsolationTree(right, depth+1, heightLimit, rng),
		size:  len(sample),
		lo:    lo,
		hi:    hi,
	}
}

// pathLength is the expected isolation depth of x. Values inside the range
// of every visited node follow the classic path. A value outside a node's
// range is cut off there with the chance a split drawn over the range
// widened to reach x would fall in the gap, so far values isolate early.
func (n *isolationNode) pathLength(x float64) float64 {
	depth := 0.0
	reach := 1.0
	total := 0.0
	node := n
	for {
		if q := node.escape(x); q > 0 {
			total += reach * q * depth
			reach *= 1 - q
		}
		if node.leaf() {
			break
		}
		if x < node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return total + reach*(depth+averagePathLength(node.size))
}

func (n *isolationNode) escape(x float64) float64 {
	var gap float64
	switch {
	case n.size == 0:
		return 0
	case x < n.lo:
		gap = n.lo - x
	case x > n.hi:
		gap = x - n.hi
	default:
		return 0
	}
	return gap / (n.hi - n.lo + gap)
}

// scoreSample returns the negated anomaly score in [-1, 0): lower is more abnormal
func (f *isolationForest) scoreSample(x float64) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += tree.pathLength(x)
	}
	mean := total / float64(len(f.trees))

	ratio := 1.0
	if norm := averagePathLength(f.sampleSize); norm > 0 {
		ratio = mean / norm
	}
	return -math.Pow(2, -ratio)
}

// decision is positive for inliers and negative for outliers
func (f *isolationForest) decision(x float64) float64 {
	return f.scoreSample(x) - f.offset
}

// averagePathLength is the expected path length of an unsuccessful search in
// a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}
