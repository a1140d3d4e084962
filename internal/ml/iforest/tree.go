package iforest

import (
	"fmt"
	"math/rand"
)

const leaf = -1

// Node is one split or leaf of a flattened isolation tree.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int32   `json:"l"`
	Right     int32   `json:"r"`
	Size      int     `json:"n"`
}

// Tree stores nodes in pre-order; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (n Node) isLeaf() bool { return n.Left == leaf }

// pathLength walks row to its leaf and adds c(size) for the unresolved points.
func (t *Tree) pathLength(row []float64) float64 {
	depth := 0
	idx := int32(0)
	for {
		n := t.Nodes[idx]
		if n.isLeaf() {
			return float64(depth) + averagePathLength(n.Size)
		}
		if row[n.Feature] < n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
		depth++
	}
}

func (t *Tree) validate(numFeatures int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	count := int32(len(t.Nodes))
	for i, n := range t.Nodes {
		if n.isLeaf() {
			continue
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return fmt.Errorf("node %d: feature %d out of range", i, n.Feature)
		}
		// children always follow their parent in pre-order
		if n.Left <= int32(i) || n.Left >= count || n.Right <= int32(i) || n.Right >= count {
			return fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return nil
}

type builder struct {
	rng         *rand.Rand
	maxDepth    int
	numFeatures int
}

func (b *builder) build(sample [][]float64) Tree {
	t := Tree{Nodes: make([]Node, 0, 2*len(sample))}
	b.grow(&t, sample, 0)
	return t
}

// grow appends the subtree for data and returns its root index.
func (b *builder) grow(t *Tree, data [][]float64, depth int) int32 {
	idx := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, Node{Left: leaf, Right: leaf, Size: len(data)})

	if len(data) <= 1 || depth >= b.maxDepth {
		return idx
	}

	feature, lo, hi, ok := b.pickFeature(data)
	if !ok {
		return idx
	}

	split := lo + b.rng.Float64()*(hi-lo)
	if split <= lo {
		split = lo + (hi-lo)/2
	}

	left := make([][]float64, 0, len(data))
	right := make([][]float64, 0, len(data))
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return idx
	}

	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.Nodes[idx].Feature = feature
	t.Nodes[idx].Threshold = split
	t.Nodes[idx].Left = l
	t.Nodes[idx].Right = r
	return idx
}

// pickFeature draws features in random order until one is not constant over data.
func (b *builder) pickFeature(data [][]float64) (int, float64, float64, bool) {
	for _, feature := range b.rng.Perm(b.numFeatures) {
		lo, hi := data[0][feature], data[0][feature]
		for _, row := range data[1:] {
			v := row[feature]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}
