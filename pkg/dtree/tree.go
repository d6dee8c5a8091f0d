// Package dtree 实现确定性的 CART 回归树（均方误差划分），用于图像难度评分模型。
package dtree

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrEmptyDataset  = errors.New("dtree: empty dataset")
	ErrShapeMismatch = errors.New("dtree: feature width mismatch")
	ErrNotFitted     = errors.New("dtree: tree is not fitted")
)

const eps = 1e-12

type Params struct {
	MaxDepth        int `json:"max_depth"` // <=0 不限制深度
	MinSamplesSplit int `json:"min_samples_split"`
	MinSamplesLeaf  int `json:"min_samples_leaf"`
}

func DefaultParams() Params {
	return Params{MaxDepth: 6, MinSamplesSplit: 2, MinSamplesLeaf: 1}
}

func (p Params) normalize() Params {
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	return p
}

// Node 叶子节点 Left/Right 为空，Value 为样本均值
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
	Samples   int     `json:"samples"`
	Impurity  float64 `json:"impurity"`
	Left      *Node   `json:"left,omitempty"`
	Right     *Node   `json:"right,omitempty"`
}

func (n *Node) IsLeaf() bool {
	return n.Left == nil || n.Right == nil
}

type Tree struct {
	Params      Params    `json:"params"`
	NumFeatures int       `json:"num_features"`
	Root        *Node     `json:"root"`
	Importances []float64 `json:"importances"`
}

// Fit 每次都从头训练。相同输入得到完全相同的树：
// 候选划分按特征下标、阈值升序遍历，只有严格更优的划分才会替换当前最优。
func Fit(X [][]float64, y []float64, params Params) (*Tree, error) {
	if len(X) == 0 || len(y) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrShapeMismatch, len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShapeMismatch, i, len(row), width)
		}
	}

	b := &builder{
		X:      X,
		y:      y,
		params: params.normalize(),
		gains:  make([]float64, width),
		width:  width,
	}

	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}
	root := b.build(idx, 0)

	importances := make([]float64, width)
	var total float64
	for _, g := range b.gains {
		total += g
	}
	if total > eps {
		for f, g := range b.gains {
			importances[f] = g / total
		}
	}

	return &Tree{
		Params:      b.params,
		NumFeatures: width,
		Root:        root,
		Importances: importances,
	}, nil
}

type builder struct {
	X      [][]float64
	y      []float64
	params Params
	gains  []float64
	width  int
}

type split struct {
	feature   int
	threshold float64
	sse       float64
	left      []int
	right     []int
}

func (b *builder) build(idx []int, depth int) *Node {
	sum, sumSq := b.sums(idx)
	n := float64(len(idx))
	parentSSE := sse(sum, sumSq, n)

	node := &Node{
		Feature:  -1,
		Value:    sum / n,
		Samples:  len(idx),
		Impurity: parentSSE / n,
	}

	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return node
	}
	if len(idx) < b.params.MinSamplesSplit || parentSSE <= eps {
		return node
	}

	best := b.bestSplit(idx, parentSSE)
	if best == nil {
		return node
	}

	b.gains[best.feature] += parentSSE - best.sse
	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = b.build(best.left, depth+1)
	node.Right = b.build(best.right, depth+1)
	return node
}

func (b *builder) bestSplit(idx []int, parentSSE float64) *split {
	minLeaf := b.params.MinSamplesLeaf
	total := len(idx)
	if total < 2*minLeaf {
		return nil
	}

	var best *split
	bestSSE := parentSSE - eps
	sorted := make([]int, total)

	for f := 0; f < b.width; f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.X[sorted[i]][f] < b.X[sorted[j]][f]
		})

		totalSum, totalSq := b.sums(sorted)
		var leftSum, leftSq float64
		for i := 0; i < total-1; i++ {
			v := b.y[sorted[i]]
			leftSum += v
			leftSq += v * v

			nl := i + 1
			nr := total - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			cur := b.X[sorted[i]][f]
			next := b.X[sorted[i+1]][f]
			if next-cur <= eps {
				continue
			}

			s := sse(leftSum, leftSq, float64(nl)) + sse(totalSum-leftSum, totalSq-leftSq, float64(nr))
			if s < bestSSE {
				bestSSE = s
				best = &split{
					feature:   f,
					threshold: cur + (next-cur)/2,
					sse:       s,
					left:      append([]int(nil), sorted[:nl]...),
					right:     append([]int(nil), sorted[nl:]...),
				}
			}
		}
	}
	return best
}

func (b *builder) sums(idx []int) (float64, float64) {
	var sum, sumSq float64
	for _, i := range idx {
		sum += b.y[i]
		sumSq += b.y[i] * b.y[i]
	}
	return sum, sumSq
}

func sse(sum, sumSq, n float64) float64 {
	if n == 0 {
		return 0
	}
	return math.Max(0, sumSq-sum*sum/n)
}

// Predict 沿树走到叶子并返回叶子均值，不修改树
func (t *Tree) Predict(x []float64) (float64, error) {
	if t == nil || t.Root == nil {
		return 0, ErrNotFitted
	}
	if len(x) != t.NumFeatures {
		return 0, fmt.Errorf("%w: got %d features, want %d", ErrShapeMismatch, len(x), t.NumFeatures)
	}
	node := t.Root
	for !node.IsLeaf() {
		if x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value, nil
}

func (t *Tree) Depth() int {
	if t == nil {
		return 0
	}
	return depth(t.Root)
}

func depth(n *Node) int {
	if n == nil {
		return 0
	}
	if n.IsLeaf() {
		return 1
	}
	l, r := depth(n.Left), depth(n.Right)
	if l > r {
		return l + 1
	}
	return r + 1
}

func (t *Tree) Leaves() int {
	if t == nil {
		return 0
	}
	return leaves(t.Root)
}

func leaves(n *Node) int {
	if n == nil {
		return 0
	}
	if n.IsLeaf() {
		return 1
	}
	return leaves(n.Left) + leaves(n.Right)
}
