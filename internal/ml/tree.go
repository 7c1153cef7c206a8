// Package ml 提供纯 Go 的 bagged 决策树回归与分类实现。
// 模型全部可 JSON 序列化，便于落盘与热加载。
package ml

import (
	"math"
	"math/rand"
	"sort"
)

// TreeParams 控制单棵 CART 树的生长。
type TreeParams struct {
	MaxDepth        int `json:"max_depth"`
	MinSamplesSplit int `json:"min_samples_split"`
	MinSamplesLeaf  int `json:"min_samples_leaf"`
	// MaxFeatures 是每次分裂考察的特征数，<=0 表示全部。
	MaxFeatures int `json:"max_features"`
}

func (p TreeParams) withDefaults() TreeParams {
	if p.MaxDepth <= 0 {
		p.MaxDepth = 15
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	return p
}

// Node 是树节点。叶节点 Feature == -1。
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
	// ClassCounts 仅分类树叶节点使用。
	ClassCounts []float64 `json:"class_counts,omitempty"`
	Left        *Node     `json:"left,omitempty"`
	Right       *Node     `json:"right,omitempty"`
}

// IsLeaf 判断是否叶节点。
func (n *Node) IsLeaf() bool { return n.Feature < 0 }

// regressionTree 以方差缩减为分裂准则。
type regressionTree struct {
	params      TreeParams
	root        *Node
	importances []float64
	totalRows   float64
}

func growRegressionTree(x [][]float64, y []float64, idx []int, params TreeParams, rng *rand.Rand, nFeatures int) *regressionTree {
	t := &regressionTree{
		params:      params.withDefaults(),
		importances: make([]float64, nFeatures),
		totalRows:   float64(len(idx)),
	}
	t.root = t.grow(x, y, idx, 0, rng)
	return t
}

func (t *regressionTree) grow(x [][]float64, y []float64, idx []int, depth int, rng *rand.Rand) *Node {
	mean, variance := meanVariance(y, idx)
	if depth >= t.params.MaxDepth || len(idx) < t.params.MinSamplesSplit || variance <= 1e-12 {
		return &Node{Feature: -1, Value: mean}
	}
	feat, thr, gain, leftIdx, rightIdx := t.bestSplit(x, y, idx, rng)
	if feat < 0 {
		return &Node{Feature: -1, Value: mean}
	}
	t.importances[feat] += gain * float64(len(idx)) / t.totalRows
	return &Node{
		Feature:   feat,
		Threshold: thr,
		Value:     mean,
		Left:      t.grow(x, y, leftIdx, depth+1, rng),
		Right:     t.grow(x, y, rightIdx, depth+1, rng),
	}
}

// bestSplit 在随机特征子集上找方差缩减最大的切分点。
func (t *regressionTree) bestSplit(x [][]float64, y []float64, idx []int, rng *rand.Rand) (int, float64, float64, []int, []int) {
	nFeatures := len(x[0])
	features := sampleFeatures(nFeatures, t.params.MaxFeatures, rng)

	_, parentVar := meanVariance(y, idx)
	parentImpurity := parentVar * float64(len(idx))

	bestFeat := -1
	var bestThr, bestGain float64
	for _, f := range features {
		order := sortIndicesByFeature(x, idx, f)
		// 前缀和扫一遍即可求两侧方差
		var leftSum, leftSq float64
		totalSum, totalSq := 0.0, 0.0
		for _, i := range order {
			totalSum += y[i]
			totalSq += y[i] * y[i]
		}
		n := len(order)
		for pos := 1; pos < n; pos++ {
			i := order[pos-1]
			leftSum += y[i]
			leftSq += y[i] * y[i]
			if x[order[pos]][f] == x[order[pos-1]][f] {
				continue
			}
			nl, nr := float64(pos), float64(n-pos)
			if pos < t.params.MinSamplesLeaf || n-pos < t.params.MinSamplesLeaf {
				continue
			}
			leftImp := leftSq - leftSum*leftSum/nl
			rightSum := totalSum - leftSum
			rightImp := (totalSq - leftSq) - rightSum*rightSum/nr
			gain := parentImpurity - leftImp - rightImp
			if gain > bestGain {
				bestGain = gain
				bestFeat = f
				bestThr = (x[order[pos]][f] + x[order[pos-1]][f]) / 2
			}
		}
	}
	if bestFeat < 0 {
		return -1, 0, 0, nil, nil
	}
	var leftIdx, rightIdx []int
	for _, i := range idx {
		if x[i][bestFeat] <= bestThr {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}
	// 归一化到每样本的方差缩减
	return bestFeat, bestThr, bestGain / float64(len(idx)), leftIdx, rightIdx
}

func predictNode(root *Node, row []float64) *Node {
	node := root
	for !node.IsLeaf() {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node
}

func meanVariance(y []float64, idx []int) (float64, float64) {
	if len(idx) == 0 {
		return 0, 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	mean := sum / float64(len(idx))
	var sq float64
	for _, i := range idx {
		d := y[i] - mean
		sq += d * d
	}
	return mean, sq / float64(len(idx))
}

func sampleFeatures(nFeatures, maxFeatures int, rng *rand.Rand) []int {
	if maxFeatures <= 0 || maxFeatures >= nFeatures {
		all := make([]int, nFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	perm := rng.Perm(nFeatures)
	return perm[:maxFeatures]
}

func sortIndicesByFeature(x [][]float64, idx []int, f int) []int {
	order := make([]int, len(idx))
	copy(order, idx)
	sort.Slice(order, func(a, b int) bool {
		return x[order[a]][f] < x[order[b]][f]
	})
	return order
}

// SqrtFeatures 返回 sqrt(n) 向下取整、至少为 1 的特征子集大小。
func SqrtFeatures(n int) int {
	if n <= 1 {
		return 1
	}
	k := int(math.Sqrt(float64(n)))
	if k < 1 {
		k = 1
	}
	return k
}
