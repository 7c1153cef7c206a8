package ml

import (
	"math/rand"
	"sort"
)

// ForestClassifier 是 bagged 分类森林，叶节点保存类别计数，
// 预测时对各树的叶节点类别分布取平均。
type ForestClassifier struct {
	Params    ForestParams `json:"params"`
	NFeatures int          `json:"n_features"`
	NClasses  int          `json:"n_classes"`
	Roots     []*Node      `json:"roots"`
}

func NewForestClassifier(params ForestParams) *ForestClassifier {
	return &ForestClassifier{Params: params.withDefaults()}
}

// Fit 训练分类森林。标签必须是 [0, nClasses) 的整数。
func (f *ForestClassifier) Fit(x [][]float64, labels []int) error {
	if len(x) == 0 || len(x) != len(labels) {
		return ErrBadInput
	}
	f.NFeatures = len(x[0])
	f.NClasses = 0
	for _, l := range labels {
		if l < 0 {
			return ErrBadInput
		}
		if l+1 > f.NClasses {
			f.NClasses = l + 1
		}
	}
	params := f.Params.withDefaults()
	if params.MaxFeatures <= 0 {
		params.MaxFeatures = SqrtFeatures(f.NFeatures)
	}
	f.Params = params

	f.Roots = make([]*Node, 0, params.Trees)
	for t := 0; t < params.Trees; t++ {
		rng := rand.New(rand.NewSource(params.Seed + int64(t)))
		idx := bootstrapSample(len(x), rng)
		f.Roots = append(f.Roots, f.grow(x, labels, idx, 0, rng))
	}
	return nil
}

func (f *ForestClassifier) grow(x [][]float64, labels []int, idx []int, depth int, rng *rand.Rand) *Node {
	counts := f.countClasses(labels, idx)
	if depth >= f.Params.MaxDepth || len(idx) < f.Params.MinSamplesSplit || gini(counts) <= 1e-12 {
		return &Node{Feature: -1, ClassCounts: counts}
	}
	feat, thr, leftIdx, rightIdx := f.bestGiniSplit(x, labels, idx, counts, rng)
	if feat < 0 {
		return &Node{Feature: -1, ClassCounts: counts}
	}
	return &Node{
		Feature:   feat,
		Threshold: thr,
		Left:      f.grow(x, labels, leftIdx, depth+1, rng),
		Right:     f.grow(x, labels, rightIdx, depth+1, rng),
	}
}

func (f *ForestClassifier) bestGiniSplit(x [][]float64, labels []int, idx []int, parentCounts []float64, rng *rand.Rand) (int, float64, []int, []int) {
	features := sampleFeatures(f.NFeatures, f.Params.MaxFeatures, rng)
	parent := gini(parentCounts)
	n := float64(len(idx))

	bestFeat := -1
	var bestThr, bestGain float64
	for _, feat := range features {
		order := make([]int, len(idx))
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool {
			return x[order[a]][feat] < x[order[b]][feat]
		})
		left := make([]float64, f.NClasses)
		right := f.countClasses(labels, order)
		for pos := 1; pos < len(order); pos++ {
			l := labels[order[pos-1]]
			left[l]++
			right[l]--
			if x[order[pos]][feat] == x[order[pos-1]][feat] {
				continue
			}
			nl, nr := float64(pos), float64(len(order)-pos)
			if pos < f.Params.MinSamplesLeaf || len(order)-pos < f.Params.MinSamplesLeaf {
				continue
			}
			gain := parent - (nl/n)*gini(left) - (nr/n)*gini(right)
			if gain > bestGain {
				bestGain = gain
				bestFeat = feat
				bestThr = (x[order[pos]][feat] + x[order[pos-1]][feat]) / 2
			}
		}
	}
	if bestFeat < 0 {
		return -1, 0, nil, nil
	}
	var leftIdx, rightIdx []int
	for _, i := range idx {
		if x[i][bestFeat] <= bestThr {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}
	return bestFeat, bestThr, leftIdx, rightIdx
}

func (f *ForestClassifier) countClasses(labels []int, idx []int) []float64 {
	counts := make([]float64, f.NClasses)
	for _, i := range idx {
		counts[labels[i]]++
	}
	return counts
}

// PredictProba 返回各类别的平均概率。
func (f *ForestClassifier) PredictProba(row []float64) ([]float64, error) {
	if len(f.Roots) == 0 {
		return nil, ErrNotFitted
	}
	if len(row) != f.NFeatures {
		return nil, ErrBadInput
	}
	probs := make([]float64, f.NClasses)
	for _, root := range f.Roots {
		counts := predictNode(root, row).ClassCounts
		var total float64
		for _, c := range counts {
			total += c
		}
		if total <= 0 {
			continue
		}
		for i, c := range counts {
			probs[i] += c / total
		}
	}
	for i := range probs {
		probs[i] /= float64(len(f.Roots))
	}
	return probs, nil
}

// Predict 返回概率最大的类别及其概率。
func (f *ForestClassifier) Predict(row []float64) (int, float64, error) {
	probs, err := f.PredictProba(row)
	if err != nil {
		return 0, 0, err
	}
	best, bestP := 0, probs[0]
	for i, p := range probs {
		if p > bestP {
			best, bestP = i, p
		}
	}
	return best, bestP, nil
}

// Fitted 判断是否已训练。
func (f *ForestClassifier) Fitted() bool { return len(f.Roots) > 0 }

func gini(counts []float64) float64 {
	var total float64
	for _, c := range counts {
		total += c
	}
	if total <= 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := c / total
		impurity -= p * p
	}
	return impurity
}
