package ml

import (
	"errors"
	"math/rand"
)

var (
	// ErrNotFitted 表示模型尚未训练。
	ErrNotFitted = errors.New("model not fitted")
	// ErrBadInput 表示训练或预测输入形状非法。
	ErrBadInput = errors.New("bad input shape")
)

// ForestParams 控制 bagged 森林。
type ForestParams struct {
	Trees int   `json:"trees"`
	Seed  int64 `json:"seed"`
	TreeParams
}

func (p ForestParams) withDefaults() ForestParams {
	if p.Trees <= 0 {
		p.Trees = 100
	}
	p.TreeParams = p.TreeParams.withDefaults()
	return p
}

// ForestRegressor 是 bootstrap 平均的回归森林。
type ForestRegressor struct {
	Params      ForestParams `json:"params"`
	NFeatures   int          `json:"n_features"`
	Roots       []*Node      `json:"roots"`
	Importances []float64    `json:"importances"`
}

// NewForestRegressor 只记录参数，Fit 后才可用。
func NewForestRegressor(params ForestParams) *ForestRegressor {
	return &ForestRegressor{Params: params.withDefaults()}
}

// Fit 训练森林。每棵树使用独立种子的 bootstrap 样本，
// MaxFeatures <= 0 时按 sqrt(特征数) 取子集。
func (f *ForestRegressor) Fit(x [][]float64, y []float64) error {
	if len(x) == 0 || len(x) != len(y) {
		return ErrBadInput
	}
	f.NFeatures = len(x[0])
	params := f.Params.withDefaults()
	if params.MaxFeatures <= 0 {
		params.MaxFeatures = SqrtFeatures(f.NFeatures)
	}
	f.Params = params

	f.Roots = make([]*Node, 0, params.Trees)
	f.Importances = make([]float64, f.NFeatures)
	for t := 0; t < params.Trees; t++ {
		rng := rand.New(rand.NewSource(params.Seed + int64(t)))
		idx := bootstrapSample(len(x), rng)
		tree := growRegressionTree(x, y, idx, params.TreeParams, rng, f.NFeatures)
		f.Roots = append(f.Roots, tree.root)
		for i, imp := range tree.importances {
			f.Importances[i] += imp
		}
	}
	normalize(f.Importances)
	return nil
}

// Predict 返回单行样本的森林均值。
func (f *ForestRegressor) Predict(row []float64) (float64, error) {
	if len(f.Roots) == 0 {
		return 0, ErrNotFitted
	}
	if len(row) != f.NFeatures {
		return 0, ErrBadInput
	}
	var sum float64
	for _, root := range f.Roots {
		sum += predictNode(root, row).Value
	}
	return sum / float64(len(f.Roots)), nil
}

// PredictBatch 对多行样本逐行预测。
func (f *ForestRegressor) PredictBatch(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		v, err := f.Predict(row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// FeatureImportances 返回归一化的不纯度缩减重要度。
func (f *ForestRegressor) FeatureImportances() []float64 {
	out := make([]float64, len(f.Importances))
	copy(out, f.Importances)
	return out
}

// Fitted 判断是否已训练。
func (f *ForestRegressor) Fitted() bool { return len(f.Roots) > 0 }

func bootstrapSample(n int, rng *rand.Rand) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

func normalize(vals []float64) {
	var total float64
	for _, v := range vals {
		total += v
	}
	if total <= 0 {
		return
	}
	for i := range vals {
		vals[i] /= total
	}
}
