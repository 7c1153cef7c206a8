package ml

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLinearDataset(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a, b, c := rng.Float64()*10, rng.Float64()*10, rng.Float64()*10
		x[i] = []float64{a, b, c}
		// y 只依赖前两列，第三列是噪声
		y[i] = 2*a - b + rng.NormFloat64()*0.1
	}
	return x, y
}

func TestForestRegressorLearnsSignal(t *testing.T) {
	x, y := makeLinearDataset(400, 7)
	f := NewForestRegressor(ForestParams{
		Trees: 30,
		Seed:  42,
		TreeParams: TreeParams{
			MaxDepth:        12,
			MinSamplesSplit: 4,
			MinSamplesLeaf:  2,
		},
	})
	require.NoError(t, f.Fit(x, y))
	require.True(t, f.Fitted())

	pred, err := f.PredictBatch(x)
	require.NoError(t, err)
	// 训练集上必须拟合出明显信号
	assert.Less(t, RMSE(pred, y), 2.0)

	imp := f.FeatureImportances()
	require.Len(t, imp, 3)
	// 噪声列重要度应当最低
	assert.Greater(t, imp[0], imp[2])
	assert.Greater(t, imp[1], imp[2])
}

func TestForestRegressorDeterministicBySeed(t *testing.T) {
	x, y := makeLinearDataset(200, 9)
	a := NewForestRegressor(ForestParams{Trees: 10, Seed: 42})
	b := NewForestRegressor(ForestParams{Trees: 10, Seed: 42})
	require.NoError(t, a.Fit(x, y))
	require.NoError(t, b.Fit(x, y))

	row := []float64{1, 2, 3}
	pa, err := a.Predict(row)
	require.NoError(t, err)
	pb, err := b.Predict(row)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestForestRegressorRoundTripJSON(t *testing.T) {
	x, y := makeLinearDataset(100, 3)
	f := NewForestRegressor(ForestParams{Trees: 5, Seed: 1})
	require.NoError(t, f.Fit(x, y))

	blob, err := json.Marshal(f)
	require.NoError(t, err)
	var loaded ForestRegressor
	require.NoError(t, json.Unmarshal(blob, &loaded))

	row := []float64{5, 5, 5}
	want, err := f.Predict(row)
	require.NoError(t, err)
	got, err := loaded.Predict(row)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestForestRegressorErrors(t *testing.T) {
	f := NewForestRegressor(ForestParams{})
	_, err := f.Predict([]float64{1})
	assert.ErrorIs(t, err, ErrNotFitted)
	assert.ErrorIs(t, f.Fit(nil, nil), ErrBadInput)
}

func TestForestClassifierSeparatesClasses(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var x [][]float64
	var labels []int
	for i := 0; i < 300; i++ {
		v := rng.Float64()*2 - 1
		x = append(x, []float64{v, rng.Float64()})
		if v > 0.1 {
			labels = append(labels, 2)
		} else if v < -0.1 {
			labels = append(labels, 0)
		} else {
			labels = append(labels, 1)
		}
	}
	c := NewForestClassifier(ForestParams{Trees: 20, Seed: 42})
	require.NoError(t, c.Fit(x, labels))

	cls, prob, err := c.Predict([]float64{0.8, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 2, cls)
	assert.Greater(t, prob, 0.5)

	cls, _, err = c.Predict([]float64{-0.8, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0, cls)

	probs, err := c.PredictProba([]float64{0.8, 0.5})
	require.NoError(t, err)
	var total float64
	for _, p := range probs {
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-6)
}

func TestScalers(t *testing.T) {
	x := [][]float64{{0, 10, 5}, {10, 10, 15}, {5, 10, 10}}

	var mm MinMaxScaler
	require.NoError(t, mm.Fit(x))
	row, err := mm.Transform([]float64{5, 10, 10})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, row[0], 1e-9)
	// 常量列压到 0
	assert.InDelta(t, 0, row[1], 1e-9)
	assert.InDelta(t, 0.5, row[2], 1e-9)

	var std StandardScaler
	require.NoError(t, std.Fit(x))
	row, err = std.Transform([]float64{5, 10, 10})
	require.NoError(t, err)
	assert.InDelta(t, 0, row[0], 1e-9)
	assert.InDelta(t, 0, row[1], 1e-9)

	var unfit MinMaxScaler
	_, err = unfit.Transform([]float64{1})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestMetrics(t *testing.T) {
	pred := []float64{1, 2, 3}
	actual := []float64{1, 2, 5}
	assert.InDelta(t, 4.0/3.0, MSE(pred, actual), 1e-9)
	assert.InDelta(t, 2.0/3.0, MAE(pred, actual), 1e-9)
	assert.InDelta(t, 1.0, Accuracy([]int{0, 1}, []int{0, 1}), 1e-9)
}
