package feature

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/market"
)

func syntheticBars(n int, seed int64) []market.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]market.Bar, n)
	price := 100.0
	date := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		drift := rng.NormFloat64() * 1.5
		open := price
		close := price + drift
		high := math.Max(open, close) + rng.Float64()
		low := math.Min(open, close) - rng.Float64()
		bars[i] = market.Bar{
			Date:   date,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: 1_000_000 + rng.Float64()*500_000,
		}
		price = close
		date = date.AddDate(0, 0, 1)
	}
	return bars
}

func TestComputeDropsWarmupRows(t *testing.T) {
	bars := syntheticBars(60, 1)
	frame, err := Compute(bars)
	require.NoError(t, err)

	// MA20 预热期 19 行被剔除
	assert.Equal(t, 41, frame.Rows())
	assert.Equal(t, bars[19].Date, frame.Dates[0])
	assert.Equal(t, bars[59].Date, frame.Dates[frame.Rows()-1])

	for _, row := range frame.X {
		require.Len(t, row, len(Columns))
		assert.True(t, rowFinite(row))
	}
	for _, s := range frame.Snapshots {
		assert.GreaterOrEqual(t, s.RSI, 0.0)
		assert.LessOrEqual(t, s.RSI, 100.0)
	}
}

func TestComputeRejectsShortHistory(t *testing.T) {
	_, err := Compute(syntheticBars(19, 1))
	assert.ErrorIs(t, err, ErrTooFewBars)
}

func TestComputeScaleInvariance(t *testing.T) {
	bars := syntheticBars(60, 5)
	scaled := make([]market.Bar, len(bars))
	for i, b := range bars {
		scaled[i] = b
		scaled[i].Open *= 50
		scaled[i].High *= 50
		scaled[i].Low *= 50
		scaled[i].Close *= 50
	}
	a, err := Compute(bars)
	require.NoError(t, err)
	b, err := Compute(scaled)
	require.NoError(t, err)

	require.Equal(t, a.Rows(), b.Rows())
	for i := range a.X {
		for j := range a.X[i] {
			assert.InDelta(t, a.X[i][j], b.X[i][j], 1e-6, "row %d col %s", i, Columns[j])
		}
	}
}

func TestBuildTargetsClipsAndTrims(t *testing.T) {
	bars := syntheticBars(120, 3)
	// 人为制造一次极端跳涨，目标应被截断
	for i := 80; i < 120; i++ {
		bars[i].Open *= 3
		bars[i].High *= 3
		bars[i].Low *= 3
		bars[i].Close *= 3
	}
	frame, err := Compute(bars)
	require.NoError(t, err)

	x, y, err := BuildTargets(frame, 5)
	require.NoError(t, err)
	assert.Equal(t, frame.Rows()-5, len(x))
	clipped := false
	for _, target := range y {
		assert.LessOrEqual(t, target, targetClip)
		assert.GreaterOrEqual(t, target, -targetClip)
		if target == targetClip {
			clipped = true
		}
	}
	assert.True(t, clipped)
}

func TestBuildTargetsTooFewRows(t *testing.T) {
	frame, err := Compute(syntheticBars(40, 3))
	require.NoError(t, err)
	_, _, err = BuildTargets(frame, 5)
	assert.ErrorIs(t, err, ErrTooFewRows)
}

func TestWinsorizeColumns(t *testing.T) {
	x := make([][]float64, 200)
	for i := range x {
		x[i] = []float64{float64(i)}
	}
	x[0][0] = -1e6
	x[199][0] = 1e6

	out := WinsorizeColumns(x)
	assert.Greater(t, out[0][0], -1e6)
	assert.Less(t, out[199][0], 1e6)
	// 中间值不受影响
	assert.Equal(t, 100.0, out[100][0])
}

func TestQuantile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1, quantile(vals, 0), 1e-9)
	assert.InDelta(t, 3, quantile(vals, 0.5), 1e-9)
	assert.InDelta(t, 5, quantile(vals, 1), 1e-9)
}
