package feature

import (
	"errors"
	"math"
	"sort"
)

// MinTrainingRows 是单只标的进入训练集的最少可用行数。
const MinTrainingRows = 30

// targetClip 限制前瞻收益的离群值（拆股、数据错误会产生极端值）。
const targetClip = 30.0

// ErrTooFewRows 表示剔除预热与目标缺口后样本不足。
var ErrTooFewRows = errors.New("not enough usable rows for training")

// BuildTargets 生成前瞻 horizon 天的收益目标（百分比，截断在 ±30）。
// 返回的 X/y 已去掉末尾没有目标的行。
func BuildTargets(frame *Frame, horizon int) ([][]float64, []float64, error) {
	if horizon < 1 {
		horizon = 1
	}
	usable := frame.Rows() - horizon
	if usable < MinTrainingRows {
		return nil, nil, ErrTooFewRows
	}
	x := make([][]float64, 0, usable)
	y := make([]float64, 0, usable)
	for i := 0; i < usable; i++ {
		target := (frame.Closes[i+horizon]/frame.Closes[i] - 1) * 100
		if math.IsNaN(target) || math.IsInf(target, 0) {
			continue
		}
		if target > targetClip {
			target = targetClip
		}
		if target < -targetClip {
			target = -targetClip
		}
		x = append(x, frame.X[i])
		y = append(y, target)
	}
	if len(x) < MinTrainingRows {
		return nil, nil, ErrTooFewRows
	}
	return x, y, nil
}

// WinsorizeColumns 按列把特征截断在 [0.5, 99.5] 分位，返回新矩阵。
func WinsorizeColumns(x [][]float64) [][]float64 {
	if len(x) == 0 {
		return x
	}
	nCols := len(x[0])
	lower := make([]float64, nCols)
	upper := make([]float64, nCols)
	col := make([]float64, len(x))
	for j := 0; j < nCols; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		lower[j] = quantile(col, 0.005)
		upper[j] = quantile(col, 0.995)
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		clipped := make([]float64, nCols)
		for j, v := range row {
			switch {
			case v < lower[j]:
				clipped[j] = lower[j]
			case v > upper[j]:
				clipped[j] = upper[j]
			default:
				clipped[j] = v
			}
		}
		out[i] = clipped
	}
	return out
}

// quantile 线性插值分位数，q 取 [0,1]。
func quantile(vals []float64, q float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
