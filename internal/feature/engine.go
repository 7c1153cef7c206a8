// Package feature 把原始日线变换成与绝对价格无关的相对特征。
// 所有特征都是百分比或归一化比值，保证模型跨价位泛化。
package feature

import (
	"errors"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"tradeloop/internal/market"
)

// MinBars 是计算全部指标所需的最少日线数。
const MinBars = 20

// ErrTooFewBars 表示日线不足以计算指标。
var ErrTooFewBars = errors.New("not enough bars for indicators")

// Columns 是特征列及其顺序，训练与预测必须一致。
var Columns = []string{
	"Price_Change",
	"Price_Range",
	"Open_Close_Ratio",
	"High_Low_Ratio",
	"Close_MA5_Ratio",
	"Close_MA10_Ratio",
	"Close_MA20_Ratio",
	"Distance_MA5",
	"Distance_MA20",
	"MA5_MA20_Cross",
	"Momentum_5_Pct",
	"Momentum_10_Pct",
	"RSI",
	"BB_Position",
	"MACD",
	"MACD_Signal",
	"Volume_Change",
	"Volume_Ratio",
}

// Snapshot 是单行的关键指标摘要，随预测结果一起返回。
type Snapshot struct {
	RSI          float64 `json:"rsi"`
	MACD         float64 `json:"macd"`
	BBPosition   float64 `json:"bb_position"`
	DistanceMA20 float64 `json:"distance_ma20"`
}

// Frame 是对齐后的特征矩阵。X 的每行与 Dates/Closes/Snapshots 同下标。
// 预热期与含 NaN/Inf 的行已被剔除。
type Frame struct {
	Dates     []time.Time
	Closes    []float64
	X         [][]float64
	Snapshots []Snapshot
}

// Rows 返回可用特征行数。
func (f *Frame) Rows() int { return len(f.X) }

// Latest 返回最后一行特征与摘要。
func (f *Frame) Latest() ([]float64, Snapshot) {
	n := len(f.X)
	return f.X[n-1], f.Snapshots[n-1]
}

// Compute 从按日期升序的日线计算特征矩阵。
func Compute(bars []market.Bar) (*Frame, error) {
	if len(bars) < MinBars {
		return nil, ErrTooFewBars
	}
	n := len(bars)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, b := range bars {
		open[i] = b.Open
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
		volume[i] = b.Volume
	}

	ma5 := talib.Sma(closes, 5)
	ma10 := talib.Sma(closes, 10)
	ma20 := talib.Sma(closes, 20)
	volMA5 := talib.Sma(volume, 5)
	rsi := talib.Rsi(closes, 14)
	bbUpper, _, bbLower := talib.BBands(closes, 20, 2, 2, talib.SMA)

	ema12 := emaSeries(closes, 12)
	ema26 := emaSeries(closes, 26)
	macd := make([]float64, n)
	for i := range macd {
		macd[i] = safeDiv(ema12[i]-ema26[i], closes[i]) * 100
	}
	macdSignal := emaSeries(macd, 9)

	// MA20 是最长的滚动窗口，前 19 行为预热期
	const warmup = 19

	frame := &Frame{}
	for i := warmup; i < n; i++ {
		row := []float64{
			safeDiv(closes[i]-closes[i-1], closes[i-1]),
			safeDiv(high[i]-low[i], low[i]),
			safeDiv(open[i]-closes[i], closes[i]) * 100,
			safeDiv(high[i]-low[i], low[i]) * 100,
			safeDiv(closes[i]-ma5[i], ma5[i]) * 100,
			safeDiv(closes[i]-ma10[i], ma10[i]) * 100,
			safeDiv(closes[i]-ma20[i], ma20[i]) * 100,
			safeDiv(closes[i]-ma5[i], ma5[i]),
			safeDiv(closes[i]-ma20[i], ma20[i]),
			safeDiv(ma5[i]-ma20[i], ma20[i]) * 100,
			safeDiv(closes[i]-closes[i-5], closes[i-5]) * 100,
			safeDiv(closes[i]-closes[i-10], closes[i-10]) * 100,
			rsi[i],
			safeDiv(closes[i]-bbLower[i], bbUpper[i]-bbLower[i]),
			macd[i],
			macdSignal[i],
			safeDiv(volume[i]-volume[i-1], volume[i-1]),
			safeDiv(volume[i], volMA5[i]),
		}
		if !rowFinite(row) {
			continue
		}
		frame.Dates = append(frame.Dates, bars[i].Date)
		frame.Closes = append(frame.Closes, closes[i])
		frame.X = append(frame.X, row)
		frame.Snapshots = append(frame.Snapshots, Snapshot{
			RSI:          rsi[i],
			MACD:         macd[i],
			BBPosition:   safeDiv(closes[i]-bbLower[i], bbUpper[i]-bbLower[i]),
			DistanceMA20: safeDiv(closes[i]-ma20[i], ma20[i]),
		})
	}
	if frame.Rows() == 0 {
		return nil, ErrTooFewBars
	}
	return frame, nil
}

// emaSeries 是从首值起算的指数均线（span 形式的平滑系数）。
func emaSeries(vals []float64, span int) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = vals[0]
	for i := 1; i < len(vals); i++ {
		out[i] = alpha*vals[i] + (1-alpha)*out[i-1]
	}
	return out
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return math.NaN()
	}
	return a / b
}

func rowFinite(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
