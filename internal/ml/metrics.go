package ml

import "math"

// MSE 均方误差。
func MSE(pred, actual []float64) float64 {
	if len(pred) == 0 || len(pred) != len(actual) {
		return math.NaN()
	}
	var sum float64
	for i := range pred {
		d := pred[i] - actual[i]
		sum += d * d
	}
	return sum / float64(len(pred))
}

// MAE 平均绝对误差。
func MAE(pred, actual []float64) float64 {
	if len(pred) == 0 || len(pred) != len(actual) {
		return math.NaN()
	}
	var sum float64
	for i := range pred {
		sum += math.Abs(pred[i] - actual[i])
	}
	return sum / float64(len(pred))
}

// RMSE 均方根误差。
func RMSE(pred, actual []float64) float64 {
	return math.Sqrt(MSE(pred, actual))
}

// Accuracy 分类命中率。
func Accuracy(pred, actual []int) float64 {
	if len(pred) == 0 || len(pred) != len(actual) {
		return math.NaN()
	}
	hit := 0
	for i := range pred {
		if pred[i] == actual[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(pred))
}
