package policy

// Thresholds 由风险偏好线性插值得到。
// 保守 (0.0): BUY > 1.0%, SELL < -1.0%, 置信度 >= 0.6
// 激进 (1.0): BUY > 0.1%, SELL < -0.1%, 置信度 >= 0.4
type Thresholds struct {
	RiskTolerance float64 `json:"risk_tolerance"`
	BuyPct        float64 `json:"buy_threshold_percent"`
	SellPct       float64 `json:"sell_threshold_percent"`
	MinConfidence float64 `json:"min_confidence"`
}

// ComputeThresholds 从 [0,1] 的风险偏好推出阈值。
func ComputeThresholds(riskTolerance float64) Thresholds {
	r := clamp01(riskTolerance)
	return Thresholds{
		RiskTolerance: r,
		BuyPct:        1.0 - r*0.9,
		SellPct:       -1.0 + r*0.9,
		MinConfidence: 0.6 - r*0.2,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
