// Package risk 实现下单前的仓位约束。
package risk

import (
	"errors"
	"sync"
)

// ErrBadPrice 表示报价非法，无法换算股数。
var ErrBadPrice = errors.New("price must be positive")

const (
	defaultMaxRiskFraction  = 0.10
	defaultMinPositionValue = 1000
)

// Sizer 的规则:
// 单笔风险不超过现金的 maxRiskFraction，仓位随置信度在 50%~100% 之间缩放，
// 仓位金额不低于 minPositionValue，最终至少 1 股。
// 风险档位切换会在运行中调 Configure，因此读写都过锁。
type Sizer struct {
	mu               sync.RWMutex
	maxRiskFraction  float64
	minPositionValue float64
}

func NewSizer() *Sizer {
	return &Sizer{
		maxRiskFraction:  defaultMaxRiskFraction,
		minPositionValue: defaultMinPositionValue,
	}
}

// Configure 应用档位覆盖，非正值保留当前设置。
func (s *Sizer) Configure(maxRiskFraction, minPositionValue float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxRiskFraction > 0 {
		s.maxRiskFraction = maxRiskFraction
	}
	if minPositionValue > 0 {
		s.minPositionValue = minPositionValue
	}
}

// Limits 返回当前生效的 (风险比例, 金额下限)。
func (s *Sizer) Limits() (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxRiskFraction, s.minPositionValue
}

// Shares 计算可买入的整数股数。
func (s *Sizer) Shares(cash, confidence, price float64) (int, error) {
	if price <= 0 {
		return 0, ErrBadPrice
	}
	maxFraction, minValue := s.Limits()
	maxRisk := cash * maxFraction
	confidenceFactor := 0.5 + confidence*0.5
	value := maxRisk * confidenceFactor
	if value < minValue {
		value = minValue
	}
	shares := int(value / price)
	if shares < 1 {
		shares = 1
	}
	return shares, nil
}
