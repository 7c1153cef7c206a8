package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharesScalesWithConfidence(t *testing.T) {
	s := NewSizer()

	// 10000 现金, 置信度 0.8: 风险上限 1000 * 0.9 = 900, 触发 1000 下限
	shares, err := s.Shares(10000, 0.8, 50)
	require.NoError(t, err)
	assert.Equal(t, 20, shares)

	// 100000 现金, 置信度 1.0: 10000 * 1.0 = 10000
	shares, err = s.Shares(100000, 1.0, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, shares)

	// 置信度 0.5 缩到 75%
	shares, err = s.Shares(100000, 0.5, 100)
	require.NoError(t, err)
	assert.Equal(t, 75, shares)
}

func TestSharesFloorAndMinimum(t *testing.T) {
	s := NewSizer()

	// 穷账户也保证 1000 金额下限
	shares, err := s.Shares(100, 0.5, 10)
	require.NoError(t, err)
	assert.Equal(t, 100, shares)

	// 高价股至少 1 股
	shares, err = s.Shares(100, 0.5, 5000)
	require.NoError(t, err)
	assert.Equal(t, 1, shares)
}

func TestConfigureOverridesLimits(t *testing.T) {
	s := NewSizer()
	s.Configure(0.05, 500)

	maxFraction, minValue := s.Limits()
	assert.InDelta(t, 0.05, maxFraction, 1e-9)
	assert.InDelta(t, 500, minValue, 1e-9)

	// 100000 * 5% * 1.0 = 5000
	shares, err := s.Shares(100000, 1.0, 100)
	require.NoError(t, err)
	assert.Equal(t, 50, shares)

	// 非正值不覆盖
	s.Configure(0, -1)
	maxFraction, minValue = s.Limits()
	assert.InDelta(t, 0.05, maxFraction, 1e-9)
	assert.InDelta(t, 500, minValue, 1e-9)
}

func TestSharesBadPrice(t *testing.T) {
	s := NewSizer()
	_, err := s.Shares(10000, 0.5, 0)
	assert.ErrorIs(t, err, ErrBadPrice)
	_, err = s.Shares(10000, 0.5, -1)
	assert.ErrorIs(t, err, ErrBadPrice)
}
