package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/policy"
	"tradeloop/internal/store/decisionlog"
)

// fakeOutcome 返回固定日期之后第一根日线的收盘价。
type fakeOutcome struct {
	closes map[string]float64 // "SYMBOL|2006-01-02" -> close
	err    error
}

func (f *fakeOutcome) CloseAtOrAfter(_ context.Context, symbol string, date time.Time) (float64, time.Time, error) {
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	// 向后找最多 7 天
	for i := 0; i < 7; i++ {
		d := date.AddDate(0, 0, i)
		key := symbol + "|" + d.Format("2006-01-02")
		if close, ok := f.closes[key]; ok {
			return close, d, nil
		}
	}
	return 0, time.Time{}, errors.New("no data")
}

func newTestResolver(t *testing.T, source OutcomeSource) (*Resolver, *PendingQueue, *decisionlog.Store) {
	t.Helper()
	log, err := decisionlog.New(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	pending := NewPendingQueue()
	return NewResolver(pending, source, log), pending, log
}

func pendingItem(symbol string, predicted float64, execDate time.Time) *PendingFeedback {
	return &PendingFeedback{
		Decision: policy.Decision{
			ID:              uuid.NewString(),
			Symbol:          symbol,
			Action:          policy.ActionBuy,
			Confidence:      0.7,
			PredictedChange: predicted,
		},
		Execution:     ExecutionResult{Symbol: symbol, ProfitLoss: 42},
		ExecutionDate: execDate,
		CheckDate:     execDate.AddDate(0, 0, 1),
	}
}

func TestResolveComputesAccuracy(t *testing.T) {
	exec := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	source := &fakeOutcome{closes: map[string]float64{
		"AAPL|2024-03-01": 100,
		"AAPL|2024-03-02": 102, // 实际 +2%
	}}
	r, pending, log := newTestResolver(t, source)
	pending.Push(pendingItem("AAPL", 3.0, exec))

	resolved, err := r.Resolve(context.Background(), exec.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	fb := resolved[0]
	assert.InDelta(t, 2, fb.ActualChange, 1e-9)
	assert.InDelta(t, 1, fb.PredictionError, 1e-9)
	assert.True(t, fb.IsAccurate)
	assert.True(t, fb.WasCorrect) // BUY 且实际上涨
	assert.InDelta(t, 42, fb.ProfitLoss, 1e-9)
	assert.Equal(t, 0, pending.Len())

	count, err := log.FeedbackCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestResolveMarksInaccurate(t *testing.T) {
	exec := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	source := &fakeOutcome{closes: map[string]float64{
		"AAPL|2024-03-01": 100,
		"AAPL|2024-03-02": 95, // 实际 -5%
	}}
	r, pending, _ := newTestResolver(t, source)
	pending.Push(pendingItem("AAPL", 3.0, exec))

	resolved, err := r.Resolve(context.Background(), exec.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.False(t, resolved[0].IsAccurate)
	assert.False(t, resolved[0].WasCorrect) // BUY 却在跌
	assert.InDelta(t, 8, resolved[0].PredictionError, 1e-9)
}

func TestWasCorrectFollowsActionDirection(t *testing.T) {
	exec := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	source := &fakeOutcome{closes: map[string]float64{
		"AAPL|2024-03-01": 100,
		"AAPL|2024-03-02": 95, // -5%
		"MSFT|2024-03-01": 100,
		"MSFT|2024-03-02": 101, // +1%
	}}
	r, pending, _ := newTestResolver(t, source)

	sell := pendingItem("AAPL", -3.0, exec)
	sell.Decision.Action = policy.ActionSell
	hold := pendingItem("MSFT", 0.5, exec)
	hold.Decision.Action = policy.ActionHold
	pending.Push(sell)
	pending.Push(hold)

	resolved, err := r.Resolve(context.Background(), exec.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, resolved, 2)

	byAction := map[string]decisionlog.FeedbackEntry{}
	for _, fb := range resolved {
		byAction[fb.Action] = fb
	}
	// SELL 在跌 -> 正确; HOLD 在 ±2% 以内 -> 正确
	assert.True(t, byAction["SELL"].WasCorrect)
	assert.True(t, byAction["HOLD"].WasCorrect)
}

func TestResolveSkipsWeekendGap(t *testing.T) {
	// 周五成交，回访日周六没有日线，落到周一
	exec := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC) // Friday
	source := &fakeOutcome{closes: map[string]float64{
		"AAPL|2024-03-01": 100,
		"AAPL|2024-03-04": 104, // Monday
	}}
	r, pending, _ := newTestResolver(t, source)
	pending.Push(pendingItem("AAPL", 3.0, exec))

	resolved, err := r.Resolve(context.Background(), exec.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.InDelta(t, 4, resolved[0].ActualChange, 1e-9)
}

func TestResolveNotDueYet(t *testing.T) {
	exec := time.Now().UTC()
	r, pending, _ := newTestResolver(t, &fakeOutcome{})
	pending.Push(pendingItem("AAPL", 3.0, exec))

	resolved, err := r.Resolve(context.Background(), exec)
	require.NoError(t, err)
	assert.Empty(t, resolved)
	assert.Equal(t, 1, pending.Len())
}

func TestResolveRetriesOnError(t *testing.T) {
	exec := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	source := &fakeOutcome{err: errors.New("source down")}
	r, pending, log := newTestResolver(t, source)
	pending.Push(pendingItem("AAPL", 3.0, exec))

	resolved, err := r.Resolve(context.Background(), exec.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Empty(t, resolved)
	// 失败条目回到队列，未标记已结
	require.Equal(t, 1, pending.Len())
	assert.False(t, pending.Snapshot()[0].Checked)
	count, err := log.FeedbackCount()
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	// 数据恢复后重试成功
	source.err = nil
	source.closes = map[string]float64{
		"AAPL|2024-03-01": 100,
		"AAPL|2024-03-02": 101,
	}
	resolved, err = r.Resolve(context.Background(), exec.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, resolved, 1)
	assert.Equal(t, 0, pending.Len())
}
