package executor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/ledger"
	"tradeloop/internal/policy"
	"tradeloop/internal/risk"
)

func newTestExecutor(t *testing.T, dryRun bool) *Executor {
	t.Helper()
	book, err := ledger.New(filepath.Join(t.TempDir(), "ledger.db"), 100000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = book.Close() })
	return New(book, risk.NewSizer(), NewPendingQueue(), "tester", dryRun)
}

func decision(symbol string, action policy.Action, confidence float64) policy.Decision {
	return policy.Decision{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Action:          action,
		Confidence:      confidence,
		PredictedChange: 2.5,
		Timestamp:       time.Now().UTC(),
	}
}

func TestExecuteBuySizesPosition(t *testing.T) {
	e := newTestExecutor(t, false)

	result := e.Execute(decision("AAPL", policy.ActionBuy, 1.0), 100)
	assert.Equal(t, StatusExecuted, result.Status)
	assert.Equal(t, "buy", result.ActionTaken)
	// 100000 现金: 10% * (0.5+0.5) = 10000 -> 100 股
	assert.EqualValues(t, 100, result.Shares)
	assert.InDelta(t, 10000, result.Total, 1e-9)
	assert.InDelta(t, 90000, result.RemainingCash, 1e-9)

	// 成交登记一条回访
	assert.Equal(t, 1, e.Pending().Len())
	executed, failed := e.Counts()
	assert.EqualValues(t, 1, executed)
	assert.EqualValues(t, 0, failed)
}

func TestExecuteDryRunBuysOneShare(t *testing.T) {
	e := newTestExecutor(t, true)
	result := e.Execute(decision("AAPL", policy.ActionBuy, 1.0), 100)
	assert.Equal(t, StatusExecuted, result.Status)
	assert.EqualValues(t, 1, result.Shares)
}

func TestExecuteHoldDoesNothing(t *testing.T) {
	e := newTestExecutor(t, false)
	result := e.Execute(decision("AAPL", policy.ActionHold, 0.5), 100)
	assert.Equal(t, StatusExecuted, result.Status)
	assert.Equal(t, "none", result.ActionTaken)
	// HOLD 不登记回访
	assert.Equal(t, 0, e.Pending().Len())
}

func TestExecuteSellLiquidatesWholePosition(t *testing.T) {
	e := newTestExecutor(t, false)
	buy := e.Execute(decision("AAPL", policy.ActionBuy, 1.0), 100)
	require.Equal(t, StatusExecuted, buy.Status)

	sell := e.Execute(decision("AAPL", policy.ActionSell, 0.8), 110)
	assert.Equal(t, StatusExecuted, sell.Status)
	assert.Equal(t, "sell", sell.ActionTaken)
	assert.Equal(t, buy.Shares, sell.Shares)
	assert.InDelta(t, 10, sell.ProfitLossPct, 1e-9)
	assert.InDelta(t, float64(buy.Shares)*10, sell.ProfitLoss, 1e-9)
	assert.Equal(t, 2, e.Pending().Len())
}

func TestExecuteSellWithoutPositionFails(t *testing.T) {
	e := newTestExecutor(t, false)
	result := e.Execute(decision("AAPL", policy.ActionSell, 0.8), 110)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "rejected", result.ActionTaken)
	assert.Contains(t, result.Reason, "no position")
	// 失败不登记回访
	assert.Equal(t, 0, e.Pending().Len())
	_, failed := e.Counts()
	assert.EqualValues(t, 1, failed)
}

func TestExecuteBuyInsufficientFundsFails(t *testing.T) {
	book, err := ledger.New(filepath.Join(t.TempDir(), "ledger.db"), 500)
	require.NoError(t, err)
	t.Cleanup(func() { _ = book.Close() })
	e := New(book, risk.NewSizer(), NewPendingQueue(), "tester", false)

	// 1000 下限换算 10 股，但现金只有 500
	result := e.Execute(decision("AAPL", policy.ActionBuy, 0.5), 100)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "insufficient funds")
	assert.Equal(t, 0, e.Pending().Len())
}

func TestPendingQueueOrdering(t *testing.T) {
	q := NewPendingQueue()
	now := time.Now().UTC()
	late := &PendingFeedback{CheckDate: now.Add(48 * time.Hour)}
	early := &PendingFeedback{CheckDate: now.Add(-time.Hour)}
	mid := &PendingFeedback{CheckDate: now.Add(-time.Minute)}
	q.Push(late)
	q.Push(early)
	q.Push(mid)

	due := q.PopDue(now)
	require.Len(t, due, 2)
	assert.Same(t, early, due[0])
	assert.Same(t, mid, due[1])
	assert.Equal(t, 1, q.Len())

	// 未到期的留在队列里
	due = q.PopDue(now)
	assert.Empty(t, due)
}
