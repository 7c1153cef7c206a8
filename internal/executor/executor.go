// Package executor 把决策落成账本交易，并登记待结算的反馈回访。
package executor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tradeloop/internal/ledger"
	"tradeloop/internal/logger"
	"tradeloop/internal/policy"
	"tradeloop/internal/risk"
)

// OrderStatus 是订单终态。
type OrderStatus string

const (
	StatusExecuted OrderStatus = "EXECUTED"
	StatusFailed   OrderStatus = "FAILED"
)

// ExecutionResult 记录一次决策的执行结果。
// 失败不抛错而是落为 FAILED 并带原因，调用方据此决定是否继续。
type ExecutionResult struct {
	Symbol        string        `json:"symbol"`
	Action        policy.Action `json:"action"`
	ActionTaken   string        `json:"action_taken"`
	Status        OrderStatus   `json:"status"`
	Price         float64       `json:"price"`
	Shares        int64         `json:"shares,omitempty"`
	Total         float64       `json:"total,omitempty"`
	ProfitLoss    float64       `json:"profit_loss,omitempty"`
	ProfitLossPct float64       `json:"profit_loss_pct,omitempty"`
	AvgEntryPrice float64       `json:"avg_entry_price,omitempty"`
	RemainingCash float64       `json:"remaining_cash,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// feedbackDelay 是成交后到回访的间隔。
const feedbackDelay = 24 * time.Hour

// Executor 串起仓位计算、账本与回访登记。
type Executor struct {
	ledger  *ledger.Ledger
	sizer   *risk.Sizer
	pending *PendingQueue
	user    string
	dryRun  bool

	totalExecuted atomic.Int64
	totalFailed   atomic.Int64
}

func New(book *ledger.Ledger, sizer *risk.Sizer, pending *PendingQueue, user string, dryRun bool) *Executor {
	return &Executor{
		ledger:  book,
		sizer:   sizer,
		pending: pending,
		user:    user,
		dryRun:  dryRun,
	}
}

// Pending 返回待结算队列。
func (e *Executor) Pending() *PendingQueue { return e.pending }

// Sizer 返回仓位计算器，档位切换会改它的限额。
func (e *Executor) Sizer() *risk.Sizer { return e.sizer }

// Book 返回底层账本。
func (e *Executor) Book() *ledger.Ledger { return e.ledger }

// User 返回执行账户。
func (e *Executor) User() string { return e.user }

// Performance 汇总已平仓交易的胜率与盈亏。
func (e *Executor) Performance() (*ledger.TradeStats, error) {
	return e.ledger.TradeStats(e.user)
}

// Counts 返回 (成交数, 失败数)。
func (e *Executor) Counts() (int64, int64) {
	return e.totalExecuted.Load(), e.totalFailed.Load()
}

// Execute 执行一条决策。成交的 BUY/SELL 会登记一条回访。
func (e *Executor) Execute(decision policy.Decision, currentPrice float64) ExecutionResult {
	result := ExecutionResult{
		Symbol:    decision.Symbol,
		Action:    decision.Action,
		Price:     currentPrice,
		Status:    StatusExecuted,
		Timestamp: time.Now().UTC(),
	}
	logger.Infof("[executor] %s %s @ %.2f (confidence %.0f%%)",
		decision.Action, decision.Symbol, currentPrice, decision.Confidence*100)

	switch decision.Action {
	case policy.ActionBuy:
		e.executeBuy(decision, currentPrice, &result)
	case policy.ActionSell:
		e.executeSell(decision, currentPrice, &result)
	default:
		result.ActionTaken = "none"
		result.Reason = "HOLD decision - no trade executed"
	}

	if result.Status == StatusFailed {
		e.totalFailed.Add(1)
		logger.Warnf("[executor] %s %s failed: %s", decision.Action, decision.Symbol, result.Reason)
		return result
	}
	e.totalExecuted.Add(1)

	if decision.Action == policy.ActionBuy || decision.Action == policy.ActionSell {
		e.scheduleFeedback(decision, result)
	}
	return result
}

func (e *Executor) executeBuy(decision policy.Decision, price float64, result *ExecutionResult) {
	var shares int64
	if e.dryRun {
		shares = 1
	} else {
		cash, err := e.ledger.Cash(e.user)
		if err != nil {
			result.Status = StatusFailed
			result.Reason = err.Error()
			return
		}
		n, err := e.sizer.Shares(cash, decision.Confidence, price)
		if err != nil {
			result.Status = StatusFailed
			result.Reason = err.Error()
			return
		}
		shares = int64(n)
	}

	trade, err := e.ledger.Buy(e.user, decision.Symbol, shares, price)
	if err != nil {
		result.Status = StatusFailed
		result.ActionTaken = "rejected"
		result.Reason = err.Error()
		return
	}
	result.ActionTaken = "buy"
	result.Shares = trade.Shares
	result.Total = trade.Total
	result.RemainingCash = trade.RemainingCash
}

// executeSell 清掉该 symbol 的全部持仓。
func (e *Executor) executeSell(decision policy.Decision, price float64, result *ExecutionResult) {
	pos, err := e.ledger.Position(e.user, decision.Symbol)
	if err != nil {
		result.Status = StatusFailed
		result.ActionTaken = "rejected"
		if errors.Is(err, ledger.ErrNoPosition) {
			result.Reason = fmt.Sprintf("no position in %s to sell", decision.Symbol)
		} else {
			result.Reason = err.Error()
		}
		return
	}
	trade, err := e.ledger.Sell(e.user, decision.Symbol, pos.Shares, price)
	if err != nil {
		result.Status = StatusFailed
		result.ActionTaken = "rejected"
		result.Reason = err.Error()
		return
	}
	result.ActionTaken = "sell"
	result.Shares = trade.Shares
	result.Total = trade.Total
	result.ProfitLoss = trade.ProfitLoss
	result.ProfitLossPct = trade.ProfitLossPct
	result.AvgEntryPrice = trade.AvgEntryPrice
	result.RemainingCash = trade.RemainingCash
}

func (e *Executor) scheduleFeedback(decision policy.Decision, result ExecutionResult) {
	now := time.Now().UTC()
	item := &PendingFeedback{
		Decision:      decision,
		Execution:     result,
		ExecutionDate: now,
		CheckDate:     now.Add(feedbackDelay),
	}
	e.pending.Push(item)
	logger.Infof("[executor] scheduled feedback check for %s on %s",
		decision.Symbol, item.CheckDate.Format("2006-01-02"))
}
