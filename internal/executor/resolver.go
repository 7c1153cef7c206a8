package executor

import (
	"context"
	"math"
	"time"

	"tradeloop/internal/logger"
	"tradeloop/internal/policy"
	"tradeloop/internal/store/decisionlog"
)

// accuracyTolerance 预测与实际偏差小于 3 个百分点算命中。
const accuracyTolerance = 3.0

// holdCorrectBand HOLD 决策在实际变化 ±2% 以内算判断正确。
const holdCorrectBand = 2.0

// OutcomeSource 提供结算所需的历史收盘价。
// 给定日期没有日线时取其后第一根（跳过周末与停牌）。
type OutcomeSource interface {
	CloseAtOrAfter(ctx context.Context, symbol string, date time.Time) (float64, time.Time, error)
}

// Resolver 扫描到期回访，对比预测与实际并落反馈。
type Resolver struct {
	pending *PendingQueue
	source  OutcomeSource
	log     *decisionlog.Store
}

func NewResolver(pending *PendingQueue, source OutcomeSource, log *decisionlog.Store) *Resolver {
	return &Resolver{pending: pending, source: source, log: log}
}

// Resolve 处理所有 CheckDate <= now 的条目，返回本轮落库的反馈。
// 单条失败会重新入队等待下一轮，Checked 不会翻转。
func (r *Resolver) Resolve(ctx context.Context, now time.Time) ([]decisionlog.FeedbackEntry, error) {
	due := r.pending.PopDue(now)
	if len(due) == 0 {
		return nil, nil
	}
	logger.Infof("[resolver] checking %d due feedback item(s)", len(due))

	var resolved []decisionlog.FeedbackEntry
	for _, item := range due {
		if item.Checked {
			continue
		}
		entry, err := r.resolveOne(ctx, item, now)
		if err != nil {
			logger.Warnf("[resolver] %s not resolved, will retry: %v", item.Decision.Symbol, err)
			r.pending.Push(item)
			continue
		}
		item.Checked = true
		resolved = append(resolved, entry)
	}
	return resolved, nil
}

func (r *Resolver) resolveOne(ctx context.Context, item *PendingFeedback, now time.Time) (decisionlog.FeedbackEntry, error) {
	symbol := item.Decision.Symbol

	startPrice, _, err := r.source.CloseAtOrAfter(ctx, symbol, item.ExecutionDate)
	if err != nil {
		return decisionlog.FeedbackEntry{}, err
	}
	endPrice, _, err := r.source.CloseAtOrAfter(ctx, symbol, item.CheckDate)
	if err != nil {
		return decisionlog.FeedbackEntry{}, err
	}

	actualChange := (endPrice - startPrice) / startPrice * 100
	predicted := item.Decision.PredictedChange
	predictionError := math.Abs(predicted - actualChange)

	entry := decisionlog.FeedbackEntry{
		DecisionID:      item.Decision.ID,
		Symbol:          symbol,
		Action:          string(item.Decision.Action),
		PredictedChange: predicted,
		ActualChange:    actualChange,
		PredictionError: predictionError,
		IsAccurate:      predictionError < accuracyTolerance,
		WasCorrect:      directionCorrect(item.Decision.Action, actualChange),
		Confidence:      item.Decision.Confidence,
		ProfitLoss:      item.Execution.ProfitLoss,
		Timestamp:       now,
	}
	if err := r.log.LogFeedback(entry); err != nil {
		return decisionlog.FeedbackEntry{}, err
	}
	logger.Infof("[resolver] %s predicted %+.2f%% actual %+.2f%% error %.2f%% accurate=%t correct=%t",
		symbol, predicted, actualChange, predictionError, entry.IsAccurate, entry.WasCorrect)
	return entry, nil
}

// directionCorrect 按方向判断决策对错:
// BUY 要求涨，SELL 要求跌，HOLD 要求横盘。
func directionCorrect(action policy.Action, actualChange float64) bool {
	switch action {
	case policy.ActionBuy:
		return actualChange > 0
	case policy.ActionSell:
		return actualChange < 0
	default:
		return math.Abs(actualChange) < holdCorrectBand
	}
}
