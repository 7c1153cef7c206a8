// Package policy 把预测转换为 BUY/SELL/HOLD 决策。
// 反馈样本不足时走规则路径，攒够样本后切换到学习型分类器。
package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeloop/internal/artifact"
	"tradeloop/internal/logger"
	"tradeloop/internal/ml"
	"tradeloop/internal/predictor"
)

// Action 是决策动作。
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Method 标记决策来自规则还是学习型模型。
type Method string

const (
	MethodRuleBased Method = "rule_based"
	MethodLearned   Method = "ml_model"
)

// Decision 是单次决策的完整记录。
type Decision struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Action          Action    `json:"action"`
	Confidence      float64   `json:"confidence"`
	Reasons         []string  `json:"reasons"`
	PredictedChange float64   `json:"predicted_change"`
	PredConfidence  float64   `json:"pred_confidence"`
	CurrentPrice    float64   `json:"current_price"`
	Method          Method    `json:"method"`
	RiskTolerance   float64   `json:"risk_tolerance"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	artifactDecisionModel  = "decision_model"
	artifactDecisionScaler = "decision_scaler"

	// 分类器标签: 0=SELL, 1=HOLD, 2=BUY
	labelSell = 0
	labelHold = 1
	labelBuy  = 2
)

// Engine 持有风险偏好与可选的学习型分类器。
type Engine struct {
	artifacts *artifact.Store

	mu            sync.RWMutex
	riskTolerance float64
	classifier    *ml.ForestClassifier
	scaler        *ml.StandardScaler
	trained       bool

	history *ring[Decision]
}

func NewEngine(riskTolerance float64, historyLimit int, artifacts *artifact.Store) *Engine {
	return &Engine{
		artifacts:     artifacts,
		riskTolerance: clamp01(riskTolerance),
		history:       newRing[Decision](historyLimit),
	}
}

// SetRiskTolerance 更新风险偏好，越界值被截断到 [0,1]。
func (e *Engine) SetRiskTolerance(r float64) {
	clamped := clamp01(r)
	e.mu.Lock()
	e.riskTolerance = clamped
	e.mu.Unlock()
	logger.Infof("[policy] risk tolerance set to %.2f", clamped)
}

// RiskTolerance 返回当前风险偏好。
func (e *Engine) RiskTolerance() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.riskTolerance
}

// Thresholds 返回当前生效的阈值。
func (e *Engine) Thresholds() Thresholds {
	return ComputeThresholds(e.RiskTolerance())
}

// Trained 判断学习型分类器是否可用。
func (e *Engine) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trained
}

// History 按从旧到新返回近期决策。
func (e *Engine) History() []Decision {
	return e.history.Snapshot()
}

// Decide 对一条预测产出决策并入史。
func (e *Engine) Decide(pred *predictor.Prediction) Decision {
	e.mu.RLock()
	trained := e.trained
	classifier, scaler := e.classifier, e.scaler
	risk := e.riskTolerance
	e.mu.RUnlock()

	var d Decision
	if trained {
		learned, err := e.learnedDecision(pred, classifier, scaler, risk)
		if err != nil {
			logger.Warnf("[policy] learned decision failed for %s, falling back to rules: %v", pred.Symbol, err)
			d = e.ruleBasedDecision(pred, risk)
		} else {
			d = learned
		}
	} else {
		d = e.ruleBasedDecision(pred, risk)
	}
	e.history.Push(d)
	logger.Infof("[policy] %s -> %s (confidence %.0f%%, %s)", d.Symbol, d.Action, d.Confidence*100, d.Method)
	return d
}

// ruleBasedDecision 按阈值规则决策。RSI 超买/超卖会拦下信号。
func (e *Engine) ruleBasedDecision(pred *predictor.Prediction, risk float64) Decision {
	th := ComputeThresholds(risk)
	change := pred.PredictedChangePct
	rsi := pred.Indicators.RSI

	action := ActionHold
	confidence := 0.5
	var reasons []string

	switch {
	case change > th.BuyPct && pred.Confidence >= th.MinConfidence:
		if rsi < 70 {
			action = ActionBuy
			confidence = pred.Confidence
			reasons = append(reasons,
				fmt.Sprintf("model predicts +%.2f%% gain", change),
				fmt.Sprintf("RSI at %.0f (not overbought)", rsi))
		} else {
			reasons = append(reasons, "overbought condition (RSI > 70)")
		}
	case change < th.SellPct && pred.Confidence >= th.MinConfidence:
		if rsi > 30 {
			action = ActionSell
			confidence = pred.Confidence
			reasons = append(reasons,
				fmt.Sprintf("model predicts %.2f%% loss", change),
				fmt.Sprintf("RSI at %.0f (not oversold)", rsi))
		} else {
			reasons = append(reasons, "oversold condition (RSI < 30)")
		}
	default:
		reasons = append(reasons,
			"prediction below threshold or low confidence",
			fmt.Sprintf("predicted change: %+.2f%%", change))
	}

	return Decision{
		ID:              uuid.NewString(),
		Symbol:          pred.Symbol,
		Action:          action,
		Confidence:      confidence,
		Reasons:         reasons,
		PredictedChange: change,
		PredConfidence:  pred.Confidence,
		CurrentPrice:    pred.CurrentPrice,
		Method:          MethodRuleBased,
		RiskTolerance:   risk,
		Timestamp:       time.Now().UTC(),
	}
}

// learnedDecision 用反馈训练出的分类器决策，特征与训练一致。
func (e *Engine) learnedDecision(pred *predictor.Prediction, classifier *ml.ForestClassifier, scaler *ml.StandardScaler, risk float64) (Decision, error) {
	row, err := scaler.Transform(decisionFeatures(pred))
	if err != nil {
		return Decision{}, err
	}
	label, prob, err := classifier.Predict(row)
	if err != nil {
		return Decision{}, err
	}
	action := ActionHold
	switch label {
	case labelBuy:
		action = ActionBuy
	case labelSell:
		action = ActionSell
	}
	return Decision{
		ID:              uuid.NewString(),
		Symbol:          pred.Symbol,
		Action:          action,
		Confidence:      prob,
		Reasons:         []string{fmt.Sprintf("learned model decision with %.0f%% confidence", prob*100)},
		PredictedChange: pred.PredictedChangePct,
		PredConfidence:  pred.Confidence,
		CurrentPrice:    pred.CurrentPrice,
		Method:          MethodLearned,
		RiskTolerance:   risk,
		Timestamp:       time.Now().UTC(),
	}, nil
}

// decisionFeatures 必须与 trainer 的特征布局保持一致。
func decisionFeatures(pred *predictor.Prediction) []float64 {
	return []float64{pred.PredictedChangePct, pred.Confidence}
}

// LoadFromDisk 恢复已落盘的决策模型，缺产物时返回 artifact.ErrNotFound。
func (e *Engine) LoadFromDisk() error {
	var classifier ml.ForestClassifier
	if err := e.artifacts.Load(artifactDecisionModel, &classifier); err != nil {
		return err
	}
	var scaler ml.StandardScaler
	if err := e.artifacts.Load(artifactDecisionScaler, &scaler); err != nil {
		return err
	}
	e.mu.Lock()
	e.classifier = &classifier
	e.scaler = &scaler
	e.trained = true
	e.mu.Unlock()
	logger.Infof("[policy] decision model loaded from disk")
	return nil
}
