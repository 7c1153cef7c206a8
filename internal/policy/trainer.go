package policy

import (
	"fmt"
	"time"

	"tradeloop/internal/logger"
	"tradeloop/internal/ml"
)

// FeedbackSample 是一条已结算的决策反馈。
type FeedbackSample struct {
	PredictedChange float64
	Confidence      float64
	ActualChange    float64
}

// TrainingResult 汇总一次决策模型训练。
type TrainingResult struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Samples   int       `json:"samples_used,omitempty"`
	TrainedAt time.Time `json:"trained_at,omitempty"`
}

// actualChangeLabel 由实际涨跌给出事后正确的动作。
// 超过 +2% 本应 BUY，低于 -2% 本应 SELL，其余 HOLD。
func actualChangeLabel(actualChange float64) int {
	switch {
	case actualChange > 2:
		return labelBuy
	case actualChange < -2:
		return labelSell
	default:
		return labelHold
	}
}

// TrainFromFeedback 用结算反馈训练学习型分类器。
// 样本不足 minSamples 时不训练，返回 insufficient_data。
func (e *Engine) TrainFromFeedback(samples []FeedbackSample, minSamples int) (*TrainingResult, error) {
	if minSamples < 1 {
		minSamples = 50
	}
	if len(samples) < minSamples {
		return &TrainingResult{
			Status:  "insufficient_data",
			Message: fmt.Sprintf("need at least %d feedback samples, have %d", minSamples, len(samples)),
		}, nil
	}
	logger.Infof("[policy] training decision model from %d feedback samples", len(samples))

	x := make([][]float64, len(samples))
	labels := make([]int, len(samples))
	for i, s := range samples {
		x[i] = []float64{s.PredictedChange, s.Confidence}
		labels[i] = actualChangeLabel(s.ActualChange)
	}

	scaler := &ml.StandardScaler{}
	if err := scaler.Fit(x); err != nil {
		return nil, err
	}
	scaled, err := scaler.TransformBatch(x)
	if err != nil {
		return nil, err
	}

	classifier := ml.NewForestClassifier(ml.ForestParams{
		Trees: 100,
		Seed:  42,
		TreeParams: ml.TreeParams{
			MaxDepth:        5,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
		},
	})
	if err := classifier.Fit(scaled, labels); err != nil {
		return nil, err
	}

	pred := make([]int, len(scaled))
	for i, row := range scaled {
		cls, _, err := classifier.Predict(row)
		if err != nil {
			return nil, err
		}
		pred[i] = cls
	}
	accuracy := ml.Accuracy(pred, labels)

	if err := e.artifacts.Save(artifactDecisionModel, classifier); err != nil {
		return nil, err
	}
	if err := e.artifacts.Save(artifactDecisionScaler, scaler); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.classifier = classifier
	e.scaler = scaler
	e.trained = true
	e.mu.Unlock()

	logger.Infof("[policy] decision model trained, accuracy %.2f%%", accuracy*100)
	return &TrainingResult{
		Status:    "success",
		Accuracy:  accuracy,
		Samples:   len(samples),
		TrainedAt: time.Now().UTC(),
	}, nil
}
