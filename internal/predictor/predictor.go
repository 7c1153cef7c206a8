// Package predictor 负责价格变动模型的训练、持久化与推理。
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tradeloop/internal/artifact"
	"tradeloop/internal/config"
	"tradeloop/internal/feature"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/ml"
)

const (
	artifactModel  = "price_model"
	artifactScaler = "price_scaler"
	artifactMeta   = "model_meta"
)

var (
	// ErrNotTrained 表示模型尚未训练也未从磁盘加载。
	ErrNotTrained = errors.New("price model not trained yet")
	// ErrInsufficientData 表示该 symbol 的历史太短。
	ErrInsufficientData = errors.New("insufficient history for prediction")
)

// Direction 是预测方向。
type Direction string

const (
	DirectionUp     Direction = "UP"
	DirectionDown   Direction = "DOWN"
	DirectionStable Direction = "STABLE"
)

// Prediction 是单个 symbol 的推理结果。
type Prediction struct {
	Symbol             string           `json:"symbol"`
	CurrentPrice       float64          `json:"current_price"`
	PredictedChangePct float64          `json:"predicted_change_percent"`
	PredictedPrice     float64          `json:"predicted_price"`
	Direction          Direction        `json:"direction"`
	Confidence         float64          `json:"confidence"`
	Indicators         feature.Snapshot `json:"technical_indicators"`
	Timestamp          time.Time        `json:"timestamp"`
}

// FeatureWeight 是一项特征重要度。
type FeatureWeight struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// TrainingReport 汇总一次训练。
type TrainingReport struct {
	SymbolsProcessed int             `json:"symbols_processed"`
	SymbolsFailed    []string        `json:"symbols_failed,omitempty"`
	Samples          int             `json:"samples"`
	MSE              float64         `json:"mse"`
	MAE              float64         `json:"mae"`
	RMSE             float64         `json:"rmse"`
	TopFeatures      []FeatureWeight `json:"top_features"`
	TrainedAt        time.Time       `json:"trained_at"`
	Duration         time.Duration   `json:"duration"`
}

type modelMeta struct {
	Columns   []string  `json:"columns"`
	Horizon   int       `json:"horizon_days"`
	Samples   int       `json:"samples"`
	TrainedAt time.Time `json:"trained_at"`
}

// Predictor 持有当前模型与缩放器。训练会整体替换，读写加锁。
type Predictor struct {
	cfg       config.ModelConfig
	artifacts *artifact.Store

	mu      sync.RWMutex
	model   *ml.ForestRegressor
	scaler  *ml.MinMaxScaler
	meta    modelMeta
	trained bool
}

func New(cfg config.ModelConfig, artifacts *artifact.Store) *Predictor {
	return &Predictor{cfg: cfg, artifacts: artifacts}
}

// Trained 判断当前是否有可用模型。
func (p *Predictor) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.trained
}

// TrainedAt 返回当前模型的训练时间，未训练时为零值。
func (p *Predictor) TrainedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meta.TrainedAt
}

// LoadFromDisk 恢复上次落盘的模型，没有产物时返回 artifact.ErrNotFound。
func (p *Predictor) LoadFromDisk() error {
	var model ml.ForestRegressor
	if err := p.artifacts.Load(artifactModel, &model); err != nil {
		return err
	}
	var scaler ml.MinMaxScaler
	if err := p.artifacts.Load(artifactScaler, &scaler); err != nil {
		return err
	}
	var meta modelMeta
	if err := p.artifacts.Load(artifactMeta, &meta); err != nil {
		return err
	}
	if len(meta.Columns) != len(feature.Columns) {
		return fmt.Errorf("stored model has %d columns, expected %d", len(meta.Columns), len(feature.Columns))
	}
	p.mu.Lock()
	p.model = &model
	p.scaler = &scaler
	p.meta = meta
	p.trained = true
	p.mu.Unlock()
	logger.Infof("[predictor] model loaded from disk, trained at %s with %d samples",
		meta.TrainedAt.Format(time.RFC3339), meta.Samples)
	return nil
}

// Train 在给定 symbol 集上重训模型并落盘。
// 各 symbol 的数据准备并行执行，单个失败只计入 SymbolsFailed。
func (p *Predictor) Train(ctx context.Context, src market.Source, symbols []string, parallel int) (*TrainingReport, error) {
	start := time.Now()
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols to train on")
	}
	if sample := p.cfg.TrainingSample; sample > 0 && sample < len(symbols) {
		symbols = symbols[:sample]
	}
	if parallel < 1 {
		parallel = 1
	}
	logger.Infof("[predictor] training started, symbols=%d horizon=%dd", len(symbols), p.cfg.HorizonDays)

	var mu sync.Mutex
	var allX [][]float64
	var allY []float64
	var failed []string
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			x, y, err := prepareSymbol(gctx, src, symbol, p.cfg.HorizonDays)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warnf("[predictor] skip %s: %v", symbol, err)
				failed = append(failed, symbol)
				return nil
			}
			allX = append(allX, x...)
			allY = append(allY, y...)
			processed++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(allX) == 0 {
		return nil, fmt.Errorf("no training data from %d symbols", len(symbols))
	}

	scaler := &ml.MinMaxScaler{}
	if err := scaler.Fit(allX); err != nil {
		return nil, err
	}
	scaled, err := scaler.TransformBatch(allX)
	if err != nil {
		return nil, err
	}

	model := ml.NewForestRegressor(ml.ForestParams{
		Trees: p.cfg.Trees,
		Seed:  p.cfg.Seed,
		TreeParams: ml.TreeParams{
			MaxDepth:        p.cfg.MaxDepth,
			MinSamplesSplit: p.cfg.MinSplit,
			MinSamplesLeaf:  p.cfg.MinLeaf,
		},
	})
	if err := model.Fit(scaled, allY); err != nil {
		return nil, err
	}

	pred, err := model.PredictBatch(scaled)
	if err != nil {
		return nil, err
	}
	report := &TrainingReport{
		SymbolsProcessed: processed,
		SymbolsFailed:    failed,
		Samples:          len(allY),
		MSE:              ml.MSE(pred, allY),
		MAE:              ml.MAE(pred, allY),
		RMSE:             ml.RMSE(pred, allY),
		TopFeatures:      topFeatures(model.FeatureImportances(), 10),
		TrainedAt:        time.Now().UTC(),
		Duration:         time.Since(start),
	}

	meta := modelMeta{
		Columns:   feature.Columns,
		Horizon:   p.cfg.HorizonDays,
		Samples:   report.Samples,
		TrainedAt: report.TrainedAt,
	}
	if err := p.persist(model, scaler, meta); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.model = model
	p.scaler = scaler
	p.meta = meta
	p.trained = true
	p.mu.Unlock()

	logger.Infof("[predictor] training done in %s, samples=%d rmse=%.4f mae=%.4f",
		report.Duration.Round(time.Millisecond), report.Samples, report.RMSE, report.MAE)
	return report, nil
}

// Predict 对单个 symbol 推理最近一根日线之后 horizon 天的涨跌。
func (p *Predictor) Predict(ctx context.Context, src market.Source, symbol string) (*Prediction, error) {
	p.mu.RLock()
	model, scaler := p.model, p.scaler
	trained := p.trained
	p.mu.RUnlock()
	if !trained {
		return nil, ErrNotTrained
	}

	bars, err := src.GetBars(ctx, symbol, time.Time{}, time.Time{})
	if err != nil {
		if errors.Is(err, market.ErrNoData) {
			return nil, ErrInsufficientData
		}
		return nil, err
	}
	if len(bars) < feature.MinTrainingRows {
		return nil, ErrInsufficientData
	}
	frame, err := feature.Compute(bars)
	if err != nil {
		if errors.Is(err, feature.ErrTooFewBars) {
			return nil, ErrInsufficientData
		}
		return nil, err
	}
	row, snapshot := frame.Latest()
	scaledRow, err := scaler.Transform(row)
	if err != nil {
		return nil, err
	}
	change, err := model.Predict(scaledRow)
	if err != nil {
		return nil, err
	}

	current := frame.Closes[frame.Rows()-1]
	direction := DirectionStable
	if change > 1.0 {
		direction = DirectionUp
	} else if change < -1.0 {
		direction = DirectionDown
	}
	return &Prediction{
		Symbol:             symbol,
		CurrentPrice:       current,
		PredictedChangePct: change,
		PredictedPrice:     current * (1 + change/100),
		Direction:          direction,
		Confidence:         math.Min(0.95, 0.5+math.Abs(change)/20),
		Indicators:         snapshot,
		Timestamp:          time.Now().UTC(),
	}, nil
}

func (p *Predictor) persist(model *ml.ForestRegressor, scaler *ml.MinMaxScaler, meta modelMeta) error {
	if err := p.artifacts.Save(artifactModel, model); err != nil {
		return err
	}
	if err := p.artifacts.Save(artifactScaler, scaler); err != nil {
		return err
	}
	return p.artifacts.Save(artifactMeta, meta)
}

func prepareSymbol(ctx context.Context, src market.Source, symbol string, horizon int) ([][]float64, []float64, error) {
	bars, err := src.GetBars(ctx, symbol, time.Time{}, time.Time{})
	if err != nil {
		return nil, nil, err
	}
	frame, err := feature.Compute(bars)
	if err != nil {
		return nil, nil, err
	}
	x, y, err := feature.BuildTargets(frame, horizon)
	if err != nil {
		return nil, nil, err
	}
	return feature.WinsorizeColumns(x), y, nil
}

func topFeatures(importances []float64, limit int) []FeatureWeight {
	weights := make([]FeatureWeight, 0, len(importances))
	for i, w := range importances {
		if i < len(feature.Columns) {
			weights = append(weights, FeatureWeight{Name: feature.Columns[i], Weight: w})
		}
	}
	sort.Slice(weights, func(a, b int) bool { return weights[a].Weight > weights[b].Weight })
	if len(weights) > limit {
		weights = weights[:limit]
	}
	return weights
}
