// Package coordinator 串起一轮完整的决策管线:
// 并行分析各 symbol -> 执行 -> 结算到期反馈 -> 视样本量重训决策模型。
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradeloop/internal/config"
	"tradeloop/internal/executor"
	"tradeloop/internal/ledger"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/policy"
	"tradeloop/internal/predictor"
	"tradeloop/internal/profile"
	"tradeloop/internal/store/decisionlog"
)

var (
	// ErrCycleInFlight 表示已有一轮在跑。
	ErrCycleInFlight = errors.New("analysis cycle already running")
	// ErrTrainingInFlight 表示训练任务未结束。
	ErrTrainingInFlight = errors.New("model training already running")
	// ErrModelNotReady 表示价格模型不可用，先训练或从磁盘加载。
	ErrModelNotReady = errors.New("price model not ready, train it first")
	// ErrUnknownProfile 表示风险档位不存在。
	ErrUnknownProfile = errors.New("unknown risk profile")
)

// CycleStatus 是一轮的终态。
type CycleStatus string

const (
	CycleCompleted CycleStatus = "completed"
	CyclePartial   CycleStatus = "partial"
	CycleFailed    CycleStatus = "failed"
)

// TrainingState 是训练任务的状态机。
type TrainingState string

const (
	TrainingIdle      TrainingState = "idle"
	TrainingRunning   TrainingState = "running"
	TrainingSucceeded TrainingState = "succeeded"
	TrainingFailed    TrainingState = "failed"
)

// SymbolResult 是单个 symbol 在一轮里的全链路结果。
type SymbolResult struct {
	Symbol     string                    `json:"symbol"`
	Prediction *predictor.Prediction     `json:"prediction,omitempty"`
	Decision   *policy.Decision          `json:"decision,omitempty"`
	Execution  *executor.ExecutionResult `json:"execution,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// CycleSummary 汇总一轮。
type CycleSummary struct {
	ID               string                      `json:"id"`
	StartedAt        time.Time                   `json:"started_at"`
	Duration         time.Duration               `json:"duration"`
	Status           CycleStatus                 `json:"status"`
	Symbols          int                         `json:"symbols"`
	Succeeded        int                         `json:"succeeded"`
	Failed           int                         `json:"failed"`
	Buys             int                         `json:"buys"`
	Sells            int                         `json:"sells"`
	Holds            int                         `json:"holds"`
	FeedbackResolved []decisionlog.FeedbackEntry `json:"feedback_resolved,omitempty"`
	Training         *policy.TrainingResult      `json:"decision_training,omitempty"`
	Portfolio        *ledger.Summary             `json:"portfolio,omitempty"`
	Results          []SymbolResult              `json:"results"`
}

// Snapshot 是系统当前状态的只读视图。
type Snapshot struct {
	PriceModelTrained    bool                      `json:"price_model_trained"`
	PriceModelTrainedAt  time.Time                 `json:"price_model_trained_at,omitempty"`
	DecisionModelTrained bool                      `json:"decision_model_trained"`
	RiskTolerance        float64                   `json:"risk_tolerance"`
	ActiveProfile        string                    `json:"active_profile,omitempty"`
	Thresholds           policy.Thresholds         `json:"thresholds"`
	PendingFeedback      int                       `json:"pending_feedback"`
	TradesExecuted       int64                     `json:"trades_executed"`
	TradesFailed         int64                     `json:"trades_failed"`
	TradeStats           *ledger.TradeStats        `json:"trade_stats,omitempty"`
	FeedbackTotal        int64                     `json:"feedback_total"`
	FeedbackAccurate     int64                     `json:"feedback_accurate"`
	CycleRunning         bool                      `json:"cycle_running"`
	TrainingState        TrainingState             `json:"training_state"`
	LastTraining         *predictor.TrainingReport `json:"last_training,omitempty"`
	LastCycle            *CycleSummary             `json:"last_cycle,omitempty"`
}

// CycleOptions 允许单次调用覆盖 symbol 清单与风险偏好，零值走配置。
// RiskTolerance 一经设置对后续轮次持续生效。
type CycleOptions struct {
	Symbols       []string
	RiskTolerance *float64
}

// Reporter 在一轮结束后收到汇总，用于出报表。
type Reporter interface {
	CycleFinished(summary CycleSummary)
}

// Coordinator 持有管线各环节并做并发门闸。
type Coordinator struct {
	cfg       config.Config
	source    market.Source
	predictor *predictor.Predictor
	policy    *policy.Engine
	executor  *executor.Executor
	resolver  *executor.Resolver
	log       *decisionlog.Store
	profiles  *profile.Registry
	reporter  Reporter

	cycleBusy    atomic.Bool
	trainingBusy atomic.Bool

	mu            sync.RWMutex
	activeProfile string
	lastCycle     *CycleSummary
	sessions      []CycleSummary
	trainState    TrainingState
	lastTraining  *predictor.TrainingReport
}

func New(cfg config.Config, source market.Source, pred *predictor.Predictor,
	pol *policy.Engine, exec *executor.Executor, resolver *executor.Resolver,
	log *decisionlog.Store) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		source:     source,
		predictor:  pred,
		policy:     pol,
		executor:   exec,
		resolver:   resolver,
		log:        log,
		trainState: TrainingIdle,
	}
}

// SetReporter 挂上报表钩子。
func (c *Coordinator) SetReporter(r Reporter) { c.reporter = r }

// AttachProfiles 挂上风险档位注册表，并订阅热更新:
// 文件重载后当前档位的新配置立即生效。
func (c *Coordinator) AttachProfiles(reg *profile.Registry) {
	c.profiles = reg
	reg.Subscribe(func(snap profile.Snapshot) {
		c.mu.RLock()
		active := c.activeProfile
		c.mu.RUnlock()
		if active == "" {
			return
		}
		if p, ok := snap.Profiles[active]; ok {
			c.applyProfile(p)
			logger.Infof("[coordinator] risk profile %q reloaded (v%d)", p.ID, p.Version)
		}
	})
}

// ApplyProfile 切换风险档位。
func (c *Coordinator) ApplyProfile(id string) (profile.Profile, error) {
	if c.profiles == nil {
		return profile.Profile{}, fmt.Errorf("no risk profile registry configured")
	}
	p, ok := c.profiles.Profile(id)
	if !ok {
		return profile.Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	c.applyProfile(p)
	c.mu.Lock()
	c.activeProfile = p.ID
	c.mu.Unlock()
	logger.Infof("[coordinator] risk profile switched to %q (tolerance %.2f)", p.ID, p.RiskTolerance)
	return p, nil
}

func (c *Coordinator) applyProfile(p profile.Profile) {
	c.policy.SetRiskTolerance(p.RiskTolerance)
	c.executor.Sizer().Configure(p.Sizing.MaxRiskFraction, p.Sizing.MinPositionValue)
}

// Startup 按配置恢复落盘模型。缺产物不算错，照常以未训练状态启动。
func (c *Coordinator) Startup() {
	if !c.cfg.Model.LoadOnStartup {
		return
	}
	if err := c.predictor.LoadFromDisk(); err != nil {
		logger.Warnf("[coordinator] price model not restored: %v", err)
	}
	if err := c.policy.LoadFromDisk(); err != nil {
		logger.Warnf("[coordinator] decision model not restored: %v", err)
	}
}

// TrainModel 重训价格模型，同一时刻只允许一个训练任务。
// symbols 为空时退回配置里的清单。
func (c *Coordinator) TrainModel(ctx context.Context, symbols []string) (*predictor.TrainingReport, error) {
	if !c.trainingBusy.CompareAndSwap(false, true) {
		return nil, ErrTrainingInFlight
	}
	defer c.trainingBusy.Store(false)
	c.setTrainState(TrainingRunning, nil)

	if len(symbols) == 0 {
		symbols = c.cfg.Cycle.Symbols
	}
	report, err := c.predictor.Train(ctx, c.source, symbols, c.cfg.Cycle.MaxParallel)
	if err != nil {
		c.setTrainState(TrainingFailed, nil)
		return nil, err
	}
	c.setTrainState(TrainingSucceeded, report)
	return report, nil
}

func (c *Coordinator) setTrainState(state TrainingState, report *predictor.TrainingReport) {
	c.mu.Lock()
	c.trainState = state
	if report != nil {
		c.lastTraining = report
	}
	c.mu.Unlock()
}

// RunCycle 执行一轮: 并行分析全部 symbol 并执行，随后结算到期反馈，
// 最后视反馈样本量重训决策模型。单 symbol 失败不拖垮整轮。
func (c *Coordinator) RunCycle(ctx context.Context, opts CycleOptions) (*CycleSummary, error) {
	if !c.predictor.Trained() {
		return nil, ErrModelNotReady
	}
	if !c.cycleBusy.CompareAndSwap(false, true) {
		return nil, ErrCycleInFlight
	}
	defer c.cycleBusy.Store(false)

	symbols := opts.Symbols
	if len(symbols) == 0 {
		symbols = c.cfg.Cycle.Symbols
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured for analysis cycle")
	}
	if opts.RiskTolerance != nil {
		c.policy.SetRiskTolerance(*opts.RiskTolerance)
	}

	start := time.Now()
	summary := &CycleSummary{
		ID:        uuid.NewString(),
		StartedAt: start.UTC(),
		Symbols:   len(symbols),
	}
	logger.Infof("[coordinator] cycle %s started, %d symbol(s)", summary.ID, len(symbols))

	results := make([]SymbolResult, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Cycle.MaxParallel)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			symCtx, cancel := context.WithTimeout(gctx, c.cfg.Cycle.SymbolTimeout())
			defer cancel()
			results[i] = c.analyzeSymbol(symCtx, symbol)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	summary.Results = results

	for _, r := range results {
		if r.Error != "" {
			summary.Failed++
			continue
		}
		summary.Succeeded++
		switch r.Decision.Action {
		case policy.ActionBuy:
			summary.Buys++
		case policy.ActionSell:
			summary.Sells++
		default:
			summary.Holds++
		}
	}

	// 执行全部落账后再结算到期反馈
	resolved, err := c.resolver.Resolve(ctx, start.UTC())
	if err != nil {
		logger.Warnf("[coordinator] feedback resolution failed: %v", err)
	}
	summary.FeedbackResolved = resolved

	if len(resolved) > 0 {
		summary.Training = c.maybeTrainDecisionModel()
	}

	// 用本轮现价估值组合
	prices := make(map[string]float64, len(results))
	for _, r := range results {
		if r.Prediction != nil {
			prices[r.Symbol] = r.Prediction.CurrentPrice
		}
	}
	if portfolio, err := c.executor.Book().Summary(c.executor.User(), prices); err != nil {
		logger.Warnf("[coordinator] portfolio valuation failed: %v", err)
	} else {
		summary.Portfolio = portfolio
	}

	summary.Duration = time.Since(start)
	switch {
	case summary.Succeeded == 0:
		summary.Status = CycleFailed
	case summary.Failed > 0:
		summary.Status = CyclePartial
	default:
		summary.Status = CycleCompleted
	}
	logger.Infof("[coordinator] cycle %s %s in %s: %d buy / %d sell / %d hold, %d failed",
		summary.ID, summary.Status, summary.Duration.Round(time.Millisecond),
		summary.Buys, summary.Sells, summary.Holds, summary.Failed)

	c.recordSession(*summary)
	if c.reporter != nil {
		c.reporter.CycleFinished(*summary)
	}
	return summary, nil
}

// analyzeSymbol 走完单个 symbol 的预测 -> 决策 -> 落日志 -> 执行。
func (c *Coordinator) analyzeSymbol(ctx context.Context, symbol string) SymbolResult {
	result := SymbolResult{Symbol: symbol}

	pred, err := c.predictor.Predict(ctx, c.source, symbol)
	if err != nil {
		result.Error = fmt.Sprintf("predict: %v", err)
		logger.Warnf("[coordinator] %s skipped: %v", symbol, err)
		return result
	}
	result.Prediction = pred

	decision := c.policy.Decide(pred)
	result.Decision = &decision
	if err := c.log.LogDecision(decision); err != nil {
		logger.Warnf("[coordinator] decision log write failed for %s: %v", symbol, err)
	}

	execution := c.executor.Execute(decision, pred.CurrentPrice)
	result.Execution = &execution
	return result
}

// maybeTrainDecisionModel 在反馈样本攒够后重训决策分类器。
func (c *Coordinator) maybeTrainDecisionModel() *policy.TrainingResult {
	samples, err := c.log.TrainingSamples(c.cfg.Policy.FeedbackLimit)
	if err != nil {
		logger.Warnf("[coordinator] feedback samples unavailable: %v", err)
		return nil
	}
	result, err := c.policy.TrainFromFeedback(samples, c.cfg.Policy.MinFeedbackRows)
	if err != nil {
		logger.Errorf("[coordinator] decision model training failed: %v", err)
		return nil
	}
	return result
}

func (c *Coordinator) recordSession(summary CycleSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCycle = &summary
	c.sessions = append(c.sessions, summary)
	if limit := c.cfg.Cycle.SessionLimit; limit > 0 && len(c.sessions) > limit {
		c.sessions = c.sessions[len(c.sessions)-limit:]
	}
}

// Sessions 按从旧到新返回最近的轮次汇总。
func (c *Coordinator) Sessions(limit int) []CycleSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.sessions)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]CycleSummary, n)
	copy(out, c.sessions[len(c.sessions)-n:])
	return out
}

// Status 汇总当前系统状态。
func (c *Coordinator) Status() Snapshot {
	executed, failed := c.executor.Counts()
	total, accurate, err := c.log.AccuracyStats()
	if err != nil {
		logger.Warnf("[coordinator] accuracy stats unavailable: %v", err)
	}

	stats, err := c.executor.Performance()
	if err != nil {
		logger.Warnf("[coordinator] trade stats unavailable: %v", err)
	}

	c.mu.RLock()
	last := c.lastCycle
	active := c.activeProfile
	trainState := c.trainState
	lastTraining := c.lastTraining
	c.mu.RUnlock()

	return Snapshot{
		PriceModelTrained:    c.predictor.Trained(),
		PriceModelTrainedAt:  c.predictor.TrainedAt(),
		DecisionModelTrained: c.policy.Trained(),
		RiskTolerance:        c.policy.RiskTolerance(),
		ActiveProfile:        active,
		Thresholds:           c.policy.Thresholds(),
		PendingFeedback:      c.executor.Pending().Len(),
		TradesExecuted:       executed,
		TradesFailed:         failed,
		TradeStats:           stats,
		FeedbackTotal:        total,
		FeedbackAccurate:     accurate,
		CycleRunning:         c.cycleBusy.Load(),
		TrainingState:        trainState,
		LastTraining:         lastTraining,
		LastCycle:            last,
	}
}

// Policy 暴露决策引擎，供传输层改风险偏好。
func (c *Coordinator) Policy() *policy.Engine { return c.policy }

// Log 暴露决策日志库。
func (c *Coordinator) Log() *decisionlog.Store { return c.log }

// Profiles 返回风险档位注册表，未配置时为 nil。
func (c *Coordinator) Profiles() *profile.Registry { return c.profiles }
