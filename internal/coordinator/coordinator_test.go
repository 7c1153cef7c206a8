package coordinator

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/artifact"
	"tradeloop/internal/config"
	"tradeloop/internal/executor"
	"tradeloop/internal/ledger"
	"tradeloop/internal/market"
	"tradeloop/internal/policy"
	"tradeloop/internal/predictor"
	"tradeloop/internal/profile"
	"tradeloop/internal/risk"
	"tradeloop/internal/store/decisionlog"
)

// memSource 既当行情源也当结算源。
type memSource struct {
	bars map[string][]market.Bar
}

func (m *memSource) GetBars(_ context.Context, symbol string, from, to time.Time) ([]market.Bar, error) {
	bars, ok := m.bars[symbol]
	if !ok || len(bars) == 0 {
		return nil, market.ErrNoData
	}
	out := make([]market.Bar, 0, len(bars))
	for _, b := range bars {
		if !from.IsZero() && b.Date.Before(from) {
			continue
		}
		if !to.IsZero() && b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memSource) LatestClose(ctx context.Context, symbol string) (float64, error) {
	return market.LatestCloseOf(ctx, m, symbol)
}

func (m *memSource) CloseAtOrAfter(_ context.Context, symbol string, date time.Time) (float64, time.Time, error) {
	bars, ok := m.bars[symbol]
	if !ok {
		return 0, time.Time{}, market.ErrNoData
	}
	for _, b := range bars {
		if !b.Date.Before(date.Truncate(24 * time.Hour)) {
			return b.Close, b.Date, nil
		}
	}
	return 0, time.Time{}, market.ErrNoData
}

func trendingBars(n int, drift float64, seed int64) []market.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]market.Bar, n)
	price := 100.0
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		change := drift + rng.NormFloat64()*0.01
		open := price
		price = price * (1 + change)
		high := math.Max(open, price) * 1.005
		low := math.Min(open, price) * 0.995
		bars[i] = market.Bar{
			Date:   day.AddDate(0, 0, i),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: float64(1_000_000 + rng.Int63n(500_000)),
		}
	}
	return bars
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Model: config.ModelConfig{
			Dir:         t.TempDir(),
			HorizonDays: 5,
			Trees:       10,
			MaxDepth:    6,
			MinLeaf:     2,
			MinSplit:    4,
			Seed:        7,
		},
		Policy: config.PolicyConfig{
			RiskTolerance:   0.5,
			HistoryLimit:    32,
			FeedbackLimit:   256,
			MinFeedbackRows: 50,
		},
		Cycle: config.CycleConfig{
			Symbols:              []string{"AAPL", "MSFT"},
			MaxParallel:          2,
			SymbolTimeoutSeconds: 10,
			SessionLimit:         3,
		},
	}
}

func newTestCoordinator(t *testing.T, cfg config.Config, source *memSource) *Coordinator {
	t.Helper()
	artifacts, err := artifact.NewStore(cfg.Model.Dir)
	require.NoError(t, err)
	pred := predictor.New(cfg.Model, artifacts)
	pol := policy.NewEngine(cfg.Policy.RiskTolerance, cfg.Policy.HistoryLimit, artifacts)

	book, err := ledger.New(filepath.Join(t.TempDir(), "ledger.db"), 100000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = book.Close() })

	log, err := decisionlog.New(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	pending := executor.NewPendingQueue()
	exec := executor.New(book, risk.NewSizer(), pending, "tester", false)
	resolver := executor.NewResolver(pending, source, log)
	return New(cfg, source, pred, pol, exec, resolver, log)
}

func TestRunCycleRequiresTrainedModel(t *testing.T) {
	source := &memSource{bars: map[string][]market.Bar{}}
	c := newTestCoordinator(t, testConfig(t), source)

	_, err := c.RunCycle(context.Background(), CycleOptions{})
	assert.ErrorIs(t, err, ErrModelNotReady)
}

func TestTrainAndRunCycle(t *testing.T) {
	source := &memSource{bars: map[string][]market.Bar{
		"AAPL": trendingBars(80, 0.004, 1),
		"MSFT": trendingBars(80, -0.003, 2),
	}}
	c := newTestCoordinator(t, testConfig(t), source)

	report, err := c.TrainModel(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SymbolsProcessed)
	assert.Greater(t, report.Samples, 0)

	summary, err := c.RunCycle(context.Background(), CycleOptions{})
	require.NoError(t, err)
	assert.Equal(t, CycleCompleted, summary.Status)
	assert.Equal(t, 2, summary.Symbols)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, summary.Buys+summary.Sells+summary.Holds)

	// 决策落了日志
	decisions, err := c.Log().Decisions(10)
	require.NoError(t, err)
	assert.Len(t, decisions, 2)

	// 轮末带组合估值
	require.NotNil(t, summary.Portfolio)
	assert.InDelta(t, 100000, summary.Portfolio.Cash+summary.Portfolio.PositionsValue, 2000)

	status := c.Status()
	assert.True(t, status.PriceModelTrained)
	assert.False(t, status.CycleRunning)
	assert.Equal(t, TrainingSucceeded, status.TrainingState)
	require.NotNil(t, status.LastTraining)
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, summary.ID, status.LastCycle.ID)
}

func TestRunCycleHonorsPerCallOverrides(t *testing.T) {
	source := &memSource{bars: map[string][]market.Bar{
		"AAPL": trendingBars(80, 0.004, 1),
		"MSFT": trendingBars(80, -0.003, 2),
	}}
	c := newTestCoordinator(t, testConfig(t), source)

	_, err := c.TrainModel(context.Background(), nil)
	require.NoError(t, err)

	risk := 0.9
	summary, err := c.RunCycle(context.Background(), CycleOptions{
		Symbols:       []string{"AAPL"},
		RiskTolerance: &risk,
	})
	require.NoError(t, err)

	// 只跑指定的 symbol，配置里的 MSFT 不碰
	assert.Equal(t, 1, summary.Symbols)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "AAPL", summary.Results[0].Symbol)

	// 风险偏好在决策前生效并保持
	assert.InDelta(t, 0.9, c.Policy().RiskTolerance(), 1e-9)
	require.NotNil(t, summary.Results[0].Decision)
	assert.InDelta(t, 0.9, summary.Results[0].Decision.RiskTolerance, 1e-9)
}

func TestRunCycleResolvesDueFeedback(t *testing.T) {
	source := &memSource{bars: map[string][]market.Bar{
		"AAPL": trendingBars(80, 0.004, 1),
		"MSFT": trendingBars(80, -0.003, 2),
	}}
	c := newTestCoordinator(t, testConfig(t), source)

	_, err := c.TrainModel(context.Background(), nil)
	require.NoError(t, err)

	execDate := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	c.executor.Pending().Push(&executor.PendingFeedback{
		Decision: policy.Decision{
			ID:              "fb-1",
			Symbol:          "AAPL",
			Action:          policy.ActionBuy,
			Confidence:      0.7,
			PredictedChange: 2,
		},
		ExecutionDate: execDate,
		CheckDate:     execDate.AddDate(0, 0, 1),
	})

	summary, err := c.RunCycle(context.Background(), CycleOptions{})
	require.NoError(t, err)
	require.Len(t, summary.FeedbackResolved, 1)
	assert.Equal(t, "fb-1", summary.FeedbackResolved[0].DecisionID)
	assert.Equal(t, 0, c.executor.Pending().Len())

	count, err := c.Log().FeedbackCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRunCycleIsolatesSymbolFailures(t *testing.T) {
	// MSFT 没有数据，单个失败不拖垮整轮
	source := &memSource{bars: map[string][]market.Bar{
		"AAPL": trendingBars(80, 0.004, 1),
	}}
	c := newTestCoordinator(t, testConfig(t), source)

	_, err := c.TrainModel(context.Background(), []string{"AAPL"})
	require.NoError(t, err)

	summary, err := c.RunCycle(context.Background(), CycleOptions{})
	require.NoError(t, err)
	assert.Equal(t, CyclePartial, summary.Status)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	var failed *SymbolResult
	for i := range summary.Results {
		if summary.Results[i].Symbol == "MSFT" {
			failed = &summary.Results[i]
		}
	}
	require.NotNil(t, failed)
	assert.Contains(t, failed.Error, "predict")
}

func TestSessionsRespectLimit(t *testing.T) {
	source := &memSource{bars: map[string][]market.Bar{
		"AAPL": trendingBars(80, 0.004, 1),
		"MSFT": trendingBars(80, -0.003, 2),
	}}
	cfg := testConfig(t)
	cfg.Cycle.SessionLimit = 2
	c := newTestCoordinator(t, cfg, source)

	_, err := c.TrainModel(context.Background(), nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := c.RunCycle(context.Background(), CycleOptions{})
		require.NoError(t, err)
	}
	sessions := c.Sessions(0)
	assert.Len(t, sessions, 2)
	// 只留最近的，且 Sessions(1) 取最新一条
	last := c.Sessions(1)
	require.Len(t, last, 1)
	assert.Equal(t, sessions[1].ID, last[0].ID)
}

func TestTrainingGateRejectsConcurrent(t *testing.T) {
	source := &memSource{bars: map[string][]market.Bar{}}
	c := newTestCoordinator(t, testConfig(t), source)

	c.trainingBusy.Store(true)
	_, err := c.TrainModel(context.Background(), nil)
	assert.ErrorIs(t, err, ErrTrainingInFlight)
}

func TestApplyProfile(t *testing.T) {
	source := &memSource{bars: map[string][]market.Bar{}}
	c := newTestCoordinator(t, testConfig(t), source)

	_, err := c.ApplyProfile("aggressive")
	assert.Error(t, err) // 没挂注册表

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`risk_profiles:
  aggressive:
    risk_tolerance: 0.9
    sizing:
      max_risk_fraction: 0.2
`), 0o644))
	reg, err := profile.NewRegistry(path)
	require.NoError(t, err)
	c.AttachProfiles(reg)

	p, err := c.ApplyProfile("aggressive")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, p.RiskTolerance, 1e-9)
	assert.InDelta(t, 0.9, c.Policy().RiskTolerance(), 1e-9)

	_, err = c.ApplyProfile("nope")
	assert.ErrorIs(t, err, ErrUnknownProfile)

	status := c.Status()
	assert.Equal(t, "aggressive", status.ActiveProfile)
}

func TestStartupRestoresNothingWhenDisabled(t *testing.T) {
	source := &memSource{bars: map[string][]market.Bar{}}
	cfg := testConfig(t)
	cfg.Model.LoadOnStartup = false
	c := newTestCoordinator(t, cfg, source)
	c.Startup()
	assert.False(t, c.Status().PriceModelTrained)
}
