package app

import (
	"fmt"
	"strings"
	"time"

	"tradeloop/internal/artifact"
	"tradeloop/internal/config"
	"tradeloop/internal/coordinator"
	"tradeloop/internal/executor"
	"tradeloop/internal/ledger"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/policy"
	"tradeloop/internal/predictor"
	"tradeloop/internal/profile"
	"tradeloop/internal/report"
	"tradeloop/internal/risk"
	"tradeloop/internal/scheduler"
	"tradeloop/internal/store/decisionlog"
	transporthttp "tradeloop/internal/transport/http"
)

// AppBuilder 按配置装配全部依赖。各环节可被测试替换。
type AppBuilder struct {
	cfg *config.Config

	sourceFn func(*config.Config) (market.Source, func() error, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		sourceFn: buildSource,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithSource 覆盖行情源构造，测试用。
func WithSource(fn func(*config.Config) (market.Source, func() error, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourceFn = fn }
}

func (b *AppBuilder) Build() (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	source, closeSource, err := b.sourceFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("market source init failed: %w", err)
	}
	logger.Infof("✓ market source ready (%s)", cfg.Data.Source)

	artifacts, err := artifact.NewStore(cfg.Model.Dir)
	if err != nil {
		return nil, err
	}

	book, err := ledger.New(cfg.Ledger.DBPath, cfg.Ledger.StartingCash)
	if err != nil {
		return nil, fmt.Errorf("ledger init failed: %w", err)
	}
	if _, err := book.EnsurePortfolio(cfg.Ledger.DefaultUser); err != nil {
		return nil, err
	}

	log, err := decisionlog.New(cfg.Policy.LogDBPath)
	if err != nil {
		return nil, fmt.Errorf("decision log init failed: %w", err)
	}

	pred := predictor.New(cfg.Model, artifacts)
	pol := policy.NewEngine(cfg.Policy.RiskTolerance, cfg.Policy.HistoryLimit, artifacts)

	pending := executor.NewPendingQueue()
	exec := executor.New(book, risk.NewSizer(), pending, cfg.Ledger.DefaultUser, cfg.Executor.DryRun)
	resolver := executor.NewResolver(pending, outcomeSource(source), log)

	reports := report.NewWriter(cfg.Report)
	coord := coordinator.New(*cfg, source, pred, pol, exec, resolver, log)
	coord.SetReporter(reports)

	if path := strings.TrimSpace(cfg.Policy.ProfilesPath); path != "" {
		registry, err := profile.NewRegistry(path)
		if err != nil {
			return nil, fmt.Errorf("risk profile registry init failed: %w", err)
		}
		coord.AttachProfiles(registry)
	}

	server, err := transporthttp.NewServer(transporthttp.ServerConfig{
		Addr:        cfg.App.HTTPAddr,
		Coordinator: coord,
		Ledger:      book,
		Source:      source,
		Reports:     reports,
		DefaultUser: cfg.Ledger.DefaultUser,
	})
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(coord, time.Duration(cfg.Cycle.IntervalMinutes)*time.Minute)

	return &App{
		cfg:         cfg,
		coord:       coord,
		server:      server,
		scheduler:   sched,
		ledger:      book,
		log:         log,
		closeSource: closeSource,
	}, nil
}

// buildSource 按 data.source 选行情实现。
func buildSource(cfg *config.Config) (market.Source, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Data.Source)) {
	case "", "store":
		store, err := market.NewStore(cfg.Data.BarDBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "csv":
		return market.NewCSVSource(cfg.Data.DatasetDir), nil, nil
	case "http":
		src := market.NewHTTPSource(market.HTTPSourceOptions{
			BaseURL:        cfg.Data.HTTP.BaseURL,
			APIKey:         cfg.Data.HTTP.APIKey,
			Timeout:        time.Duration(cfg.Data.HTTP.TimeoutSeconds) * time.Second,
			RequestsPerSec: int(cfg.Data.HTTP.RequestsPerSec),
			MaxRetry:       time.Duration(cfg.Data.HTTP.MaxRetrySecs) * time.Second,
		})
		return src, nil, nil
	case "binance":
		return market.NewBinanceSource(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
}

// outcomeSource 给结算器挑 CloseAtOrAfter 实现，
// sqlite 存储自带，其余源用区间查询适配。
func outcomeSource(src market.Source) executor.OutcomeSource {
	if direct, ok := src.(executor.OutcomeSource); ok {
		return direct
	}
	return market.OutcomeAdapter{Src: src}
}
