// Package app 负责应用级编排: 加载配置 -> 装配依赖 -> 启动 HTTP 与调度。
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradeloop/internal/config"
	"tradeloop/internal/coordinator"
	"tradeloop/internal/ledger"
	"tradeloop/internal/logger"
	"tradeloop/internal/scheduler"
	"tradeloop/internal/store/decisionlog"
	transporthttp "tradeloop/internal/transport/http"
)

// App 持有装配好的全部组件。
type App struct {
	cfg       *config.Config
	coord     *coordinator.Coordinator
	server    *transporthttp.Server
	scheduler *scheduler.Scheduler
	ledger    *ledger.Ledger
	log       *decisionlog.Store

	closeSource func() error
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(cfg)
}

// Coordinator 暴露编排器，命令行子命令直接用。
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Run 启动 HTTP 服务与周期调度，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	a.coord.Startup()
	logger.Infof("✓ tradeloop up (env=%s, http=%s, source=%s)",
		a.cfg.App.Env, a.server.Addr(), a.cfg.Data.Source)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		a.scheduler.Run(ctx)
		return nil
	})
	return group.Wait()
}

// Close 释放持久化资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.log != nil {
		_ = a.log.Close()
	}
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
	if a.closeSource != nil {
		_ = a.closeSource()
	}
}
