// Package scheduler 周期性触发分析轮次。
package scheduler

import (
	"context"
	"errors"
	"time"

	"tradeloop/internal/coordinator"
	"tradeloop/internal/logger"
)

// CycleRunner 是调度器触发的入口。
type CycleRunner interface {
	RunCycle(ctx context.Context, opts coordinator.CycleOptions) (*coordinator.CycleSummary, error)
}

// Scheduler 按固定间隔跑轮次。interval <= 0 时 Run 直接返回。
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
}

func New(runner CycleRunner, interval time.Duration) *Scheduler {
	return &Scheduler{runner: runner, interval: interval}
}

// Run 阻塞运行直到 ctx 取消。模型未就绪或已有轮次在跑都只记日志，
// 等下一个 tick 再试。
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		logger.Infof("[scheduler] interval disabled, not scheduling cycles")
		return
	}
	logger.Infof("[scheduler] running a cycle every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("[scheduler] stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	summary, err := s.runner.RunCycle(ctx, coordinator.CycleOptions{})
	switch {
	case errors.Is(err, coordinator.ErrModelNotReady):
		logger.Warnf("[scheduler] skipping cycle: %v", err)
	case errors.Is(err, coordinator.ErrCycleInFlight):
		logger.Warnf("[scheduler] previous cycle still running, skipping tick")
	case err != nil:
		logger.Errorf("[scheduler] cycle failed: %v", err)
	default:
		logger.Infof("[scheduler] cycle %s finished: %s", summary.ID, summary.Status)
	}
}
