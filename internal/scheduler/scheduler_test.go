package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradeloop/internal/coordinator"
)

type countingRunner struct {
	calls atomic.Int64
	err   error
}

func (r *countingRunner) RunCycle(context.Context, coordinator.CycleOptions) (*coordinator.CycleSummary, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &coordinator.CycleSummary{ID: "t", Status: coordinator.CycleCompleted}, nil
}

func TestRunTriggersCycles(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, runner.calls.Load(), int64(3))
}

func TestRunDisabledInterval(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, 0)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not return with disabled interval")
	}
	assert.EqualValues(t, 0, runner.calls.Load())
}

func TestRunKeepsGoingOnErrors(t *testing.T) {
	runner := &countingRunner{err: coordinator.ErrModelNotReady}
	s := New(runner, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, runner.calls.Load(), int64(2))
}
