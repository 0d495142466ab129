package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func waitForRun(t *testing.T, runs <-chan struct{}) {
	t.Helper()
	select {
	case <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh was not called")
	}
}

func TestSchedulerTriggerCoalesces(t *testing.T) {
	s := NewScheduler(time.Hour, func(ctx context.Context) error { return nil }, zap.NewNop().Sugar())

	assert.True(t, s.Trigger())
	assert.False(t, s.Trigger())
}

func TestSchedulerRunsOnStartupAndTrigger(t *testing.T) {
	runs := make(chan struct{}, 10)
	s := NewScheduler(time.Hour, func(ctx context.Context) error {
		runs <- struct{}{}
		return nil
	}, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitForRun(t, runs)

	s.Trigger()
	waitForRun(t, runs)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerRunsOnInterval(t *testing.T) {
	runs := make(chan struct{}, 10)
	s := NewScheduler(10*time.Millisecond, func(ctx context.Context) error {
		runs <- struct{}{}
		// 失敗しても次の実行は続く
		return errors.New("github unavailable")
	}, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitForRun(t, runs)
	waitForRun(t, runs)
	waitForRun(t, runs)
}

func TestSchedulerSkipsWhenCanceled(t *testing.T) {
	called := false
	s := NewScheduler(time.Hour, func(ctx context.Context) error {
		called = true
		return nil
	}, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	assert.False(t, called)
}
