package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler は refresh を一定間隔と手動トリガーで呼び出す
// 実行は1つの goroutine からだけ行うので refresh 同士が重なることはない
type Scheduler struct {
	interval time.Duration
	refresh  func(ctx context.Context) error
	trigger  chan struct{}
	log      *zap.SugaredLogger
}

func NewScheduler(interval time.Duration, refresh func(ctx context.Context) error, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		interval: interval,
		refresh:  refresh,
		trigger:  make(chan struct{}, 1),
		log:      log,
	}
}

// Run は ctx がキャンセルされるまでブロックする
// 起動直後に1回実行し、その後は interval 毎に実行する
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx, "startup")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx, "interval")
		case <-s.trigger:
			s.runOnce(ctx, "manual")
		}
	}
}

// Trigger は次の実行を要求する。既に要求済みなら false を返す
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	s.log.Debugw("scheduled refresh started", "reason", reason)
	if err := s.refresh(ctx); err != nil {
		s.log.Errorw("scheduled refresh failed", "reason", reason, "error", err)
	}
}
