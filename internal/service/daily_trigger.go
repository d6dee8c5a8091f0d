package service

import (
	"context"
	"ecg_rating_backend/internal/config"
	"ecg_rating_backend/internal/model"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NextRun 返回 now 之后第一个 hour:minute（本地时间）
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type PipelineRunner interface {
	Run(ctx context.Context, trigger model.RunTrigger) (*RunReport, error)
}

// DailyTrigger 每天固定时间触发一次流水线，时间可通过配置热更新修改
type DailyTrigger struct {
	Runner PipelineRunner
	Logger *zap.Logger

	mu     sync.Mutex
	hour   int
	minute int
	reset  chan struct{}
	now    func() time.Time
}

func NewDailyTrigger(runner PipelineRunner, dailyAt string, log *zap.Logger) (*DailyTrigger, error) {
	h, m, err := config.ParseDailyAt(dailyAt)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DailyTrigger{
		Runner: runner,
		Logger: log,
		hour:   h,
		minute: m,
		reset:  make(chan struct{}, 1),
		now:    time.Now,
	}, nil
}

func (t *DailyTrigger) SetDailyAt(dailyAt string) error {
	h, m, err := config.ParseDailyAt(dailyAt)
	if err != nil {
		return err
	}
	t.mu.Lock()
	changed := h != t.hour || m != t.minute
	t.hour, t.minute = h, m
	t.mu.Unlock()

	if changed {
		t.Logger.Info("daily pipeline time updated", zap.String("daily_at", dailyAt))
		select {
		case t.reset <- struct{}{}:
		default:
		}
	}
	return nil
}

func (t *DailyTrigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return NextRun(t.now(), t.hour, t.minute)
}

// Start 阻塞直到 ctx 取消
func (t *DailyTrigger) Start(ctx context.Context) {
	for {
		next := t.Next()
		t.Logger.Info("next pipeline run scheduled", zap.Time("at", next))
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.reset:
			timer.Stop()
			continue
		case <-timer.C:
		}

		if _, err := t.Runner.Run(ctx, model.TriggerSchedule); err != nil && !errors.Is(err, context.Canceled) {
			t.Logger.Error("scheduled pipeline run failed", zap.Error(err))
		}
	}
}
