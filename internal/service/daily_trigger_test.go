package service

import (
	"context"
	"ecg_rating_backend/internal/model"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNextRun(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name string
		now  time.Time
		h, m int
		want time.Time
	}{
		{"later today", time.Date(2024, 7, 6, 8, 0, 0, 0, loc), 9, 30, time.Date(2024, 7, 6, 9, 30, 0, 0, loc)},
		{"already passed", time.Date(2024, 7, 6, 10, 0, 0, 0, loc), 9, 30, time.Date(2024, 7, 7, 9, 30, 0, 0, loc)},
		{"exactly now", time.Date(2024, 7, 6, 0, 0, 0, 0, loc), 0, 0, time.Date(2024, 7, 7, 0, 0, 0, 0, loc)},
		{"month rollover", time.Date(2024, 7, 31, 23, 59, 0, 0, loc), 0, 0, time.Date(2024, 8, 1, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextRun(tt.now, tt.h, tt.m))
		})
	}
}

type countingRunner struct {
	runs atomic.Int32
}

func (c *countingRunner) Run(ctx context.Context, trigger model.RunTrigger) (*RunReport, error) {
	c.runs.Add(1)
	return &RunReport{Trigger: trigger, State: StateDone}, nil
}

func TestDailyTriggerSetDailyAt(t *testing.T) {
	trig, err := NewDailyTrigger(&countingRunner{}, "00:00", zap.NewNop())
	require.NoError(t, err)
	trig.now = func() time.Time { return time.Date(2024, 7, 6, 1, 0, 0, 0, time.Local) }

	assert.Equal(t, time.Date(2024, 7, 7, 0, 0, 0, 0, time.Local), trig.Next())

	require.NoError(t, trig.SetDailyAt("02:15"))
	assert.Equal(t, time.Date(2024, 7, 6, 2, 15, 0, 0, time.Local), trig.Next())

	assert.Error(t, trig.SetDailyAt("25:00"))
	_, err = NewDailyTrigger(&countingRunner{}, "noon", zap.NewNop())
	assert.Error(t, err)
}

func TestDailyTriggerStopsOnCancel(t *testing.T) {
	runner := &countingRunner{}
	trig, err := NewDailyTrigger(runner, "00:00", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		trig.Start(ctx)
		close(done)
	}()

	require.NoError(t, trig.SetDailyAt("03:00"))
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("trigger did not stop after cancel")
	}
	assert.Equal(t, int32(0), runner.runs.Load())
}
