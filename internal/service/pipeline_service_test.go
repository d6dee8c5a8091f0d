package service

import (
	"context"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/repository"
	"ecg_rating_backend/internal/testutil"
	"ecg_rating_backend/internal/util"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTrainer struct {
	res   *TrainResult
	err   error
	calls int
}

func (f *fakeTrainer) TrainOrUpdate(ctx context.Context) (*TrainResult, error) {
	f.calls++
	return f.res, f.err
}

type fakeUpdater struct {
	res     *RateResult
	err     error
	panicky bool
	calls   int
}

func (f *fakeUpdater) UpdateImageRatings(ctx context.Context) (*RateResult, error) {
	f.calls++
	if f.panicky {
		panic("nil map write")
	}
	return f.res, f.err
}

type fakeFeedback struct {
	res   *FeedbackResult
	err   error
	calls int
	runID string
}

func (f *fakeFeedback) DeliverAll(ctx context.Context, runID string) (*FeedbackResult, error) {
	f.calls++
	f.runID = runID
	return f.res, f.err
}

func okFakes() (*fakeTrainer, *fakeUpdater, *fakeFeedback) {
	return &fakeTrainer{res: &TrainResult{Rows: 10, Version: 3}},
		&fakeUpdater{res: &RateResult{Candidates: 2, Rated: 2, ModelVersion: 3}},
		&fakeFeedback{res: &FeedbackResult{Recipients: 1, Delivered: 1}}
}

func statuses(r *RunReport) []StageStatus {
	out := make([]StageStatus, 0, len(r.Stages))
	for _, s := range r.Stages {
		out = append(out, s.Status)
	}
	return out
}

func TestPipelineRunSucceeds(t *testing.T) {
	db := testutil.NewDB(t)
	runs := repository.NewPipelineRunRepository(db)
	tr, up, fb := okFakes()
	p := NewPipelineService(tr, up, fb, runs, nil, zap.NewNop())

	report, err := p.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []StageStatus{StatusSucceeded, StatusSucceeded, StatusSucceeded}, statuses(report))
	assert.Equal(t, []Stage{StageTrain, StageRate, StageFeedback},
		[]Stage{report.Stages[0].Stage, report.Stages[1].Stage, report.Stages[2].Stage})
	assert.Equal(t, 3, report.ModelVersion)
	assert.Equal(t, report.RunID, fb.runID)

	saved, err := runs.FindRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, report.RunID, saved[0].ID)
	assert.Equal(t, string(StateDone), saved[0].State)
	assert.NotNil(t, saved[0].FinishedAt)
	stages, err := DecodeStages(saved[0].Stages)
	require.NoError(t, err)
	assert.Len(t, stages, 3)
}

func TestPipelineTrainFailureBlocksRate(t *testing.T) {
	tr, up, fb := okFakes()
	tr.err = errors.New("artifact store unreachable")
	p := NewPipelineService(tr, up, fb, nil, nil, zap.NewNop())

	report, err := p.Run(context.Background(), model.TriggerSchedule)
	require.ErrorIs(t, err, util.ErrRunFailed)
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, []StageStatus{StatusFailed, StatusBlocked, StatusBlocked}, statuses(report))
	assert.Equal(t, 0, up.calls)
	assert.Equal(t, 0, fb.calls)
	assert.Contains(t, report.Stages[0].Error, "artifact store unreachable")
}

func TestPipelineFeedbackAfterTrainFailureWhenEnabled(t *testing.T) {
	tr, up, fb := okFakes()
	tr.err = errors.New("boom")
	p := NewPipelineService(tr, up, fb, nil, nil, zap.NewNop())
	p.SetFeedbackAfterTrainFailure(true)

	report, err := p.Run(context.Background(), model.TriggerSchedule)
	require.Error(t, err)
	assert.Equal(t, []StageStatus{StatusFailed, StatusBlocked, StatusSucceeded}, statuses(report))
	assert.Equal(t, 0, up.calls)
	assert.Equal(t, 1, fb.calls)
}

// reloadingTrainer 模拟运行期间配置热更新打开开关
type reloadingTrainer struct {
	p *PipelineService
}

func (r *reloadingTrainer) TrainOrUpdate(ctx context.Context) (*TrainResult, error) {
	r.p.SetFeedbackAfterTrainFailure(true)
	return nil, errors.New("boom")
}

func TestPipelineFeedbackFlagIsReadOncePerRun(t *testing.T) {
	_, up, fb := okFakes()
	tr := &reloadingTrainer{}
	p := NewPipelineService(tr, up, fb, nil, nil, zap.NewNop())
	tr.p = p

	report, err := p.Run(context.Background(), model.TriggerSchedule)
	require.Error(t, err)
	assert.Equal(t, []StageStatus{StatusFailed, StatusBlocked, StatusBlocked}, statuses(report))
	assert.Equal(t, 0, fb.calls)

	report, err = p.Run(context.Background(), model.TriggerSchedule)
	require.Error(t, err)
	assert.Equal(t, []StageStatus{StatusFailed, StatusBlocked, StatusSucceeded}, statuses(report))
	assert.Equal(t, 1, fb.calls)
}

func TestPipelineFeedbackFlagConcurrentReload(t *testing.T) {
	tr, up, fb := okFakes()
	tr.err = errors.New("boom")
	p := NewPipelineService(tr, up, fb, nil, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			p.SetFeedbackAfterTrainFailure(i%2 == 0)
		}
	}()
	for i := 0; i < 5; i++ {
		report, err := p.Run(context.Background(), model.TriggerSchedule)
		require.Error(t, err)
		assert.Equal(t, StatusBlocked, report.StageStatus(StageRate))
	}
	<-done
}

func TestPipelineBlockedStageUsesClock(t *testing.T) {
	tr, up, fb := okFakes()
	tr.err = errors.New("boom")
	p := NewPipelineService(tr, up, fb, nil, nil, zap.NewNop())
	fixed := time.Date(2024, 7, 6, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	report, err := p.Run(context.Background(), model.TriggerCLI)
	require.Error(t, err)
	require.Len(t, report.Stages, 3)
	assert.Equal(t, StatusBlocked, report.Stages[1].Status)
	assert.Equal(t, fixed, report.Stages[1].StartedAt)
	assert.Equal(t, fixed, report.Stages[2].StartedAt)
}

func TestPipelineRecoversStagePanic(t *testing.T) {
	tr, up, fb := okFakes()
	up.panicky = true
	p := NewPipelineService(tr, up, fb, nil, nil, zap.NewNop())

	var report *RunReport
	var err error
	require.NotPanics(t, func() {
		report, err = p.Run(context.Background(), model.TriggerCLI)
	})
	require.ErrorIs(t, err, util.ErrRunFailed)
	assert.Equal(t, []StageStatus{StatusSucceeded, StatusFailed, StatusSucceeded}, statuses(report))
	assert.Contains(t, report.Stages[1].Error, "panic: nil map write")
	assert.Equal(t, StateFailed, report.State)
}

func TestPipelineSkippedStages(t *testing.T) {
	tr := &fakeTrainer{res: &TrainResult{Skipped: true, Reason: reasonNoTrainingData}}
	up := &fakeUpdater{res: &RateResult{Skipped: true, Reason: "rating model is not trained"}}
	fb := &fakeFeedback{res: &FeedbackResult{}}
	p := NewPipelineService(tr, up, fb, nil, nil, zap.NewNop())

	report, err := p.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []StageStatus{StatusSkipped, StatusSkipped, StatusSkipped}, statuses(report))
	assert.Equal(t, reasonNoTrainingData, report.Stages[0].Message)
}

type heldLock struct{}

func (heldLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestPipelineRunInProgress(t *testing.T) {
	tr, up, fb := okFakes()
	p := NewPipelineService(tr, up, fb, nil, heldLock{}, zap.NewNop())

	report, err := p.Run(context.Background(), model.TriggerManual)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, util.ErrRunInProgress)
	assert.Equal(t, 0, tr.calls)
}

func TestPipelineReleasesLockAfterRun(t *testing.T) {
	tr, up, fb := okFakes()
	p := NewPipelineService(tr, up, fb, nil, nil, zap.NewNop())

	_, err := p.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.calls)
}

type blockingTrainer struct {
	started chan struct{}
	unblock chan struct{}
}

func (b *blockingTrainer) TrainOrUpdate(ctx context.Context) (*TrainResult, error) {
	close(b.started)
	<-b.unblock
	return &TrainResult{Skipped: true, Reason: reasonNoTrainingData}, nil
}

func TestPipelineStartRunsInBackground(t *testing.T) {
	db := testutil.NewDB(t)
	runs := repository.NewPipelineRunRepository(db)
	_, up, fb := okFakes()
	tr := &blockingTrainer{started: make(chan struct{}), unblock: make(chan struct{})}
	p := NewPipelineService(tr, up, fb, runs, nil, zap.NewNop())
	ctx := context.Background()

	runID, err := p.Start(ctx, model.TriggerManual)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	<-tr.started

	_, err = p.Start(ctx, model.TriggerManual)
	assert.ErrorIs(t, err, util.ErrRunInProgress)

	close(tr.unblock)
	require.Eventually(t, func() bool {
		recent, err := p.RecentRuns(ctx, 5)
		return err == nil && len(recent) == 1 && recent[0].State == string(StateDone)
	}, 2*time.Second, 10*time.Millisecond)
}
