package service

import (
	"context"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/repository"
	"ecg_rating_backend/internal/util"
	"ecg_rating_backend/pkg/monitoring"
	"ecg_rating_backend/pkg/tracing"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type Stage string

const (
	StageTrain    Stage = "TRAIN"
	StageRate     Stage = "RATE"
	StageFeedback Stage = "FEEDBACK"
)

type RunState string

const (
	StateTrain    RunState = "TRAIN"
	StateRate     RunState = "RATE"
	StateFeedback RunState = "FEEDBACK"
	StateDone     RunState = "DONE"
	StateFailed   RunState = "FAILED"
)

type StageStatus string

const (
	StatusSucceeded StageStatus = "succeeded"
	StatusSkipped   StageStatus = "skipped"
	StatusFailed    StageStatus = "failed"
	StatusBlocked   StageStatus = "blocked"
)

type StageResult struct {
	Stage     Stage         `json:"stage"`
	Status    StageStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

type RunReport struct {
	RunID        string           `json:"runId"`
	Trigger      model.RunTrigger `json:"trigger"`
	StartedAt    time.Time        `json:"startedAt"`
	FinishedAt   time.Time        `json:"finishedAt"`
	State        RunState         `json:"state"`
	ModelVersion int              `json:"modelVersion"`
	Stages       []StageResult    `json:"stages"`
}

// StageStatus 返回指定阶段的结果状态，未执行时为空
func (r *RunReport) StageStatus(stage Stage) StageStatus {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s.Status
		}
	}
	return ""
}

type Trainer interface {
	TrainOrUpdate(ctx context.Context) (*TrainResult, error)
}

type RatingUpdater interface {
	UpdateImageRatings(ctx context.Context) (*RateResult, error)
}

type FeedbackGenerator interface {
	DeliverAll(ctx context.Context, runID string) (*FeedbackResult, error)
}

// PipelineService 按 TRAIN -> RATE -> FEEDBACK 顺序执行，每次运行都从 TRAIN 开始
type PipelineService struct {
	Trainer  Trainer
	Updater  RatingUpdater
	Feedback FeedbackGenerator
	Runs     *repository.PipelineRunRepository
	Lock     RunLock
	LockTTL  time.Duration
	Logger   *zap.Logger
	now      func() time.Time

	// 配置热更新会在其他 goroutine 中修改
	feedbackAfterTrainFailure atomic.Bool
}

func NewPipelineService(trainer Trainer, updater RatingUpdater, feedback FeedbackGenerator, runs *repository.PipelineRunRepository, lock RunLock, log *zap.Logger) *PipelineService {
	if log == nil {
		log = zap.NewNop()
	}
	if lock == nil {
		lock = NewLocalRunLock()
	}
	return &PipelineService{
		Trainer:  trainer,
		Updater:  updater,
		Feedback: feedback,
		Runs:     runs,
		Lock:     lock,
		LockTTL:  2 * time.Hour,
		Logger:   log,
		now:      time.Now,
	}
}

// SetFeedbackAfterTrainFailure 控制 TRAIN 失败后是否仍执行 FEEDBACK，下一次运行生效
func (s *PipelineService) SetFeedbackAfterTrainFailure(v bool) {
	s.feedbackAfterTrainFailure.Store(v)
}

func (s *PipelineService) FeedbackAfterTrainFailure() bool {
	return s.feedbackAfterTrainFailure.Load()
}

// Run 执行一次完整流水线。运行状态为 FAILED 或已有运行持有锁时返回错误。
func (s *PipelineService) Run(ctx context.Context, trigger model.RunTrigger) (*RunReport, error) {
	release, err := s.acquire(ctx, trigger)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.execute(ctx, trigger, model.GenerateUUID())
}

// Start 同步获取运行锁，然后在后台执行，返回运行 ID
func (s *PipelineService) Start(ctx context.Context, trigger model.RunTrigger) (string, error) {
	release, err := s.acquire(ctx, trigger)
	if err != nil {
		return "", err
	}
	runID := model.GenerateUUID()
	bg := context.WithoutCancel(ctx)
	go func() {
		defer release()
		s.execute(bg, trigger, runID)
	}()
	return runID, nil
}

func (s *PipelineService) RecentRuns(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	if s.Runs == nil {
		return []model.PipelineRun{}, nil
	}
	return s.Runs.FindRecent(ctx, limit)
}

func (s *PipelineService) acquire(ctx context.Context, trigger model.RunTrigger) (func(), error) {
	release, ok, err := s.Lock.TryAcquire(ctx, s.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		s.Logger.Warn("pipeline run skipped, another run is in progress", zap.String("trigger", string(trigger)))
		return nil, util.ErrRunInProgress
	}
	return release, nil
}

func (s *PipelineService) execute(ctx context.Context, trigger model.RunTrigger, runID string) (*RunReport, error) {
	report := &RunReport{
		RunID:     runID,
		Trigger:   trigger,
		StartedAt: s.now(),
		State:     StateTrain,
	}
	log := s.Logger.With(zap.String("run_id", report.RunID), zap.String("trigger", string(trigger)))
	feedbackAfterTrainFailure := s.FeedbackAfterTrainFailure()

	ctx, span := tracing.Tracer.Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("run.id", report.RunID), attribute.String("run.trigger", string(trigger)))
	defer span.End()

	record := &model.PipelineRun{
		UUIDBase:  model.UUIDBase{ID: report.RunID},
		Trigger:   trigger,
		State:     string(report.State),
		StartedAt: report.StartedAt,
	}
	s.persist(ctx, log, record, report, true)
	log.Info("pipeline run started")

	failed := false
	for report.State != StateDone && report.State != StateFailed {
		var result StageResult
		switch report.State {
		case StateTrain:
			result = s.runStage(ctx, log, StageTrain, func(ctx context.Context) (string, bool, error) {
				res, err := s.Trainer.TrainOrUpdate(ctx)
				if err != nil {
					return "", false, err
				}
				if res.Skipped {
					return res.Reason, true, nil
				}
				report.ModelVersion = res.Version
				return fmt.Sprintf("trained model version %d on %d rows (%d skipped)", res.Version, res.Rows, res.SkippedRows), false, nil
			})
			report.State = StateRate

		case StateRate:
			if s.trainFailed(report) {
				result = s.blocked(StageRate, "blocked by failed TRAIN stage")
			} else {
				result = s.runStage(ctx, log, StageRate, func(ctx context.Context) (string, bool, error) {
					res, err := s.Updater.UpdateImageRatings(ctx)
					if err != nil {
						return "", false, err
					}
					if res.Skipped {
						return res.Reason, true, nil
					}
					if res.ModelVersion > report.ModelVersion {
						report.ModelVersion = res.ModelVersion
					}
					return fmt.Sprintf("rated %d of %d images (%d skipped)", res.Rated, res.Candidates, res.SkippedImages), false, nil
				})
			}
			report.State = StateFeedback

		case StateFeedback:
			if s.trainFailed(report) && !feedbackAfterTrainFailure {
				result = s.blocked(StageFeedback, "blocked by failed TRAIN stage")
			} else {
				result = s.runStage(ctx, log, StageFeedback, func(ctx context.Context) (string, bool, error) {
					res, err := s.Feedback.DeliverAll(ctx, report.RunID)
					if err != nil {
						return "", false, err
					}
					if res.Recipients == 0 {
						return "no feedback recipients", true, nil
					}
					return fmt.Sprintf("delivered %d of %d (%d failed)", res.Delivered, res.Recipients, res.Failed), false, nil
				})
			}
			if failed || result.Status == StatusFailed {
				report.State = StateFailed
			} else {
				report.State = StateDone
			}
		}

		if result.Status == StatusFailed {
			failed = true
		}
		report.Stages = append(report.Stages, result)
		if report.State != StateDone && report.State != StateFailed {
			s.persist(ctx, log, record, report, false)
		}
	}

	report.FinishedAt = s.now()
	s.persist(ctx, log, record, report, false)

	monitoring.PipelineRuns.WithLabelValues(string(trigger), string(report.State)).Inc()
	if report.ModelVersion > 0 {
		monitoring.ModelVersion.Set(float64(report.ModelVersion))
	}
	span.SetAttributes(attribute.String("run.state", string(report.State)))

	if report.State == StateFailed {
		summary := failedStages(report)
		span.SetStatus(codes.Error, summary)
		log.Error("pipeline run failed",
			zap.String("failed_stages", summary),
			zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
		return report, fmt.Errorf("%w: %s", util.ErrRunFailed, summary)
	}

	log.Info("pipeline run finished",
		zap.Int("model_version", report.ModelVersion),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// runStage 执行单个阶段，panic 会被恢复并转换成失败结果
func (s *PipelineService) runStage(ctx context.Context, log *zap.Logger, stage Stage, fn func(context.Context) (string, bool, error)) (result StageResult) {
	ctx, span := tracing.Tracer.Start(ctx, "pipeline.stage."+strings.ToLower(string(stage)))
	defer span.End()

	result = StageResult{Stage: stage, StartedAt: s.now()}
	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("panic: %v", r)
			log.Error("pipeline stage panicked",
				zap.String("stage", string(stage)),
				zap.Any("panic", r),
				zap.ByteString("stacktrace", debug.Stack()))
		}
		result.Duration = s.now().Sub(result.StartedAt)
		if result.Status == StatusFailed {
			span.SetStatus(codes.Error, result.Error)
		}
		span.SetAttributes(attribute.String("stage.status", string(result.Status)))
		monitoring.ObserveStage(string(stage), string(result.Status), result.Duration)
		log.Info("pipeline stage finished",
			zap.String("stage", string(stage)),
			zap.String("status", string(result.Status)),
			zap.String("message", result.Message),
			zap.Duration("duration", result.Duration))
	}()

	msg, skipped, err := fn(ctx)
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		log.Error("pipeline stage failed", zap.String("stage", string(stage)), zap.Error(err))
		return result
	}
	result.Message = msg
	result.Status = StatusSucceeded
	if skipped {
		result.Status = StatusSkipped
	}
	return result
}

func (s *PipelineService) blocked(stage Stage, msg string) StageResult {
	monitoring.ObserveStage(string(stage), string(StatusBlocked), 0)
	return StageResult{Stage: stage, Status: StatusBlocked, Message: msg, StartedAt: s.now()}
}

func (s *PipelineService) trainFailed(report *RunReport) bool {
	return report.StageStatus(StageTrain) == StatusFailed
}

func failedStages(report *RunReport) string {
	var parts []string
	for _, st := range report.Stages {
		if st.Status == StatusFailed {
			parts = append(parts, fmt.Sprintf("%s (%s)", st.Stage, st.Error))
		}
	}
	return strings.Join(parts, ", ")
}

// persist 运行记录写入失败不影响流水线本身
func (s *PipelineService) persist(ctx context.Context, log *zap.Logger, record *model.PipelineRun, report *RunReport, create bool) {
	if s.Runs == nil {
		return
	}
	stages, err := json.Marshal(report.Stages)
	if err != nil {
		log.Warn("failed to encode stage results", zap.Error(err))
		stages = []byte("[]")
	}
	record.State = string(report.State)
	record.ModelVersion = report.ModelVersion
	record.Stages = string(stages)
	if !report.FinishedAt.IsZero() {
		finished := report.FinishedAt
		record.FinishedAt = &finished
	}

	if create {
		err = s.Runs.Create(ctx, record)
	} else {
		err = s.Runs.Update(ctx, record)
	}
	if err != nil {
		log.Warn("failed to persist pipeline run", zap.Error(err))
	}
}

// DecodeStages 解析 PipelineRun.Stages
func DecodeStages(raw string) ([]StageResult, error) {
	var stages []StageResult
	if raw == "" {
		return stages, nil
	}
	err := json.Unmarshal([]byte(raw), &stages)
	return stages, err
}
