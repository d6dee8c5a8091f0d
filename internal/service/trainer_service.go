package service

import (
	"context"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/repository"
	"ecg_rating_backend/pkg/dtree"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

type TrainResult struct {
	Skipped     bool               `json:"skipped"`
	Reason      string             `json:"reason,omitempty"`
	Rows        int                `json:"rows"`
	SkippedRows int                `json:"skippedRows"`
	Version     int                `json:"version"`
	Importances map[string]float64 `json:"importances,omitempty"`
}

const reasonNoTrainingData = "no training data available"

type TrainerService struct {
	RatingRepo  *repository.RatingRepository
	Model       *RatingModelService
	Params      dtree.Params
	TreeDumpDir string
	Logger      *zap.Logger
	now         func() time.Time
}

func NewTrainerService(ratingRepo *repository.RatingRepository, m *RatingModelService, params dtree.Params, treeDumpDir string, log *zap.Logger) *TrainerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TrainerService{
		RatingRepo:  ratingRepo,
		Model:       m,
		Params:      params,
		TreeDumpDir: treeDumpDir,
		Logger:      log,
		now:         time.Now,
	}
}

// TrainOrUpdate 用所有已评分图像的作答重新训练模型。
// 没有可用数据时不修改模型文件，返回 Skipped。
func (s *TrainerService) TrainOrUpdate(ctx context.Context) (*TrainResult, error) {
	rows, err := s.RatingRepo.FindTrainingRows(ctx)
	if err != nil {
		return nil, s.fail("failed to read training rows", err)
	}
	if len(rows) == 0 {
		s.Logger.Info(reasonNoTrainingData)
		return &TrainResult{Skipped: true, Reason: reasonNoTrainingData}, nil
	}

	prev, err := s.Model.Load(ctx)
	if err != nil {
		return nil, s.fail("failed to load previous rating model", err)
	}

	// 只有参与训练的行才能登记新类别，被跳过的行中的类别保持未知
	enc := prev.Encoder.Clone()
	labeled := make([]model.FeatureRow, 0, len(rows))
	for _, row := range enc.Complete(rows, s.Logger) {
		if row.Rate != nil {
			labeled = append(labeled, row)
		}
	}
	enc.Extend(labeled)
	Xl, kept := enc.EncodeBatch(labeled, s.Logger)

	y := make([]float64, 0, len(kept))
	for _, row := range kept {
		y = append(y, *row.Rate)
	}
	skipped := len(rows) - len(y)
	if len(y) == 0 {
		s.Logger.Info(reasonNoTrainingData, zap.Int("rejected_rows", skipped))
		return &TrainResult{Skipped: true, Reason: reasonNoTrainingData, SkippedRows: skipped}, nil
	}

	tree, err := dtree.Fit(Xl, y, s.Params)
	if err != nil {
		return nil, s.fail("failed to fit rating model", err)
	}

	trainedAt := s.now()
	next := &Artifact{
		TrainedAt:    &trainedAt,
		TrainingRows: len(y),
		Encoder:      enc,
		Tree:         tree,
		Importances:  tree.Importances,
	}
	if err := s.Model.Save(ctx, prev, next); err != nil {
		return nil, s.fail("failed to persist rating model", err)
	}

	s.Logger.Info("rating model trained",
		zap.Int("version", next.Version),
		zap.Int("rows", len(y)),
		zap.Int("skipped_rows", skipped),
		zap.Int("depth", tree.Depth()),
		zap.Int("leaves", tree.Leaves()))

	s.dumpTree(next)

	return &TrainResult{
		Rows:        len(y),
		SkippedRows: skipped,
		Version:     next.Version,
		Importances: next.ImportanceMap(),
	}, nil
}

func (s *TrainerService) fail(msg string, err error) error {
	s.Logger.Error(msg, zap.String("stage", string(StageTrain)), zap.Error(err))
	return fmt.Errorf("train: %w", err)
}

// dumpTree 写 graphviz 文件，失败只记录 warn
func (s *TrainerService) dumpTree(a *Artifact) {
	if s.TreeDumpDir == "" {
		return
	}
	if err := os.MkdirAll(s.TreeDumpDir, 0755); err != nil {
		s.Logger.Warn("failed to create tree dump dir", zap.Error(err))
		return
	}
	name := filepath.Join(s.TreeDumpDir, fmt.Sprintf("rating_tree_v%d.dot", a.Version))
	f, err := os.Create(name)
	if err != nil {
		s.Logger.Warn("failed to create tree dump", zap.String("file", name), zap.Error(err))
		return
	}
	defer f.Close()
	if err := a.Tree.WriteDOT(f, a.FeatureNames); err != nil {
		s.Logger.Warn("failed to write tree dump", zap.String("file", name), zap.Error(err))
	}
}
