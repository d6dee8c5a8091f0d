package service

import (
	"context"
	"ecg_rating_backend/internal/repository"
	"ecg_rating_backend/internal/util"
	"ecg_rating_backend/pkg/monitoring"
	"fmt"

	"go.uber.org/zap"
)

// 评分保留 4 位小数
const ratingPrecision = 4

type RateResult struct {
	Skipped       bool   `json:"skipped"`
	Reason        string `json:"reason,omitempty"`
	Candidates    int    `json:"candidates"`
	Rated         int    `json:"rated"`
	SkippedImages int    `json:"skippedImages"`
	SkippedRows   int    `json:"skippedRows"`
	ModelVersion  int    `json:"modelVersion"`
}

type RatingUpdaterService struct {
	RatingRepo *repository.RatingRepository
	Model      *RatingModelService
	Logger     *zap.Logger
}

func NewRatingUpdaterService(ratingRepo *repository.RatingRepository, m *RatingModelService, log *zap.Logger) *RatingUpdaterService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RatingUpdaterService{RatingRepo: ratingRepo, Model: m, Logger: log}
}

// UpdateImageRatings 为 rate 为空的图像写入预测评分，已有评分的图像永不覆盖
func (s *RatingUpdaterService) UpdateImageRatings(ctx context.Context) (*RateResult, error) {
	artifact, err := s.Model.Load(ctx)
	if err != nil {
		return nil, s.fail("failed to load rating model", err)
	}
	if !artifact.Trained() {
		s.Logger.Info("rating model not trained yet, skipping rating update")
		return &RateResult{Skipped: true, Reason: util.ErrModelNotTrained.Error()}, nil
	}

	images, err := s.RatingRepo.FindUnratedImages(ctx)
	if err != nil {
		return nil, s.fail("failed to read unrated images", err)
	}
	result := &RateResult{Candidates: len(images), ModelVersion: artifact.Version}
	if len(images) == 0 {
		s.Logger.Info("no unrated images")
		return result, nil
	}

	rows, err := s.RatingRepo.FindUnratedRows(ctx)
	if err != nil {
		return nil, s.fail("failed to read feature rows", err)
	}
	X, kept := artifact.Encoder.EncodeBatch(rows, s.Logger)
	result.SkippedRows = len(rows) - len(kept)

	predictions := make(map[uint][]float64)
	for i := range kept {
		p, err := Predict(artifact, X[i])
		if err != nil {
			return nil, s.fail("failed to predict rating", err)
		}
		predictions[kept[i].ImageID] = append(predictions[kept[i].ImageID], p)
	}

	for _, image := range images {
		preds := predictions[image.ID]
		if len(preds) == 0 {
			s.Logger.Warn("no complete feature row for image, rating skipped",
				zap.Uint("image_id", image.ID),
				zap.String("photo_name", image.PhotoName))
			result.SkippedImages++
			continue
		}

		rate := aggregateRating(preds)
		written, err := s.RatingRepo.UpdateRatingIfNull(ctx, image.ID, rate)
		if err != nil {
			return result, s.fail(fmt.Sprintf("failed to write rating for image %d", image.ID), err)
		}
		if !written {
			s.Logger.Warn("image already rated, keeping existing rating",
				zap.Uint("image_id", image.ID),
				zap.String("photo_name", image.PhotoName))
			result.SkippedImages++
			continue
		}
		result.Rated++
		monitoring.ImagesRated.Inc()
		s.Logger.Debug("image rated",
			zap.Uint("image_id", image.ID),
			zap.String("photo_name", image.PhotoName),
			zap.Float64("rate", rate),
			zap.Int("rows", len(preds)))
	}

	s.Logger.Info("image ratings updated",
		zap.Int("model_version", artifact.Version),
		zap.Int("candidates", result.Candidates),
		zap.Int("rated", result.Rated),
		zap.Int("skipped_images", result.SkippedImages),
		zap.Int("skipped_rows", result.SkippedRows))
	return result, nil
}

// aggregateRating 多条作答预测取均值
func aggregateRating(preds []float64) float64 {
	var sum float64
	for _, p := range preds {
		sum += p
	}
	mean := sum / float64(len(preds))
	if mean < 0 {
		mean = 0
	}
	return util.Round(mean, ratingPrecision)
}

func (s *RatingUpdaterService) fail(msg string, err error) error {
	s.Logger.Error(msg, zap.String("stage", string(StageRate)), zap.Error(err))
	return fmt.Errorf("rate: %w", err)
}
