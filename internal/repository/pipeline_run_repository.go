package repository

import (
	"context"
	"ecg_rating_backend/internal/model"

	"gorm.io/gorm"
)

type PipelineRunRepository struct {
	DB *gorm.DB
}

func NewPipelineRunRepository(db *gorm.DB) *PipelineRunRepository {
	return &PipelineRunRepository{DB: db}
}

func (r *PipelineRunRepository) Create(ctx context.Context, run *model.PipelineRun) error {
	return r.DB.WithContext(ctx).Create(run).Error
}

func (r *PipelineRunRepository) Update(ctx context.Context, run *model.PipelineRun) error {
	return r.DB.WithContext(ctx).Save(run).Error
}

func (r *PipelineRunRepository) FindRecent(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []model.PipelineRun
	err := r.DB.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
