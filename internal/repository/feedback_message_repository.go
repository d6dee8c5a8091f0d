package repository

import (
	"context"
	"ecg_rating_backend/internal/model"

	"gorm.io/gorm"
)

type FeedbackMessageRepository struct {
	DB *gorm.DB
}

func NewFeedbackMessageRepository(db *gorm.DB) *FeedbackMessageRepository {
	return &FeedbackMessageRepository{DB: db}
}

func (r *FeedbackMessageRepository) Create(ctx context.Context, msg *model.FeedbackMessage) error {
	return r.DB.WithContext(ctx).Create(msg).Error
}

func (r *FeedbackMessageRepository) FindLatestByUser(ctx context.Context, userID string) (*model.FeedbackMessage, error) {
	var msg model.FeedbackMessage
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&msg).Error
	return &msg, err
}
