package repository

import (
	"context"
	"ecg_rating_backend/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error
	return &user, err
}

// FindFeedbackRecipients 开启了反馈通知的用户
func (r *UserRepository) FindFeedbackRecipients(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := r.DB.WithContext(ctx).
		Where("notification = ?", true).
		Order("id ASC").
		Find(&users).Error
	return users, err
}
