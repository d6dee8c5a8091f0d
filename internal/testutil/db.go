// Package testutil 测试用的内存数据库与数据构造函数
package testutil

import (
	"context"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/pkg/database"
	"testing"
	"time"

	"gorm.io/gorm"
)

func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func Float(v float64) *float64 {
	return &v
}

func CreateUser(t *testing.T, db *gorm.DB, institution string, trainTime float64, answers int, notify bool) *model.User {
	t.Helper()
	u := &model.User{
		Email:               model.GenerateUUID() + "@example.com",
		Role:                model.RoleUser,
		AcademicInstitution: institution,
		TotalTrainTime:      trainTime,
		TotalAnswers:        answers,
		Notification:        notify,
	}
	if err := db.WithContext(context.Background()).Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func CreateImage(t *testing.T, db *gorm.DB, photo, set, subset string, rate *float64) *model.ImageClassification {
	t.Helper()
	img := &model.ImageClassification{
		PhotoName:            photo,
		ClassificationSet:    set,
		ClassificationSubSet: subset,
		Rate:                 rate,
	}
	if err := db.Create(img).Error; err != nil {
		t.Fatalf("create image: %v", err)
	}
	return img
}

func CreateAnswer(t *testing.T, db *gorm.DB, userID, photo string, submitTime *float64, help bool) *model.Answer {
	t.Helper()
	a := &model.Answer{
		UserID:           userID,
		PhotoName:        photo,
		Date:             time.Date(2024, 7, 6, 10, 0, 0, 0, time.UTC),
		AnswerSubmitTime: submitTime,
		HelpActivated:    help,
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("create answer: %v", err)
	}
	return a
}

func CreateExamAnswer(t *testing.T, db *gorm.DB, userID, photo string, submitTime *float64) *model.ExamAnswer {
	t.Helper()
	e := &model.ExamAnswer{
		UserID:           userID,
		PhotoName:        photo,
		Date:             time.Date(2024, 7, 6, 11, 0, 0, 0, time.UTC),
		AnswerSubmitTime: submitTime,
	}
	if err := db.Create(e).Error; err != nil {
		t.Fatalf("create exam answer: %v", err)
	}
	return e
}
