package repository

import (
	"context"
	"ecg_rating_backend/internal/model"

	"gorm.io/gorm"
)

// RatingRepository 评分流水线需要的查询：特征行、未评分图像、评分写回
type RatingRepository struct {
	DB *gorm.DB
}

func NewRatingRepository(db *gorm.DB) *RatingRepository {
	return &RatingRepository{DB: db}
}

const answerFeatureColumns = `'answer' AS source, a.id AS answer_id, i.id AS image_id, i.photo_name AS photo_name,
	a.user_id AS user_id, i.classification_set AS classification_set, i.classification_sub_set AS classification_sub_set,
	a.answer_submit_time AS answer_submit_time, a.help_activated AS help_activated,
	u.total_train_time AS total_train_time, u.total_answers AS total_answers,
	u.academic_institution AS academic_institution, i.rate AS rate`

const examFeatureColumns = `'exam' AS source, e.id AS answer_id, i.id AS image_id, i.photo_name AS photo_name,
	e.user_id AS user_id, i.classification_set AS classification_set, i.classification_sub_set AS classification_sub_set,
	e.answer_submit_time AS answer_submit_time, e.help_activated AS help_activated,
	u.total_train_time AS total_train_time, u.total_answers AS total_answers,
	u.academic_institution AS academic_institution, i.rate AS rate`

func (r *RatingRepository) featureRows(ctx context.Context, rated bool) ([]model.FeatureRow, error) {
	rateCond := "i.rate IS NULL"
	if rated {
		rateCond = "i.rate IS NOT NULL"
	}

	var answerRows []model.FeatureRow
	err := r.DB.WithContext(ctx).
		Table("answers AS a").
		Select(answerFeatureColumns).
		Joins("JOIN image_classifications AS i ON i.photo_name = a.photo_name").
		Joins("LEFT JOIN users AS u ON u.id = a.user_id").
		Where(rateCond).
		Order("i.id ASC, a.id ASC").
		Scan(&answerRows).Error
	if err != nil {
		return nil, err
	}

	var examRows []model.FeatureRow
	err = r.DB.WithContext(ctx).
		Table("exam_answers AS e").
		Select(examFeatureColumns).
		Joins("JOIN image_classifications AS i ON i.photo_name = e.photo_name").
		Joins("LEFT JOIN users AS u ON u.id = e.user_id").
		Where(rateCond).
		Order("i.id ASC, e.id ASC").
		Scan(&examRows).Error
	if err != nil {
		return nil, err
	}

	return append(answerRows, examRows...), nil
}

// FindTrainingRows 已有评分的图像对应的特征行（训练样本）
func (r *RatingRepository) FindTrainingRows(ctx context.Context) ([]model.FeatureRow, error) {
	return r.featureRows(ctx, true)
}

// FindUnratedRows 未评分图像对应的特征行
func (r *RatingRepository) FindUnratedRows(ctx context.Context) ([]model.FeatureRow, error) {
	return r.featureRows(ctx, false)
}

func (r *RatingRepository) FindUnratedImages(ctx context.Context) ([]model.ImageClassification, error) {
	var images []model.ImageClassification
	err := r.DB.WithContext(ctx).
		Where("rate IS NULL").
		Order("id ASC").
		Find(&images).Error
	return images, err
}

// UpdateRatingIfNull 只在 rate 仍为空时写入，返回是否写入成功
func (r *RatingRepository) UpdateRatingIfNull(ctx context.Context, imageID uint, rate float64) (bool, error) {
	res := r.DB.WithContext(ctx).
		Model(&model.ImageClassification{}).
		Where("id = ? AND rate IS NULL", imageID).
		Update("rate", rate)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindAnsweredImages 用户在训练和考试中作答过的图像（按图像去重）
func (r *RatingRepository) FindAnsweredImages(ctx context.Context, userID string) ([]model.AnsweredImage, error) {
	db := r.DB.WithContext(ctx)
	answered := db.Model(&model.Answer{}).Select("photo_name").Where("user_id = ?", userID)
	examined := db.Model(&model.ExamAnswer{}).Select("photo_name").Where("user_id = ?", userID)

	var images []model.AnsweredImage
	err := db.Model(&model.ImageClassification{}).
		Select("id AS image_id, photo_name, classification_set, rate").
		Where("photo_name IN (?) OR photo_name IN (?)", answered, examined).
		Order("id ASC").
		Scan(&images).Error
	return images, err
}

func (r *RatingRepository) FindImageByPhotoName(ctx context.Context, photoName string) (*model.ImageClassification, error) {
	var image model.ImageClassification
	err := r.DB.WithContext(ctx).Where("photo_name = ?", photoName).First(&image).Error
	return &image, err
}
