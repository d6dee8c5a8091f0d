package service

import (
	"context"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/repository"
	"ecg_rating_backend/internal/testutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func imageRate(t *testing.T, db *gorm.DB, photo string) *float64 {
	t.Helper()
	img, err := repository.NewRatingRepository(db).FindImageByPhotoName(context.Background(), photo)
	require.NoError(t, err)
	return img.Rate
}

func TestUpdateImageRatingsColdStart(t *testing.T) {
	db := testutil.NewDB(t)
	m := NewRatingModelService(NewMemoryArtifactStore(), zap.NewNop())
	updater := NewRatingUpdaterService(repository.NewRatingRepository(db), m, zap.NewNop())
	testutil.CreateImage(t, db, "new.png", model.ClassificationSTEMI, "", nil)

	res, err := updater.UpdateImageRatings(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Nil(t, imageRate(t, db, "new.png"))
}

func TestUpdateImageRatingsRatesOnlyUnrated(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	store := NewMemoryArtifactStore()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	trainer, m := newTrainer(db, store, log)
	u := seedRatedImages(t, db)
	_, err := trainer.TrainOrUpdate(ctx)
	require.NoError(t, err)

	testutil.CreateImage(t, db, "new_hard.png", model.ClassificationSTEMI, "Anterior", nil)
	testutil.CreateAnswer(t, db, u.ID, "new_hard.png", testutil.Float(48), true)
	testutil.CreateExamAnswer(t, db, u.ID, "new_hard.png", testutil.Float(52))
	testutil.CreateImage(t, db, "orphan.png", model.ClassificationHighRisk, "", nil)
	testutil.CreateAnswer(t, db, "deleted-user", "orphan.png", testutil.Float(12), false)
	testutil.CreateImage(t, db, "unanswered.png", model.ClassificationLowRisk, "", nil)

	updater := NewRatingUpdaterService(repository.NewRatingRepository(db), m, log)
	res, err := updater.UpdateImageRatings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 1, res.Rated)
	assert.Equal(t, 2, res.SkippedImages)
	assert.Equal(t, 1, res.SkippedRows)
	assert.Equal(t, 1, res.ModelVersion)

	rate := imageRate(t, db, "new_hard.png")
	require.NotNil(t, rate)
	assert.InDelta(t, 4.0, *rate, 1e-9)
	assert.Nil(t, imageRate(t, db, "orphan.png"))
	assert.Nil(t, imageRate(t, db, "unanswered.png"))

	// 已有评分保持不变
	assert.Equal(t, 1.0, *imageRate(t, db, "easy1.png"))
	assert.Equal(t, 4.0, *imageRate(t, db, "hard2.png"))

	assert.Equal(t, 2, logs.FilterMessage("no complete feature row for image, rating skipped").Len())

	res, err = updater.UpdateImageRatings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Rated)
	assert.InDelta(t, 4.0, *imageRate(t, db, "new_hard.png"), 1e-9)
}

func TestAggregateRating(t *testing.T) {
	assert.Equal(t, 2.3333, aggregateRating([]float64{1, 2, 4}))
	assert.Equal(t, 0.0, aggregateRating([]float64{-3, 1}))
	assert.Equal(t, 1.5, aggregateRating([]float64{1.5}))
}
