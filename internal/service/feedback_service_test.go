package service

import (
	"context"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/repository"
	"ecg_rating_backend/internal/testutil"
	"ecg_rating_backend/internal/util"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type recordingDeliverer struct {
	mu     sync.Mutex
	sent   map[string]string
	failOn map[string]bool
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{sent: map[string]string{}, failOn: map[string]bool{}}
}

func (d *recordingDeliverer) Deliver(ctx context.Context, to Recipient, subject, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[to.UserID] {
		return errors.New("mailbox unavailable")
	}
	d.sent[to.UserID] = body
	return nil
}

func (d *recordingDeliverer) Channel() string { return "recording" }

func newFeedbackService(db *gorm.DB, d Deliverer, log *zap.Logger) *FeedbackService {
	return NewFeedbackService(repository.NewUserRepository(db), repository.NewRatingRepository(db), repository.NewFeedbackMessageRepository(db), d, "", log)
}

func TestPartitionFeedbackExhaustiveAndDisjoint(t *testing.T) {
	images := []model.AnsweredImage{
		{PhotoName: "a.png", ClassificationSet: model.ClassificationLowRisk, Rate: fPtr(1)},
		{PhotoName: "b.png", ClassificationSet: model.ClassificationHighRisk, Rate: fPtr(3)},
		{PhotoName: "c.png", ClassificationSet: model.ClassificationSTEMI},
		{PhotoName: "d.png", ClassificationSet: "unexpected"},
		{PhotoName: "e.png", ClassificationSet: model.ClassificationLowRisk},
	}
	strengths, weaknesses := PartitionFeedback(images)
	assert.Equal(t, len(images), len(strengths)+len(weaknesses))

	seen := map[string]int{}
	for _, it := range append(strengths, weaknesses...) {
		seen[it.PhotoName]++
	}
	for _, img := range images {
		assert.Equal(t, 1, seen[img.PhotoName], img.PhotoName)
	}
	assert.Equal(t, []string{"a.png", "e.png"}, []string{strengths[0].PhotoName, strengths[1].PhotoName})
}

func TestGenerateUserFeedbackLowAndHighRisk(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newFeedbackService(db, newRecordingDeliverer(), zap.NewNop())

	u := testutil.CreateUser(t, db, "Ariel", 100, 2, true)
	testutil.CreateImage(t, db, "A.png", model.ClassificationLowRisk, "", testutil.Float(1.5))
	testutil.CreateImage(t, db, "B.png", model.ClassificationHighRisk, "LBBB", testutil.Float(3.0))
	testutil.CreateAnswer(t, db, u.ID, "A.png", testutil.Float(10), false)
	testutil.CreateExamAnswer(t, db, u.ID, "B.png", testutil.Float(20))

	report, err := svc.GenerateUserFeedback(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, report.Strengths, 1)
	require.Len(t, report.Weaknesses, 1)
	assert.Equal(t, "A.png", report.Strengths[0].PhotoName)
	assert.Equal(t, "B.png", report.Weaknesses[0].PhotoName)

	body := report.Body
	assert.True(t, strings.HasPrefix(body, "Dear User,"))
	assert.Contains(t, body, "Strengths:\n- A.png with a rating of 1.50\n")
	assert.Contains(t, body, "Areas for Improvement:\n- B.png with a rating of 3.00\n")
	assert.Less(t, strings.Index(body, "Strengths:"), strings.Index(body, "Areas for Improvement:"))
	assert.Contains(t, body, "Best regards,\nECG Analysis Team")
}

func TestGenerateUserFeedbackUnratedAndUnknownUser(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newFeedbackService(db, newRecordingDeliverer(), zap.NewNop())

	u := testutil.CreateUser(t, db, "Ariel", 100, 2, true)
	testutil.CreateImage(t, db, "N.png", model.ClassificationSTEMI, "", nil)
	testutil.CreateAnswer(t, db, u.ID, "N.png", testutil.Float(10), false)

	report, err := svc.GenerateUserFeedback(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Contains(t, report.Body, "- N.png with a rating of n/a")
	assert.NotContains(t, report.Body, "Strengths:")

	_, err = svc.GenerateUserFeedback(context.Background(), "nobody")
	assert.ErrorIs(t, err, util.ErrUserNotFound)
}

func TestDeliverAllContinuesAfterFailure(t *testing.T) {
	db := testutil.NewDB(t)
	core, logs := observer.New(zapcore.DebugLevel)
	d := newRecordingDeliverer()
	svc := newFeedbackService(db, d, zap.New(core))

	u1 := testutil.CreateUser(t, db, "Ariel", 100, 2, true)
	u2 := testutil.CreateUser(t, db, "Ariel", 100, 2, true)
	u3 := testutil.CreateUser(t, db, "Ariel", 100, 2, false)
	d.failOn[u1.ID] = true

	res, err := svc.DeliverAll(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recipients)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Failed)

	assert.Contains(t, d.sent, u2.ID)
	assert.NotContains(t, d.sent, u3.ID)

	errs := logs.FilterMessage("failed to deliver feedback").All()
	require.Len(t, errs, 1)
	assert.Equal(t, zapcore.ErrorLevel, errs[0].Level)
	assert.Equal(t, u1.ID, errs[0].ContextMap()["user_id"])
}

func TestLatestMessage(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	msgs := repository.NewFeedbackMessageRepository(db)
	svc := NewFeedbackService(repository.NewUserRepository(db), repository.NewRatingRepository(db), msgs, &InAppDeliverer{Repo: msgs}, "", zap.NewNop())

	msg, err := svc.LatestMessage(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, msg)

	u := testutil.CreateUser(t, db, "Ariel", 100, 2, true)
	testutil.CreateImage(t, db, "A.png", model.ClassificationLowRisk, "", testutil.Float(1))
	testutil.CreateAnswer(t, db, u.ID, "A.png", testutil.Float(10), false)
	_, err = svc.DeliverAll(ctx, "run-9")
	require.NoError(t, err)

	msg, err = svc.LatestMessage(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "run-9", msg.RunID)
	assert.Equal(t, "Your Performance Feedback", msg.Subject)
	assert.Contains(t, msg.Body, "A.png with a rating of 1.00")
}
