package controller

import (
	"context"
	"ecg_rating_backend/internal/config"
	"ecg_rating_backend/internal/middleware"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/repository"
	"ecg_rating_backend/internal/service"
	"ecg_rating_backend/internal/testutil"
	"ecg_rating_backend/internal/util"
	"ecg_rating_backend/pkg/dtree"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	db       *gorm.DB
	router   *gin.Engine
	pipeline *service.PipelineService
	lock     *service.LocalRunLock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := zap.NewNop()

	ratingRepo := repository.NewRatingRepository(db)
	messages := repository.NewFeedbackMessageRepository(db)
	m := service.NewRatingModelService(service.NewMemoryArtifactStore(), log)
	trainer := service.NewTrainerService(ratingRepo, m, dtree.DefaultParams(), "", log)
	updater := service.NewRatingUpdaterService(ratingRepo, m, log)
	feedback := service.NewFeedbackService(repository.NewUserRepository(db), ratingRepo, messages,
		&service.InAppDeliverer{Repo: messages}, "", log)
	lock := service.NewLocalRunLock()
	pipeline := service.NewPipelineService(trainer, updater, feedback, repository.NewPipelineRunRepository(db), lock, log)

	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret

	gin.SetMode(gin.TestMode)
	r := gin.New()
	health := NewHealthController(db, nil)
	pc := NewPipelineController(pipeline, m)
	fc := NewFeedbackController(feedback)

	r.GET("/health", health.HealthCheck)
	api := r.Group("/api", middleware.AuthMiddleware(cfg))
	api.GET("/feedback/latest", fc.GetLatest)
	admin := r.Group("/api/admin", middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.RoleAdmin))
	admin.POST("/pipeline/run", pc.TriggerRun)
	admin.GET("/pipeline/runs", pc.ListRuns)
	admin.GET("/pipeline/model", pc.GetModel)
	admin.GET("/feedback/:userId/preview", fc.PreviewFeedback)

	return &fixture{db: db, router: r, pipeline: pipeline, lock: lock}
}

func (f *fixture) do(t *testing.T, method, path string, user *model.User) (*httptest.ResponseRecorder, util.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if user != nil {
		tok, err := util.GenerateJWT(user, testSecret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp util.Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func admin() *model.User {
	return &model.User{UUIDBase: model.UUIDBase{ID: "admin-1"}, Role: model.RoleAdmin}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	w, resp := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", resp.Message)
}

func TestTriggerRun(t *testing.T) {
	f := newFixture(t)

	w, resp := f.do(t, http.MethodPost, "/api/admin/pipeline/run", admin())
	require.Equal(t, http.StatusAccepted, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.NotEmpty(t, data["runId"])

	require.Eventually(t, func() bool {
		w, resp := f.do(t, http.MethodGet, "/api/admin/pipeline/runs?limit=5", admin())
		if w.Code != http.StatusOK {
			return false
		}
		runs, _ := resp.Data.([]interface{})
		if len(runs) != 1 {
			return false
		}
		return runs[0].(map[string]interface{})["state"] == "DONE"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestTriggerRunConflict(t *testing.T) {
	f := newFixture(t)
	release, ok, err := f.lock.TryAcquire(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	w, _ := f.do(t, http.MethodPost, "/api/admin/pipeline/run", admin())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	user := &model.User{UUIDBase: model.UUIDBase{ID: "u-1"}, Role: model.RoleUser}

	w, _ := f.do(t, http.MethodGet, "/api/admin/pipeline/model", user)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = f.do(t, http.MethodGet, "/api/admin/pipeline/model", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetModelColdStart(t *testing.T) {
	f := newFixture(t)
	w, resp := f.do(t, http.MethodGet, "/api/admin/pipeline/model", admin())
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["trained"])
	assert.Equal(t, float64(0), data["version"])
	assert.Equal(t, "memory", data["store"])
}

func TestPreviewFeedback(t *testing.T) {
	f := newFixture(t)
	u := testutil.CreateUser(t, f.db, "Ariel", 100, 2, true)
	testutil.CreateImage(t, f.db, "A.png", model.ClassificationLowRisk, "", testutil.Float(1.5))
	testutil.CreateAnswer(t, f.db, u.ID, "A.png", testutil.Float(10), false)

	w, resp := f.do(t, http.MethodGet, "/api/admin/feedback/"+u.ID+"/preview", admin())
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Contains(t, data["body"], "A.png with a rating of 1.50")

	w, _ = f.do(t, http.MethodGet, "/api/admin/feedback/missing/preview", admin())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetLatestFeedback(t *testing.T) {
	f := newFixture(t)
	u := testutil.CreateUser(t, f.db, "Ariel", 100, 2, true)

	w, _ := f.do(t, http.MethodGet, "/api/feedback/latest", u)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, repository.NewFeedbackMessageRepository(f.db).Create(context.Background(), &model.FeedbackMessage{
		UserID: u.ID, RunID: "r1", Subject: "s", Body: "hello",
	}))
	w, resp := f.do(t, http.MethodGet, "/api/feedback/latest", u)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", resp.Data.(map[string]interface{})["body"])
}
