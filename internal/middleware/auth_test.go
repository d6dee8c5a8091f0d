package middleware

import (
	"ecg_rating_backend/internal/config"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/util"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api", AuthMiddleware(cfg))
	g.GET("/me", func(c *gin.Context) {
		util.Success(c, util.GetUserFromContext(c).UserID)
	})
	g.GET("/admin", RoleMiddleware(model.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func token(t *testing.T, role model.UserRole, secret string, ttl time.Duration) string {
	t.Helper()
	tok, err := util.GenerateJWT(&model.User{UUIDBase: model.UUIDBase{ID: "u-1"}, Role: role}, secret, ttl)
	require.NoError(t, err)
	return tok
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret
	r := newRouter(cfg)

	tests := []struct {
		name   string
		header string
		path   string
		want   int
	}{
		{"no token", "", "/api/me", http.StatusUnauthorized},
		{"bad signature", "Bearer " + token(t, model.RoleUser, "another-secret-another-secret-xx", time.Hour), "/api/me", http.StatusUnauthorized},
		{"expired", "Bearer " + token(t, model.RoleUser, testSecret, -time.Minute), "/api/me", http.StatusUnauthorized},
		{"user ok", "Bearer " + token(t, model.RoleUser, testSecret, time.Hour), "/api/me", http.StatusOK},
		{"user on admin route", "Bearer " + token(t, model.RoleUser, testSecret, time.Hour), "/api/admin", http.StatusForbidden},
		{"admin ok", "Bearer " + token(t, model.RoleAdmin, testSecret, time.Hour), "/api/admin", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
