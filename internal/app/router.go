package app

import (
	"ecg_rating_backend/docs"
	"ecg_rating_backend/internal/config"
	"ecg_rating_backend/internal/middleware"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())
	router.GET("/health", c.health.HealthCheck)

	// 普通用户
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	{
		api.GET("/feedback/latest", c.feedback.GetLatest)
	}

	// 管理员
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.RoleAdmin))
	{
		admin.POST("/pipeline/run", c.pipeline.TriggerRun)
		admin.GET("/pipeline/runs", c.pipeline.ListRuns)
		admin.GET("/pipeline/model", c.pipeline.GetModel)
		admin.GET("/feedback/:userId/preview", c.feedback.PreviewFeedback)
	}
}
