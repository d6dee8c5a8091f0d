package app

import (
	"context"
	"ecg_rating_backend/internal/config"
	"ecg_rating_backend/internal/controller"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/repository"
	"ecg_rating_backend/internal/service"
	"ecg_rating_backend/pkg/configwatcher"
	"ecg_rating_backend/pkg/database"
	"ecg_rating_backend/pkg/dtree"
	"ecg_rating_backend/pkg/logger"
	"ecg_rating_backend/pkg/monitoring"
	"ecg_rating_backend/pkg/security"
	"ecg_rating_backend/pkg/tracing"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	configMu        sync.Mutex
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user     *repository.UserRepository
	rating   *repository.RatingRepository
	runs     *repository.PipelineRunRepository
	messages *repository.FeedbackMessageRepository
}

type services struct {
	model    *service.RatingModelService
	trainer  *service.TrainerService
	updater  *service.RatingUpdaterService
	feedback *service.FeedbackService
	pipeline *service.PipelineService
	trigger  *service.DailyTrigger
}

type controllers struct {
	health   *controller.HealthController
	pipeline *controller.PipelineController
	feedback *controller.FeedbackController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configMu.Lock()
	defer a.configMu.Unlock()
	a.configCallbacks = append(a.configCallbacks, callback)
}

// applyConfig 配置文件变更后调用所有回调
func (a *App) applyConfig(cfg *config.Config) {
	a.configMu.Lock()
	callbacks := append([]func(*config.Config){}, a.configCallbacks...)
	a.configMu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:     repository.NewUserRepository(db),
		rating:   repository.NewRatingRepository(db),
		runs:     repository.NewPipelineRunRepository(db),
		messages: repository.NewFeedbackMessageRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) (*services, error) {
	log := logger.Log

	store, err := service.NewArtifactStore(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init artifact store: %w", err)
	}
	deliverer, err := service.NewDeliverer(&cfg.Feedback, repos.messages, log.Named("delivery"))
	if err != nil {
		return nil, fmt.Errorf("init feedback deliverer: %w", err)
	}

	var lock service.RunLock = service.NewLocalRunLock()
	if rdb != nil {
		lock = service.NewRedisRunLock(rdb, "")
	}

	params := dtree.Params{
		MaxDepth:        cfg.Pipeline.MaxDepth,
		MinSamplesSplit: cfg.Pipeline.MinSamplesSplit,
		MinSamplesLeaf:  cfg.Pipeline.MinSamplesLeaf,
	}

	s := &services{}
	s.model = service.NewRatingModelService(store, log.Named("model"))
	s.trainer = service.NewTrainerService(repos.rating, s.model, params, cfg.Pipeline.TreeDumpDir, log.Named("trainer"))
	s.updater = service.NewRatingUpdaterService(repos.rating, s.model, log.Named("updater"))
	s.feedback = service.NewFeedbackService(repos.user, repos.rating, repos.messages, deliverer, cfg.Feedback.Subject, log.Named("feedback"))
	s.pipeline = service.NewPipelineService(s.trainer, s.updater, s.feedback, repos.runs, lock, log.Named("pipeline"))
	s.pipeline.SetFeedbackAfterTrainFailure(cfg.Pipeline.FeedbackAfterTrainFailure)
	if cfg.Pipeline.LockTTLMinutes > 0 {
		s.pipeline.LockTTL = time.Duration(cfg.Pipeline.LockTTLMinutes) * time.Minute
	}

	s.trigger, err = service.NewDailyTrigger(s.pipeline, cfg.Pipeline.DailyAt, log.Named("scheduler"))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		health:   controller.NewHealthController(db, rdb),
		pipeline: controller.NewPipelineController(s.pipeline, s.model),
		feedback: controller.NewFeedbackController(s.feedback),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.Server.AllowedOrigins))
	router.Use(security.Secure())
	if cfg.RateLimit.MaxRequests > 0 {
		window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
		if window <= 0 {
			window = time.Minute
		}
		router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, window))
	}

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) registerConfigCallbacks() {
	a.RegisterConfigCallback(func(cfg *config.Config) {
		logger.SetLevel(cfg.Log.Level)
		logger.Log.Info("log level updated", zap.String("level", cfg.Log.Level))
	})
	a.RegisterConfigCallback(func(cfg *config.Config) {
		if err := a.services.trigger.SetDailyAt(cfg.Pipeline.DailyAt); err != nil {
			logger.Log.Warn("invalid daily_at in reloaded config", zap.Error(err))
		}
	})
	a.RegisterConfigCallback(func(cfg *config.Config) {
		a.services.pipeline.SetFeedbackAfterTrainFailure(cfg.Pipeline.FeedbackAfterTrainFailure)
	})
}

func NewApp(cfg *config.Config) (*App, error) {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
	}
	if cfg.MigrateOnly {
		return app, nil
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	app.Redis = rdb

	repos := app.initRepositories(db)
	app.services, err = app.initServices(repos, cfg, rdb)
	if err != nil {
		return nil, err
	}
	controllers := app.initControllers(app.services, db, rdb)

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("ecg-rating-pipeline", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		app.tracer = tp
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router
	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)
	app.registerConfigCallbacks()

	return app, nil
}

// RunOnce 执行一次流水线后返回，用于命令行
func (a *App) RunOnce(ctx context.Context) error {
	_, err := a.services.pipeline.Run(ctx, model.TriggerCLI)
	return err
}

func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.Config.ConfigPath != "" {
		go configwatcher.WatchConfig(ctx, a.Config.ConfigPath, a.applyConfig)
	}
	if a.Config.Pipeline.Enabled {
		go a.services.trigger.Start(ctx)
	}

	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	a.Close(shutdownCtx)

	logger.Log.Info("Server exiting")
}

func (a *App) Close(ctx context.Context) {
	if err := tracing.Shutdown(ctx, a.tracer); err != nil {
		logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
