// @title ECG 难度评分流水线 API
// @version 1.0
// @description 图像难度评分与学习反馈流水线的运维接口。

// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"ecg_rating_backend/internal/app"
	"ecg_rating_backend/internal/config"
	"ecg_rating_backend/pkg/logger"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	configDir := flag.String("config", "configs", "配置文件目录")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	runOnce := flag.Bool("run-once", false, "执行一次流水线后退出，失败时退出码为 1")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.MigrateOnly = *migrateOnly
	cfg.RunOnce = *runOnce

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer logger.Log.Sync()

	// 迁移完成后直接退出
	if cfg.MigrateOnly {
		logger.Log.Info("Database migration finished")
		return
	}

	if cfg.RunOnce {
		err := application.RunOnce(context.Background())
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		application.Close(closeCtx)
		cancel()
		if err != nil {
			logger.Log.Error("Pipeline run failed", zap.Error(err))
			logger.Log.Sync()
			os.Exit(1)
		}
		return
	}

	application.Run()
}
