package database

import (
	"ecg_rating_backend/internal/config"
	"ecg_rating_backend/internal/model"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig, mode string) (*gorm.DB, error) {
	logLevel := logger.Warn
	if mode == "debug" {
		logLevel = logger.Info
	}
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "" {
			os.MkdirAll(dir, 0755)
		}
		db, err = OpenSQLite(cfg.Path, gormCfg)
	default:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.DBName,
			cfg.Charset,
			cfg.ParseTime,
		)
		db, err = gorm.Open(mysql.Open(dsn), gormCfg)
	}
	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")
	return db, nil
}

// OpenSQLite 单连接，保证 :memory: 数据库在整个连接池内可见
func OpenSQLite(path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if gormCfg == nil {
		gormCfg = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}
	db, err := gorm.Open(sqlite.Open(path), gormCfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Answer{},
		&model.Exam{},
		&model.ExamAnswer{},
		&model.ImageClassification{},
		&model.PipelineRun{},
		&model.FeedbackMessage{},
	)
	if err != nil {
		return err
	}
	log.Println("Database migration completed")
	return nil
}
