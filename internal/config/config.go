package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Log       LogConfig
	Pipeline  PipelineConfig
	Feedback  FeedbackConfig
	JWT       JWTConfig
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ConfigPath  string `mapstructure:"-"`
	MigrateOnly bool   `mapstructure:"-"`
	RunOnce     bool   `mapstructure:"-"`
}

type ServerConfig struct {
	Port           string
	Mode           string
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver    string // mysql | sqlite
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	Path      string // sqlite 文件路径
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig 模型文件存储位置
type StorageConfig struct {
	Type          string `mapstructure:"type"` // local | minio | oss | memory
	LocalPath     string `mapstructure:"local_path"`
	ModelKey      string `mapstructure:"model_key"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioUseSSL   bool   `mapstructure:"minio_use_ssl"`
	OSSEndpoint   string `mapstructure:"oss_endpoint"`
	OSSAccessKey  string `mapstructure:"oss_access_key"`
	OSSSecretKey  string `mapstructure:"oss_secret_key"`
	OSSBucket     string `mapstructure:"oss_bucket"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	TraceFile  string `mapstructure:"trace_file"`
	ErrorFile  string `mapstructure:"error_file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type PipelineConfig struct {
	DailyAt                   string `mapstructure:"daily_at"` // HH:MM，本地时间
	Enabled                   bool   `mapstructure:"enabled"`
	MaxDepth                  int    `mapstructure:"max_depth"`
	MinSamplesSplit           int    `mapstructure:"min_samples_split"`
	MinSamplesLeaf            int    `mapstructure:"min_samples_leaf"`
	TreeDumpDir               string `mapstructure:"tree_dump_dir"`
	FeedbackAfterTrainFailure bool   `mapstructure:"feedback_after_train_failure"`
	LockTTLMinutes            int    `mapstructure:"lock_ttl_minutes"`
}

type FeedbackConfig struct {
	Channel       string  `mapstructure:"channel"` // console | smtp | sendgrid | inapp
	Subject       string  `mapstructure:"subject"`
	FromName      string  `mapstructure:"from_name"`
	FromEmail     string  `mapstructure:"from_email"`
	SMTPHost      string  `mapstructure:"smtp_host"`
	SMTPPort      int     `mapstructure:"smtp_port"`
	SMTPUser      string  `mapstructure:"smtp_user"`
	SMTPPassword  string  `mapstructure:"smtp_password"`
	SendgridKey   string  `mapstructure:"sendgrid_api_key"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("database.path", "data/ecg.db")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "data/models")
	v.SetDefault("storage.model_key", "rating_model")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.trace_file", "logs/trace.log")
	v.SetDefault("log.error_file", "logs/error.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("pipeline.enabled", true)
	v.SetDefault("pipeline.daily_at", "00:00")
	v.SetDefault("pipeline.max_depth", 6)
	v.SetDefault("pipeline.min_samples_split", 2)
	v.SetDefault("pipeline.min_samples_leaf", 1)
	v.SetDefault("pipeline.feedback_after_train_failure", false)
	v.SetDefault("pipeline.lock_ttl_minutes", 120)

	v.SetDefault("feedback.channel", "console")
	v.SetDefault("feedback.subject", "Your Performance Feedback")
	v.SetDefault("feedback.from_name", "ECG Analysis Team")
	v.SetDefault("feedback.smtp_port", 587)
	v.SetDefault("feedback.rate_per_second", 5)
	v.SetDefault("feedback.burst", 1)

	v.SetDefault("jwt.expire_hours", 24)

	v.SetDefault("rate_limit.max_requests", 600)
	v.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ECG_RATING")
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Storage / OSS
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")
	v.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	v.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	v.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	v.BindEnv("storage.oss_bucket", "OSS_BUCKET")

	// Feedback delivery
	v.BindEnv("feedback.channel", "FEEDBACK_CHANNEL")
	v.BindEnv("feedback.smtp_host", "SMTP_HOST")
	v.BindEnv("feedback.smtp_user", "SMTP_USER")
	v.BindEnv("feedback.smtp_password", "SMTP_PASSWORD")
	v.BindEnv("feedback.sendgrid_api_key", "SENDGRID_API_KEY")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, _, err := ParseDailyAt(c.Pipeline.DailyAt); err != nil {
		return err
	}

	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Feedback.Channel {
	case "console", "smtp", "sendgrid", "inapp":
	default:
		return fmt.Errorf("unsupported feedback channel %q", c.Feedback.Channel)
	}

	// 生产环境校验 JWT Secret 强度
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}
	return nil
}

// ParseDailyAt 解析 "HH:MM"
func ParseDailyAt(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pipeline.daily_at %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
