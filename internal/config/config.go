// Package config содержит логику чтения конфигурации кликер-бота.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса кликер-бота.
// Все значения фиксируются на старте и не меняются во время работы.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	BridgeAddress string `env:"BRIDGE_ADDRESS"`
	VerifyAddress string `env:"VERIFY_ADDRESS"`
	WebhookSecret string `env:"WEBHOOK_SECRET" envDefault:"clickerbot-secret"`

	AdminUserIDs []int64 `env:"ADMIN_USER_IDS" envSeparator:","`

	PostsDir string `env:"POSTS_DIR" envDefault:"storage/posts"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	BackupInterval time.Duration `env:"BACKUP_INTERVAL" envDefault:"60s"`

	ViewRewardTenths    int64 `env:"VIEW_REWARD_TENTHS" envDefault:"1"`
	PostCostTenths      int64 `env:"POST_COST_TENTHS" envDefault:"10"`
	PointsPerUnitTenths int64 `env:"POINTS_PER_UNIT_TENTHS" envDefault:"10"`

	MinDwellSeconds int `env:"MIN_DWELL_SECONDS" envDefault:"60"`
	MaxDwellSeconds int `env:"MAX_DWELL_SECONDS" envDefault:"80"`

	CuratedQuota int `env:"CURATED_QUOTA" envDefault:"4"`
	GeneralQuota int `env:"GENERAL_QUOTA" envDefault:"6"`

	ChallengeTTL time.Duration `env:"CHALLENGE_TTL" envDefault:"10m"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBridgeAddress := cfg.BridgeAddress
	envVerifyAddress := cfg.VerifyAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BridgeAddress, "b", "", "chat bridge address")
	flag.StringVar(&cfg.VerifyAddress, "v", "", "screenshot verification service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBridgeAddress != "" {
		cfg.BridgeAddress = envBridgeAddress
	}
	if envVerifyAddress != "" {
		cfg.VerifyAddress = envVerifyAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.MinDwellSeconds <= 0 || cfg.MaxDwellSeconds < cfg.MinDwellSeconds {
		return nil, fmt.Errorf("invalid dwell window: [%d, %d]", cfg.MinDwellSeconds, cfg.MaxDwellSeconds)
	}

	return cfg, nil
}
