package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL  string        `env:"DATABASE_URL,required,notEmpty"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// Identity provider
	IdentityProjectID       string        `env:"IDENTITY_PROJECT_ID,required,notEmpty"`
	IdentityCredentialsFile string        `env:"IDENTITY_CREDENTIALS_FILE"`
	IdentityTimeout         time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`

	// Owner protection
	OwnerEmails []string `env:"OWNER_EMAILS" envSeparator:","`

	// Invitation
	InvitationTTL time.Duration `env:"INVITATION_TTL" envDefault:"168h"`

	// Stock sync
	SyncQueueSize         int           `env:"SYNC_QUEUE_SIZE" envDefault:"64"`
	StockMappingFile      string        `env:"STOCK_MAPPING_FILE"`
	ResyncInterval        time.Duration `env:"RESYNC_INTERVAL" envDefault:"1h"`
	SnapshotRetentionDays int           `env:"SNAPSHOT_RETENTION_DAYS" envDefault:"90"`

	// Rate Limit
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitPublic  int `env:"RATE_LIMIT_PUBLIC" envDefault:"20"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	owners := cfg.OwnerEmails[:0]
	for _, e := range cfg.OwnerEmails {
		if e = strings.TrimSpace(e); e != "" {
			owners = append(owners, e)
		}
	}
	cfg.OwnerEmails = owners

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var invalid []string
	if c.InvitationTTL <= 0 {
		invalid = append(invalid, "INVITATION_TTL")
	}
	if c.SyncQueueSize <= 0 {
		invalid = append(invalid, "SYNC_QUEUE_SIZE")
	}
	if c.RateLimitGeneral <= 0 {
		invalid = append(invalid, "RATE_LIMIT_GENERAL")
	}
	if c.RateLimitPublic <= 0 {
		invalid = append(invalid, "RATE_LIMIT_PUBLIC")
	}
	if c.SnapshotRetentionDays <= 0 {
		invalid = append(invalid, "SNAPSHOT_RETENTION_DAYS")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("environment variables must be positive: %v", invalid)
	}
	return nil
}
