package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はクライアントプロセス全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote
	StoreBaseURL  string
	NotifyBaseURL string
	LoginURL      string
	HTTPTimeout   time.Duration

	// Storage
	StorageDriver string
	StoragePath   string
	DatabaseURL   string

	// Sync
	SyncTimeout    time.Duration
	SyncCompensate bool

	// Project
	ProjectImageProbe bool

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	CookieSecure      bool

	// Logging
	LogLevel slog.Level
}

// ストレージドライバー
const (
	StorageDriverSQLite   = "sqlite"
	StorageDriverPostgres = "postgres"
)

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.StoreBaseURL = strings.TrimRight(os.Getenv("STORE_BASE_URL"), "/")
	if cfg.StoreBaseURL == "" {
		missing = append(missing, "STORE_BASE_URL")
	}

	cfg.NotifyBaseURL = strings.TrimRight(os.Getenv("NOTIFY_BASE_URL"), "/")
	if cfg.NotifyBaseURL == "" {
		missing = append(missing, "NOTIFY_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LoginURL = getEnvString("LOGIN_URL", cfg.StoreBaseURL+"/auth/github")
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 10*time.Second)
	cfg.StorageDriver = getEnvString("STORAGE_DRIVER", StorageDriverSQLite)
	cfg.StoragePath = getEnvString("STORAGE_PATH", "data/reporelay.db")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SyncTimeout = getEnvDuration("SYNC_TIMEOUT", 15*time.Second)
	cfg.SyncCompensate = getEnvBool("SYNC_COMPENSATE", false)
	cfg.ProjectImageProbe = getEnvBool("PROJECT_IMAGE_PROBE", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "5173")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", false)
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)

	switch cfg.StorageDriver {
	case StorageDriverSQLite:
	case StorageDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=%s", StorageDriverPostgres)
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER: %q", cfg.StorageDriver)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvLogLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
