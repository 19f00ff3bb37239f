package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Storage
	DBPath    string
	UseMockDB bool
	UploadDir string

	// HTTP server (health, metrics, webhook)
	Port int

	// Bot mode configuration
	WebhookMode bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL  string // Public base URL for webhooks (required if WebhookMode is true)

	// Logging
	LogLevel string
	LogDev   bool

	// Bot manager
	ReloadInterval time.Duration
	ReloadSignal   string

	// Outbound Telegram guards, per bot
	SendRatePerSecond float64
	SendBurst         int
	BreakerFailures   uint32
	BreakerTimeout    time.Duration

	FileIDCacheTTL time.Duration

	// ClickHouse impression mirror (optional, enabled when ClickHouseHost is set)
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool
}

// MirrorEnabled reports whether impressions are copied to ClickHouse
func (c *Config) MirrorEnabled() bool {
	return c.ClickHouseHost != ""
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}
	var err error

	config.UseMockDB = os.Getenv("USE_MOCK_DB") == "true"
	config.DBPath = getString("DB_PATH", "data/dripbot.db")
	config.UploadDir = getString("UPLOAD_DIR", "uploads")

	if config.Port, err = getInt("PORT", 8080); err != nil {
		return nil, err
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d", config.Port)
	}

	// Bot mode configuration
	config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if config.WebhookMode {
		config.WebhookURL = strings.TrimRight(os.Getenv("WEBHOOK_URL"), "/")
		if config.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
		if !strings.HasPrefix(config.WebhookURL, "https://") {
			return nil, fmt.Errorf("WEBHOOK_URL must use https")
		}
	}

	config.LogLevel = strings.ToLower(getString("LOG_LEVEL", "info"))
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL: %s", config.LogLevel)
	}
	config.LogDev = os.Getenv("LOG_DEV") == "true"

	if config.ReloadInterval, err = getDuration("BOT_RELOAD_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	config.ReloadSignal = getString("BOT_RELOAD_SIGNAL", ".bot-reload")

	if config.SendRatePerSecond, err = getFloat("SEND_RATE_PER_SECOND", 25); err != nil {
		return nil, err
	}
	if config.SendBurst, err = getInt("SEND_BURST", 5); err != nil {
		return nil, err
	}
	failures, err := getInt("SEND_BREAKER_FAILURES", 5)
	if err != nil {
		return nil, err
	}
	if failures < 1 {
		return nil, fmt.Errorf("SEND_BREAKER_FAILURES must be at least 1")
	}
	config.BreakerFailures = uint32(failures)
	if config.BreakerTimeout, err = getDuration("SEND_BREAKER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	if config.FileIDCacheTTL, err = getDuration("FILE_ID_CACHE_TTL", 2*time.Hour); err != nil {
		return nil, err
	}

	// ClickHouse configuration (optional)
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.ClickHouseHost != "" {
		if config.ClickHousePort, err = getInt("CLICKHOUSE_PORT", 9000); err != nil {
			return nil, err
		}
		config.ClickHouseDatabase = getString("CLICKHOUSE_DATABASE", "default")
		config.ClickHouseUser = getString("CLICKHOUSE_USER", "default")
		config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		// Password is optional, can be empty
		config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	}

	return config, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
