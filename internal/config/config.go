package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime option of the storefront bot. Secrets come from
// the environment; everything else has a default matching production.
type Config struct {
	AppEnv   string
	LogLevel string

	BotToken    string
	BotUsername string
	APIBaseURL  string
	PollTimeout time.Duration

	DatabaseURL    string
	DatabaseSchema string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	HTTPListenAddr   string
	HTTPBasePath     string
	MetricsNamespace string

	AdminID      int64
	OperatorIDs  []int64
	OperatorChat int64

	ForceSubChannelID       int64
	ForceSubChannelUsername string
	BroadcastChannel        string

	WarnDays       int
	DeleteDays     int
	RetentionHours int

	OutboxInterval   time.Duration
	OutboxBatchSize  int
	QueueCooldown    time.Duration
	StateTTL         time.Duration
	TransferMinLeft  int64
	ReferralRequired int
	ReferralLifetime time.Duration

	StateFilePath  string
	AdminActionLog string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "production"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		BotToken:    os.Getenv("BOT_TOKEN"),
		BotUsername: getEnv("BOT_USERNAME", ""),
		APIBaseURL:  getEnv("BOT_API_BASE_URL", "https://api.telegram.org"),
		PollTimeout: getDuration("BOT_POLL_TIMEOUT", 50*time.Second),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseSchema: getEnv("DATABASE_SCHEMA", "public"),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		RedisTLS:      getBool("REDIS_TLS", false),

		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		HTTPBasePath:     getEnv("HTTP_BASE_PATH", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "matjar"),

		AdminID:      getInt64("ADMIN_ID", 0),
		OperatorChat: getInt64("OPERATOR_CHAT_ID", 0),

		ForceSubChannelID:       getInt64("FORCE_SUB_CHANNEL_ID", 0),
		ForceSubChannelUsername: getEnv("FORCE_SUB_CHANNEL", ""),
		BroadcastChannel:        getEnv("BROADCAST_CHANNEL", ""),

		WarnDays:       getInt("WALLET_WARN_DAYS", 5),
		DeleteDays:     getInt("WALLET_DELETE_DAYS", 33),
		RetentionHours: getInt("RETENTION_HOURS", 14),

		OutboxInterval:   getDuration("OUTBOX_INTERVAL", 60*time.Second),
		OutboxBatchSize:  getInt("OUTBOX_BATCH_SIZE", 25),
		QueueCooldown:    getDuration("QUEUE_COOLDOWN", 120*time.Second),
		StateTTL:         getDuration("STATE_TTL", 120*time.Minute),
		TransferMinLeft:  getInt64("TRANSFER_MIN_LEFT", 6000),
		ReferralRequired: getInt("REFERRAL_REQUIRED", 2),
		ReferralLifetime: getDuration("REFERRAL_LIFETIME", 24*time.Hour),

		StateFilePath:  getEnv("STATE_FILE", "data/system_state.json"),
		AdminActionLog: getEnv("ADMIN_ACTION_LOG", "logs/admin_actions.log"),
	}

	for _, raw := range strings.Split(os.Getenv("OPERATOR_IDS"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("OPERATOR_IDS: invalid id %q", raw)
		}
		cfg.OperatorIDs = append(cfg.OperatorIDs, id)
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AdminID == 0 {
		return nil, fmt.Errorf("ADMIN_ID is required")
	}
	if cfg.OperatorChat == 0 {
		cfg.OperatorChat = cfg.AdminID
	}
	if cfg.OutboxBatchSize <= 0 {
		return nil, fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}

	return cfg, nil
}

// IsOperator reports whether id belongs to the operator set (the primary
// admin is always an operator).
func (c *Config) IsOperator(id int64) bool {
	if id == c.AdminID {
		return true
	}
	for _, op := range c.OperatorIDs {
		if op == id {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
