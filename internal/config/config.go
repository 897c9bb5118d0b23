package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	// Telegram
	BotToken       string
	BotUsername    string
	AdminID        int64
	OperatorChatID int64
	WithdrawChatID int64
	WebAppURL      string
	AdminKey       string

	// HTTP
	HTTPPort int

	// Storage
	DBPath       string
	DataDir      string
	SettingsPath string
	StoreBackend string
	RedisURL     string

	// External calls
	VerifyTimeout   time.Duration
	NotifyTimeout   time.Duration
	PenaltyPacing   time.Duration
	BroadcastPacing time.Duration

	// Jobs
	AuditInterval       time.Duration
	LeaderboardInterval time.Duration
	LeaderboardSize     int

	// Rewards
	ReferralReward decimal.Decimal
	AdReward       decimal.Decimal
	AdsDailyLimit  int
}

func Load() *Config {
	cfg := &Config{
		// Telegram
		BotToken:       getEnv("BOT_TOKEN", ""),
		BotUsername:    getEnv("BOT_USERNAME", "commando_rewards_bot"),
		AdminID:        getEnvInt64("ADMIN_ID", 0),
		OperatorChatID: getEnvInt64("OPERATOR_CHAT_ID", 0),
		WithdrawChatID: getEnvInt64("WITHDRAW_CHAT_ID", 0),
		WebAppURL:      strings.TrimSuffix(getEnv("WEBAPP_URL", "https://cmd-pearl.vercel.app"), "/"),
		AdminKey:       getEnv("ADMIN_KEY", ""),

		// HTTP
		HTTPPort: getEnvInt("HTTP_PORT", 5000),

		// Storage
		DBPath:       getEnv("DB_PATH", "./bot.db"),
		DataDir:      getEnv("DATA_DIR", "."),
		SettingsPath: getEnv("SETTINGS_PATH", "./settings.json"),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "file")),
		RedisURL:     getEnv("REDIS_URL", "localhost:6379"),

		// External calls
		VerifyTimeout:   getEnvDuration("VERIFY_TIMEOUT", 5*time.Second),
		NotifyTimeout:   getEnvDuration("NOTIFY_TIMEOUT", 8*time.Second),
		PenaltyPacing:   getEnvDuration("PENALTY_PACING", 1500*time.Millisecond),
		BroadcastPacing: getEnvDuration("BROADCAST_PACING", 50*time.Millisecond),

		// Jobs
		AuditInterval:       getEnvDuration("AUDIT_INTERVAL", 0),
		LeaderboardInterval: getEnvDuration("LEADERBOARD_INTERVAL", time.Hour),
		LeaderboardSize:     getEnvInt("LEADERBOARD_SIZE", 10),

		// Rewards
		ReferralReward: getEnvDecimal("REFERRAL_REWARD", decimal.NewFromInt(3)),
		AdReward:       getEnvDecimal("AD_REWARD", decimal.RequireFromString("0.05")),
		AdsDailyLimit:  getEnvInt("ADS_DAILY_LIMIT", 50),
	}

	// Operator notifications fall back to the admin's private chat
	if cfg.OperatorChatID == 0 {
		cfg.OperatorChatID = cfg.AdminID
	}
	if cfg.WithdrawChatID == 0 {
		cfg.WithdrawChatID = cfg.OperatorChatID
	}

	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}
