package config

import (
	"log"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Kite Connect credentials
	KiteAPIKey      string
	KiteAccessToken string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string

	// Trading
	Exchange string

	// Notifications (all optional)
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	// Worker pools and queues
	TickWorkers   int
	DBWorkers     int
	TickQueueSize int
	JobQueueSize  int

	// Timeouts
	ConnectTimeout time.Duration
	SweepInterval  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		KiteAPIKey:      mustEnv("KITE_API_KEY"),
		KiteAccessToken: mustEnv("KITE_ACCESS_TOKEN"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/orders.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		Exchange: getEnv("EXCHANGE", "NSE"),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		TickWorkers:   getEnvInt("TICK_WORKERS", defaultTickWorkers()),
		DBWorkers:     getEnvInt("DB_WORKERS", 2),
		TickQueueSize: getEnvInt("TICK_QUEUE_SIZE", 4096),
		JobQueueSize:  getEnvInt("JOB_QUEUE_SIZE", 4096),

		ConnectTimeout: getEnvDuration("CONNECT_TIMEOUT", 10*time.Second),
		SweepInterval:  getEnvDuration("CACHE_SWEEP_INTERVAL", 5*time.Minute),
	}
}

// defaultTickWorkers leaves one core free for the feed and persistence side.
func defaultTickWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
