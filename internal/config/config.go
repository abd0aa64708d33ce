package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Config struct {
	// Secrets (from .env)
	APIKey          string
	SessionSecret   string
	WebhookURL      string
	AppName         string
	CORSAllowOrigin string

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// API
	APIPort int

	// MSE price history source
	MSEBaseURL           string
	MSEHistoryPath       string
	MSEMaxConnsPerHost   int
	MSERetryAttempts     int
	MSERetryDelay        time.Duration
	MSERequestsPerSecond int
	MSEWindowDays        int
	MSELookbackYears     int

	// News
	NewsAPIURL        string
	NewsAttachmentURL string
	NewsStartDate     string
	NewsCSVPath       string
	NewsWorkers       int
	NewsStreaming     bool

	// Analysis
	SentimentCSVPath string

	// Company list cache
	CompaniesCachePath string
	CompaniesCacheTTL  time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	// Scheduling
	IngestCron      string
	IngestOnStartup bool

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Secrets
		APIKey:          envStr("API_KEY", ""),
		SessionSecret:   envStr("SESSION_SECRET", ""),
		WebhookURL:      envStr("WEBHOOK_URL", ""),
		AppName:         envStr("APP_NAME", "MSEAnalytics"),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),

		// Database
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "stocks_db"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),

		APIPort: envInt("API_PORT", 8000),

		// MSE
		MSEBaseURL:           envStr("MSE_BASE_URL", "https://www.mse.mk"),
		MSEHistoryPath:       envStr("MSE_HISTORY_PATH", "/en/stats/symbolhistory"),
		MSEMaxConnsPerHost:   envInt("MSE_MAX_CONNS_PER_HOST", 10),
		MSERetryAttempts:     envInt("MSE_RETRY_ATTEMPTS", 5),
		MSERetryDelay:        envDuration("MSE_RETRY_DELAY", 2*time.Second),
		MSERequestsPerSecond: envInt("MSE_REQUESTS_PER_SECOND", 0),
		MSEWindowDays:        envInt("MSE_WINDOW_DAYS", 365),
		MSELookbackYears:     envInt("MSE_LOOKBACK_YEARS", 10),

		// News
		NewsAPIURL:        envStr("NEWS_API_URL", "https://api.seinet.com.mk/public/documents"),
		NewsAttachmentURL: envStr("NEWS_ATTACHMENT_URL", "https://api.seinet.com.mk/public/documents/attachment"),
		NewsStartDate:     envStr("NEWS_START_DATE", "2022-01-01T00:00:00"),
		NewsCSVPath:       envStr("NEWS_CSV_PATH", "scraped_vesti.csv"),
		NewsWorkers:       envInt("NEWS_WORKERS", 8),
		NewsStreaming:     envBool("NEWS_STREAMING", false),

		SentimentCSVPath: envStr("SENTIMENT_CSV_PATH", "sentiment_data.csv"),

		// Companies cache
		CompaniesCachePath: envStr("COMPANIES_CACHE_PATH", "valid_companies.txt"),
		CompaniesCacheTTL:  envDuration("COMPANIES_CACHE_TTL", 24*time.Hour),
		RedisAddr:          envStr("REDIS_ADDR", ""),
		RedisPassword:      envStr("REDIS_PASSWORD", ""),
		RedisDB:            envInt("REDIS_DB", 0),

		// Scheduling (weekdays, after the exchange closes)
		IngestCron:      envStr("INGEST_CRON", "30 15 * * 1-5"),
		IngestOnStartup: envBool("INGEST_ON_STARTUP", false),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "console"),
	}

	return cfg, nil
}

// Validate returns an error for unusable settings and logs warnings for
// settings that only degrade behavior.
func (c *Config) Validate(logger *zap.Logger) error {
	var errs []string

	if c.DBUser == "" {
		errs = append(errs, "DB_USER is required")
	}
	if c.MSEMaxConnsPerHost <= 0 {
		errs = append(errs, "MSE_MAX_CONNS_PER_HOST must be positive")
	}
	if c.MSERetryAttempts <= 0 {
		errs = append(errs, "MSE_RETRY_ATTEMPTS must be positive")
	}
	if c.MSEWindowDays <= 0 {
		errs = append(errs, "MSE_WINDOW_DAYS must be positive")
	}
	if c.NewsWorkers <= 0 {
		errs = append(errs, "NEWS_WORKERS must be positive")
	}
	if _, err := time.Parse("2006-01-02T15:04:05", c.NewsStartDate); err != nil {
		errs = append(errs, fmt.Sprintf("NEWS_START_DATE %q is not YYYY-MM-DDTHH:MM:SS", c.NewsStartDate))
	}
	if c.IngestCron != "" {
		if _, err := cron.ParseStandard(c.IngestCron); err != nil {
			errs = append(errs, fmt.Sprintf("INGEST_CRON %q: %v", c.IngestCron, err))
		}
	}

	if c.APIKey == "" {
		logger.Warn("API_KEY not set, REST API has no authentication")
	}
	if c.SessionSecret == "" {
		logger.Warn("SESSION_SECRET not set, login sessions are disabled")
	}
	if c.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, company list cached on disk", zap.String("path", c.CompaniesCachePath))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Log writes the effective configuration, secrets elided.
func (c *Config) Log(logger *zap.Logger) {
	logger.Info("configuration",
		zap.String("db", fmt.Sprintf("%s:%d/%s", c.DBHost, c.DBPort, c.DBName)),
		zap.Int("api_port", c.APIPort),
		zap.String("auth", boolLabel(c.APIKey != "", "api key", "disabled")),
		zap.String("mse", c.MSEBaseURL+c.MSEHistoryPath),
		zap.Int("mse_conns_per_host", c.MSEMaxConnsPerHost),
		zap.Int("mse_retry_attempts", c.MSERetryAttempts),
		zap.Duration("mse_retry_delay", c.MSERetryDelay),
		zap.Int("mse_window_days", c.MSEWindowDays),
		zap.String("news_api", c.NewsAPIURL),
		zap.String("news_csv", c.NewsCSVPath),
		zap.Int("news_workers", c.NewsWorkers),
		zap.String("news_mode", boolLabel(c.NewsStreaming, "streaming", "collect-then-process")),
		zap.String("companies_cache", boolLabel(c.RedisAddr != "", "redis "+c.RedisAddr, "file "+c.CompaniesCachePath)),
		zap.String("ingest_cron", boolLabel(c.IngestCron != "", c.IngestCron, "disabled")),
	)
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// HistoryURL is the per-instrument price history endpoint without the code.
func (c *Config) HistoryURL() string {
	return strings.TrimRight(c.MSEBaseURL, "/") + c.MSEHistoryPath
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

// envDuration accepts Go durations ("2s", "24h") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
