package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Proxy    ProxyConfig
	Browser  BrowserConfig
	Scraper  ScraperConfig
	Cache    CacheConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProxyAuthMode selects how the upstream provisioning API is authenticated.
// Exactly one mode is configured at startup.
type ProxyAuthMode string

const (
	AuthModeAPIKey        ProxyAuthMode = "api_key"
	AuthModeLoginPassword ProxyAuthMode = "login_password"
)

type ProxyConfig struct {
	APIBaseURL string
	AuthMode   ProxyAuthMode
	APIKey     string
	Login      string
	Password   string

	Host string
	Port int
	Geo  string

	SubUserQuotaBytes int64
	WarnThresholdPct  int
	CheckInterval     time.Duration
}

type BrowserConfig struct {
	Headless         bool
	NavTimeout       time.Duration
	SelectorTimeout  time.Duration
	ChallengeTimeout time.Duration
	ViewportWidth    int
	ViewportHeight   int
	AcceptLanguage   string
	TimezoneID       string
	Locale           string
	UserAgent        string
}

type ScraperConfig struct {
	BaseURL       string
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	RateLimitMin  time.Duration
	RateLimitMax  time.Duration
	UseRendered   bool
}

type CacheConfig struct {
	FragranceTTL time.Duration
	SearchTTL    time.Duration
	LogRetention time.Duration
	SweepEvery   time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "fragrance_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: getIntOrDefault("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Proxy: ProxyConfig{
			APIBaseURL:        getEnvOrDefault("PROXY_API_URL", "https://api.proxyprovider.example"),
			AuthMode:          ProxyAuthMode(getEnvOrDefault("PROXY_AUTH_MODE", string(AuthModeAPIKey))),
			APIKey:            getEnvOrDefault("PROXY_API_KEY", ""),
			Login:             getEnvOrDefault("PROXY_LOGIN", ""),
			Password:          getEnvOrDefault("PROXY_PASSWORD", ""),
			Host:              getEnvOrDefault("PROXY_HOST", "gate.proxyprovider.example"),
			Port:              getIntOrDefault("PROXY_PORT", 7000),
			Geo:               getEnvOrDefault("PROXY_GEO", "us"),
			SubUserQuotaBytes: getInt64OrDefault("PROXY_SUBUSER_QUOTA_BYTES", 1024*1024*1024),
			WarnThresholdPct:  getIntOrDefault("PROXY_WARN_THRESHOLD_PCT", 90),
			CheckInterval:     getDurationOrDefault("PROXY_CHECK_INTERVAL", 5*time.Minute),
		},
		Browser: BrowserConfig{
			Headless:         getBoolOrDefault("BROWSER_HEADLESS", true),
			NavTimeout:       getDurationOrDefault("BROWSER_NAV_TIMEOUT", 60*time.Second),
			SelectorTimeout:  getDurationOrDefault("BROWSER_SELECTOR_TIMEOUT", 10*time.Second),
			ChallengeTimeout: getDurationOrDefault("BROWSER_CHALLENGE_TIMEOUT", 90*time.Second),
			ViewportWidth:    getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight:   getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage:   getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:       getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:           getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			UserAgent:        getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
		},
		Scraper: ScraperConfig{
			BaseURL:       getEnvOrDefault("SCRAPER_BASE_URL", "https://www.parfumo.com"),
			MaxRetries:    getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			RetryDelay:    getDurationOrDefault("SCRAPER_RETRY_DELAY", 2*time.Second),
			MaxRetryDelay: getDurationOrDefault("SCRAPER_MAX_RETRY_DELAY", 30*time.Second),
			RateLimitMin:  getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax:  getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 8*time.Second),
			UseRendered:   getBoolOrDefault("SCRAPER_USE_RENDERED", true),
		},
		Cache: CacheConfig{
			FragranceTTL: getDurationOrDefault("CACHE_FRAGRANCE_TTL", 7*24*time.Hour),
			SearchTTL:    getDurationOrDefault("CACHE_SEARCH_TTL", 24*time.Hour),
			LogRetention: getDurationOrDefault("CACHE_LOG_RETENTION", 30*24*time.Hour),
			SweepEvery:   getDurationOrDefault("CACHE_SWEEP_INTERVAL", 1*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Proxy.AuthMode {
	case AuthModeAPIKey:
		if c.Proxy.APIKey == "" {
			return fmt.Errorf("PROXY_API_KEY is required when PROXY_AUTH_MODE=api_key")
		}
	case AuthModeLoginPassword:
		if c.Proxy.Login == "" || c.Proxy.Password == "" {
			return fmt.Errorf("PROXY_LOGIN and PROXY_PASSWORD are required when PROXY_AUTH_MODE=login_password")
		}
	default:
		return fmt.Errorf("unknown PROXY_AUTH_MODE %q", c.Proxy.AuthMode)
	}

	if c.Proxy.WarnThresholdPct < 1 || c.Proxy.WarnThresholdPct > 100 {
		return fmt.Errorf("PROXY_WARN_THRESHOLD_PCT must be between 1 and 100")
	}

	if c.Proxy.SubUserQuotaBytes < 1 {
		return fmt.Errorf("PROXY_SUBUSER_QUOTA_BYTES must be positive")
	}

	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}

	if c.Scraper.RetryDelay > c.Scraper.MaxRetryDelay {
		return fmt.Errorf("SCRAPER_RETRY_DELAY cannot be greater than SCRAPER_MAX_RETRY_DELAY")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if !strings.HasPrefix(c.Scraper.BaseURL, "http") {
		return fmt.Errorf("SCRAPER_BASE_URL must be an absolute URL")
	}

	return nil
}

// WarnBytes converts the percentage threshold into an absolute byte count
// for a given quota.
func (p *ProxyConfig) WarnBytes(quota int64) int64 {
	return quota * int64(p.WarnThresholdPct) / 100
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
