// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database      DatabaseConfig      `json:"database"`
	Server        ServerConfig        `json:"server"`
	Vault         VaultConfig         `json:"vault"`
	ProxyProvider ProxyProviderConfig `json:"proxy_provider"`
	Telephony     TelephonyConfig     `json:"telephony"`
	Monitor       MonitorConfig       `json:"monitor"`
	Limits        LimitsConfig        `json:"limits"`
	Cache         CacheConfig         `json:"cache"`
	Logging       LoggingConfig       `json:"logging"`
	Metrics       MetricsConfig       `json:"metrics"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per minute
}

// VaultConfig configures the credential vault. MasterKey must decode to
// exactly 32 bytes; anything else is a fatal startup error.
type VaultConfig struct {
	MasterKeyHex   string `json:"-"`
	KDFIterations  int    `json:"kdf_iterations"`
	KeyIDPrefix    string `json:"key_id_prefix"`
	DerivedKeySize int    `json:"derived_key_size"`
}

type ProxyProviderConfig struct {
	BaseURL          string        `json:"base_url"`
	APIKey           string        `json:"-"`
	Timeout          time.Duration `json:"timeout"`
	RetryCount       int           `json:"retry_count"`
	RetryBackoff     time.Duration `json:"retry_backoff"`
	RateLimitMax     int           `json:"rate_limit_max"`    // requests per window
	RateLimitWindow  time.Duration `json:"rate_limit_window"` // sliding window size
	TestEndpoint     string        `json:"test_endpoint"`     // round-trip target for connectivity tests
	DefaultType      string        `json:"default_type"`      // residential
	DurationDays     int           `json:"duration_days"`
	BandwidthGB      int           `json:"bandwidth_gb"`
	RequiredCountry  string        `json:"required_country"`
	DefaultLocations []string      `json:"default_locations"`
}

type TelephonyConfig struct {
	BaseURL           string        `json:"base_url"`
	AccountSID        string        `json:"account_sid"`
	AuthToken         string        `json:"-"`
	Timeout           time.Duration `json:"timeout"`
	SMSWebhookURL     string        `json:"sms_webhook_url"`
	VoiceWebhookURL   string        `json:"voice_webhook_url"`
	DefaultCountry    string        `json:"default_country"`
	MonthlyCostUSD    float64       `json:"monthly_cost_usd"`
	SearchResultLimit int           `json:"search_result_limit"`
}

type MonitorConfig struct {
	SweepInterval      time.Duration `json:"sweep_interval"`
	ReputationInterval time.Duration `json:"reputation_interval"`
	GeoRecheckInterval time.Duration `json:"geo_recheck_interval"`
}

// LimitsConfig holds per-expert budget and concurrency ceilings.
type LimitsConfig struct {
	MaxMonthlyCostUSD  float64 `json:"max_monthly_cost_usd"`
	MaxProxiesPerExpert int    `json:"max_proxies_per_expert"`
	MaxPhonesPerExpert  int    `json:"max_phones_per_expert"`
}

type CacheConfig struct {
	RedisURL      string        `json:"redis_url"`
	RedisDB       int           `json:"redis_db"`
	RedisPrefix   string        `json:"redis_prefix"`
	RedisPassword string        `json:"-"`
	LockTTL       time.Duration `json:"lock_ttl"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // megabytes
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoadProductionConfig loads configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load .env file if it exists (for development)
	if err := loadEnvFile(); err != nil {
		fmt.Printf("Warning: failed to load .env file: %v\n", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "island_properties"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 1*1024*1024),
			GlobalRateLimit: getEnvInt("GLOBAL_RATE_LIMIT", 2000),
		},
		Vault: VaultConfig{
			MasterKeyHex:   getEnvString("VAULT_MASTER_KEY", ""),
			KDFIterations:  getEnvInt("VAULT_KDF_ITERATIONS", 100000),
			KeyIDPrefix:    getEnvString("VAULT_KEY_ID_PREFIX", "expert_"),
			DerivedKeySize: 32,
		},
		ProxyProvider: ProxyProviderConfig{
			BaseURL:          getEnvString("PROXY_PROVIDER_BASE_URL", "https://api.proxy-marketplace.com/v1"),
			APIKey:           getEnvString("PROXY_PROVIDER_API_KEY", ""),
			Timeout:          getEnvDuration("PROXY_PROVIDER_TIMEOUT", 30*time.Second),
			RetryCount:       getEnvInt("PROXY_PROVIDER_RETRY_COUNT", 3),
			RetryBackoff:     getEnvDuration("PROXY_PROVIDER_RETRY_BACKOFF", 2*time.Second),
			RateLimitMax:     getEnvInt("PROXY_PROVIDER_RATE_LIMIT_MAX", 100),
			RateLimitWindow:  getEnvDuration("PROXY_PROVIDER_RATE_LIMIT_WINDOW", 60*time.Second),
			TestEndpoint:     getEnvString("PROXY_TEST_ENDPOINT", "https://api.ipify.org?format=json"),
			DefaultType:      getEnvString("PROXY_DEFAULT_TYPE", "residential"),
			DurationDays:     getEnvInt("PROXY_DURATION_DAYS", 30),
			BandwidthGB:      getEnvInt("PROXY_BANDWIDTH_GB", 5),
			RequiredCountry:  getEnvString("PROXY_REQUIRED_COUNTRY", "PH"),
			DefaultLocations: getEnvStringSlice("PROXY_DEFAULT_LOCATIONS", []string{"Manila", "Cebu", "Davao"}),
		},
		Telephony: TelephonyConfig{
			BaseURL:           getEnvString("TELEPHONY_BASE_URL", "https://api.telephony-provider.com/2010-04-01"),
			AccountSID:        getEnvString("TELEPHONY_ACCOUNT_SID", ""),
			AuthToken:         getEnvString("TELEPHONY_AUTH_TOKEN", ""),
			Timeout:           getEnvDuration("TELEPHONY_TIMEOUT", 30*time.Second),
			SMSWebhookURL:     getEnvString("TELEPHONY_SMS_WEBHOOK_URL", ""),
			VoiceWebhookURL:   getEnvString("TELEPHONY_VOICE_WEBHOOK_URL", ""),
			DefaultCountry:    getEnvString("TELEPHONY_DEFAULT_COUNTRY", "PH"),
			MonthlyCostUSD:    getEnvFloat("TELEPHONY_MONTHLY_COST_USD", 3.25),
			SearchResultLimit: getEnvInt("TELEPHONY_SEARCH_RESULT_LIMIT", 20),
		},
		Monitor: MonitorConfig{
			SweepInterval:      getEnvDuration("MONITOR_SWEEP_INTERVAL", 20*time.Minute),
			ReputationInterval: getEnvDuration("MONITOR_REPUTATION_INTERVAL", 1*time.Hour),
			GeoRecheckInterval: getEnvDuration("MONITOR_GEO_RECHECK_INTERVAL", 4*time.Hour),
		},
		Limits: LimitsConfig{
			MaxMonthlyCostUSD:   getEnvFloat("LIMIT_MAX_MONTHLY_COST_USD", 100),
			MaxProxiesPerExpert: getEnvInt("LIMIT_MAX_PROXIES_PER_EXPERT", 1),
			MaxPhonesPerExpert:  getEnvInt("LIMIT_MAX_PHONES_PER_EXPERT", 1),
		},
		Cache: CacheConfig{
			RedisURL:      getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:       getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix:   getEnvString("CACHE_REDIS_PREFIX", "island:"),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			LockTTL:       getEnvDuration("CACHE_LOCK_TTL", 2*time.Minute),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			FilePath:   getEnvString("LOG_FILE_PATH", "data/app.log"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MasterKey decodes the configured master key. The key must be supplied as
// 64 hex characters (32 bytes decoded).
func (v VaultConfig) MasterKey() ([]byte, error) {
	if v.MasterKeyHex == "" {
		return nil, fmt.Errorf("VAULT_MASTER_KEY is not set")
	}
	key, err := hex.DecodeString(v.MasterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("VAULT_MASTER_KEY is not valid hex: %w", err)
	}
	if len(key) != v.DerivedKeySize {
		return nil, fmt.Errorf("VAULT_MASTER_KEY must decode to %d bytes, got %d", v.DerivedKeySize, len(key))
	}
	return key, nil
}

// ValidateProductionConfig validates the configuration and fails hard on
// anything the process cannot safely run without.
func ValidateProductionConfig(cfg *ProductionConfig) error {
	if cfg.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	// Missing or malformed master key means credentials could be written
	// that can never be decrypted again. No degraded mode.
	if _, err := cfg.Vault.MasterKey(); err != nil {
		return fmt.Errorf("vault configuration invalid: %w", err)
	}
	if cfg.Vault.KDFIterations < 10000 {
		return fmt.Errorf("VAULT_KDF_ITERATIONS must be at least 10000")
	}

	if cfg.Limits.MaxMonthlyCostUSD <= 0 {
		return fmt.Errorf("LIMIT_MAX_MONTHLY_COST_USD must be positive")
	}
	if cfg.Limits.MaxProxiesPerExpert < 1 {
		return fmt.Errorf("LIMIT_MAX_PROXIES_PER_EXPERT must be at least 1")
	}

	if cfg.Monitor.SweepInterval < time.Minute {
		return fmt.Errorf("MONITOR_SWEEP_INTERVAL must be at least 1 minute")
	}

	return nil
}

// loadEnvFile loads environment variables from .env file if it exists
func loadEnvFile() error {
	file, err := os.Open(".env")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
