// Package config provides configuration management and environment variable handling for the application
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/amirphl/claim-router/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database     DatabaseConfig     `json:"database"`
	Server       ServerConfig       `json:"server"`
	Security     SecurityConfig     `json:"security"`
	JWT          JWTConfig          `json:"jwt"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	Cache        CacheConfig        `json:"cache"`
	Queue        QueueConfig        `json:"queue"`
	Bootstrap    BootstrapConfig    `json:"bootstrap"`
	Routing      RoutingConfig      `json:"routing"`
	Notification NotificationConfig `json:"notification"`
	Deployment   DeploymentConfig   `json:"deployment"`
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
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

// DSN returns the postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	BodyLimit       int           `json:"body_limit"`
	ProxyHeader     string        `json:"proxy_header"`
}

// Address returns host:port
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type SecurityConfig struct {
	AllowedOrigins   []string      `json:"allowed_origins"`
	AllowCredentials bool          `json:"allow_credentials"`
	GlobalRateLimit  int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow  time.Duration `json:"rate_limit_window"`
}

type JWTConfig struct {
	SecretKey  string        `json:"secret_key"`
	PrivateKey string        `json:"private_key"`
	PublicKey  string        `json:"public_key"`
	UseRSAKeys bool          `json:"use_rsa_keys"`
	TokenTTL   time.Duration `json:"token_ttl"`
	Issuer     string        `json:"issuer"`
	Audience   string        `json:"audience"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // json, text
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
	AddSource  bool   `json:"add_source"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	RedisURL     string        `json:"redis_url"`
	RedisDB      int           `json:"redis_db"`
	RuleCacheTTL time.Duration `json:"rule_cache_ttl"`
}

// QueueConfig describes the Redis stream claims are consumed from
type QueueConfig struct {
	Stream           string        `json:"stream"`
	Group            string        `json:"group"`
	Consumer         string        `json:"consumer"`
	DeadLetterStream string        `json:"dead_letter_stream"`
	Prefetch         int           `json:"prefetch"`
	BlockTimeout     time.Duration `json:"block_timeout"`
	ClaimIdle        time.Duration `json:"claim_idle"`
	MaxDeliveries    int64         `json:"max_deliveries"`
	HandlerTimeout   time.Duration `json:"handler_timeout"`
}

// BootstrapConfig controls the ingestion supervisor
type BootstrapConfig struct {
	AutoStart           bool          `json:"auto_start"`
	MaxRetries          int           `json:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"`
	AutoRestart         bool          `json:"auto_restart"`
	HealthCheckSchedule string        `json:"health_check_schedule"`
}

type RoutingConfig struct {
	SelectionPolicy string        `json:"selection_policy"`
	LockTTL         time.Duration `json:"lock_ttl"`
}

type NotificationConfig struct {
	Sink          string        `json:"sink"` // none, log, webhook
	WebhookURL    string        `json:"webhook_url"`
	WebhookSecret string        `json:"webhook_secret"`
	Timeout       time.Duration `json:"timeout"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

var defaults = map[string]any{
	"DB_HOST":               "localhost",
	"DB_PORT":               5432,
	"DB_NAME":               "claim_router",
	"DB_USER":               "postgres",
	"DB_PASSWORD":           "",
	"DB_SSL_MODE":           "disable",
	"DB_MAX_OPEN_CONNS":     50,
	"DB_MAX_IDLE_CONNS":     10,
	"DB_CONN_MAX_LIFETIME":  30 * time.Minute,
	"DB_CONN_MAX_IDLE_TIME": 15 * time.Minute,
	"DB_SLOW_QUERY_TIME":    time.Second,

	"SERVER_HOST":             "0.0.0.0",
	"SERVER_PORT":             8080,
	"SERVER_READ_TIMEOUT":     30 * time.Second,
	"SERVER_WRITE_TIMEOUT":    30 * time.Second,
	"SERVER_IDLE_TIMEOUT":     120 * time.Second,
	"SERVER_SHUTDOWN_TIMEOUT": utils.DefaultShutdownTimeout,
	"SERVER_REQUEST_TIMEOUT":  utils.DefaultRequestTimeout,
	"SERVER_BODY_LIMIT":       4 * 1024 * 1024,
	"SERVER_PROXY_HEADER":     "",

	"CORS_ALLOWED_ORIGINS":   "*",
	"CORS_ALLOW_CREDENTIALS": false,
	"GLOBAL_RATE_LIMIT":      600,
	"RATE_LIMIT_WINDOW":      time.Minute,

	"JWT_SECRET_KEY":  "",
	"JWT_PRIVATE_KEY": "",
	"JWT_PUBLIC_KEY":  "",
	"JWT_USE_RSA":     false,
	"JWT_TOKEN_TTL":   time.Hour,
	"JWT_ISSUER":      "claim-router",
	"JWT_AUDIENCE":    "claim-router-api",

	"LOG_LEVEL":       "info",
	"LOG_FORMAT":      "json",
	"LOG_OUTPUT":      "stdout",
	"LOG_FILE_PATH":   "logs/claim-router.log",
	"LOG_MAX_SIZE":    100,
	"LOG_MAX_BACKUPS": 10,
	"LOG_MAX_AGE":     30,
	"LOG_COMPRESS":    true,
	"LOG_ADD_SOURCE":  false,

	"METRICS_ENABLED": true,
	"METRICS_PATH":    "/metrics",

	"REDIS_URL":      "redis://localhost:6379/0",
	"REDIS_DB":       -1,
	"RULE_CACHE_TTL": utils.DefaultRuleCacheTTL,

	"QUEUE_STREAM":             "claims",
	"QUEUE_GROUP":              "claim-router",
	"QUEUE_CONSUMER":           "",
	"QUEUE_DEAD_LETTER_STREAM": "claims.dead-letter",
	"QUEUE_PREFETCH":           8,
	"QUEUE_BLOCK_TIMEOUT":      5 * time.Second,
	"QUEUE_CLAIM_IDLE":         time.Minute,
	"QUEUE_MAX_DELIVERIES":     5,
	"QUEUE_HANDLER_TIMEOUT":    utils.DefaultRequestTimeout,

	"BOOTSTRAP_AUTO_START":            true,
	"BOOTSTRAP_MAX_RETRIES":           utils.DefaultMaxRetries,
	"BOOTSTRAP_RETRY_DELAY":           utils.DefaultRetryDelay,
	"BOOTSTRAP_AUTO_RESTART":          true,
	"BOOTSTRAP_HEALTH_CHECK_SCHEDULE": "@every 1m",

	"ROUTING_SELECTION_POLICY": "first",
	"ROUTING_LOCK_TTL":         utils.DefaultLockTTL,

	"NOTIFICATION_SINK":           "log",
	"NOTIFICATION_WEBHOOK_URL":    "",
	"NOTIFICATION_WEBHOOK_SECRET": "",
	"NOTIFICATION_TIMEOUT":        5 * time.Second,

	"APP_ENV":     "production",
	"APP_VERSION": "dev",
}

// NewViper returns a viper instance with every default registered and
// environment lookup enabled. configFile, when set, is read on top.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

// LoadProductionConfig loads .env, then the optional config file, then the environment
func LoadProductionConfig(configFile string) (*ProductionConfig, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}

	cfg := FromViper(v)
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper assembles the configuration from resolved keys
func FromViper(v *viper.Viper) *ProductionConfig {
	return &ProductionConfig{
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			Name:            v.GetString("DB_NAME"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			SSLMode:         v.GetString("DB_SSL_MODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("DB_CONN_MAX_IDLE_TIME"),
			SlowQueryTime:   v.GetDuration("DB_SLOW_QUERY_TIME"),
		},
		Server: ServerConfig{
			Host:            v.GetString("SERVER_HOST"),
			Port:            v.GetInt("SERVER_PORT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("SERVER_IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			RequestTimeout:  v.GetDuration("SERVER_REQUEST_TIMEOUT"),
			BodyLimit:       v.GetInt("SERVER_BODY_LIMIT"),
			ProxyHeader:     v.GetString("SERVER_PROXY_HEADER"),
		},
		Security: SecurityConfig{
			AllowedOrigins:   splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
			AllowCredentials: v.GetBool("CORS_ALLOW_CREDENTIALS"),
			GlobalRateLimit:  v.GetInt("GLOBAL_RATE_LIMIT"),
			RateLimitWindow:  v.GetDuration("RATE_LIMIT_WINDOW"),
		},
		JWT: JWTConfig{
			SecretKey:  v.GetString("JWT_SECRET_KEY"),
			PrivateKey: v.GetString("JWT_PRIVATE_KEY"),
			PublicKey:  v.GetString("JWT_PUBLIC_KEY"),
			UseRSAKeys: v.GetBool("JWT_USE_RSA"),
			TokenTTL:   v.GetDuration("JWT_TOKEN_TTL"),
			Issuer:     v.GetString("JWT_ISSUER"),
			Audience:   v.GetString("JWT_AUDIENCE"),
		},
		Logging: LoggingConfig{
			Level:      strings.ToLower(v.GetString("LOG_LEVEL")),
			Format:     strings.ToLower(v.GetString("LOG_FORMAT")),
			Output:     strings.ToLower(v.GetString("LOG_OUTPUT")),
			FilePath:   v.GetString("LOG_FILE_PATH"),
			MaxSize:    v.GetInt("LOG_MAX_SIZE"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAge:     v.GetInt("LOG_MAX_AGE"),
			Compress:   v.GetBool("LOG_COMPRESS"),
			AddSource:  v.GetBool("LOG_ADD_SOURCE"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
			Path:    v.GetString("METRICS_PATH"),
		},
		Cache: CacheConfig{
			RedisURL:     v.GetString("REDIS_URL"),
			RedisDB:      v.GetInt("REDIS_DB"),
			RuleCacheTTL: v.GetDuration("RULE_CACHE_TTL"),
		},
		Queue: QueueConfig{
			Stream:           v.GetString("QUEUE_STREAM"),
			Group:            v.GetString("QUEUE_GROUP"),
			Consumer:         v.GetString("QUEUE_CONSUMER"),
			DeadLetterStream: v.GetString("QUEUE_DEAD_LETTER_STREAM"),
			Prefetch:         v.GetInt("QUEUE_PREFETCH"),
			BlockTimeout:     v.GetDuration("QUEUE_BLOCK_TIMEOUT"),
			ClaimIdle:        v.GetDuration("QUEUE_CLAIM_IDLE"),
			MaxDeliveries:    v.GetInt64("QUEUE_MAX_DELIVERIES"),
			HandlerTimeout:   v.GetDuration("QUEUE_HANDLER_TIMEOUT"),
		},
		Bootstrap: BootstrapConfig{
			AutoStart:           v.GetBool("BOOTSTRAP_AUTO_START"),
			MaxRetries:          v.GetInt("BOOTSTRAP_MAX_RETRIES"),
			RetryDelay:          v.GetDuration("BOOTSTRAP_RETRY_DELAY"),
			AutoRestart:         v.GetBool("BOOTSTRAP_AUTO_RESTART"),
			HealthCheckSchedule: v.GetString("BOOTSTRAP_HEALTH_CHECK_SCHEDULE"),
		},
		Routing: RoutingConfig{
			SelectionPolicy: strings.ToLower(v.GetString("ROUTING_SELECTION_POLICY")),
			LockTTL:         v.GetDuration("ROUTING_LOCK_TTL"),
		},
		Notification: NotificationConfig{
			Sink:          strings.ToLower(v.GetString("NOTIFICATION_SINK")),
			WebhookURL:    v.GetString("NOTIFICATION_WEBHOOK_URL"),
			WebhookSecret: v.GetString("NOTIFICATION_WEBHOOK_SECRET"),
			Timeout:       v.GetDuration("NOTIFICATION_TIMEOUT"),
		},
		Deployment: DeploymentConfig{
			Environment: v.GetString("APP_ENV"),
			Version:     v.GetString("APP_VERSION"),
		},
	}
}

// loadEnvFile loads .env from the working directory when present.
// Variables already set in the environment win.
func loadEnvFile() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errs []string

	if cfg.Database.Host == "" {
		errs = append(errs, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errs = append(errs, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errs = append(errs, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errs = append(errs, "DB_USER is required")
	}

	if cfg.JWT.UseRSAKeys {
		if cfg.JWT.PublicKey == "" {
			errs = append(errs, "JWT_PUBLIC_KEY is required when JWT_USE_RSA is enabled")
		}
	} else if len(cfg.JWT.SecretKey) < 32 {
		errs = append(errs, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.TokenTTL <= 0 {
		errs = append(errs, "JWT_TOKEN_TTL must be positive")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 || cfg.Server.WriteTimeout <= 0 || cfg.Server.IdleTimeout <= 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT, SERVER_WRITE_TIMEOUT and SERVER_IDLE_TIMEOUT must be positive")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "LOG_LEVEL must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, "LOG_FORMAT must be json or text")
	}
	switch cfg.Logging.Output {
	case "stdout":
	case "file", "both":
		if cfg.Logging.FilePath == "" {
			errs = append(errs, "LOG_FILE_PATH is required when logging to a file")
		}
	default:
		errs = append(errs, "LOG_OUTPUT must be one of: stdout, file, both")
	}

	if cfg.Cache.RedisURL == "" {
		errs = append(errs, "REDIS_URL is required")
	}

	if cfg.Queue.Stream == "" || cfg.Queue.Group == "" {
		errs = append(errs, "QUEUE_STREAM and QUEUE_GROUP are required")
	}
	if cfg.Queue.DeadLetterStream == "" || cfg.Queue.DeadLetterStream == cfg.Queue.Stream {
		errs = append(errs, "QUEUE_DEAD_LETTER_STREAM is required and must differ from QUEUE_STREAM")
	}
	if cfg.Queue.Prefetch <= 0 {
		errs = append(errs, "QUEUE_PREFETCH must be positive")
	}
	if cfg.Queue.MaxDeliveries <= 0 {
		errs = append(errs, "QUEUE_MAX_DELIVERIES must be positive")
	}
	if cfg.Queue.ClaimIdle <= 0 {
		errs = append(errs, "QUEUE_CLAIM_IDLE must be positive")
	}

	if cfg.Bootstrap.MaxRetries <= 0 {
		errs = append(errs, "BOOTSTRAP_MAX_RETRIES must be positive")
	}
	if cfg.Bootstrap.RetryDelay < 0 {
		errs = append(errs, "BOOTSTRAP_RETRY_DELAY must not be negative")
	}

	switch cfg.Routing.SelectionPolicy {
	case "first", "round_robin", "least_loaded":
	default:
		errs = append(errs, "ROUTING_SELECTION_POLICY must be one of: first, round_robin, least_loaded")
	}

	switch cfg.Notification.Sink {
	case "none", "log":
	case "webhook":
		if cfg.Notification.WebhookURL == "" {
			errs = append(errs, "NOTIFICATION_WEBHOOK_URL is required for the webhook sink")
		}
	default:
		errs = append(errs, "NOTIFICATION_SINK must be one of: none, log, webhook")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
