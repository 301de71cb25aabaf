package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	badgerstore "agilitytrack/adapters/badger"
	"agilitytrack/adapters/redis"
	"agilitytrack/adapters/sqlx"
	mqttpub "agilitytrack/integrations/mqtt"
)

// PathEnv names the environment variable holding an optional config file.
const PathEnv = "AGILITY_CONFIG"

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	Environment Environment `json:"environment" koanf:"environment" env:"AGILITY_ENV"`
	Profile     string      `json:"profile" koanf:"profile" env:"AGILITY_PROFILE"`

	Server   ServerConfig   `json:"server" koanf:"server"`
	Storage  StorageConfig  `json:"storage" koanf:"storage"`
	Logging  LoggingConfig  `json:"logging" koanf:"logging"`
	Metrics  MetricsConfig  `json:"metrics" koanf:"metrics"`
	Security SecurityConfig `json:"security" koanf:"security"`
	Progress ProgressConfig `json:"progress" koanf:"progress"`
	Webhook  WebhookConfig  `json:"webhook" koanf:"webhook"`
	MQTT     MQTTConfig     `json:"mqtt" koanf:"mqtt"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" koanf:"address" env:"AGILITY_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" koanf:"path_prefix" env:"AGILITY_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" koanf:"cors_origin" env:"AGILITY_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" koanf:"read_timeout" env:"AGILITY_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" koanf:"write_timeout" env:"AGILITY_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" koanf:"idle_timeout" env:"AGILITY_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" koanf:"read_header_timeout" env:"AGILITY_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" koanf:"shutdown_timeout" env:"AGILITY_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig selects and configures the persistence adapter.
type StorageConfig struct {
	Adapter string       `json:"adapter" koanf:"adapter" env:"AGILITY_STORAGE_ADAPTER"`
	Redis   RedisConfig  `json:"redis" koanf:"redis"`
	SQL     SQLConfig    `json:"sql" koanf:"sql"`
	File    FileConfig   `json:"file" koanf:"file"`
	Badger  BadgerConfig `json:"badger" koanf:"badger"`
}

type RedisConfig struct {
	Addr         string        `json:"addr" koanf:"addr" env:"AGILITY_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" koanf:"password" env:"AGILITY_REDIS_PASSWORD"`
	DB           int           `json:"db" koanf:"db" env:"AGILITY_REDIS_DB"`
	PoolSize     int           `json:"pool_size" koanf:"pool_size" env:"AGILITY_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" koanf:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout" koanf:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" koanf:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" koanf:"write_timeout"`
	KeyPrefix    string        `json:"key_prefix" koanf:"key_prefix" env:"AGILITY_REDIS_KEY_PREFIX"`
}

// Adapter converts to the redis adapter's configuration.
func (r RedisConfig) Adapter() redis.Config {
	return redis.Config{
		Addr:         r.Addr,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
		KeyPrefix:    r.KeyPrefix,
	}
}

type SQLConfig struct {
	Driver          string        `json:"driver" koanf:"driver" env:"AGILITY_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" koanf:"dsn" env:"AGILITY_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" koanf:"max_open_conns" env:"AGILITY_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" koanf:"conn_max_lifetime"`
}

// Adapter converts to the sqlx adapter's configuration.
func (s SQLConfig) Adapter() sqlx.Config {
	return sqlx.Config{
		Driver:          sqlx.Driver(s.Driver),
		DSN:             s.DSN,
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxLifetime: s.ConnMaxLifetime,
	}
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" koanf:"path" env:"AGILITY_STORAGE_FILE_PATH"`
}

type BadgerConfig struct {
	Path           string        `json:"path" koanf:"path" env:"AGILITY_BADGER_PATH"`
	InMemory       bool          `json:"in_memory" koanf:"in_memory" env:"AGILITY_BADGER_IN_MEMORY"`
	SyncWrites     bool          `json:"sync_writes" koanf:"sync_writes"`
	GCInterval     time.Duration `json:"gc_interval" koanf:"gc_interval"`
	GCDiscardRatio float64       `json:"gc_discard_ratio" koanf:"gc_discard_ratio"`
}

// Adapter converts to the badger adapter's configuration.
func (b BadgerConfig) Adapter() badgerstore.Config {
	return badgerstore.Config{
		Path:           b.Path,
		InMemory:       b.InMemory,
		SyncWrites:     b.SyncWrites,
		GCInterval:     b.GCInterval,
		GCDiscardRatio: b.GCDiscardRatio,
	}
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" koanf:"level" env:"AGILITY_LOG_LEVEL"`
	Format     string            `json:"format" koanf:"format" env:"AGILITY_LOG_FORMAT"`
	Output     string            `json:"output" koanf:"output" env:"AGILITY_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" koanf:"attributes" env:"AGILITY_LOG_ATTRIBUTES"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" koanf:"enabled" env:"AGILITY_METRICS_ENABLED"`
	Address       string `json:"address" koanf:"address" env:"AGILITY_METRICS_ADDR"`
	Path          string `json:"path" koanf:"path" env:"AGILITY_METRICS_PATH"`
	CollectSystem bool   `json:"collect_system" koanf:"collect_system" env:"AGILITY_METRICS_COLLECT_SYSTEM"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" koanf:"enable_rate_limit" env:"AGILITY_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit" koanf:"rate_limit"`
	APIKeys         []string        `json:"api_keys,omitempty" koanf:"api_keys" env:"AGILITY_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" koanf:"requests_per_minute" env:"AGILITY_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" koanf:"burst_size" env:"AGILITY_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" koanf:"cleanup_interval" env:"AGILITY_SECURITY_RATE_LIMIT_CLEANUP"`
}

// ProgressConfig tunes the progression service.
type ProgressConfig struct {
	// ReportCacheTTL caches per-dog progress reports. Zero disables caching.
	ReportCacheTTL time.Duration `json:"report_cache_ttl" koanf:"report_cache_ttl" env:"AGILITY_PROGRESS_REPORT_CACHE_TTL"`
	// Dispatch is "sync" or "async" event delivery.
	Dispatch string `json:"dispatch" koanf:"dispatch" env:"AGILITY_PROGRESS_DISPATCH"`
}

// WebhookConfig lists endpoints notified of level-ups.
type WebhookConfig struct {
	Endpoints []string      `json:"endpoints,omitempty" koanf:"endpoints" env:"AGILITY_WEBHOOK_ENDPOINTS"`
	Timeout   time.Duration `json:"timeout" koanf:"timeout" env:"AGILITY_WEBHOOK_TIMEOUT"`
}

// MQTTConfig publishes progression events to a broker.
type MQTTConfig struct {
	Enabled     bool          `json:"enabled" koanf:"enabled" env:"AGILITY_MQTT_ENABLED"`
	Broker      string        `json:"broker" koanf:"broker" env:"AGILITY_MQTT_BROKER"`
	ClientID    string        `json:"client_id" koanf:"client_id" env:"AGILITY_MQTT_CLIENT_ID"`
	Username    string        `json:"username,omitempty" koanf:"username" env:"AGILITY_MQTT_USERNAME"`
	Password    string        `json:"password,omitempty" koanf:"password" env:"AGILITY_MQTT_PASSWORD"`
	TopicPrefix string        `json:"topic_prefix" koanf:"topic_prefix" env:"AGILITY_MQTT_TOPIC_PREFIX"`
	QoS         int           `json:"qos" koanf:"qos" env:"AGILITY_MQTT_QOS"`
	Timeout     time.Duration `json:"timeout" koanf:"timeout" env:"AGILITY_MQTT_TIMEOUT"`
}

// Adapter converts to the publisher's own config.
func (m MQTTConfig) Adapter() mqttpub.Config {
	return mqttpub.Config{
		Broker:      m.Broker,
		ClientID:    m.ClientID,
		Username:    m.Username,
		Password:    m.Password,
		TopicPrefix: m.TopicPrefix,
		QoS:         byte(m.QoS),
		Timeout:     m.Timeout,
	}
}

// Load layers defaults, the optional file named by AGILITY_CONFIG, and the
// environment, then validates the result.
func Load() (*Config, error) {
	return load(DefaultConfig(), os.Getenv(PathEnv))
}

// LoadFromFile loads configuration from a YAML or JSON file. Environment
// variables still override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}
	return load(DefaultConfig(), path)
}

func load(base *Config, path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		// YAML is a superset of JSON, so one parser covers both.
		if err := k.Load(file.Provider(filepath.Clean(path)), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := k.Load(envProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}
	cleanPath := filepath.Clean(path)
	switch strings.ToLower(filepath.Ext(cleanPath)) {
	case ".json", ".yaml", ".yml":
	default:
		return errors.New("config file must have .json, .yaml or .yml extension")
	}
	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	redisDefaults := redis.DefaultConfig()
	sqlDefaults := sqlx.DefaultConfig(sqlx.DriverPostgres)
	badgerDefaults := badgerstore.DefaultConfig()
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis: RedisConfig{
				Addr:         redisDefaults.Addr,
				DB:           redisDefaults.DB,
				PoolSize:     redisDefaults.PoolSize,
				MinIdleConns: redisDefaults.MinIdleConns,
				DialTimeout:  redisDefaults.DialTimeout,
				ReadTimeout:  redisDefaults.ReadTimeout,
				WriteTimeout: redisDefaults.WriteTimeout,
				KeyPrefix:    redisDefaults.KeyPrefix,
			},
			SQL: SQLConfig{
				Driver:          string(sqlDefaults.Driver),
				DSN:             sqlDefaults.DSN,
				MaxOpenConns:    sqlDefaults.MaxOpenConns,
				MaxIdleConns:    sqlDefaults.MaxIdleConns,
				ConnMaxLifetime: sqlDefaults.ConnMaxLifetime,
			},
			File: FileConfig{Path: "./data/agility.json"},
			Badger: BadgerConfig{
				Path:           badgerDefaults.Path,
				SyncWrites:     badgerDefaults.SyncWrites,
				GCInterval:     badgerDefaults.GCInterval,
				GCDiscardRatio: badgerDefaults.GCDiscardRatio,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			Address:       ":9090",
			Path:          "/metrics",
			CollectSystem: true,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
		Progress: ProgressConfig{
			ReportCacheTTL: 30 * time.Second,
			Dispatch:       "async",
		},
		Webhook: WebhookConfig{Timeout: 2 * time.Second},
		MQTT: MQTTConfig{
			ClientID:    "agilitytrack",
			TopicPrefix: "agility",
			QoS:         1,
			Timeout:     10 * time.Second,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string
	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}
	sections := []struct {
		name string
		err  error
	}{
		{"server", c.Server.Validate()},
		{"storage", c.Storage.Validate()},
		{"logging", c.Logging.Validate()},
		{"metrics", c.Metrics.Validate()},
		{"security", c.Security.Validate()},
		{"progress", c.Progress.Validate()},
		{"webhook", c.Webhook.Validate()},
		{"mqtt", c.MQTT.Validate()},
	}
	for _, s := range sections {
		if s.err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, s.err))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c
	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.MQTT.Password != "" {
		cfg.MQTT.Password = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
