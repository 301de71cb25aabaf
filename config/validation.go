package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"agilitytrack/adapters/sqlx"
)

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

func oneOf(field, value string, allowed ...string) string {
	if slices.Contains(allowed, value) {
		return ""
	}
	return fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", "))
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string
	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}
	if s.PathPrefix != "" && !strings.HasPrefix(s.PathPrefix, "/") {
		errs = append(errs, "path_prefix must start with /")
	}
	return joinErrs(errs)
}

// Validate validates storage configuration and the selected adapter's settings.
func (s *StorageConfig) Validate() error {
	var errs []string
	if msg := oneOf("adapter", s.Adapter, "memory", "file", "redis", "sql", "badger"); msg != "" {
		errs = append(errs, msg)
	}
	switch s.Adapter {
	case "file":
		if s.File.Path == "" {
			errs = append(errs, "file config: path cannot be empty")
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
		if s.Redis.PoolSize < 0 {
			errs = append(errs, "redis config: pool_size cannot be negative")
		}
	case "sql":
		if msg := oneOf("sql config: driver", s.SQL.Driver, string(sqlx.DriverPostgres), string(sqlx.DriverMySQL)); msg != "" {
			errs = append(errs, msg)
		}
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	case "badger":
		if !s.Badger.InMemory && s.Badger.Path == "" {
			errs = append(errs, "badger config: path cannot be empty unless in_memory is set")
		}
		if s.Badger.GCDiscardRatio < 0 || s.Badger.GCDiscardRatio >= 1 {
			errs = append(errs, "badger config: gc_discard_ratio must be in [0, 1)")
		}
	}
	return joinErrs(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string
	if msg := oneOf("level", l.Level, "debug", "info", "warn", "error"); msg != "" {
		errs = append(errs, msg)
	}
	if msg := oneOf("format", l.Format, "json", "text"); msg != "" {
		errs = append(errs, msg)
	}
	if msg := oneOf("output", l.Output, "stdout", "stderr"); msg != "" {
		errs = append(errs, msg)
	}
	return joinErrs(errs)
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	var errs []string
	if m.Enabled {
		if m.Address == "" {
			errs = append(errs, "address cannot be empty when metrics are enabled")
		}
		if m.Path == "" {
			errs = append(errs, "path cannot be empty when metrics are enabled")
		}
	}
	return joinErrs(errs)
}

// Validate validates security settings.
func (s *SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}

func (p *ProgressConfig) Validate() error {
	var errs []string
	if p.ReportCacheTTL < 0 {
		errs = append(errs, "report_cache_ttl cannot be negative")
	}
	if msg := oneOf("dispatch", p.Dispatch, "sync", "async"); msg != "" {
		errs = append(errs, msg)
	}
	return joinErrs(errs)
}

func (w *WebhookConfig) Validate() error {
	var errs []string
	for i, ep := range w.Endpoints {
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an http(s) URL", i))
		}
	}
	if len(w.Endpoints) > 0 && w.Timeout <= 0 {
		errs = append(errs, "timeout must be positive when endpoints are set")
	}
	return joinErrs(errs)
}

func (m *MQTTConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	var errs []string
	if m.Broker == "" {
		errs = append(errs, "broker is required when mqtt is enabled")
	} else if u, err := url.Parse(m.Broker); err != nil || u.Host == "" {
		errs = append(errs, "broker must be a URL such as tcp://host:1883")
	}
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, "qos must be 0, 1 or 2")
	}
	if m.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	return joinErrs(errs)
}
