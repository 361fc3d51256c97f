package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BusConfig holds the core message bus's tunables.
type BusConfig struct {
	AckTimeout   time.Duration `yaml:"ack_timeout"`
	AutoAck      bool          `yaml:"auto_ack"`
	TickDuration time.Duration `yaml:"tick_duration"`
}

// WorkerGroupConfig configures one fixed-size worker group bound to a kind.
type WorkerGroupConfig struct {
	Kind         string        `yaml:"kind"`
	Size         int           `yaml:"size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WorkerPoolConfig holds the default poll interval and any statically
// configured worker groups to start at daemon boot.
type WorkerPoolConfig struct {
	PollInterval time.Duration       `yaml:"poll_interval"`
	Groups       []WorkerGroupConfig `yaml:"groups"`
}

// RecurringEntryConfig registers one cron-driven resubmission.
type RecurringEntryConfig struct {
	Name     string `yaml:"name"`
	CronExpr string `yaml:"cron_expr"`
	Kind     string `yaml:"kind"`
	Payload  string `yaml:"payload"`
}

// SchedulerConfig holds recurring-schedule entries loaded at boot.
type SchedulerConfig struct {
	Recurring []RecurringEntryConfig `yaml:"recurring"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`     // otlp-http, stdout
	Endpoint    string  `yaml:"endpoint"`     // e.g. localhost:4318
	ServiceName string  `yaml:"service_name"` // e.g. taskbusd
	SampleRate  float64 `yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// RedisConfig holds connection settings for the optional cross-process
// lifecycle event publisher.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Bus           BusConfig           `yaml:"bus"`
	WorkerPool    WorkerPoolConfig    `yaml:"worker_pool"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Observability ObservabilityConfig `yaml:"observability"`
	Redis         RedisConfig         `yaml:"redis"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			AckTimeout:   time.Minute,
			AutoAck:      false,
			TickDuration: time.Second,
		},
		WorkerPool: WorkerPoolConfig{
			PollInterval: 100 * time.Millisecond,
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":8080",
			LogLevel: "info",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "taskbusd",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "taskbus",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
	}
}

// LoadFromFile loads configuration from a YAML file, applying it on top
// of DefaultConfig so that an omitted section keeps its default value.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TASKBUS_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("TASKBUS_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}

	if v := os.Getenv("TASKBUS_BUS_ACK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bus.AckTimeout = d
		}
	}
	if v := os.Getenv("TASKBUS_BUS_AUTO_ACK"); v != "" {
		cfg.Bus.AutoAck = parseBool(v)
	}
	if v := os.Getenv("TASKBUS_BUS_TICK_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bus.TickDuration = d
		}
	}

	if v := os.Getenv("TASKBUS_WORKERPOOL_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WorkerPool.PollInterval = d
		}
	}

	if v := os.Getenv("TASKBUS_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("TASKBUS_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("TASKBUS_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("TASKBUS_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("TASKBUS_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("TASKBUS_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("TASKBUS_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("TASKBUS_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}

	if v := os.Getenv("TASKBUS_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v)
	}
	if v := os.Getenv("TASKBUS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("TASKBUS_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
