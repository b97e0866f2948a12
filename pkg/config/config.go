package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"KasPull/pkg/amqp"
	"KasPull/pkg/logger"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"oneof=development staging production"`
	Log         logger.Config `yaml:"log"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s" validate:"gt=0"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics" validate:"startswith=/"`
	} `yaml:"metrics"`
	Source struct {
		URL       string        `yaml:"url" validate:"required,url"`
		Timeout   time.Duration `yaml:"timeout" default:"10s" validate:"gt=0"`
		UserAgent string        `yaml:"user_agent" default:"KasPull/1.0"`
		CacheBust bool          `yaml:"cache_bust" default:"true"`
		MaxBody   int64         `yaml:"max_body" default:"16384" validate:"gt=0"`
	} `yaml:"source"`
	Stabilizer struct {
		WindowSize            int     `yaml:"window_size" default:"5" validate:"gte=1,lte=50"`
		RequiredConfirmations int     `yaml:"required_confirmations" default:"2" validate:"gte=1"`
		ResetThreshold        float64 `yaml:"reset_threshold" default:"0.5" validate:"gt=0"`
		MinSupport            int     `yaml:"min_support" default:"2" validate:"gte=1"`
	} `yaml:"stabilizer"`
	Scheduler struct {
		BaseDelay  time.Duration `yaml:"base_delay" default:"15s" validate:"gt=0"`
		MinDelay   time.Duration `yaml:"min_delay" default:"5s" validate:"gt=0"`
		MaxDelay   time.Duration `yaml:"max_delay" default:"2m" validate:"gt=0"`
		Multiplier float64       `yaml:"multiplier" default:"2" validate:"gte=1"`
		MaxRetries int           `yaml:"max_retries" default:"3" validate:"gte=1"`
	} `yaml:"scheduler"`
	API struct {
		RefreshBurst     float64       `yaml:"refresh_burst" default:"3" validate:"gt=0"`
		RefreshPerSecond float64       `yaml:"refresh_per_second" default:"0.2" validate:"gt=0"`
		HistoryCacheTTL  time.Duration `yaml:"history_cache_ttl" default:"10s"`
	} `yaml:"api"`
	Events struct {
		Backend     string        `yaml:"backend" default:"none" validate:"oneof=kafka amqp none"`
		BufferSize  int           `yaml:"buffer_size" default:"256" validate:"gte=1"`
		MaxAttempts int           `yaml:"max_attempts" default:"5" validate:"gte=1"`
		MinBackoff  time.Duration `yaml:"min_backoff" default:"100ms"`
		MaxBackoff  time.Duration `yaml:"max_backoff" default:"5s"`
		Kafka       struct {
			Brokers      []string      `yaml:"brokers"`
			Topic        string        `yaml:"topic" default:"kaspull.balance"`
			RequiredAcks int           `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
			Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
		} `yaml:"kafka"`
		AMQP amqp.Config `yaml:"amqp"`
	} `yaml:"events"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
		Prefix   string `yaml:"prefix" default:"kaspull"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled     bool          `yaml:"enabled"`
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port" default:"9000"`
		Database    string        `yaml:"database" default:"kaspull"`
		User        string        `yaml:"user" default:"default"`
		Password    string        `yaml:"password"`
		AsyncInsert bool          `yaml:"async_insert"`
		DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout time.Duration `yaml:"read_timeout" default:"10s"`
	} `yaml:"clickhouse"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("KASPULL_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("KASPULL_SOURCE_URL"); v != "" {
		c.Source.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("AMQP_DSN"); v != "" {
		c.Events.AMQP.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	s := c.Scheduler
	if s.MinDelay > s.BaseDelay {
		return fmt.Errorf("scheduler.min_delay (%s) must not exceed base_delay (%s)", s.MinDelay, s.BaseDelay)
	}
	if s.BaseDelay > s.MaxDelay {
		return fmt.Errorf("scheduler.base_delay (%s) must not exceed max_delay (%s)", s.BaseDelay, s.MaxDelay)
	}
	if c.Stabilizer.MinSupport > c.Stabilizer.WindowSize {
		return fmt.Errorf("stabilizer.min_support (%d) must not exceed window_size (%d)", c.Stabilizer.MinSupport, c.Stabilizer.WindowSize)
	}

	switch c.Events.Backend {
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers cannot be empty when backend is kafka")
		}
	case "amqp":
		if c.Events.AMQP.DSN == "" {
			return fmt.Errorf("events.amqp.dsn is required when backend is amqp")
		}
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
