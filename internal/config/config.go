package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"todo-proj/internal/store"
)

// Config is the runtime configuration of the todo service and CLI.
type Config struct {
	Driver         string        `mapstructure:"driver"`
	DSN            string        `mapstructure:"dsn"`
	HTTPAddr       string        `mapstructure:"http_addr"`
	StaticDir      string        `mapstructure:"static_dir"`
	RedisURL       string        `mapstructure:"redis_url"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	EventsTopic    string        `mapstructure:"events_topic"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
}

const EnvPrefix = "TODO"

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("driver", "sqlite3")
	v.SetDefault("dsn", "todo.db")
	v.SetDefault("http_addr", ":3000")
	v.SetDefault("static_dir", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("idempotency_ttl", "24h")
	v.SetDefault("events_topic", "todos")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load reads configuration from defaults, an optional file named by the
// "config" key, and the environment, then validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// DB_FILE and STORE_DSN are honored for older deployments.
	if err := v.BindEnv("dsn", EnvPrefix+"_DSN", "STORE_DSN", "DB_FILE"); err != nil {
		return nil, err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	name, err := store.DriverName(c.Driver)
	if err != nil {
		return err
	}
	c.Driver = name
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn is required")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("idempotency_ttl must be positive, got %s", c.IdempotencyTTL)
	}
	if c.EventsTopic == "" {
		return fmt.Errorf("events_topic is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q not supported (want text or json)", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger from the log settings.
func (c *Config) NewLogger() *logrus.Logger {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		l.SetLevel(lvl)
	}
	if c.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}
