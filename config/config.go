// Package config loads scrapr's settings and the list of resources to poll.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/emilyzhang/scrapr/crawlerdb"
	"github.com/emilyzhang/scrapr/logger"
	"github.com/emilyzhang/scrapr/sink"
)

// ErrNoResources is returned when a configuration lists no resources.
var ErrNoResources = errors.New("no resources configured")

// DefaultPath is where the configuration is looked up when no path is given.
// The extension may be left out.
const DefaultPath = "./config"

// Config is the complete scrapr configuration.
type Config struct {
	Log      logger.Config    `mapstructure:"log"`
	Database crawlerdb.Config `mapstructure:"database"`
	Fetch    Fetch            `mapstructure:"fetch"`
	Sink     sink.Config      `mapstructure:"sink"`
	API      API              `mapstructure:"api"`

	Resources []Resource `mapstructure:"-"`
}

// Fetch configures the HTTP fetcher.
type Fetch struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// MaxBodySize is a human readable size such as "10MB". Empty or "0"
	// means unlimited.
	MaxBodySize string `mapstructure:"max_body_size"`
	// Rate is the number of requests per second across all walks; zero
	// disables throttling.
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

// API configures the status HTTP server. An empty Addr disables it.
type API struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", false)

	v.SetDefault("database.driver", crawlerdb.DriverSQLite)
	v.SetDefault("database.dsn", "./scrapr.db")
	v.SetDefault("database.connect_retries", 3)
	v.SetDefault("database.retry_delay", 5*time.Second)

	v.SetDefault("fetch.user_agent", "scrapr/1.0")
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_body_size", "10MB")
	v.SetDefault("fetch.rate", 0)
	v.SetDefault("fetch.burst", 1)

	v.SetDefault("sink.format", "jsonl")
	v.SetDefault("sink.output", "-")
	v.SetDefault("sink.nats.url", "")
	v.SetDefault("sink.nats.subject", sink.DefaultSubject)

	v.SetDefault("api.addr", "")
}

// NewViper reads the configuration file at path. When path has no known
// extension every supported format is tried (config.yaml, config.json, ...).
// Environment variables prefixed with SCRAPR_ override file settings.
func NewViper(path string) (*viper.Viper, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v)

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if _, ok := decoders[strings.TrimPrefix(filepath.Ext(path), ".")]; ok {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(filepath.Base(path))
		v.AddConfigPath(filepath.Dir(path))
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return v, nil
}

// bindEnv binds SCRAPR_<SECTION>_<KEY> to every known setting. Keys are
// bound one by one rather than through AutomaticEnv: with AutomaticEnv a
// variable named after a section, such as SCRAPR_LOG, hides every key of
// that section.
func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("SCRAPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range v.AllKeys() {
		if key == "log.level" {
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}
	// SCRAPR_LOG is a shorthand for SCRAPR_LOG_LEVEL.
	if err := v.BindEnv("log.level", "SCRAPR_LOG_LEVEL", "SCRAPR_LOG"); err != nil {
		return fmt.Errorf("failed to bind environment for log.level: %w", err)
	}
	return nil
}

// Load decodes the settings held by v and the resources of its config file.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}

	resources, err := LoadResources(v.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	cfg.Resources = resources
	return &cfg, nil
}

// LoadFile is NewViper followed by Load.
func LoadFile(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return Load(v)
}

var validate = validator.New()

func (c *Config) validateSettings() error {
	checks := []struct {
		key, tag string
		value    any
	}{
		{"database.driver", "oneof=sqlite pgx", c.Database.Driver},
		{"database.dsn", "required", c.Database.DSN},
		{"database.connect_retries", "gte=0", c.Database.ConnectRetries},
		{"fetch.timeout", "gte=0", c.Fetch.Timeout},
		{"fetch.rate", "gte=0", c.Fetch.Rate},
		{"fetch.burst", "gte=0", c.Fetch.Burst},
		{"sink.format", "omitempty,oneof=json jsonl yaml", c.Sink.Format},
		{"sink.nats.url", "omitempty,url", c.Sink.NATS.URL},
		{"api.addr", "omitempty,hostname_port", c.API.Addr},
	}
	for _, check := range checks {
		if err := validate.Var(check.value, check.tag); err != nil {
			return fmt.Errorf("invalid setting %s=%v: %w", check.key, check.value, err)
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid setting log.level: %w", err)
	}
	return nil
}
