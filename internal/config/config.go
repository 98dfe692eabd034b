package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	SourceAPI  = "api"
	SourceFeed = "feed"

	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Source   SourceConfig   `mapstructure:"source"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Search   SearchConfig   `mapstructure:"search"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SourceConfig struct {
	Kind         string        `mapstructure:"kind"`
	URL          string        `mapstructure:"url"`
	ImageBaseURL string        `mapstructure:"image_base_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	AllowLocal   bool          `mapstructure:"allow_local"`

	// BreakerFailures consecutive failures open the circuit; 0 disables it.
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	PruneMissing bool          `mapstructure:"prune_missing"`
	Backoff      string        `mapstructure:"backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

type SearchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// MetricsConfig controls the Prometheus endpoint of the run command. An empty
// address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".newsync")

	return &Config{
		Database: DatabaseConfig{
			Path:    filepath.Join(dataDir, "news.db"),
			Timeout: 1 * time.Second,
		},
		Source: SourceConfig{
			Kind:           SourceAPI,
			URL:            "https://servicodados.ibge.gov.br/api/v3/noticias/",
			ImageBaseURL:   "https://agenciadenoticias.ibge.gov.br/",
			HTTPTimeout:    30 * time.Second,
			UserAgent:      "newsync/1.0 (https://github.com/pders01/newsync)",
			BreakerTimeout: 10 * time.Minute,
		},
		Sync: SyncConfig{
			Interval:   1 * time.Hour,
			Backoff:    BackoffFixed,
			MaxBackoff: 6 * time.Hour,
		},
		Search: SearchConfig{
			Enabled: true,
			Index:   filepath.Join(dataDir, "index.bleve"),
		},
		Log: LogConfig{
			Level: "off",
			File:  filepath.Join(dataDir, "newsync.log"),
		},
	}
}

// DefaultPath is where Load looks for a config file when none is given.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "newsync", "config.toml")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Defaults are set per leaf so a file that sets one key of a section keeps
	// the defaults for the rest, and every leaf can be overridden from the env.
	cfg := defaultConfig()
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.timeout", cfg.Database.Timeout)
	v.SetDefault("source.kind", cfg.Source.Kind)
	v.SetDefault("source.url", cfg.Source.URL)
	v.SetDefault("source.image_base_url", cfg.Source.ImageBaseURL)
	v.SetDefault("source.http_timeout", cfg.Source.HTTPTimeout)
	v.SetDefault("source.user_agent", cfg.Source.UserAgent)
	v.SetDefault("source.allow_local", cfg.Source.AllowLocal)
	v.SetDefault("source.breaker_failures", cfg.Source.BreakerFailures)
	v.SetDefault("source.breaker_timeout", cfg.Source.BreakerTimeout)
	v.SetDefault("sync.interval", cfg.Sync.Interval)
	v.SetDefault("sync.prune_missing", cfg.Sync.PruneMissing)
	v.SetDefault("sync.backoff", cfg.Sync.Backoff)
	v.SetDefault("sync.max_backoff", cfg.Sync.MaxBackoff)
	v.SetDefault("search.enabled", cfg.Search.Enabled)
	v.SetDefault("search.index", cfg.Search.Index)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Dir(DefaultPath()))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("NEWSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceAPI, SourceFeed:
	default:
		return fmt.Errorf("invalid source.kind %q (want %q or %q)", c.Source.Kind, SourceAPI, SourceFeed)
	}
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	switch c.Sync.Backoff {
	case BackoffFixed:
	case BackoffExponential:
		if c.Sync.MaxBackoff < c.Sync.Interval {
			return fmt.Errorf("sync.max_backoff (%s) must not be shorter than sync.interval (%s)", c.Sync.MaxBackoff, c.Sync.Interval)
		}
	default:
		return fmt.Errorf("invalid sync.backoff %q (want %q or %q)", c.Sync.Backoff, BackoffFixed, BackoffExponential)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Search.Index = expandPath(cfg.Search.Index)
	cfg.Log.File = expandPath(cfg.Log.File)
}

// fileConfig mirrors Config with durations as strings so the written TOML
// stays readable and round-trips through Load.
type fileConfig struct {
	Database struct {
		Path    string `toml:"path"`
		Timeout string `toml:"timeout"`
	} `toml:"database"`
	Source struct {
		Kind         string `toml:"kind"`
		URL          string `toml:"url"`
		ImageBaseURL string `toml:"image_base_url"`
		HTTPTimeout  string `toml:"http_timeout"`
		UserAgent    string `toml:"user_agent"`
		AllowLocal   bool   `toml:"allow_local"`

		BreakerFailures uint32 `toml:"breaker_failures"`
		BreakerTimeout  string `toml:"breaker_timeout"`
	} `toml:"source"`
	Sync struct {
		Interval     string `toml:"interval"`
		PruneMissing bool   `toml:"prune_missing"`
		Backoff      string `toml:"backoff"`
		MaxBackoff   string `toml:"max_backoff"`
	} `toml:"sync"`
	Search struct {
		Enabled bool   `toml:"enabled"`
		Index   string `toml:"index"`
	} `toml:"search"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
	Log struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"log"`
}

func Save(config *Config, path string) error {
	var fc fileConfig
	fc.Database.Path = config.Database.Path
	fc.Database.Timeout = config.Database.Timeout.String()
	fc.Source.Kind = config.Source.Kind
	fc.Source.URL = config.Source.URL
	fc.Source.ImageBaseURL = config.Source.ImageBaseURL
	fc.Source.HTTPTimeout = config.Source.HTTPTimeout.String()
	fc.Source.UserAgent = config.Source.UserAgent
	fc.Source.AllowLocal = config.Source.AllowLocal
	fc.Source.BreakerFailures = config.Source.BreakerFailures
	fc.Source.BreakerTimeout = config.Source.BreakerTimeout.String()
	fc.Sync.Interval = config.Sync.Interval.String()
	fc.Sync.PruneMissing = config.Sync.PruneMissing
	fc.Sync.Backoff = config.Sync.Backoff
	fc.Sync.MaxBackoff = config.Sync.MaxBackoff.String()
	fc.Search.Enabled = config.Search.Enabled
	fc.Search.Index = config.Search.Index
	fc.Metrics.Addr = config.Metrics.Addr
	fc.Log.Level = config.Log.Level
	fc.Log.File = config.Log.File

	data, err := toml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
