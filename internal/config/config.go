package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile        = "config.yaml"
	DefaultCatalogueFile     = "sources.yaml"
	DefaultStorageDriver     = "sqlite"
	DefaultStoragePath       = ".feeddigest/feeddigest.db"
	DefaultDSNEnv            = "FEEDDIGEST_POSTGRES_DSN"
	DefaultRedisAddr         = "localhost:6379"
	DefaultRedisPrefix       = "feeddigest:"
	DefaultRetainDays        = 30
	DefaultMaxLinksPerSource = 5000
	DefaultFetchTimeout      = 15 * time.Second
	DefaultFetchConcurrency  = 8
	DefaultFetchRunTimeout   = 2 * time.Minute
	DefaultMaxBytes          = 10 << 20
	DefaultUserAgent         = "feeddigest/1.0 (+https://github.com/ppiankov/feeddigest)"
	DefaultWindow            = 24 * time.Hour
	DefaultTimezone          = "UTC"
	DefaultFormat            = "terminal"
	DefaultSummarizeMode     = "extractive"
	DefaultMaxChars          = 280
	DefaultSummarizeWorkers  = 4
	DefaultLLMModel          = "gpt-4o-mini"
	DefaultLLMKeyEnv         = "OPENAI_API_KEY"
	DefaultLLMMaxTokens      = 160
	DefaultLLMTimeout        = 20 * time.Second
	DefaultServerAddr        = ":8080"
	DefaultServerOutput      = ".feeddigest/latest.json"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultLogMaxSizeMB      = 50
	DefaultLogMaxBackups     = 3
	DefaultLogMaxAgeDays     = 28
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Catalogue string          `yaml:"catalogue"`
	Storage   StorageConfig   `yaml:"storage"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Digest    DigestConfig    `yaml:"digest"`
	Summarize SummarizeConfig `yaml:"summarize"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

type StorageConfig struct {
	Driver            string      `yaml:"driver"`
	Path              string      `yaml:"path"`
	DSNEnv            string      `yaml:"dsn_env"`
	Redis             RedisConfig `yaml:"redis"`
	RetainDays        int         `yaml:"retain_days"`
	MaxLinksPerSource int         `yaml:"max_links_per_source"`

	// Resolved from env var at load time.
	DSN string `yaml:"-"`
}

type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`

	// Resolved from env var at load time.
	Password string `yaml:"-"`
}

type FetchConfig struct {
	Timeout     Duration `yaml:"timeout"`
	Concurrency int      `yaml:"concurrency"`
	Retries     int      `yaml:"retries"`
	DomainDelay Duration `yaml:"domain_delay"`
	RunTimeout  Duration `yaml:"run_timeout"`
	MaxBytes    int64    `yaml:"max_bytes"`
	UserAgent   string   `yaml:"user_agent"`
}

type DigestConfig struct {
	Window   Duration `yaml:"window"`
	Timezone string   `yaml:"timezone"`
	Format   string   `yaml:"format"`
}

// Location loads the configured display timezone.
func (d DigestConfig) Location() (*time.Location, error) {
	return time.LoadLocation(d.Timezone)
}

type SummarizeConfig struct {
	Mode        string    `yaml:"mode"`
	MaxChars    int       `yaml:"max_chars"`
	Concurrency int       `yaml:"concurrency"`
	LLM         LLMConfig `yaml:"llm"`
}

type LLMConfig struct {
	BaseURL   string   `yaml:"base_url"`
	Model     string   `yaml:"model"`
	APIKeyEnv string   `yaml:"api_key_env"`
	MaxTokens int      `yaml:"max_tokens"`
	Timeout   Duration `yaml:"timeout"`

	// Resolved from env var at load time.
	APIKey string `yaml:"-"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	Schedule string `yaml:"schedule"`
	Output   string `yaml:"output"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// CataloguePath resolves the catalogue file against the config dir.
func (c *Config) CataloguePath(dir string) string {
	if filepath.IsAbs(c.Catalogue) {
		return c.Catalogue
	}
	return filepath.Join(dir, c.Catalogue)
}

// Retention is the maximum age of a seen link.
func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.RetainDays) * 24 * time.Hour
}

func applyDefaults(cfg *Config) {
	if cfg.Catalogue == "" {
		cfg.Catalogue = DefaultCatalogueFile
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.DSNEnv == "" {
		cfg.Storage.DSNEnv = DefaultDSNEnv
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = DefaultRedisPrefix
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Storage.MaxLinksPerSource == 0 {
		cfg.Storage.MaxLinksPerSource = DefaultMaxLinksPerSource
	}

	if cfg.Fetch.Timeout.Duration == 0 {
		cfg.Fetch.Timeout.Duration = DefaultFetchTimeout
	}
	if cfg.Fetch.Concurrency == 0 {
		cfg.Fetch.Concurrency = DefaultFetchConcurrency
	}
	if cfg.Fetch.RunTimeout.Duration == 0 {
		cfg.Fetch.RunTimeout.Duration = DefaultFetchRunTimeout
	}
	if cfg.Fetch.MaxBytes == 0 {
		cfg.Fetch.MaxBytes = DefaultMaxBytes
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = DefaultUserAgent
	}

	if cfg.Digest.Window.Duration == 0 {
		cfg.Digest.Window.Duration = DefaultWindow
	}
	if cfg.Digest.Timezone == "" {
		cfg.Digest.Timezone = DefaultTimezone
	}
	if cfg.Digest.Format == "" {
		cfg.Digest.Format = DefaultFormat
	}

	if cfg.Summarize.Mode == "" {
		cfg.Summarize.Mode = DefaultSummarizeMode
	}
	if cfg.Summarize.MaxChars == 0 {
		cfg.Summarize.MaxChars = DefaultMaxChars
	}
	if cfg.Summarize.Concurrency == 0 {
		cfg.Summarize.Concurrency = DefaultSummarizeWorkers
	}
	if cfg.Summarize.LLM.Model == "" {
		cfg.Summarize.LLM.Model = DefaultLLMModel
	}
	if cfg.Summarize.LLM.APIKeyEnv == "" {
		cfg.Summarize.LLM.APIKeyEnv = DefaultLLMKeyEnv
	}
	if cfg.Summarize.LLM.MaxTokens == 0 {
		cfg.Summarize.LLM.MaxTokens = DefaultLLMMaxTokens
	}
	if cfg.Summarize.LLM.Timeout.Duration == 0 {
		cfg.Summarize.LLM.Timeout.Duration = DefaultLLMTimeout
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Server.Output == "" {
		cfg.Server.Output = DefaultServerOutput
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = DefaultLogMaxBackups
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Storage.DSNEnv != "" {
		cfg.Storage.DSN = os.Getenv(cfg.Storage.DSNEnv)
	}
	if cfg.Storage.Redis.PasswordEnv != "" {
		cfg.Storage.Redis.Password = os.Getenv(cfg.Storage.Redis.PasswordEnv)
	}
	if cfg.Summarize.LLM.APIKeyEnv != "" {
		cfg.Summarize.LLM.APIKey = os.Getenv(cfg.Summarize.LLM.APIKeyEnv)
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "sqlite", "postgres", "redis", "memory":
		// valid
	default:
		return fmt.Errorf("storage.driver: unknown driver %q (want sqlite, postgres, redis or memory)", cfg.Storage.Driver)
	}
	if cfg.Storage.RetainDays < 0 || cfg.Storage.MaxLinksPerSource < 0 {
		return errors.New("storage: retain_days and max_links_per_source must not be negative")
	}
	if cfg.Digest.Window.Duration < 0 {
		return errors.New("digest.window: must be positive")
	}
	if cfg.Storage.Retention() < cfg.Digest.Window.Duration {
		return fmt.Errorf("storage.retain_days: %d days does not cover digest.window %s", cfg.Storage.RetainDays, cfg.Digest.Window.Duration)
	}

	if cfg.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency: must be at least 1, got %d", cfg.Fetch.Concurrency)
	}
	if cfg.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries: must not be negative, got %d", cfg.Fetch.Retries)
	}
	if cfg.Fetch.Timeout.Duration < 0 || cfg.Fetch.DomainDelay.Duration < 0 {
		return errors.New("fetch: timeout and domain_delay must not be negative")
	}
	if cfg.Fetch.RunTimeout.Duration < cfg.Fetch.Timeout.Duration {
		return fmt.Errorf("fetch.run_timeout: %s is shorter than fetch.timeout %s", cfg.Fetch.RunTimeout.Duration, cfg.Fetch.Timeout.Duration)
	}

	if _, err := cfg.Digest.Location(); err != nil {
		return fmt.Errorf("digest.timezone: %w", err)
	}
	switch cfg.Digest.Format {
	case "terminal", "json", "markdown":
		// valid
	default:
		return fmt.Errorf("digest.format: unknown format %q (want terminal, json or markdown)", cfg.Digest.Format)
	}

	switch cfg.Summarize.Mode {
	case "extractive", "llm":
		// valid
	default:
		return fmt.Errorf("summarize.mode: unknown mode %q (want extractive or llm)", cfg.Summarize.Mode)
	}
	if cfg.Summarize.Concurrency < 1 {
		return fmt.Errorf("summarize.concurrency: must be at least 1, got %d", cfg.Summarize.Concurrency)
	}
	if cfg.Summarize.MaxChars < 1 {
		return fmt.Errorf("summarize.max_chars: must be at least 1, got %d", cfg.Summarize.MaxChars)
	}

	if cfg.Server.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Server.Schedule); err != nil {
			return fmt.Errorf("server.schedule: %w", err)
		}
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", cfg.Log.Format)
	}

	return nil
}
