// Package config handles configuration loading and management for turboswarm.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for turboswarm.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Store     StoreConfig     `mapstructure:"store"`
	Bus       BusConfig       `mapstructure:"bus"`
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// AnthropicConfig holds Claude settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
}

// OpenAIConfig holds GPT settings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// GeminiConfig holds Gemini settings.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// BrowserConfig holds the browser automation command. Without a command,
// browser agents run against the simulated backend.
type BrowserConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	WorkDir string   `mapstructure:"work_dir"`
}

// SchedulerConfig holds task scheduling settings.
type SchedulerConfig struct {
	RetryBudget      int           `mapstructure:"retry_budget"`
	TransientRetries int           `mapstructure:"transient_retries"`
	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	IdleBackoffMin   time.Duration `mapstructure:"idle_backoff_min"`
	IdleBackoffMax   time.Duration `mapstructure:"idle_backoff_max"`
}

// PoolConfig holds agent pool settings.
type PoolConfig struct {
	// MaxAgents further limits each session below its sizing plan.
	MaxAgents     int  `mapstructure:"max_agents"`
	ReplaceFailed bool `mapstructure:"replace_failed"`
}

// StoreConfig selects the durable session store.
type StoreConfig struct {
	// Driver is sqlite, badger or none.
	Driver string `mapstructure:"driver"`
	// Path is the sqlite file or badger directory. Empty uses the XDG data dir.
	Path string `mapstructure:"path"`
}

// BusConfig selects the event transport.
type BusConfig struct {
	// Driver is memory or dir.
	Driver string `mapstructure:"driver"`
	// Dir is the spool directory of the dir driver.
	Dir       string        `mapstructure:"dir"`
	Retention time.Duration `mapstructure:"retention"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// RateLimitConfig bounds calls per model backend.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// DebugFile receives scheduler debug output when set.
	DebugFile string `mapstructure:"debug_file"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
	StoreNone   = "none"
)

// Bus drivers.
const (
	BusMemory = "memory"
	BusDir    = "dir"
)

// MaxAgentsCeiling is the highest accepted pool.max_agents.
const MaxAgentsCeiling = 10000

// Validate checks values that cannot be expressed as defaults.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreSQLite, StoreBadger, StoreNone:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	switch c.Bus.Driver {
	case BusMemory:
	case BusDir:
		if c.Bus.Dir == "" {
			errs = append(errs, errors.New("bus.dir: required by the dir driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("bus.driver: unknown driver %q", c.Bus.Driver))
	}
	if c.Pool.MaxAgents < 0 || c.Pool.MaxAgents > MaxAgentsCeiling {
		errs = append(errs, fmt.Errorf("pool.max_agents: must be between 0 and %d", MaxAgentsCeiling))
	}
	if c.Scheduler.TaskTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.task_timeout: must be positive"))
	}
	if c.Scheduler.IdleBackoffMax < c.Scheduler.IdleBackoffMin {
		errs = append(errs, errors.New("scheduler.idle_backoff_max: must not be below idle_backoff_min"))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_second: must not be negative"))
	}
	return errors.Join(errs...)
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, TURBOSWARM_*)
// 2. Project config (.turboswarm.yaml in current directory or parent)
// 3. User config (~/.config/turboswarm/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("turboswarm")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("anthropic.api_key", "TURBOSWARM_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai.api_key", "TURBOSWARM_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("gemini.api_key", "TURBOSWARM_GEMINI_API_KEY", "GEMINI_API_KEY")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)
	cfg.Gemini.APIKey = expandEnv(cfg.Gemini.APIKey)
	cfg.Store.Path = expandEnv(cfg.Store.Path)
	cfg.Bus.Dir = expandEnv(cfg.Bus.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the user config file. API keys are not
// written; keep them in the environment.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("openai.model", cfg.OpenAI.Model)
	v.Set("openai.base_url", cfg.OpenAI.BaseURL)
	v.Set("gemini.model", cfg.Gemini.Model)
	v.Set("browser.command", cfg.Browser.Command)
	v.Set("browser.args", cfg.Browser.Args)
	v.Set("browser.work_dir", cfg.Browser.WorkDir)
	v.Set("scheduler.retry_budget", cfg.Scheduler.RetryBudget)
	v.Set("scheduler.transient_retries", cfg.Scheduler.TransientRetries)
	v.Set("scheduler.task_timeout", cfg.Scheduler.TaskTimeout.String())
	v.Set("scheduler.idle_backoff_min", cfg.Scheduler.IdleBackoffMin.String())
	v.Set("scheduler.idle_backoff_max", cfg.Scheduler.IdleBackoffMax.String())
	v.Set("pool.max_agents", cfg.Pool.MaxAgents)
	v.Set("pool.replace_failed", cfg.Pool.ReplaceFailed)
	v.Set("store.driver", cfg.Store.Driver)
	v.Set("store.path", cfg.Store.Path)
	v.Set("bus.driver", cfg.Bus.Driver)
	v.Set("bus.dir", cfg.Bus.Dir)
	v.Set("bus.retention", cfg.Bus.Retention.String())
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("rate_limit.requests_per_second", cfg.RateLimit.RequestsPerSecond)
	v.Set("rate_limit.burst", cfg.RateLimit.Burst)
	v.Set("logging.debug_file", cfg.Logging.DebugFile)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", d.OpenAI.Model)
	v.SetDefault("openai.base_url", "")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", d.Gemini.Model)

	v.SetDefault("browser.command", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.work_dir", "")

	v.SetDefault("scheduler.retry_budget", d.Scheduler.RetryBudget)
	v.SetDefault("scheduler.transient_retries", d.Scheduler.TransientRetries)
	v.SetDefault("scheduler.task_timeout", "10m")
	v.SetDefault("scheduler.idle_backoff_min", "50ms")
	v.SetDefault("scheduler.idle_backoff_max", "2s")

	v.SetDefault("pool.max_agents", 0)
	v.SetDefault("pool.replace_failed", false)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", "")

	v.SetDefault("bus.driver", d.Bus.Driver)
	v.SetDefault("bus.dir", "")
	v.SetDefault("bus.retention", "10m")

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)

	v.SetDefault("logging.debug_file", "")

	v.SetDefault("tui.refresh_rate", "250ms")
}

// getUserConfigDir returns the XDG config directory for turboswarm.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "turboswarm")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "turboswarm")
	}
	return filepath.Join(home, ".config", "turboswarm")
}

// findProjectConfig searches for .turboswarm.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".turboswarm.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-opus-4-5",
			MaxTokens: 8192,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-5.1",
		},
		Gemini: GeminiConfig{
			Model: "gemini-3-pro-preview",
		},
		Scheduler: SchedulerConfig{
			RetryBudget:      3,
			TransientRetries: 2,
			TaskTimeout:      10 * time.Minute,
			IdleBackoffMin:   50 * time.Millisecond,
			IdleBackoffMax:   2 * time.Second,
		},
		Store: StoreConfig{
			Driver: StoreSQLite,
		},
		Bus: BusConfig{
			Driver:    BusMemory,
			Retention: 10 * time.Minute,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8420",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
		},
		TUI: TUIConfig{
			RefreshRate: 250 * time.Millisecond,
		},
	}
}
