package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/turboswarm/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify turboswarm configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/turboswarm/config.yaml
Project-specific overrides can be placed in .turboswarm.yaml
API keys are read from ANTHROPIC_API_KEY, OPENAI_API_KEY and GEMINI_API_KEY
and are never written by this command.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			return setConfigKey(cfg, args[0], args[1])
		}
	},
}

// configKeys lists the keys shown by displayAllConfig, in order.
var configKeys = []string{
	"anthropic.model",
	"anthropic.use_bedrock",
	"anthropic.aws_region",
	"openai.model",
	"openai.base_url",
	"gemini.model",
	"browser.command",
	"scheduler.retry_budget",
	"scheduler.transient_retries",
	"scheduler.task_timeout",
	"pool.max_agents",
	"pool.replace_failed",
	"store.driver",
	"store.path",
	"bus.driver",
	"bus.dir",
	"bus.retention",
	"server.addr",
	"rate_limit.requests_per_second",
	"rate_limit.burst",
	"logging.debug_file",
	"tui.refresh_rate",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, p := range config.Providers() {
		key, _ := config.GetAPIKey(cfg, p)
		fmt.Printf("%s.api_key: %s (%s)\n", p, config.MaskAPIKey(key), config.GetAPIKeySource(cfg, p))
	}
	for _, k := range configKeys {
		v, _ := getConfigValue(cfg, k)
		fmt.Printf("%s: %s\n", k, v)
	}
	fmt.Printf("\nuser config: %s\n", config.GetUserConfigPath())
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Printf("project config: %s\n", p)
	}
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) error {
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	path := configPath
	if path == "" {
		path = config.GetUserConfigPath()
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Set %s = %s\n", key, value)
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "openai.model":
		return cfg.OpenAI.Model, nil
	case "openai.base_url":
		return cfg.OpenAI.BaseURL, nil
	case "gemini.model":
		return cfg.Gemini.Model, nil
	case "browser.command":
		return cfg.Browser.Command, nil
	case "scheduler.retry_budget":
		return strconv.Itoa(cfg.Scheduler.RetryBudget), nil
	case "scheduler.transient_retries":
		return strconv.Itoa(cfg.Scheduler.TransientRetries), nil
	case "scheduler.task_timeout":
		return cfg.Scheduler.TaskTimeout.String(), nil
	case "pool.max_agents":
		return strconv.Itoa(cfg.Pool.MaxAgents), nil
	case "pool.replace_failed":
		return strconv.FormatBool(cfg.Pool.ReplaceFailed), nil
	case "store.driver":
		return cfg.Store.Driver, nil
	case "store.path":
		return cfg.Store.Path, nil
	case "bus.driver":
		return cfg.Bus.Driver, nil
	case "bus.dir":
		return cfg.Bus.Dir, nil
	case "bus.retention":
		return cfg.Bus.Retention.String(), nil
	case "server.addr":
		return cfg.Server.Addr, nil
	case "rate_limit.requests_per_second":
		return strconv.FormatFloat(cfg.RateLimit.RequestsPerSecond, 'g', -1, 64), nil
	case "rate_limit.burst":
		return strconv.Itoa(cfg.RateLimit.Burst), nil
	case "logging.debug_file":
		return cfg.Logging.DebugFile, nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return n, nil
	}
	duration := func() (time.Duration, error) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		return d, nil
	}
	boolean := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("invalid boolean for %s: %w", key, err)
		}
		return b, nil
	}

	var err error
	switch strings.ToLower(key) {
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_bedrock":
		cfg.Anthropic.UseBedrock, err = boolean()
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "openai.model":
		cfg.OpenAI.Model = value
	case "openai.base_url":
		cfg.OpenAI.BaseURL = value
	case "gemini.model":
		cfg.Gemini.Model = value
	case "browser.command":
		cfg.Browser.Command = value
	case "scheduler.retry_budget":
		cfg.Scheduler.RetryBudget, err = atoi()
	case "scheduler.transient_retries":
		cfg.Scheduler.TransientRetries, err = atoi()
	case "scheduler.task_timeout":
		cfg.Scheduler.TaskTimeout, err = duration()
	case "pool.max_agents":
		cfg.Pool.MaxAgents, err = atoi()
	case "pool.replace_failed":
		cfg.Pool.ReplaceFailed, err = boolean()
	case "store.driver":
		cfg.Store.Driver = value
	case "store.path":
		cfg.Store.Path = value
	case "bus.driver":
		cfg.Bus.Driver = value
	case "bus.dir":
		cfg.Bus.Dir = value
	case "bus.retention":
		cfg.Bus.Retention, err = duration()
	case "server.addr":
		cfg.Server.Addr = value
	case "rate_limit.requests_per_second":
		cfg.RateLimit.RequestsPerSecond, err = strconv.ParseFloat(value, 64)
	case "rate_limit.burst":
		cfg.RateLimit.Burst, err = atoi()
	case "logging.debug_file":
		cfg.Logging.DebugFile = value
	case "tui.refresh_rate":
		cfg.TUI.RefreshRate, err = duration()
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}
