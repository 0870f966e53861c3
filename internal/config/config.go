// Package config loads storyrun settings from storyrun.yaml, STORYRUN_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "STORYRUN"

// Config holds all run configuration.
type Config struct {
	BaseURL    string           `mapstructure:"base_url" validate:"required,url"`
	RunsDir    string           `mapstructure:"runs_dir" validate:"required"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Overrides  OverridesConfig  `mapstructure:"overrides"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Repair     RepairConfig     `mapstructure:"repair"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
}

// ProviderConfig selects the reasoning backend.
type ProviderConfig struct {
	Name   string `mapstructure:"name" validate:"required,oneof=bedrock claude anthropic openai gpt gemini google"`
	Model  string `mapstructure:"model"`
	Region string `mapstructure:"region"`
}

// BrowserConfig holds rod launch settings.
type BrowserConfig struct {
	Headless   bool          `mapstructure:"headless"`
	Width      int           `mapstructure:"width" validate:"gte=320"`
	Height     int           `mapstructure:"height" validate:"gte=240"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ProfileDir string        `mapstructure:"profile_dir"`
}

// ScreenshotConfig holds screenshot timing and repair image size.
type ScreenshotConfig struct {
	DelayMS  int  `mapstructure:"delay_ms" validate:"gte=0"`
	MaxWidth uint `mapstructure:"max_width" validate:"gte=320"`
}

// Delay is the settle time before a screenshot.
func (s ScreenshotConfig) Delay() time.Duration {
	return time.Duration(s.DelayMS) * time.Millisecond
}

// CacheConfig locates the resolution cache.
type CacheConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=json badger"`
	Path    string `mapstructure:"path" validate:"required"`
}

// OverridesConfig locates the user override document.
type OverridesConfig struct {
	Path string `mapstructure:"path"`
}

// NavigationConfig holds the host policy.
type NavigationConfig struct {
	BlockDeepLinks bool     `mapstructure:"block_deep_links"`
	IdentityHosts  []string `mapstructure:"identity_hosts" validate:"dive,hostname"`
}

// AuthConfig tunes the login sub-flow.
type AuthConfig struct {
	Provider       string        `mapstructure:"provider" validate:"required"`
	GrantWindow    time.Duration `mapstructure:"grant_window" validate:"gt=0"`
	RedirectWindow time.Duration `mapstructure:"redirect_window" validate:"gt=0"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Cooldown       time.Duration `mapstructure:"cooldown" validate:"gte=0"`
}

// RepairConfig toggles the reasoning-backed features.
type RepairConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	AgentVerify bool `mapstructure:"agent_verify"`
}

// StorageConfig selects where artifacts are written.
type StorageConfig struct {
	Type   string `mapstructure:"type" validate:"oneof=local s3"`
	Bucket string `mapstructure:"bucket" validate:"required_if=Type s3"`
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File       bool   `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// flagKeys maps config keys to the CLI flags that override them.
var flagKeys = map[string]string{
	"base_url":                    "base-url",
	"runs_dir":                    "run-dir",
	"provider.name":               "provider",
	"provider.model":              "model",
	"provider.region":             "region",
	"cache.backend":               "cache",
	"navigation.block_deep_links": "block-deep-links",
	"repair.enabled":              "repair",
	"repair.agent_verify":         "agent-verify",
	"storage.type":                "storage",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "")
	v.SetDefault("runs_dir", "data/runs")

	v.SetDefault("provider.name", "bedrock")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.region", "us-east-1")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 800)
	v.SetDefault("browser.timeout", "30s")
	v.SetDefault("browser.profile_dir", "")

	v.SetDefault("screenshot.delay_ms", 2000)
	v.SetDefault("screenshot.max_width", 1280)

	v.SetDefault("cache.backend", "json")
	v.SetDefault("cache.path", "data/selector_cache.json")
	v.SetDefault("overrides.path", "data/selectors_overrides.json")

	v.SetDefault("navigation.block_deep_links", false)
	v.SetDefault("navigation.identity_hosts", []string{})

	v.SetDefault("auth.provider", "Login.gov")
	v.SetDefault("auth.grant_window", "8s")
	v.SetDefault("auth.redirect_window", "10s")
	v.SetDefault("auth.poll_interval", "250ms")
	v.SetDefault("auth.cooldown", "30s")

	v.SetDefault("repair.enabled", false)
	v.SetDefault("repair.agent_verify", false)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.prefix", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", true)
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 7)
}

// Load reads configuration from file, environment and flags, in increasing
// precedence. configPath may be empty to search for storyrun.yaml in the
// working directory; flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("storyrun")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// also honor the unprefixed SCREENSHOT_DELAY_MS
	if err := v.BindEnv("screenshot.delay_ms", EnvPrefix+"_SCREENSHOT_DELAY_MS", "SCREENSHOT_DELAY_MS"); err != nil {
		return nil, err
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
