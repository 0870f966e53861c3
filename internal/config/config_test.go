package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORYRUN_BASE_URL", "https://app.example")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://app.example", cfg.BaseURL)
	assert.Equal(t, "data/runs", cfg.RunsDir)
	assert.Equal(t, "bedrock", cfg.Provider.Name)
	assert.Equal(t, "us-east-1", cfg.Provider.Region)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Screenshot.Delay())
	assert.Equal(t, "json", cfg.Cache.Backend)
	assert.Equal(t, "data/selector_cache.json", cfg.Cache.Path)
	assert.Equal(t, "data/selectors_overrides.json", cfg.Overrides.Path)
	assert.False(t, cfg.Navigation.BlockDeepLinks)
	assert.Equal(t, "Login.gov", cfg.Auth.Provider)
	assert.Equal(t, 8*time.Second, cfg.Auth.GrantWindow)
	assert.Equal(t, 10*time.Second, cfg.Auth.RedirectWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.Auth.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Auth.Cooldown)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadScreenshotDelayEnv(t *testing.T) {
	t.Setenv("STORYRUN_BASE_URL", "https://app.example")
	t.Setenv("SCREENSHOT_DELAY_MS", "150")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, cfg.Screenshot.Delay())
}

func TestLoadFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://file.example
provider:
  name: claude
cache:
  backend: badger
  path: data/cache
navigation:
  identity_hosts: [login.example.org]
auth:
  cooldown: 5s
`), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("base-url", "", "")
	flags.String("provider", "", "")
	flags.Bool("repair", false, "")
	require.NoError(t, flags.Parse([]string{"--base-url", "https://flag.example", "--repair"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example", cfg.BaseURL)
	assert.Equal(t, "claude", cfg.Provider.Name)
	assert.True(t, cfg.Repair.Enabled)
	assert.Equal(t, "badger", cfg.Cache.Backend)
	assert.Equal(t, []string{"login.example.org"}, cfg.Navigation.IdentityHosts)
	assert.Equal(t, 5*time.Second, cfg.Auth.Cooldown)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("STORYRUN_BASE_URL", "https://app.example")
	base, err := Load("", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{name: "missing base url", mutate: func(c *Config) { c.BaseURL = "" }, field: "Config.BaseURL"},
		{name: "unknown provider", mutate: func(c *Config) { c.Provider.Name = "llama" }, field: "Config.Provider.Name"},
		{name: "unknown cache backend", mutate: func(c *Config) { c.Cache.Backend = "redis" }, field: "Config.Cache.Backend"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Storage.Type = "s3" }, field: "Config.Storage.Bucket"},
		{name: "bad identity host", mutate: func(c *Config) { c.Navigation.IdentityHosts = []string{"not a host"} }, field: "Config.Navigation.IdentityHosts[0]"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, field: "Config.Log.Level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	assert.NoError(t, base.Validate())
}
