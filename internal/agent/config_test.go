package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("set default option", func(t *testing.T) {
		c := NewConfig()

		require.Equal(t, "http://localhost:8080", c.BackendURL)
		require.Equal(t, "sqlite", c.StoreDriver)
		require.Equal(t, 300*time.Second, c.RefreshBuffer)
		require.Equal(t, 3, c.MaxRetries)
		require.Equal(t, time.Second, c.RetryDelay)
		require.Equal(t, time.Minute, c.MonitorInterval)
		require.Zero(t, c.IdleTimeout)
		require.Empty(t, c.SyncDir)
		require.NoError(t, c.Validate())
	})

	t.Run("load env", func(t *testing.T) {
		c := NewConfig()
		env := map[string]string{
			"SESSIONGUARD_BACKEND_URL":    "https://shop.example.com",
			"SESSIONGUARD_STORE_DRIVER":   "bolt",
			"SESSIONGUARD_REFRESH_BUFFER": "2m",
			"SESSIONGUARD_MAX_RETRIES":    "5",
			"SESSIONGUARD_IDLE_TIMEOUT":   "30m",
			"SESSIONGUARD_PASSWORD":       "hunter2",
			"LOG_LEVEL":                   "debug",
		}

		require.NoError(t, c.LoadEnv(func(key string) string { return env[key] }))

		require.Equal(t, "https://shop.example.com", c.BackendURL)
		require.Equal(t, "bolt", c.StoreDriver)
		require.Equal(t, 2*time.Minute, c.RefreshBuffer)
		require.Equal(t, 5, c.MaxRetries)
		require.Equal(t, 30*time.Minute, c.IdleTimeout)
		require.Equal(t, "hunter2", c.Password)
		require.Equal(t, "debug", c.LogLevel)
	})

	t.Run("malformed env values are reported", func(t *testing.T) {
		c := NewConfig()
		env := map[string]string{
			"SESSIONGUARD_RETRY_DELAY": "soon",
			"SESSIONGUARD_MAX_RETRIES": "many",
		}

		err := c.LoadEnv(func(key string) string { return env[key] })
		require.ErrorContains(t, err, `invalid duration "soon"`)
		require.ErrorContains(t, err, `invalid integer "many"`)
		require.Equal(t, time.Second, c.RetryDelay, "defaults survive bad input")
	})

	t.Run("load dot env", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
			[]byte("SESSIONGUARD_SYNC_DIR=/tmp/tabs\nSESSIONGUARD_TENANT_ID=acme\n"), 0600))

		c := NewConfig()
		require.NoError(t, c.LoadDotEnv(func() (string, error) { return dir, nil }))
		require.Equal(t, "/tmp/tabs", c.SyncDir)
		require.Equal(t, "acme", c.TenantID)

		c = NewConfig()
		require.NoError(t, c.LoadDotEnv(func() (string, error) { return t.TempDir(), nil }), "missing .env is fine")
	})

	t.Run("parse flags", func(t *testing.T) {
		c := NewConfig()

		fs := c.FlagSet()
		err := fs.Parse([]string{
			"-b", "https://shop.example.com",
			"--store", "memory",
			"--refresh-buffer", "90s",
			"--max-retries", "2",
			"-u", "kim@example.com",
			"status",
		})

		require.NoError(t, err)
		require.Equal(t, []string{"status"}, fs.Args())
		require.Equal(t, "https://shop.example.com", c.BackendURL)
		require.Equal(t, "memory", c.StoreDriver)
		require.Equal(t, 90*time.Second, c.RefreshBuffer)
		require.Equal(t, 2, c.MaxRetries)
		require.Equal(t, "kim@example.com", c.Email)
	})

	t.Run("invalid flags", func(t *testing.T) {
		err := NewConfig().FlagSet().Parse([]string{"--password", "nope"})
		require.Error(t, err, "passwords are never accepted as flags")
	})

	t.Run("validate", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(*Config)
		}{
			{"unknown driver", func(c *Config) { c.StoreDriver = "redis" }},
			{"no backend", func(c *Config) { c.BackendURL = "" }},
			{"no retries", func(c *Config) { c.MaxRetries = 0 }},
			{"negative duration", func(c *Config) { c.IdleTimeout = -time.Second }},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := NewConfig()
				tt.mutate(c)
				require.Error(t, c.Validate())
			})
		}
	})
}

func TestParseScreen(t *testing.T) {
	tests := []struct {
		in   string
		w, h int
	}{
		{"1920x1080", 1920, 1080},
		{" 2560X1440 ", 2560, 1440},
		{"", 0, 0},
		{"wide", 0, 0},
		{"-1x5", 0, 0},
	}

	for _, tt := range tests {
		w, h := parseScreen(tt.in)
		require.Equal(t, tt.w, w, tt.in)
		require.Equal(t, tt.h, h, tt.in)
	}
}
