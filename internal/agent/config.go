package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/store"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenmanager"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	defaultBackendURL = "http://localhost:8080"
	defaultListenAddr = "localhost:9464"
	defaultUserAgent  = "sessionguard-agent/1.0"
	defaultScreen     = "0x0"
)

// Config is layered: defaults, then .env, then the environment, then flags.
type Config struct {
	BackendURL string
	TenantID   string

	StoreDriver string
	StorePath   string

	// SyncDir enables cross-process tab pings when set.
	SyncDir string

	// MasterKey seals stored tokens at rest when set.
	MasterKey string

	RefreshBuffer   time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	MonitorInterval time.Duration
	IdleTimeout     time.Duration

	UserAgent  string
	Screen     string
	ColorDepth int

	ListenAddr string

	Email string
	// Password is only read from the environment so it never shows up in
	// process listings.
	Password string

	Env       string
	LogLevel  string
	LogFormat string
}

func NewConfig() *Config {
	return &Config{
		BackendURL:      defaultBackendURL,
		StoreDriver:     store.DriverSQLite,
		StorePath:       defaultStorePath(),
		RefreshBuffer:   tokenmanager.DefaultRefreshBuffer,
		MaxRetries:      tokenmanager.DefaultMaxRetries,
		RetryDelay:      tokenmanager.DefaultRetryDelay,
		MonitorInterval: tokenmanager.DefaultMonitorInterval,
		UserAgent:       defaultUserAgent,
		Screen:          defaultScreen,
		ColorDepth:      24,
		ListenAddr:      defaultListenAddr,
		Env:             "prod",
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "sessionguard", "session.db")
}

// LoadDotEnv reads .env from the working directory. A missing file is fine.
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

// LoadEnv applies every non-empty variable. Malformed numbers and durations
// are reported together.
func (c *Config) LoadEnv(getenv func(string) string) error {
	var errs []error

	setString := func(o *string) func(string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setDuration := func(o *time.Duration) func(string) {
		return func(value string) {
			if value == "" {
				return
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid duration %q: %w", value, err))
				return
			}
			*o = d
		}
	}
	setInt := func(o *int) func(string) {
		return func(value string) {
			if value == "" {
				return
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid integer %q: %w", value, err))
				return
			}
			*o = n
		}
	}

	envMap := map[string]func(string){
		"SESSIONGUARD_BACKEND_URL":      setString(&c.BackendURL),
		"SESSIONGUARD_TENANT_ID":        setString(&c.TenantID),
		"SESSIONGUARD_STORE_DRIVER":     setString(&c.StoreDriver),
		"SESSIONGUARD_STORE_PATH":       setString(&c.StorePath),
		"SESSIONGUARD_SYNC_DIR":         setString(&c.SyncDir),
		"SESSIONGUARD_MASTER_KEY":       setString(&c.MasterKey),
		"SESSIONGUARD_REFRESH_BUFFER":   setDuration(&c.RefreshBuffer),
		"SESSIONGUARD_MAX_RETRIES":      setInt(&c.MaxRetries),
		"SESSIONGUARD_RETRY_DELAY":      setDuration(&c.RetryDelay),
		"SESSIONGUARD_MONITOR_INTERVAL": setDuration(&c.MonitorInterval),
		"SESSIONGUARD_IDLE_TIMEOUT":     setDuration(&c.IdleTimeout),
		"SESSIONGUARD_USER_AGENT":       setString(&c.UserAgent),
		"SESSIONGUARD_SCREEN":           setString(&c.Screen),
		"SESSIONGUARD_COLOR_DEPTH":      setInt(&c.ColorDepth),
		"SESSIONGUARD_LISTEN_ADDR":      setString(&c.ListenAddr),
		"SESSIONGUARD_EMAIL":            setString(&c.Email),
		"SESSIONGUARD_PASSWORD":         setString(&c.Password),
		"ENV":                           setString(&c.Env),
		"LOG_LEVEL":                     setString(&c.LogLevel),
		"LOG_FORMAT":                    setString(&c.LogFormat),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}

	return errors.Join(errs...)
}

// FlagSet binds the command line flags to c. Defaults are whatever c holds
// when it is called.
func (c *Config) FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("sessionguard", pflag.ContinueOnError)

	fs.StringVarP(&c.BackendURL, "backend", "b", c.BackendURL, "Storefront backend base URL")
	fs.StringVar(&c.TenantID, "tenant", c.TenantID, "Tenant ID sent with every request")
	fs.StringVar(&c.StoreDriver, "store", c.StoreDriver, "Storage driver (sqlite, bolt, memory)")
	fs.StringVar(&c.StorePath, "store-path", c.StorePath, "Storage file path")
	fs.StringVar(&c.SyncDir, "sync-dir", c.SyncDir, "Directory used to signal other agents")
	fs.DurationVar(&c.RefreshBuffer, "refresh-buffer", c.RefreshBuffer, "Refresh this long before expiry")
	fs.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "Refresh attempts before giving up")
	fs.DurationVar(&c.RetryDelay, "retry-delay", c.RetryDelay, "Base delay between refresh attempts")
	fs.DurationVar(&c.MonitorInterval, "monitor-interval", c.MonitorInterval, "Token check interval")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "Log out after this much inactivity (0 disables)")
	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Status server listen address")
	fs.StringVarP(&c.Email, "email", "u", c.Email, "Customer email for login")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (json, text)")
	fs.StringVarP(&c.Env, "environment", "e", c.Env, "Environment (dev, prod)")

	return fs
}

// Validate reports settings the agent cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case store.DriverSQLite, store.DriverBolt, store.DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.BackendURL == "" {
		return errors.New("backend URL is required")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RefreshBuffer < 0 || c.RetryDelay < 0 || c.MonitorInterval < 0 || c.IdleTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}
