package app

import (
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DEVAUTH_STORE_DRIVER", "")
	t.Setenv("DEVAUTH_ACCESS_TTL", "")
	t.Setenv("PORT", "")

	cfg := LoadConfig()
	require.Equal(t, "storefront-dev", cfg.Issuer)
	require.Equal(t, "memory", cfg.StoreDriver)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
	require.Equal(t, 8080, cfg.Port)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DEVAUTH_ACCESS_TTL", "2")
	t.Setenv("DEVAUTH_REFRESH_TTL", "72h")
	t.Setenv("PORT", "not-a-port")

	cfg := LoadConfig()
	require.Equal(t, 2*time.Minute, cfg.AccessTTL)
	require.Equal(t, 72*time.Hour, cfg.RefreshTTL)
	require.Equal(t, 8080, cfg.Port)
}

func TestApplicationServes(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Issuer:              "storefront-test",
		SigningKeyFile:      filepath.Join(dir, "keys", "signing.pem"),
		StoreDriver:         "bolt",
		StorePath:           filepath.Join(dir, "devauth.db"),
		SeedEmail:           "kim@example.com",
		SeedPassword:        "hunter2",
		LogLevel:            "error",
		ShutdownGracePeriod: time.Second,
	}

	application, err := New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(application.Handler())
	defer srv.Close()

	client := authsdk.NewSDKClient(srv.URL)
	tokens, err := client.Login(t.Context(), "kim@example.com", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)

	require.FileExists(t, cfg.SigningKeyFile)
	require.NoError(t, application.db.Close())
}
