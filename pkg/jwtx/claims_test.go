package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestValidateIssuer(t *testing.T) {
	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "storefront-auth",
		},
	}

	t.Run("matching issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer("storefront-auth"))
	})

	t.Run("empty expected issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer(""))
	})

	t.Run("mismatched issuer", func(t *testing.T) {
		require.ErrorIs(t, c.ValidateIssuer("admin-auth"), jwtx.ErrIssuer)
	})
}

func TestValidateAudience(t *testing.T) {
	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience: []string{"storefront", "warranty"},
		},
	}

	require.NoError(t, c.ValidateAudience([]string{"storefront"}))
	require.NoError(t, c.ValidateAudience([]string{"foo", "warranty"}))
	require.NoError(t, c.ValidateAudience(nil))
	require.ErrorIs(t, c.ValidateAudience([]string{"admin"}), jwtx.ErrAudience)
}

func TestValidateExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("valid token", func(t *testing.T) {
		c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}}
		require.NoError(t, c.ValidateExpiry(now))
	})

	t.Run("expires exactly now", func(t *testing.T) {
		c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now),
		}}
		require.ErrorIs(t, c.ValidateExpiry(now), jwtx.ErrExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
			NotBefore: jwt.NewNumericDate(now.Add(time.Minute)),
		}}
		require.ErrorIs(t, c.ValidateExpiry(now), jwtx.ErrNotYetValid)
	})

	t.Run("no exp or nbf", func(t *testing.T) {
		require.NoError(t, (&jwtx.Claims{}).ValidateExpiry(now))
	})
}

func TestPermissionsAndRole(t *testing.T) {
	c := &jwtx.Claims{
		Role:        "customer",
		Permissions: []string{"orders:read", "warranty:write"},
	}

	require.True(t, c.HasPermission("orders:read"))
	require.False(t, c.HasPermission("orders:write"))
	require.True(t, c.HasRole("customer"))
	require.False(t, c.HasRole("admin"))
	require.False(t, (&jwtx.Claims{}).HasRole(""))
}

func TestTimeToExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	c := jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
		Subject: "cust-1",
		TTL:     10 * time.Minute,
		Now:     now,
	})
	tte, ok := c.TimeToExpiry(now)
	require.True(t, ok)
	require.Equal(t, 10*time.Minute, tte)

	_, ok = (&jwtx.Claims{}).TimeToExpiry(now)
	require.False(t, ok)
}
