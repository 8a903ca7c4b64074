package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestWellFormed(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"a.b.c", true},
		{"a.b.", true},
		{"", false},
		{"abc", false},
		{"a.b", false},
		{"a.b.c.d", false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			require.Equal(t, tt.want, jwtx.WellFormed(tt.token))
		})
	}
}

func TestDecode(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("round trip without verification", func(t *testing.T) {
		token, err := jwtx.Unsigned(jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
			Subject:  "cust-9",
			DeviceID: "dev-1",
			TTL:      time.Hour,
			Now:      now,
		}))
		require.NoError(t, err)

		claims, err := jwtx.Decode(token)
		require.NoError(t, err)
		require.Equal(t, "cust-9", claims.Subject)
		require.Equal(t, "dev-1", claims.DeviceID)
		require.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	})

	t.Run("signed tokens decode without a key", func(t *testing.T) {
		signer := newSigner(t, "k1")
		token, err := signer.Sign(jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
			Subject: "cust-9",
			Now:     now,
		}))
		require.NoError(t, err)

		claims, err := jwtx.Decode(token)
		require.NoError(t, err)
		require.Equal(t, "cust-9", claims.Subject)
	})

	t.Run("wrong segment count", func(t *testing.T) {
		_, err := jwtx.Decode("a.b")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("garbage payload", func(t *testing.T) {
		_, err := jwtx.Decode("a.b.c")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("missing exp", func(t *testing.T) {
		token, err := jwtx.Unsigned(jwtx.Claims{Email: "x@example.com"})
		require.NoError(t, err)

		claims, err := jwtx.Decode(token)
		require.ErrorIs(t, err, jwtx.ErrMissingExp)
		require.Equal(t, "x@example.com", claims.Email)
	})
}
