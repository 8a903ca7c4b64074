// Package storetest holds the behaviour every kv.Store driver must share.
package storetest

import (
	"context"
	"testing"

	"github.com/aussiebroadwan/sessionguard/pkg/kv"
	"github.com/stretchr/testify/require"
)

// Run exercises s against the kv.Store contract.
func Run(t *testing.T, s kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "a", []byte("one")))
		v, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, []byte("one"), v)
	})

	t.Run("put replaces", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "b", []byte("first")))
		require.NoError(t, s.Put(ctx, "b", []byte("second")))
		v, err := s.Get(ctx, "b")
		require.NoError(t, err)
		require.Equal(t, []byte("second"), v)
	})

	t.Run("returned bytes are a copy", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "c", []byte("abc")))
		v, err := s.Get(ctx, "c")
		require.NoError(t, err)
		v[0] = 'z'

		again, err := s.Get(ctx, "c")
		require.NoError(t, err)
		require.Equal(t, []byte("abc"), again)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "d", []byte("x")))
		require.NoError(t, s.Delete(ctx, "d"))
		_, err := s.Get(ctx, "d")
		require.ErrorIs(t, err, kv.ErrNotFound)

		// deleting an absent key is not an error
		require.NoError(t, s.Delete(ctx, "d"))
	})
}
