package tokenstore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/store/drivers/bolt"
	"github.com/aussiebroadwan/sessionguard/internal/store/drivers/memory"
	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/kv"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenstore"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func newStore(t *testing.T, backing kv.Store, sealer *cryptox.Sealer) (*tokenstore.Store, fakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	return tokenstore.New(tokenstore.Config{
		Store:  backing,
		Sealer: sealer,
		Clock:  clock,
		Logger: slogx.Discard(),
	}), clock
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t, memory.NewStore(), nil)

	exp := clock.Now().Add(time.Hour)
	require.NoError(t, s.StoreTokens(ctx, tokenstore.TokenRecord{
		AccessToken:  "a.b.c",
		RefreshToken: "r1",
		ExpiresAt:    exp,
	}, nil))

	access, err := s.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", access)

	refresh, err := s.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", refresh)

	rec, err := s.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, tokenstore.TokenTypeBearer, rec.TokenType)
	assert.True(t, rec.ExpiresAt.Equal(exp))

	assert.False(t, s.IsTokenExpiringSoon(ctx))

	clock.Advance(55*time.Minute + time.Second)
	assert.True(t, s.IsTokenExpiringSoon(ctx))
}

func TestEmptyStore(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, memory.NewStore(), nil)

	access, err := s.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, access)

	id, err := s.CustomerData(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)

	_, ok := s.ExpiresAt(ctx)
	assert.False(t, ok)
	assert.True(t, s.IsTokenExpiringSoon(ctx))

	require.NoError(t, s.ClearTokens(ctx))
	require.ErrorIs(t, s.StoreTokens(ctx, tokenstore.TokenRecord{}, nil), tokenstore.ErrEmptyAccessToken)
}

func TestIdentity(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t, memory.NewStore(), nil)

	rec := tokenstore.TokenRecord{AccessToken: "a.b.c", RefreshToken: "r1", ExpiresAt: clock.Now().Add(time.Hour)}
	require.NoError(t, s.StoreTokens(ctx, rec, &tokenstore.Identity{ID: "c1", Email: "kim@example.com"}))

	id, err := s.CustomerData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kim@example.com", id.Email)

	// nil identity keeps the cached one
	rec.RefreshToken = "r2"
	require.NoError(t, s.StoreTokens(ctx, rec, nil))
	id, err = s.CustomerData(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)

	require.NoError(t, s.UpdateCustomerData(ctx, tokenstore.Identity{ID: "c1", Email: "kim@example.com", EmailVerified: true}))
	id, err = s.CustomerData(ctx)
	require.NoError(t, err)
	assert.True(t, id.EmailVerified)

	require.NoError(t, s.ClearTokens(ctx))
	id, err = s.CustomerData(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestUpdateAccessTokenKeepsRefresh(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t, memory.NewStore(), nil)

	require.NoError(t, s.StoreTokens(ctx, tokenstore.TokenRecord{
		AccessToken:  "a.b.c",
		RefreshToken: "r1",
		ExpiresAt:    clock.Now().Add(time.Minute),
	}, nil))

	newExp := clock.Now().Add(2 * time.Hour)
	require.NoError(t, s.UpdateAccessToken(ctx, "d.e.f", newExp))

	rec, err := s.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d.e.f", rec.AccessToken)
	assert.Equal(t, "r1", rec.RefreshToken)
	assert.True(t, rec.ExpiresAt.Equal(newExp))
}

func TestPairIsNeverMixed(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t, memory.NewStore(), nil)
	exp := clock.Now().Add(time.Hour)

	pairs := []tokenstore.TokenRecord{
		{AccessToken: "a1.x.y", RefreshToken: "r1", ExpiresAt: exp},
		{AccessToken: "a2.x.y", RefreshToken: "r2", ExpiresAt: exp},
	}
	want := map[string]string{"a1.x.y": "r1", "a2.x.y": "r2"}
	require.NoError(t, s.StoreTokens(ctx, pairs[0], nil))

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				_ = s.StoreTokens(ctx, pairs[(i+j)%2], nil)
			}
		}()
	}

	for range 500 {
		rec, err := s.Tokens(ctx)
		require.NoError(t, err)
		require.Equal(t, want[rec.AccessToken], rec.RefreshToken)
	}
	wg.Wait()
}

func TestSealedStore(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()

	sealer, err := cryptox.NewSealer([]byte("device-master-key"))
	require.NoError(t, err)
	s, clock := newStore(t, backing, sealer)

	require.NoError(t, s.StoreTokens(ctx, tokenstore.TokenRecord{
		AccessToken:  "a.b.c",
		RefreshToken: "r1",
		ExpiresAt:    clock.Now().Add(time.Hour),
	}, &tokenstore.Identity{ID: "c1"}))

	raw, err := backing.Get(ctx, tokenstore.DefaultTokensKey)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "r1")

	access, err := s.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", access)

	// a store opened with another key sees corrupt values and drops them
	other, err := cryptox.NewSealer([]byte("another-key"))
	require.NoError(t, err)
	s2, _ := newStore(t, backing, other)

	access, err = s2.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, access)

	_, err = backing.Get(ctx, tokenstore.DefaultTokensKey)
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestCorruptValueIsDropped(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	s, _ := newStore(t, backing, nil)

	require.NoError(t, backing.Put(ctx, tokenstore.DefaultTokensKey, []byte("garbage")))

	rec, err := s.Tokens(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = backing.Get(ctx, tokenstore.DefaultTokensKey)
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	backing, err := bolt.NewStore(path)
	require.NoError(t, err)
	s, clock := newStore(t, backing, nil)
	require.NoError(t, s.StoreTokens(ctx, tokenstore.TokenRecord{
		AccessToken:  "a.b.c",
		RefreshToken: "r1",
		ExpiresAt:    clock.Now().Add(time.Hour),
	}, nil))
	require.NoError(t, backing.Close())

	backing, err = bolt.NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backing.Close() })

	s, _ = newStore(t, backing, nil)
	refresh, err := s.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", refresh)
}
