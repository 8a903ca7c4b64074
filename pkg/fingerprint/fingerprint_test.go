package fingerprint_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/store/drivers/memory"
	"github.com/aussiebroadwan/sessionguard/pkg/fingerprint"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var desktop = fingerprint.DeviceInfo{
	UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
	Language:            "en-AU",
	Platform:            "Linux x86_64",
	ScreenResolution:    "2560x1440",
	Timezone:            "Australia/Sydney",
	ColorDepth:          24,
	HardwareConcurrency: 8,
	DeviceMemory:        ptr(8.0),
	CookieEnabled:       true,
}

func ptr[T any](v T) *T { return &v }

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func newService(t *testing.T, info fingerprint.DeviceInfo) (*fingerprint.Service, *memory.Store, fakeClock) {
	t.Helper()

	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	svc := fingerprint.New(fingerprint.Config{
		Source: fingerprint.StaticSource(info),
		Store:  store,
		Clock:  clock,
		Logger: slogx.Discard(),
	})
	return svc, store, clock
}

func TestGenerateIsDeterministic(t *testing.T) {
	svc, _, _ := newService(t, desktop)
	ctx := context.Background()

	a := svc.Generate(ctx)
	b := svc.Generate(ctx)

	require.Equal(t, a.Hash, b.Hash)
	require.Len(t, a.Hash, 64)
	_, err := hex.DecodeString(a.Hash)
	require.NoError(t, err)
	require.Equal(t, fingerprint.ConfidenceHigh, a.Confidence)
}

func TestGenerateDiffersPerDevice(t *testing.T) {
	other := desktop
	other.ScreenResolution = "1920x1080"

	a, _, _ := newService(t, desktop)
	b, _, _ := newService(t, other)

	require.NotEqual(t, a.Generate(context.Background()).Hash, b.Generate(context.Background()).Hash)
}

func TestHostSourceIsDeterministic(t *testing.T) {
	env := map[string]string{"LANG": "en_AU.UTF-8", "TZ": "Australia/Perth"}
	src := fingerprint.HostSource{
		UserAgent:        "sessionguard-agent/1.0",
		ScreenResolution: "1920x1080",
		ColorDepth:       24,
		Getenv:           func(k string) string { return env[k] },
	}

	info := src.Collect(context.Background())
	require.Equal(t, "en-AU", info.Language)
	require.Equal(t, "Australia/Perth", info.Timezone)
	require.Positive(t, info.HardwareConcurrency)
	require.Empty(t, info.DoNotTrack)
	require.Equal(t, info.Canonical(), src.Collect(context.Background()).Canonical())

	env["DO_NOT_TRACK"] = "1"
	require.Equal(t, "1", src.Collect(context.Background()).DoNotTrack)
}

func TestCanonicalPlaceholders(t *testing.T) {
	got := fingerprint.DeviceInfo{}.Canonical()
	require.Equal(t, "unknown|unknown|unknown|unknown|unknown|0|0|null|false|null", got)

	got = desktop.Canonical()
	parts := strings.Split(got, "|")
	require.Len(t, parts, 10)
	require.Equal(t, "2560x1440", parts[3])
	require.Equal(t, "8", parts[7])
	require.Equal(t, "true", parts[8])
}

func TestStoredFingerprintLifecycle(t *testing.T) {
	svc, store, clock := newService(t, desktop)
	ctx := context.Background()

	fp, err := svc.StoredFingerprint(ctx)
	require.NoError(t, err)
	require.Nil(t, fp)
	require.True(t, svc.IsStoredFingerprintExpired(ctx))

	current := svc.Generate(ctx)
	require.NoError(t, svc.StoreFingerprint(ctx, current))

	fp, err = svc.StoredFingerprint(ctx)
	require.NoError(t, err)
	require.Equal(t, current.Hash, fp.Hash)
	require.False(t, svc.IsStoredFingerprintExpired(ctx))

	clock.Advance(31 * 24 * time.Hour)
	require.True(t, svc.IsStoredFingerprintExpired(ctx))

	require.NoError(t, svc.ClearStoredFingerprint(ctx))
	fp, err = svc.StoredFingerprint(ctx)
	require.NoError(t, err)
	require.Nil(t, fp)

	// corrupt records are dropped
	require.NoError(t, store.Put(ctx, fingerprint.DefaultStorageKey, []byte("{not json")))
	fp, err = svc.StoredFingerprint(ctx)
	require.NoError(t, err)
	require.Nil(t, fp)
}

func TestCheckSession(t *testing.T) {
	ctx := context.Background()

	t.Run("first seen device is adopted", func(t *testing.T) {
		svc, _, _ := newService(t, desktop)

		check := svc.CheckSession(ctx)
		require.True(t, check.FirstSeen)
		require.Equal(t, fingerprint.RiskLow, check.Risk)

		stored, err := svc.StoredFingerprint(ctx)
		require.NoError(t, err)
		require.Equal(t, check.Current.Hash, stored.Hash)

		again := svc.CheckSession(ctx)
		require.False(t, again.FirstSeen)
		require.Equal(t, fingerprint.RiskLow, again.Risk)
		require.Equal(t, 1.0, again.Validation.Similarity)
	})

	t.Run("changed device is high risk", func(t *testing.T) {
		svc, store, _ := newService(t, desktop)

		other := desktop
		other.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 Safari/605.1.15"
		otherSvc := fingerprint.New(fingerprint.Config{
			Source: fingerprint.StaticSource(other),
			Store:  store,
			Logger: slogx.Discard(),
		})
		require.NoError(t, otherSvc.StoreFingerprint(ctx, otherSvc.Generate(ctx)))

		check := svc.CheckSession(ctx)
		require.False(t, check.FirstSeen)
		require.False(t, check.Validation.IsValid)
		require.Equal(t, fingerprint.RiskHigh, check.Risk)
	})

	t.Run("automation blocks even on a known device", func(t *testing.T) {
		bot := desktop
		bot.Webdriver = true
		svc, _, _ := newService(t, bot)

		check := svc.CheckSession(ctx)
		require.True(t, check.FirstSeen)
		require.Equal(t, fingerprint.RecommendBlock, check.Assessment.Recommendation)
		require.Equal(t, fingerprint.RiskHigh, check.Risk)
	})

	t.Run("stale reference is replaced", func(t *testing.T) {
		svc, _, clock := newService(t, desktop)
		svc.CheckSession(ctx)

		clock.Advance(fingerprint.DefaultMaxAge + time.Hour)
		check := svc.CheckSession(ctx)
		require.True(t, check.FirstSeen)
	})
}

type stuckStore struct {
	*memory.Store
}

func (stuckStore) Delete(context.Context, string) error {
	return errors.New("disk is read only")
}

func TestCorruptFingerprintDeleteFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer

	store := stuckStore{memory.NewStore()}
	svc := fingerprint.New(fingerprint.Config{
		Source: fingerprint.StaticSource(desktop),
		Store:  store,
		Logger: slogx.New(slogx.Config{Output: &logs}),
	})

	require.NoError(t, store.Put(ctx, fingerprint.DefaultStorageKey, []byte("{not json")))

	fp, err := svc.StoredFingerprint(ctx)
	require.NoError(t, err)
	require.Nil(t, fp)
	require.Contains(t, logs.String(), "failed to delete corrupt fingerprint")
	require.Contains(t, logs.String(), "disk is read only")
}
