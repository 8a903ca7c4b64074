package tokenmanager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/fingerprint"
	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/aussiebroadwan/sessionguard/pkg/tabsync"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenstore"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultRefreshBuffer   = 300 * time.Second
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = time.Second
	DefaultMonitorInterval = 60 * time.Second
	DefaultSyncKey         = "token_refresh_sync"
)

// TokenStore is the persistence the manager owns after login.
// *tokenstore.Store satisfies it.
type TokenStore interface {
	Tokens(ctx context.Context) (*tokenstore.TokenRecord, error)
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	StoreTokens(ctx context.Context, rec tokenstore.TokenRecord, identity *tokenstore.Identity) error
	UpdateAccessToken(ctx context.Context, token string, expiresAt time.Time) error
	ClearTokens(ctx context.Context) error
}

// Refresher exchanges a refresh token for a new pair.
// *authsdk.SDKClient satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*authsdk.TokenResponse, error)
}

// DeviceGuard is the fingerprint risk gate. *fingerprint.Service satisfies it.
type DeviceGuard interface {
	CheckSession(ctx context.Context) fingerprint.SecurityCheck
	ClearStoredFingerprint(ctx context.Context) error
}

type Config struct {
	Store     TokenStore
	Refresher Refresher

	Guard  DeviceGuard     // optional; nil disables device checks
	Bus    tabsync.Bus     // optional; nil disables cross-tab pings
	Clock  clockwork.Clock // default real clock
	Logger *slog.Logger    // default slog.Default()

	RefreshBuffer   time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	MonitorInterval time.Duration
	SyncKey         string
}

// Manager validates, refreshes and monitors the stored access token.
type Manager struct {
	store     TokenStore
	refresher Refresher
	guard     DeviceGuard
	bus       tabsync.Bus
	clock     clockwork.Clock
	logger    *slog.Logger

	refreshBuffer   time.Duration
	maxRetries      int
	retryDelay      time.Duration
	monitorInterval time.Duration
	syncKey         string

	flight     singleflight.Group
	refreshing atomic.Bool

	listenersMu  sync.RWMutex
	listeners    map[EventType][]listenerEntry
	nextListener ListenerID

	// knownRefresh is the refresh token this manager last observed, used to
	// tell a rotation by another tab from our own.
	knownMu      sync.Mutex
	knownRefresh string

	statsMu       sync.Mutex
	refreshCount  int64
	failureCount  int64
	lastRefreshAt time.Time
	lastError     string

	monitorMu sync.Mutex
	monitor   *monitor
}

func New(cfg Config) *Manager {
	m := &Manager{
		store:           cfg.Store,
		refresher:       cfg.Refresher,
		guard:           cfg.Guard,
		bus:             cfg.Bus,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		refreshBuffer:   cfg.RefreshBuffer,
		maxRetries:      cfg.MaxRetries,
		retryDelay:      cfg.RetryDelay,
		monitorInterval: cfg.MonitorInterval,
		syncKey:         cfg.SyncKey,
		listeners:       make(map[EventType][]listenerEntry),
	}

	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.refreshBuffer <= 0 {
		m.refreshBuffer = DefaultRefreshBuffer
	}
	if m.maxRetries <= 0 {
		m.maxRetries = DefaultMaxRetries
	}
	if m.retryDelay <= 0 {
		m.retryDelay = DefaultRetryDelay
	}
	if m.monitorInterval <= 0 {
		m.monitorInterval = DefaultMonitorInterval
	}
	if m.syncKey == "" {
		m.syncKey = DefaultSyncKey
	}
	m.logger = m.logger.With("component", "tokenmanager")

	return m
}

// ============================================================================
// Validation
// ============================================================================

// ValidationResult describes one access token at one instant.
type ValidationResult struct {
	IsValid      bool          `json:"is_valid"`
	IsExpired    bool          `json:"is_expired"`
	NeedsRefresh bool          `json:"needs_refresh"`
	Claims       *jwtx.Claims  `json:"claims,omitempty"`
	TimeToExpiry time.Duration `json:"time_to_expiry"`

	// Reason is set when IsValid is false.
	Reason string `json:"reason,omitempty"`
}

func unusable(reason string) ValidationResult {
	return ValidationResult{IsExpired: true, NeedsRefresh: true, Reason: reason}
}

// ValidateToken decodes token without verifying its signature and classifies
// it. A token that is not three dot-separated segments is treated as
// corrupted storage: the stored pair is wiped.
func (m *Manager) ValidateToken(ctx context.Context, token string) ValidationResult {
	if !jwtx.WellFormed(token) {
		m.logger.Warn("stored access token is malformed, clearing tokens")
		if err := m.store.ClearTokens(ctx); err != nil {
			m.logger.Error("failed to clear corrupted tokens", "error", err)
		}
		m.setKnownRefresh("")
		return unusable(ReasonCorrupted)
	}

	claims, err := jwtx.Decode(token)
	if err != nil {
		m.logger.Warn("access token payload unreadable", "error", err)
		return unusable(ReasonCorrupted)
	}

	tte, _ := claims.TimeToExpiry(m.clock.Now())
	res := ValidationResult{
		IsValid:      true,
		IsExpired:    tte <= 0,
		NeedsRefresh: tte <= m.refreshBuffer,
		Claims:       claims,
		TimeToExpiry: tte,
	}

	if res.IsExpired {
		res.IsValid = false
		res.Reason = ReasonExpired
	}

	if claims.DeviceID != "" && m.guard != nil {
		if check := m.guard.CheckSession(ctx); check.Risk == fingerprint.RiskHigh {
			m.logger.Warn("device bound token rejected on high risk device")
			res.IsValid = false
			res.Reason = ReasonDeviceRisk
		}
	}

	return res
}

// ValidateCurrentToken validates the stored access token. With nothing
// stored the result is invalid with no reason.
func (m *Manager) ValidateCurrentToken(ctx context.Context) ValidationResult {
	token, err := m.store.AccessToken(ctx)
	if err != nil {
		m.logger.Error("failed to read access token", "error", err)
		return ValidationResult{IsExpired: true, NeedsRefresh: true}
	}
	if token == "" {
		return ValidationResult{IsExpired: true, NeedsRefresh: true}
	}
	return m.ValidateToken(ctx, token)
}

// ValidateAndRefreshIfNeeded reports whether a usable access token is stored
// after the call, refreshing it first when it is inside the refresh buffer.
// With no access token stored it returns false and emits nothing.
func (m *Manager) ValidateAndRefreshIfNeeded(ctx context.Context) bool {
	token, err := m.store.AccessToken(ctx)
	if err != nil {
		m.logger.Error("failed to read access token", "error", err)
		return false
	}
	if token == "" {
		return false
	}

	res := m.ValidateToken(ctx, token)
	if !res.IsValid {
		m.emit(EventTokenExpired, map[string]any{"reason": res.Reason})
		return false
	}

	if res.NeedsRefresh {
		if m.refreshing.Load() {
			// The in-flight refresh will replace the pair; the current token
			// is still usable meanwhile.
			return true
		}
		return m.RefreshToken(ctx)
	}

	return true
}

// ============================================================================
// Reads
// ============================================================================

// CurrentTokenClaims decodes the stored access token, or returns nil.
func (m *Manager) CurrentTokenClaims(ctx context.Context) *jwtx.Claims {
	token, err := m.store.AccessToken(ctx)
	if err != nil || token == "" {
		return nil
	}

	claims, err := jwtx.Decode(token)
	if err != nil && !errors.Is(err, jwtx.ErrMissingExp) {
		return nil
	}
	return claims
}

func (m *Manager) HasPermission(ctx context.Context, permission string) bool {
	claims := m.CurrentTokenClaims(ctx)
	return claims != nil && claims.HasPermission(permission)
}

func (m *Manager) HasRole(ctx context.Context, role string) bool {
	claims := m.CurrentTokenClaims(ctx)
	return claims != nil && claims.HasRole(role)
}

// ExpirationInfo describes the stored access token's lifetime.
type ExpirationInfo struct {
	HasToken     bool          `json:"has_token"`
	ExpiresAt    time.Time     `json:"expires_at,omitzero"`
	TimeToExpiry time.Duration `json:"time_to_expiry"`
	IsExpired    bool          `json:"is_expired"`
	NeedsRefresh bool          `json:"needs_refresh"`
}

// TokenExpirationInfo reads exp from the stored access token. It does not
// wipe malformed tokens.
func (m *Manager) TokenExpirationInfo(ctx context.Context) ExpirationInfo {
	claims := m.CurrentTokenClaims(ctx)
	if claims == nil {
		return ExpirationInfo{}
	}

	info := ExpirationInfo{HasToken: true}
	exp, ok := claims.ExpiresAtTime()
	if !ok {
		info.IsExpired = true
		info.NeedsRefresh = true
		return info
	}

	info.ExpiresAt = exp
	info.TimeToExpiry = exp.Sub(m.clock.Now())
	info.IsExpired = info.TimeToExpiry <= 0
	info.NeedsRefresh = info.TimeToExpiry <= m.refreshBuffer
	return info
}

// Status is a diagnostic snapshot. It never contains token values.
type Status struct {
	HasAccessToken  bool           `json:"has_access_token"`
	HasRefreshToken bool           `json:"has_refresh_token"`
	IsRefreshing    bool           `json:"is_refreshing"`
	IsMonitoring    bool           `json:"is_monitoring"`
	Expiration      ExpirationInfo `json:"expiration"`
	RefreshCount    int64          `json:"refresh_count"`
	FailureCount    int64          `json:"failure_count"`
	LastRefreshAt   time.Time      `json:"last_refresh_at,omitzero"`
	LastError       string         `json:"last_error,omitempty"`
	Origin          string         `json:"origin,omitempty"`
}

func (m *Manager) Status(ctx context.Context) Status {
	st := Status{
		IsRefreshing: m.refreshing.Load(),
		IsMonitoring: m.isMonitoring(),
		Expiration:   m.TokenExpirationInfo(ctx),
	}

	if rec, err := m.store.Tokens(ctx); err == nil && rec != nil {
		st.HasAccessToken = rec.AccessToken != ""
		st.HasRefreshToken = rec.RefreshToken != ""
	}
	if m.bus != nil {
		st.Origin = m.bus.Origin()
	}

	m.statsMu.Lock()
	st.RefreshCount = m.refreshCount
	st.FailureCount = m.failureCount
	st.LastRefreshAt = m.lastRefreshAt
	st.LastError = m.lastError
	m.statsMu.Unlock()

	return st
}

func (m *Manager) setKnownRefresh(token string) {
	m.knownMu.Lock()
	m.knownRefresh = token
	m.knownMu.Unlock()
}

// swapKnownRefresh stores token and returns the previous value.
func (m *Manager) swapKnownRefresh(token string) string {
	m.knownMu.Lock()
	defer m.knownMu.Unlock()

	prev := m.knownRefresh
	m.knownRefresh = token
	return prev
}
