// Package session runs the authenticated session lifecycle on top of a token
// manager: startup recovery from stored tokens, the periodic risk, validation
// and forced refresh timers, activity tracking, login and logout.
//
// Every failure ends the same way: tokens and the stored fingerprint are
// cleared, timers stop, and OnLogout subscribers receive ErrSessionExpired.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/fingerprint"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenmanager"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenstore"
	"github.com/jonboulle/clockwork"
)

// ErrSessionExpired is the one user facing outcome of every forced logout.
var ErrSessionExpired = errors.New("session expired, please sign in again")

var ErrNotAuthenticated = errors.New("session: not authenticated")

// Default timer intervals.
const (
	DefaultRiskCheckInterval    = 5 * time.Minute
	DefaultValidateInterval     = 10 * time.Minute
	DefaultForceRefreshInterval = 60 * time.Minute
)

// Logout reasons beyond those reported by the token manager.
const (
	ReasonUser        = "user"
	ReasonIdleTimeout = "idle_timeout"
	ReasonMissing     = "tokens_missing"
)

// TokenManager is the subset of *tokenmanager.Manager the orchestrator drives.
type TokenManager interface {
	ValidateCurrentToken(ctx context.Context) tokenmanager.ValidationResult
	ValidateAndRefreshIfNeeded(ctx context.Context) bool
	RefreshToken(ctx context.Context) bool
	ForceRefresh(ctx context.Context) bool
	Start(ctx context.Context)
	Stop()
	AddEventListener(t tokenmanager.EventType, fn tokenmanager.Listener) tokenmanager.ListenerID
	RemoveEventListener(t tokenmanager.EventType, id tokenmanager.ListenerID) bool
}

// TokenStore is the subset of *tokenstore.Store the orchestrator reads.
type TokenStore interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	IsTokenExpiringSoon(ctx context.Context) bool
	StoreTokens(ctx context.Context, rec tokenstore.TokenRecord, identity *tokenstore.Identity) error
	CustomerData(ctx context.Context) (*tokenstore.Identity, error)
	UpdateCustomerData(ctx context.Context, identity tokenstore.Identity) error
	ClearTokens(ctx context.Context) error
}

// DeviceGuard is the subset of *fingerprint.Service the orchestrator uses.
type DeviceGuard interface {
	Generate(ctx context.Context) fingerprint.Fingerprint
	StoreFingerprint(ctx context.Context, fp fingerprint.Fingerprint) error
	CheckSession(ctx context.Context) fingerprint.SecurityCheck
	ClearStoredFingerprint(ctx context.Context) error
}

// Authenticator is the backend login surface. *authsdk.SDKClient satisfies it.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*authsdk.TokenResponse, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	Me(ctx context.Context, accessToken string) (*authsdk.Customer, error)
}

type Config struct {
	Manager TokenManager
	Store   TokenStore
	Guard   DeviceGuard   // optional
	Auth    Authenticator // optional; Login and RefreshProfile need it

	Clock  clockwork.Clock
	Logger *slog.Logger

	RiskCheckInterval    time.Duration
	ValidateInterval     time.Duration
	ForceRefreshInterval time.Duration

	// IdleTimeout logs out after this long without RecordActivity. Zero
	// disables it.
	IdleTimeout time.Duration
}

// LogoutEvent is delivered to OnLogout subscribers. Err is ErrSessionExpired
// for forced logouts and nil when the customer signed out.
type LogoutEvent struct {
	Reason string
	Err    error
	At     time.Time
}

// State is a snapshot of the session.
type State struct {
	Authenticated bool                 `json:"authenticated"`
	Customer      *tokenstore.Identity `json:"customer,omitempty"`
	LastActivity  time.Time            `json:"last_activity,omitzero"`
	TimersRunning bool                 `json:"timers_running"`
	LogoutReason  string               `json:"logout_reason,omitempty"`
}

// Orchestrator owns the session lifecycle. It is safe for concurrent use.
type Orchestrator struct {
	manager TokenManager
	store   TokenStore
	guard   DeviceGuard
	auth    Authenticator
	clock   clockwork.Clock
	logger  *slog.Logger

	riskInterval     time.Duration
	validateInterval time.Duration
	forceInterval    time.Duration
	idleTimeout      time.Duration

	mu            sync.Mutex
	authenticated bool
	lastActivity  time.Time
	logoutReason  string
	timers        *timers

	subsMu  sync.Mutex
	subs    map[int]func(LogoutEvent)
	nextSub int

	listenerID tokenmanager.ListenerID
	closeOnce  sync.Once
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		manager:          cfg.Manager,
		store:            cfg.Store,
		guard:            cfg.Guard,
		auth:             cfg.Auth,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		riskInterval:     cfg.RiskCheckInterval,
		validateInterval: cfg.ValidateInterval,
		forceInterval:    cfg.ForceRefreshInterval,
		idleTimeout:      cfg.IdleTimeout,
		subs:             make(map[int]func(LogoutEvent)),
	}

	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.riskInterval <= 0 {
		o.riskInterval = DefaultRiskCheckInterval
	}
	if o.validateInterval <= 0 {
		o.validateInterval = DefaultValidateInterval
	}
	if o.forceInterval <= 0 {
		o.forceInterval = DefaultForceRefreshInterval
	}
	o.logger = o.logger.With("component", "session")
	o.lastActivity = o.clock.Now()

	o.listenerID = o.manager.AddEventListener(tokenmanager.EventTokenExpired, o.onTokenExpired)

	return o
}

// ============================================================================
// Lifecycle
// ============================================================================

// Initialize recovers the session from stored tokens and starts the timers
// when it ends up authenticated.
func (o *Orchestrator) Initialize(ctx context.Context) State {
	access, err := o.store.AccessToken(ctx)
	if err != nil {
		o.logger.Error("failed to read access token", "error", err)
	}

	switch {
	case access != "":
		ok := true
		if o.store.IsTokenExpiringSoon(ctx) {
			o.logger.Info("stored token expiring soon, refreshing")
			ok = o.manager.RefreshToken(ctx)
		}
		if ok {
			ok = o.manager.ValidateAndRefreshIfNeeded(ctx)
		}
		if !ok {
			o.endSession(ctx, tokenmanager.ReasonRefreshFailed, false)
			return o.State(ctx)
		}

	default:
		refresh, _ := o.store.RefreshToken(ctx)
		if refresh == "" {
			o.logger.Debug("no stored session")
			return o.State(ctx)
		}

		o.logger.Info("only a refresh token is stored, attempting refresh")
		if !o.manager.RefreshToken(ctx) {
			o.endSession(ctx, tokenmanager.ReasonRefreshFailed, false)
			return o.State(ctx)
		}
	}

	o.startSession(ctx)
	return o.State(ctx)
}

// Login authenticates with the backend, stores the token pair, the cached
// identity and the current device fingerprint, then starts the timers.
func (o *Orchestrator) Login(ctx context.Context, email, password string) error {
	if o.auth == nil {
		return errors.New("session: no authenticator configured")
	}

	resp, err := o.auth.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}

	rec := tokenstore.TokenRecord{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    resp.ExpiresAt(o.clock.Now()),
	}
	if err := o.store.StoreTokens(ctx, rec, identityFrom(resp.Customer)); err != nil {
		return fmt.Errorf("failed to store tokens: %w", err)
	}

	if o.guard != nil {
		if err := o.guard.StoreFingerprint(ctx, o.guard.Generate(ctx)); err != nil {
			o.logger.Warn("failed to store device fingerprint", "error", err)
		}
	}

	o.startSession(ctx)
	o.logger.Info("customer logged in")

	return nil
}

// Logout signs the customer out. Backend revocation is best effort.
func (o *Orchestrator) Logout(ctx context.Context, reason string) {
	if reason == "" {
		reason = ReasonUser
	}
	o.endSession(ctx, reason, false)
}

// RefreshProfile re-fetches the customer profile and updates the cache.
func (o *Orchestrator) RefreshProfile(ctx context.Context) (*tokenstore.Identity, error) {
	if o.auth == nil {
		return nil, errors.New("session: no authenticator configured")
	}

	access, err := o.store.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, ErrNotAuthenticated
	}

	customer, err := o.auth.Me(ctx, access)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	id := identityFrom(customer)
	if err := o.store.UpdateCustomerData(ctx, *id); err != nil {
		return nil, err
	}
	return id, nil
}

// Close stops timers and detaches from the token manager without touching
// stored tokens.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.stopTimers(false)
		o.manager.Stop()
		o.manager.RemoveEventListener(tokenmanager.EventTokenExpired, o.listenerID)

		o.subsMu.Lock()
		o.subs = make(map[int]func(LogoutEvent))
		o.subsMu.Unlock()
	})
}

// OnLogout registers fn for logout notifications. The returned func
// unregisters it.
func (o *Orchestrator) OnLogout(fn func(LogoutEvent)) func() {
	o.subsMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.subsMu.Unlock()

	return func() {
		o.subsMu.Lock()
		delete(o.subs, id)
		o.subsMu.Unlock()
	}
}

func (o *Orchestrator) State(ctx context.Context) State {
	o.mu.Lock()
	st := State{
		Authenticated: o.authenticated,
		LastActivity:  o.lastActivity,
		TimersRunning: o.timers != nil,
		LogoutReason:  o.logoutReason,
	}
	o.mu.Unlock()

	if st.Authenticated {
		if id, err := o.store.CustomerData(ctx); err == nil {
			st.Customer = id
		}
	}
	return st
}

// startSession replaces any running timers, so it is safe to call on an
// already active session.
func (o *Orchestrator) startSession(ctx context.Context) {
	o.stopTimers(false)

	o.mu.Lock()
	o.authenticated = true
	o.logoutReason = ""
	o.lastActivity = o.clock.Now()
	o.mu.Unlock()

	o.startTimers(ctx)
	o.manager.Start(ctx)
}

// endSession is the single logout path. fromLoop is set when called on the
// timer goroutine, which must not wait for itself.
func (o *Orchestrator) endSession(ctx context.Context, reason string, fromLoop bool) {
	o.mu.Lock()
	o.authenticated = false
	o.logoutReason = reason
	o.mu.Unlock()

	o.stopTimers(fromLoop)
	o.manager.Stop()

	if o.auth != nil {
		access, _ := o.store.AccessToken(ctx)
		refresh, _ := o.store.RefreshToken(ctx)
		if access != "" {
			if err := o.auth.Logout(ctx, access, refresh); err != nil {
				o.logger.Warn("backend logout failed", "error", err)
			}
		}
	}

	if err := o.store.ClearTokens(ctx); err != nil {
		o.logger.Error("failed to clear tokens", "error", err)
	}
	if o.guard != nil {
		if err := o.guard.ClearStoredFingerprint(ctx); err != nil {
			o.logger.Error("failed to clear fingerprint", "error", err)
		}
	}

	ev := LogoutEvent{Reason: reason, At: o.clock.Now()}
	if reason != ReasonUser {
		ev.Err = ErrSessionExpired
	}
	o.logger.Info("session ended", "reason", reason)

	o.subsMu.Lock()
	fns := make([]func(LogoutEvent), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.subsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func identityFrom(c *authsdk.Customer) *tokenstore.Identity {
	if c == nil {
		return nil
	}
	return &tokenstore.Identity{
		ID:            c.ID,
		Email:         c.Email,
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		Phone:         c.Phone,
		EmailVerified: c.EmailVerified,
		PhoneVerified: c.PhoneVerified,
	}
}
