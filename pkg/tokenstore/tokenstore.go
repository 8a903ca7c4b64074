// Package tokenstore persists the customer's token pair and cached identity.
//
// It is the only code that reads or writes token keys in the underlying
// kv.Store. The access and refresh tokens are serialized into one record
// under one key, so a single Put swaps the pair and a concurrent reader never
// sees an access token from one login next to a refresh token from another.
//
// # Sealing
//
// When a cryptox.Sealer is configured every value is encrypted with
// AES-256-GCM before it reaches the kv.Store. A value that cannot be opened
// (wrong key, truncated write, tampering) is deleted and reported as absent.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/kv"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultTokensKey   = "auth_tokens"
	DefaultIdentityKey = "customer_data"

	// DefaultExpiryLead is how close to expiry IsTokenExpiringSoon reports true.
	DefaultExpiryLead = 5 * time.Minute

	TokenTypeBearer = "Bearer"
)

var ErrEmptyAccessToken = errors.New("tokenstore: empty access token")

// TokenRecord is the persisted token pair.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// record is the on-disk form; expiry is kept in epoch milliseconds.
type record struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Identity is the minimal cached customer profile.
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	PhoneVerified bool   `json:"phone_verified"`
}

type Config struct {
	Store  kv.Store
	Sealer *cryptox.Sealer // optional

	Clock       clockwork.Clock
	Logger      *slog.Logger
	ExpiryLead  time.Duration
	TokensKey   string
	IdentityKey string
}

type Store struct {
	kv     kv.Store
	sealer *cryptox.Sealer
	clock  clockwork.Clock
	logger *slog.Logger
	lead   time.Duration

	tokensKey   string
	identityKey string

	// mu serializes read-modify-write of the token record.
	mu sync.Mutex
}

func New(cfg Config) *Store {
	s := &Store{
		kv:          cfg.Store,
		sealer:      cfg.Sealer,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		lead:        cfg.ExpiryLead,
		tokensKey:   cfg.TokensKey,
		identityKey: cfg.IdentityKey,
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.lead <= 0 {
		s.lead = DefaultExpiryLead
	}
	if s.tokensKey == "" {
		s.tokensKey = DefaultTokensKey
	}
	if s.identityKey == "" {
		s.identityKey = DefaultIdentityKey
	}
	s.logger = s.logger.With("component", "tokenstore")

	return s
}

// ============================================================================
// Tokens
// ============================================================================

// StoreTokens replaces the token pair. A nil identity leaves the cached
// identity untouched.
func (s *Store) StoreTokens(ctx context.Context, rec TokenRecord, identity *Identity) error {
	if rec.AccessToken == "" {
		return ErrEmptyAccessToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.putTokens(ctx, rec); err != nil {
		return err
	}

	if identity != nil {
		if err := s.putJSON(ctx, s.identityKey, identity); err != nil {
			return fmt.Errorf("failed to store customer data: %w", err)
		}
	}

	return nil
}

// Tokens returns the stored pair, or nil when there is none.
func (s *Store) Tokens(ctx context.Context) (*TokenRecord, error) {
	var r record
	ok, err := s.getJSON(ctx, s.tokensKey, &r)
	if err != nil || !ok {
		return nil, err
	}

	rec := &TokenRecord{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}
	if r.ExpiresAt > 0 {
		rec.ExpiresAt = time.UnixMilli(r.ExpiresAt)
	}
	return rec, nil
}

// AccessToken returns "" when no token is stored.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	rec, err := s.Tokens(ctx)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// RefreshToken returns "" when no token is stored.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	rec, err := s.Tokens(ctx)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.RefreshToken, nil
}

// ExpiresAt reports the stored expiry. ok is false when nothing is stored or
// the record carries no expiry.
func (s *Store) ExpiresAt(ctx context.Context) (time.Time, bool) {
	rec, err := s.Tokens(ctx)
	if err != nil || rec == nil || rec.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return rec.ExpiresAt, true
}

// UpdateAccessToken swaps the access token and expiry, keeping the stored
// refresh token. Used when a refresh response did not rotate the refresh
// token.
func (s *Store) UpdateAccessToken(ctx context.Context, token string, expiresAt time.Time) error {
	if token == "" {
		return ErrEmptyAccessToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Tokens(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &TokenRecord{}
	}

	rec.AccessToken = token
	rec.ExpiresAt = expiresAt
	return s.putTokens(ctx, *rec)
}

// IsTokenExpiringSoon is true when the stored expiry is within the lead
// window, already past, or unknown.
func (s *Store) IsTokenExpiringSoon(ctx context.Context) bool {
	exp, ok := s.ExpiresAt(ctx)
	if !ok {
		return true
	}
	return exp.Sub(s.clock.Now()) < s.lead
}

// ClearTokens removes the token pair and the cached identity.
func (s *Store) ClearTokens(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.kv.Delete(ctx, s.tokensKey); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear tokens: %w", err))
	}
	if err := s.kv.Delete(ctx, s.identityKey); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear customer data: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Store) putTokens(ctx context.Context, rec TokenRecord) error {
	r := record{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		TokenType:    rec.TokenType,
	}
	if r.TokenType == "" {
		r.TokenType = TokenTypeBearer
	}
	if !rec.ExpiresAt.IsZero() {
		r.ExpiresAt = rec.ExpiresAt.UnixMilli()
	}

	if err := s.putJSON(ctx, s.tokensKey, r); err != nil {
		return fmt.Errorf("failed to store tokens: %w", err)
	}
	return nil
}

// ============================================================================
// Identity
// ============================================================================

// CustomerData returns the cached identity, or nil when there is none.
func (s *Store) CustomerData(ctx context.Context) (*Identity, error) {
	var id Identity
	ok, err := s.getJSON(ctx, s.identityKey, &id)
	if err != nil || !ok {
		return nil, err
	}
	return &id, nil
}

func (s *Store) UpdateCustomerData(ctx context.Context, identity Identity) error {
	if err := s.putJSON(ctx, s.identityKey, identity); err != nil {
		return fmt.Errorf("failed to store customer data: %w", err)
	}
	return nil
}

// ============================================================================
// Encoding
// ============================================================================

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	if s.sealer != nil {
		if data, err = s.sealer.Seal(data); err != nil {
			return err
		}
	}

	return s.kv.Put(ctx, key, data)
}

// getJSON decodes key into v. ok is false when the key is absent or its value
// was corrupt, in which case the value has been deleted.
func (s *Store) getJSON(ctx context.Context, key string, v any) (ok bool, err error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}

	if s.sealer != nil {
		if data, err = s.sealer.Open(data); err != nil {
			s.discard(ctx, key, err)
			return false, nil
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.discard(ctx, key, err)
		return false, nil
	}

	return true, nil
}

func (s *Store) discard(ctx context.Context, key string, cause error) {
	s.logger.Warn("discarding corrupt stored value", "key", key, "error", cause)
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.Error("failed to delete corrupt value", "key", key, "error", err)
	}
}
