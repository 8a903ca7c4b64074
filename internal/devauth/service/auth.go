// Package service implements the storefront login and refresh contract the
// session core talks to. It exists to run the client end to end and is not a
// production identity provider.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/aussiebroadwan/sessionguard/pkg/kv"
	"github.com/jonboulle/clockwork"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
	ErrDeviceMismatch     = errors.New("refresh token was issued to another device")
	ErrCustomerExists     = errors.New("customer already exists")
	ErrCustomerNotFound   = errors.New("customer not found")
)

// Default role and permissions granted to registered customers.
const (
	RoleCustomer = "customer"

	PermProfileRead = "profile:read"
	PermOrdersRead  = "orders:read"
)

const refreshKeyPrefix = "refresh_token:"

// Signer signs access token claims.
type Signer interface {
	Sign(claims jwtx.Claims) (string, error)
}

// Customer is a registered storefront account.
type Customer struct {
	ID            string
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	Phone         string
	EmailVerified bool
	PhoneVerified bool
	Role          string
	Permissions   []string
	TenantID      string
}

// TokenPair is what login and refresh hand back.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ExpiresIn    time.Duration
}

// refreshRecord is persisted under the SHA-256 fingerprint of the opaque
// refresh token, never the token itself.
type refreshRecord struct {
	CustomerID string    `json:"customer_id"`
	SessionID  string    `json:"session_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AuthService issues and rotates storefront tokens. Customers live in memory;
// refresh tokens go to Store so they survive restarts with a file driver.
type AuthService struct {
	Store      kv.Store
	Signer     Signer
	Hasher     cryptox.PasswordHasher
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Clock      clockwork.Clock

	mu        sync.RWMutex
	customers map[string]*Customer // by lower-cased email
	byID      map[string]*Customer

	// rotateMu serialises refresh so a token can only be exchanged once.
	rotateMu sync.Mutex
}

func (s *AuthService) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *AuthService) accessTTL() time.Duration {
	if s.AccessTTL <= 0 {
		return jwtx.DefaultAccessTokenTTL
	}
	return s.AccessTTL
}

func (s *AuthService) refreshTTL() time.Duration {
	if s.RefreshTTL <= 0 {
		return jwtx.DefaultRefreshTokenTTL
	}
	return s.RefreshTTL
}

// ============================================================================
// Customers
// ============================================================================

// Register hashes password and adds c. Role and permissions default to the
// customer role.
func (s *AuthService) Register(_ context.Context, c Customer, password string) (Customer, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" || password == "" {
		return Customer{}, errors.New("email and password are required")
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return Customer{}, fmt.Errorf("failed to hash password: %w", err)
	}

	c.Email = email
	c.PasswordHash = hash
	if c.ID == "" {
		c.ID = idx.NewAt(s.now()).String()
	}
	if c.Role == "" {
		c.Role = RoleCustomer
	}
	if len(c.Permissions) == 0 {
		c.Permissions = []string{PermProfileRead, PermOrdersRead}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.customers == nil {
		s.customers = make(map[string]*Customer)
		s.byID = make(map[string]*Customer)
	}
	if _, ok := s.customers[email]; ok {
		return Customer{}, ErrCustomerExists
	}

	stored := c
	s.customers[email] = &stored
	s.byID[c.ID] = &stored

	return c, nil
}

func (s *AuthService) CustomerByID(_ context.Context, id string) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	return *c, nil
}

// ============================================================================
// Tokens
// ============================================================================

// Login checks credentials and starts a new session bound to deviceID.
func (s *AuthService) Login(ctx context.Context, email, password, deviceID string) (*TokenPair, Customer, error) {
	s.mu.RLock()
	c, ok := s.customers[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()

	if !ok {
		// Spend the same effort as a real check so unknown emails don't
		// answer faster.
		_, _ = s.Hasher.Hash(password)
		return nil, Customer{}, ErrInvalidCredentials
	}
	if err := s.Hasher.Verify(password, c.PasswordHash); err != nil {
		return nil, Customer{}, ErrInvalidCredentials
	}

	now := s.now()
	sessionID := idx.NewAt(now).String()

	pair, err := s.issue(ctx, *c, sessionID, deviceID, now)
	if err != nil {
		return nil, Customer{}, err
	}
	return pair, *c, nil
}

// Refresh exchanges refreshOpaque for a new pair. The presented token is
// revoked and a new one is issued in the same session.
func (s *AuthService) Refresh(ctx context.Context, refreshOpaque, deviceID string) (*TokenPair, error) {
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	now := s.now()
	key := refreshKeyPrefix + cryptox.FingerprintToken(refreshOpaque)

	rec, err := s.loadRefresh(ctx, key)
	if err != nil {
		return nil, err
	}
	if !now.Before(rec.ExpiresAt) {
		_ = s.Store.Delete(ctx, key)
		return nil, ErrInvalidRefresh
	}
	if rec.DeviceID != "" && deviceID != "" && rec.DeviceID != deviceID {
		return nil, ErrDeviceMismatch
	}
	if deviceID == "" {
		deviceID = rec.DeviceID
	}

	c, err := s.CustomerByID(ctx, rec.CustomerID)
	if err != nil {
		return nil, ErrInvalidRefresh
	}

	if err := s.Store.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return s.issue(ctx, c, rec.SessionID, deviceID, now)
}

// Logout revokes refreshOpaque. Unknown tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, refreshOpaque string) error {
	if refreshOpaque == "" {
		return nil
	}
	if err := s.Store.Delete(ctx, refreshKeyPrefix+cryptox.FingerprintToken(refreshOpaque)); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (s *AuthService) issue(ctx context.Context, c Customer, sessionID, deviceID string, now time.Time) (*TokenPair, error) {
	ttl := s.accessTTL()

	access, err := s.Signer.Sign(jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
		Subject:     c.ID,
		Email:       c.Email,
		Role:        c.Role,
		Permissions: c.Permissions,
		DeviceID:    deviceID,
		SessionID:   sessionID,
		TenantID:    c.TenantID,
		Issuer:      s.Issuer,
		TTL:         ttl,
		Now:         now,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(refreshRecord{
		CustomerID: c.ID,
		SessionID:  sessionID,
		DeviceID:   deviceID,
		ExpiresAt:  now.Add(s.refreshTTL()),
	})
	if err != nil {
		return nil, err
	}
	if err := s.Store.Put(ctx, refreshKeyPrefix+cryptox.FingerprintToken(refresh), data); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	// NumericDate drops sub-second precision; report the same instant.
	exp := now.Add(ttl).Truncate(time.Second)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
		ExpiresIn:    ttl,
	}, nil
}

func (s *AuthService) loadRefresh(ctx context.Context, key string) (refreshRecord, error) {
	var rec refreshRecord

	data, err := s.Store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return rec, ErrInvalidRefresh
	}
	if err != nil {
		return rec, fmt.Errorf("failed to load refresh token: %w", err)
	}

	if err := json.Unmarshal(data, &rec); err != nil {
		_ = s.Store.Delete(ctx, key)
		return rec, ErrInvalidRefresh
	}
	return rec, nil
}
