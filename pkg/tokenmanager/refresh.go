package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/fingerprint"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenstore"
)

const refreshFlightKey = "refresh"

var (
	errNoRefreshToken = errors.New("no refresh token stored")
	errDeviceRisk     = errors.New("device risk is high")
)

// RefreshToken exchanges the stored refresh token for a new pair. Concurrent
// callers share one round trip and its result.
func (m *Manager) RefreshToken(ctx context.Context) bool {
	detached := context.WithoutCancel(ctx)

	v, _, _ := m.flight.Do(refreshFlightKey, func() (any, error) {
		m.refreshing.Store(true)
		defer m.refreshing.Store(false)

		return m.refresh(detached), nil
	})

	return v.(bool)
}

// ForceRefresh refreshes regardless of how long the access token has left.
func (m *Manager) ForceRefresh(ctx context.Context) bool {
	m.logger.Info("forcing token refresh")
	return m.RefreshToken(ctx)
}

func (m *Manager) refresh(ctx context.Context) bool {
	refreshToken, err := m.store.RefreshToken(ctx)
	if err != nil {
		m.fail(ctx, ReasonRefreshFailed, 0, err)
		return false
	}
	if refreshToken == "" {
		m.fail(ctx, ReasonNoRefreshToken, 0, errNoRefreshToken)
		return false
	}

	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if attempt > 1 {
			delay := m.retryDelay * time.Duration(attempt-1)
			m.logger.Debug("retrying token refresh", "attempt", attempt, "delay", delay)
			<-m.clock.After(delay)

			// Another tab may have rotated the pair while we waited.
			if converged, current := m.adoptRemoteRotation(ctx, refreshToken); converged {
				return true
			} else if current != "" {
				refreshToken = current
			}
		}

		if m.guard != nil {
			if check := m.guard.CheckSession(ctx); check.Risk == fingerprint.RiskHigh {
				m.logger.Warn("refresh refused on high risk device",
					"similarity", check.Validation.Similarity,
					"score", check.Assessment.Score,
				)
				m.fail(ctx, ReasonDeviceRiskHigh, attempt-1, errDeviceRisk)
				return false
			}
		}

		rotated, err := m.attempt(ctx, refreshToken)
		if err == nil {
			m.succeed(ctx, rotated)
			return true
		}

		lastErr = err
		m.logger.Warn("token refresh attempt failed", "attempt", attempt, "max", m.maxRetries, "error", err)
	}

	m.fail(ctx, ReasonRefreshFailed, m.maxRetries, lastErr)
	return false
}

// attempt performs one backend round trip and persists the result.
func (m *Manager) attempt(ctx context.Context, refreshToken string) (rotated bool, err error) {
	resp, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return false, err
	}

	expiresAt := resp.ExpiresAt(m.clock.Now())

	if resp.RefreshToken == "" {
		if err := m.store.UpdateAccessToken(ctx, resp.AccessToken, expiresAt); err != nil {
			return false, fmt.Errorf("failed to persist access token: %w", err)
		}
		return false, nil
	}

	rec := tokenstore.TokenRecord{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    expiresAt,
	}
	if err := m.store.StoreTokens(ctx, rec, nil); err != nil {
		return false, fmt.Errorf("failed to persist tokens: %w", err)
	}

	m.setKnownRefresh(resp.RefreshToken)
	return resp.RefreshToken != refreshToken, nil
}

// adoptRemoteRotation checks whether storage now holds a refresh token other
// than used. converged is true when that new pair is already fresh, so there
// is nothing left to do. Otherwise current is the refresh token to retry
// with ("" when unchanged).
func (m *Manager) adoptRemoteRotation(ctx context.Context, used string) (converged bool, current string) {
	rec, err := m.store.Tokens(ctx)
	if err != nil || rec == nil || rec.RefreshToken == "" || rec.RefreshToken == used {
		return false, ""
	}

	m.setKnownRefresh(rec.RefreshToken)
	m.logger.Info("token pair rotated by another tab during refresh")

	res := m.ValidateToken(ctx, rec.AccessToken)
	if res.IsValid && !res.NeedsRefresh {
		m.emit(EventTokenRotated, map[string]any{"source": SourceRemote})
		m.recordSuccess()
		return true, ""
	}
	return false, rec.RefreshToken
}

func (m *Manager) succeed(ctx context.Context, rotated bool) {
	m.recordSuccess()
	m.logger.Info("token refreshed", "refresh_token_rotated", rotated)

	m.emit(EventTokenRefreshed, map[string]any{"refresh_token_rotated": rotated})
	if rotated {
		m.emit(EventTokenRotated, map[string]any{"source": SourceLocal})
	}

	if m.bus != nil {
		if err := m.bus.Ping(ctx, m.syncKey); err != nil {
			m.logger.Warn("failed to notify other tabs", "error", err)
		}
	}
}

// fail is the single escalation path: the session cannot be kept alive.
func (m *Manager) fail(ctx context.Context, reason string, attempts int, cause error) {
	m.statsMu.Lock()
	m.failureCount++
	if cause != nil {
		m.lastError = cause.Error()
	}
	m.statsMu.Unlock()

	m.logger.Warn("token refresh failed, clearing session", "reason", reason, "attempts", attempts, "error", cause)

	data := map[string]any{"reason": reason, "attempts": attempts}
	if cause != nil {
		data["error"] = cause.Error()
	}
	m.emit(EventRefreshFailed, data)

	if err := m.store.ClearTokens(ctx); err != nil {
		m.logger.Error("failed to clear tokens", "error", err)
	}
	if m.guard != nil {
		if err := m.guard.ClearStoredFingerprint(ctx); err != nil {
			m.logger.Error("failed to clear fingerprint", "error", err)
		}
	}
	m.setKnownRefresh("")

	m.emit(EventTokenExpired, map[string]any{"reason": reason})

	if m.bus != nil {
		if err := m.bus.Ping(ctx, m.syncKey); err != nil {
			m.logger.Warn("failed to notify other tabs", "error", err)
		}
	}
}

func (m *Manager) recordSuccess() {
	m.statsMu.Lock()
	m.refreshCount++
	m.lastRefreshAt = m.clock.Now()
	m.lastError = ""
	m.statsMu.Unlock()
}
