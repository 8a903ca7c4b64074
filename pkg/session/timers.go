package session

import (
	"context"

	"github.com/aussiebroadwan/sessionguard/pkg/fingerprint"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenmanager"
	"github.com/jonboulle/clockwork"
)

type timers struct {
	risk     clockwork.Ticker
	validate clockwork.Ticker
	force    clockwork.Ticker

	events chan tokenmanager.Event
	stopCh chan struct{}
	doneCh chan struct{}
}

// startTimers creates the three tickers before returning so a clock advanced
// right after Login or Initialize is observed.
func (o *Orchestrator) startTimers(ctx context.Context) {
	t := &timers{
		risk:     o.clock.NewTicker(o.riskInterval),
		validate: o.clock.NewTicker(o.validateInterval),
		force:    o.clock.NewTicker(o.forceInterval),
		events:   make(chan tokenmanager.Event, 8),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	o.mu.Lock()
	o.timers = t
	o.mu.Unlock()

	go o.loop(context.WithoutCancel(ctx), t)

	o.logger.Debug("session timers started",
		"risk_interval", o.riskInterval,
		"validate_interval", o.validateInterval,
		"force_interval", o.forceInterval,
	)
}

// stopTimers detaches the running timers. Unless called from the timer
// goroutine itself it waits for that goroutine to exit.
func (o *Orchestrator) stopTimers(fromLoop bool) {
	o.mu.Lock()
	t := o.timers
	o.timers = nil
	o.mu.Unlock()

	if t == nil {
		return
	}

	close(t.stopCh)
	if !fromLoop {
		<-t.doneCh
	}
}

func (o *Orchestrator) loop(ctx context.Context, t *timers) {
	defer close(t.doneCh)
	defer t.risk.Stop()
	defer t.validate.Stop()
	defer t.force.Stop()

	for {
		var reason string

		select {
		case <-t.stopCh:
			return
		case <-t.risk.Chan():
			reason = o.checkRisk(ctx)
		case <-t.validate.Chan():
			reason = o.checkToken(ctx)
		case <-t.force.Chan():
			if !o.manager.ForceRefresh(ctx) {
				reason = tokenmanager.ReasonRefreshFailed
			}
		case ev := <-t.events:
			reason = o.handleExpired(ctx, ev)
		}

		if reason != "" {
			select {
			case <-t.stopCh:
				// Logout already in progress elsewhere.
			default:
				o.endSession(ctx, reason, true)
			}
			return
		}
	}
}

// checkRisk returns a logout reason, or "" when the session may continue.
func (o *Orchestrator) checkRisk(ctx context.Context) string {
	if o.guard != nil {
		check := o.guard.CheckSession(ctx)
		if check.Risk == fingerprint.RiskHigh {
			o.logger.Warn("session risk high",
				"similarity", check.Validation.Similarity,
				"factors", check.Assessment.Factors,
			)
			return tokenmanager.ReasonDeviceRiskHigh
		}
	}

	if o.idleTimeout > 0 {
		o.mu.Lock()
		idle := o.clock.Since(o.lastActivity)
		o.mu.Unlock()

		if idle > o.idleTimeout {
			o.logger.Info("session idle too long", "idle", idle)
			return ReasonIdleTimeout
		}
	}

	return ""
}

// checkToken runs the cheap checks first and only validates fully when they
// suggest the token is close to expiry or unusable.
func (o *Orchestrator) checkToken(ctx context.Context) string {
	access, err := o.store.AccessToken(ctx)
	if err == nil && access == "" {
		return ReasonMissing
	}

	if !o.store.IsTokenExpiringSoon(ctx) {
		res := o.manager.ValidateCurrentToken(ctx)
		if res.IsValid && !res.NeedsRefresh {
			return ""
		}
	}

	// ValidateAndRefreshIfNeeded refuses expired tokens outright, which would
	// end a session whose refresh token is still good.
	if res := o.manager.ValidateCurrentToken(ctx); res.Reason == tokenmanager.ReasonExpired {
		if reason, ok := o.refreshExpired(ctx); ok {
			return reason
		}
	}

	if !o.manager.ValidateAndRefreshIfNeeded(ctx) {
		return tokenmanager.ReasonRefreshFailed
	}
	return ""
}

// handleExpired gives an expired token one refresh attempt; any other
// token_expired reason ends the session.
func (o *Orchestrator) handleExpired(ctx context.Context, ev tokenmanager.Event) string {
	reason := ev.Reason()
	if reason == tokenmanager.ReasonExpired {
		if next, ok := o.refreshExpired(ctx); ok {
			return next
		}
	}

	if reason == "" {
		reason = tokenmanager.ReasonExpired
	}
	return reason
}

// refreshExpired makes the single refresh attempt an expired access token is
// allowed. ok is false when no refresh token is stored.
func (o *Orchestrator) refreshExpired(ctx context.Context) (reason string, ok bool) {
	if refresh, _ := o.store.RefreshToken(ctx); refresh == "" {
		return "", false
	}

	o.logger.Info("access token expired, attempting refresh")
	if o.manager.RefreshToken(ctx) {
		return "", true
	}
	return tokenmanager.ReasonRefreshFailed, true
}

// onTokenExpired forwards manager events to the timer goroutine. Events that
// arrive while no session is running are dropped.
func (o *Orchestrator) onTokenExpired(ev tokenmanager.Event) {
	o.mu.Lock()
	t := o.timers
	o.mu.Unlock()

	if t == nil {
		return
	}

	select {
	case t.events <- ev:
	default:
		o.logger.Warn("dropping token event, queue full", "reason", ev.Reason())
	}
}

// ============================================================================
// Activity
// ============================================================================

type ActivityKind string

const (
	ActivityMouse    ActivityKind = "mouse"
	ActivityKeyboard ActivityKind = "keyboard"
	ActivityTouch    ActivityKind = "touch"
	ActivityScroll   ActivityKind = "scroll"
	ActivityClick    ActivityKind = "click"
)

// RecordActivity updates the last activity time. It never causes network
// calls.
func (o *Orchestrator) RecordActivity(kind ActivityKind) {
	switch kind {
	case ActivityMouse, ActivityKeyboard, ActivityTouch, ActivityScroll, ActivityClick:
	default:
		return
	}

	o.mu.Lock()
	o.lastActivity = o.clock.Now()
	o.mu.Unlock()
}
