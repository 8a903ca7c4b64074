package tokenmanager

import (
	"context"

	"github.com/aussiebroadwan/sessionguard/pkg/tabsync"
	"github.com/jonboulle/clockwork"
)

type monitor struct {
	ticker      clockwork.Ticker
	unsubscribe func()
	syncCh      chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// Start begins passive monitoring: every MonitorInterval the stored token is
// validated and refreshed when needed, and pings from other tabs trigger the
// same check. Start is a no-op when already running. The ticker exists when
// Start returns.
func (m *Manager) Start(ctx context.Context) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if m.monitor != nil {
		return
	}

	mon := &monitor{
		ticker: m.clock.NewTicker(m.monitorInterval),
		syncCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if rt, err := m.store.RefreshToken(ctx); err == nil {
		m.setKnownRefresh(rt)
	}

	if m.bus != nil {
		mon.unsubscribe = m.bus.Subscribe(func(sig tabsync.Signal) {
			if sig.Key != m.syncKey {
				return
			}
			// Coalesce: one pending re-check is enough.
			select {
			case mon.syncCh <- struct{}{}:
			default:
			}
		})
	}

	m.monitor = mon
	go m.run(context.WithoutCancel(ctx), mon)

	m.logger.Info("token monitoring started", "interval", m.monitorInterval)
}

// Stop ends monitoring and waits for an in-progress check to finish.
func (m *Manager) Stop() {
	m.monitorMu.Lock()
	mon := m.monitor
	m.monitor = nil
	m.monitorMu.Unlock()

	if mon == nil {
		return
	}

	if mon.unsubscribe != nil {
		mon.unsubscribe()
	}
	close(mon.stopCh)
	<-mon.doneCh

	m.logger.Info("token monitoring stopped")
}

func (m *Manager) isMonitoring() bool {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	return m.monitor != nil
}

func (m *Manager) run(ctx context.Context, mon *monitor) {
	defer close(mon.doneCh)
	defer mon.ticker.Stop()

	for {
		select {
		case <-mon.ticker.Chan():
			m.ValidateAndRefreshIfNeeded(ctx)
		case <-mon.syncCh:
			m.handleSync(ctx)
		case <-mon.stopCh:
			return
		}
	}
}

// handleSync reacts to a ping from another tab.
func (m *Manager) handleSync(ctx context.Context) {
	current, err := m.store.RefreshToken(ctx)
	if err != nil {
		m.logger.Error("failed to read refresh token after sync", "error", err)
		return
	}

	prev := m.swapKnownRefresh(current)
	switch {
	case current != "" && current != prev:
		m.logger.Info("token pair rotated by another tab")
		m.emit(EventTokenRotated, map[string]any{"source": SourceRemote})
	case current == "" && prev != "":
		m.logger.Info("tokens cleared by another tab")
		m.emit(EventTokenExpired, map[string]any{"reason": ReasonSignedOut})
		return
	}

	m.ValidateAndRefreshIfNeeded(ctx)
}
