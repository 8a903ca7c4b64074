package agent

import (
	"context"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/session"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenmanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sessionguard"

// Metrics exports session health. Each agent owns its registry so tests can
// build several.
type Metrics struct {
	Registry *prometheus.Registry

	tokenEvents   *prometheus.CounterVec
	logouts       *prometheus.CounterVec
	secondsToExp  prometheus.Gauge
	authenticated prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		tokenEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_events_total",
				Help:      "Token manager events by type and reason.",
			},
			[]string{"type", "reason"},
		),
		logouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logouts_total",
				Help:      "Session logouts by reason.",
			},
			[]string{"reason"},
		),
		secondsToExp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "access_token_seconds_to_expiry",
			Help:      "Seconds until the stored access token expires; negative once expired.",
		}),
		authenticated: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_authenticated",
			Help:      "1 while a session is active.",
		}),
	}
}

// Observe subscribes to every manager event type.
func (m *Metrics) Observe(mgr *tokenmanager.Manager) {
	for _, t := range []tokenmanager.EventType{
		tokenmanager.EventTokenRefreshed,
		tokenmanager.EventTokenExpired,
		tokenmanager.EventRefreshFailed,
		tokenmanager.EventTokenRotated,
	} {
		mgr.AddEventListener(t, func(ev tokenmanager.Event) {
			reason := ev.Reason()
			if src, ok := ev.Data["source"].(string); ok && reason == "" {
				reason = src
			}
			m.tokenEvents.WithLabelValues(string(ev.Type), reason).Inc()
		})
	}
}

func (m *Metrics) observeLogout(ev session.LogoutEvent) {
	m.logouts.WithLabelValues(ev.Reason).Inc()
	m.authenticated.Set(0)
}

// Sample refreshes the gauges from current state.
func (m *Metrics) Sample(ctx context.Context, mgr *tokenmanager.Manager, orch *session.Orchestrator) {
	info := mgr.TokenExpirationInfo(ctx)
	if info.HasToken && !info.ExpiresAt.IsZero() {
		m.secondsToExp.Set(info.TimeToExpiry.Round(time.Second).Seconds())
	} else {
		m.secondsToExp.Set(0)
	}

	if orch.State(ctx).Authenticated {
		m.authenticated.Set(1)
	} else {
		m.authenticated.Set(0)
	}
}
