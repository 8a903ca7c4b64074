// Package agent is the composition root of the sessionguard command. It owns
// the storage, backend client, tab bus, token manager and session
// orchestrator of one process and exposes them to the CLI and the status
// server.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/store"
	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/fingerprint"
	"github.com/aussiebroadwan/sessionguard/pkg/kv"
	"github.com/aussiebroadwan/sessionguard/pkg/session"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/tabsync"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenmanager"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenstore"
	"github.com/jonboulle/clockwork"
)

// BuildVersion may be overridden at build time via ldflags.
var BuildVersion = "v0.1.0"

const metricsSampleInterval = 15 * time.Second

// Agent holds one process's session stack.
type Agent struct {
	cfg    *Config
	logger *slog.Logger
	clock  clockwork.Clock

	db      kv.Store
	device  *fingerprint.Service
	tokens  *tokenstore.Store
	client  *authsdk.SDKClient
	bus     tabsync.Bus
	manager *tokenmanager.Manager
	session *session.Orchestrator
	metrics *Metrics

	startTime time.Time
	closeOnce sync.Once
}

// New builds the stack. Nothing runs until Run, Login or Initialize.
func New(cfg *Config, logger *slog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &Agent{
		cfg:       cfg,
		logger:    logger,
		clock:     clockwork.NewRealClock(),
		startTime: time.Now(),
	}

	db, err := store.Open(cfg.StoreDriver, cfg.StorePath)
	if err != nil {
		return nil, err
	}
	a.db = db

	var sealer *cryptox.Sealer
	if cfg.MasterKey != "" {
		sealer, err = cryptox.NewSealer([]byte(cfg.MasterKey))
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize sealer: %w", err)
		}
	} else {
		logger.Warn("no master key configured, tokens are stored unencrypted")
	}

	width, height := parseScreen(cfg.Screen)
	a.device = fingerprint.New(fingerprint.Config{
		Source: fingerprint.HostSource{
			UserAgent:        cfg.UserAgent,
			ScreenResolution: fmt.Sprintf("%dx%d", width, height),
			ColorDepth:       cfg.ColorDepth,
		},
		Store:  db,
		Clock:  a.clock,
		Logger: logger,
	})

	a.tokens = tokenstore.New(tokenstore.Config{
		Store:      db,
		Sealer:     sealer,
		Clock:      a.clock,
		Logger:     logger,
		ExpiryLead: cfg.RefreshBuffer,
	})

	a.client = authsdk.NewSDKClient(cfg.BackendURL)
	a.client.TenantID = cfg.TenantID
	a.client.Fingerprint = func(ctx context.Context) string {
		return a.device.Generate(ctx).Hash
	}

	if cfg.SyncDir != "" {
		bus, err := tabsync.NewFileBus(cfg.SyncDir, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to start tab sync: %w", err)
		}
		a.bus = bus
	}

	a.manager = tokenmanager.New(tokenmanager.Config{
		Store:           a.tokens,
		Refresher:       a.client,
		Guard:           a.device,
		Bus:             a.bus,
		Clock:           a.clock,
		Logger:          logger,
		RefreshBuffer:   cfg.RefreshBuffer,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay,
		MonitorInterval: cfg.MonitorInterval,
	})

	a.session = session.New(session.Config{
		Manager:     a.manager,
		Store:       a.tokens,
		Guard:       a.device,
		Auth:        a.client,
		Clock:       a.clock,
		Logger:      logger,
		IdleTimeout: cfg.IdleTimeout,
	})

	a.metrics = NewMetrics()
	a.metrics.Observe(a.manager)
	a.session.OnLogout(a.metrics.observeLogout)
	a.session.OnLogout(func(ev session.LogoutEvent) {
		if ev.Err != nil {
			logger.Warn("signed out", "reason", ev.Reason, "error", ev.Err)
		}
	})

	return a, nil
}

// ============================================================================
// Commands
// ============================================================================

// Report is the status snapshot printed by the CLI and served on /status.
type Report struct {
	Session session.State       `json:"session"`
	Tokens  tokenmanager.Status `json:"tokens"`
	Device  DeviceReport        `json:"device"`
}

type DeviceReport struct {
	Fingerprint string                     `json:"fingerprint"`
	Confidence  fingerprint.Confidence     `json:"confidence"`
	Assessment  fingerprint.RiskAssessment `json:"assessment"`
}

// Initialize recovers the stored session, refreshing when needed.
func (a *Agent) Initialize(ctx context.Context) session.State {
	return a.session.Initialize(ctx)
}

func (a *Agent) Login(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}
	return a.session.Login(ctx, email, password)
}

// Refresh forces a refresh regardless of expiry.
func (a *Agent) Refresh(ctx context.Context) error {
	if !a.manager.ForceRefresh(ctx) {
		if st := a.manager.Status(ctx); st.LastError != "" {
			return fmt.Errorf("%w: %s", session.ErrSessionExpired, st.LastError)
		}
		return session.ErrSessionExpired
	}
	return nil
}

func (a *Agent) Logout(ctx context.Context) {
	a.session.Logout(ctx, session.ReasonUser)
}

// Status reports without side effects on the stored fingerprint.
func (a *Agent) Status(ctx context.Context) Report {
	fp := a.device.Generate(ctx)

	return Report{
		Session: a.session.State(ctx),
		Tokens:  a.manager.Status(ctx),
		Device: DeviceReport{
			Fingerprint: slogx.Short(fp.Hash),
			Confidence:  fp.Confidence,
			Assessment:  fingerprint.AssessDeviceRisk(fp.DeviceInfo),
		},
	}
}

// Run recovers the session and serves status until ctx is cancelled. It
// returns session.ErrSessionExpired if the session ends while running.
func (a *Agent) Run(ctx context.Context) error {
	if st := a.Initialize(ctx); !st.Authenticated {
		return fmt.Errorf("no active session, run login first: %w", session.ErrNotAuthenticated)
	}

	ended := make(chan session.LogoutEvent, 1)
	unsubscribe := a.session.OnLogout(func(ev session.LogoutEvent) {
		select {
		case ended <- ev:
		default:
		}
	})
	defer unsubscribe()

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.ListenAndServe()
	}()
	a.logger.Info("agent running", "addr", a.cfg.ListenAddr, "version", BuildVersion)

	sampler := a.clock.NewTicker(metricsSampleInterval)
	defer sampler.Stop()
	a.metrics.Sample(ctx, a.manager, a.session)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-serverErrors:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				runErr = fmt.Errorf("status server failed: %w", err)
			}
			break loop
		case ev := <-ended:
			if ev.Err != nil {
				runErr = fmt.Errorf("session ended (%s): %w", ev.Reason, ev.Err)
			}
			break loop
		case <-sampler.Chan():
			a.metrics.Sample(ctx, a.manager, a.session)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("graceful server shutdown failed", "error", err)
	}

	return runErr
}

// Close stops background work and closes storage. Stored tokens are kept.
func (a *Agent) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.session.Close()
		if a.bus != nil {
			err = errors.Join(err, a.bus.Close())
		}
		err = errors.Join(err, a.db.Close())
	})
	return err
}

// parseScreen turns "WIDTHxHEIGHT" into its parts; anything else is 0x0.
func parseScreen(s string) (int, int) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width < 0 || height < 0 {
		return 0, 0
	}
	return width, height
}
