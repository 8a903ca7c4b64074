// Package app wires the dev auth backend together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/sessionguard/internal/devauth/http"
	"github.com/aussiebroadwan/sessionguard/internal/devauth/service"
	"github.com/aussiebroadwan/sessionguard/internal/store"
	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/aussiebroadwan/sessionguard/pkg/kv"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
)

// BuildVersion may be overridden at build time via ldflags.
var BuildVersion = "v0.1.0"

// Application is the dev auth backend with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db          kv.Store
	authService *service.AuthService

	server *http.Server
	router *httpapi.Router
}

func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "devauth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	db, err := store.Open(cfg.StoreDriver, cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open refresh token store: %w", err)
	}
	app.db = db

	pemKey, err := cryptox.LoadOrGenerateEd25519Key(cfg.SigningKeyFile)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	signer, err := jwtx.NewSignerEdDSA("devauth-1", pemKey)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize signer: %w", err)
	}

	app.authService = &service.AuthService{
		Store:      db,
		Signer:     signer,
		Hasher:     cryptox.PasswordHasher{Pepper: cfg.Pepper},
		Issuer:     cfg.Issuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}

	if cfg.SeedEmail != "" {
		if _, err := app.authService.Register(context.Background(), service.Customer{
			Email:         cfg.SeedEmail,
			EmailVerified: true,
			TenantID:      cfg.TenantID,
		}, cfg.SeedPassword); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to seed customer: %w", err)
		}
		app.logger.Info("seeded customer", "email", cfg.SeedEmail)
	}

	router := httpapi.NewRouter(jwtx.NewVerifierEdDSA(signer.PublicKey(), cfg.Issuer, nil), BuildVersion, app.logger)
	router.AuthService = app.authService
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return app, nil
}

// Handler exposes the routed handler, mainly for httptest.
func (app *Application) Handler() http.Handler { return app.router }

// AuthService exposes the service so callers can register customers.
func (app *Application) AuthService() *service.AuthService { return app.authService }

// Run serves until SIGINT/SIGTERM or a server error.
func (app *Application) Run() error {
	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	app.logger.Info("devauth starting", "addr", ln.Addr().String(), "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.Serve(ln)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains the HTTP server and closes the store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down devauth...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("devauth stopped")
	return nil
}
