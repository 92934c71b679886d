// Package app wires storage, sync, auth and the HTTP surface together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tripsync/internal/auth"
	"tripsync/internal/config"
	"tripsync/internal/persistence"
	"tripsync/internal/remote/couch"
	"tripsync/internal/remote/firebase"
	"tripsync/internal/remote/gist"
	"tripsync/internal/store"
	"tripsync/internal/syncer"
	"tripsync/internal/websocket"

	"github.com/rs/zerolog"
)

type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	backend persistence.Backend
	Local   *persistence.Local
	Store   *store.Store
	Sync    *syncer.Service
	Auth    *auth.Service
	Hub     *websocket.Manager
	handler http.Handler
}

type Option func(*appOptions)

type appOptions struct {
	backend   persistence.Backend
	connector syncer.Connector
}

// WithBackend replaces the configured storage backend.
func WithBackend(b persistence.Backend) Option {
	return func(o *appOptions) { o.backend = b }
}

func WithConnector(c syncer.Connector) Option {
	return func(o *appOptions) { o.connector = c }
}

func New(cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = newBackend(cfg.Storage)
		if err != nil {
			return nil, err
		}
	}

	local := persistence.NewLocal(backend, log)
	st := store.New(local, log)

	syncOpts := []syncer.ServiceOption{syncer.WithOptions(syncOptions(cfg.Sync))}
	if o.connector != nil {
		syncOpts = append(syncOpts, syncer.WithConnector(o.connector))
	}
	syncService := syncer.NewService(st, local, log, syncOpts...)

	creds := make([]auth.Credential, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		creds = append(creds, auth.Credential{Username: u.Username, Role: u.Role, PasswordHash: u.PasswordHash})
	}
	authService := auth.NewService(creds, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)

	hub := websocket.NewManager(log,
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		cfg.WebSocket.MaxMessageSize,
	)

	a := &App{
		cfg:     cfg,
		log:     log,
		backend: backend,
		Local:   local,
		Store:   st,
		Sync:    syncService,
		Auth:    authService,
		Hub:     hub,
	}
	st.OnChange(a.announceChange)
	syncService.OnStatus(a.announceStatus)
	a.handler = a.routes()
	return a, nil
}

func newBackend(cfg config.StorageConfig) (persistence.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return persistence.NewMemoryBackend(cfg.QuotaBytes), nil
	case "redis":
		b, err := persistence.NewRedisBackend(cfg.RedisURL, cfg.RedisPrefix, cfg.QuotaBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis storage: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func syncOptions(cfg config.SyncConfig) syncer.Options {
	return syncer.Options{
		Debounce:        cfg.Debounce,
		RealtimeTimeout: cfg.RealtimeTimeout,
		PollInterval:    cfg.PollInterval,
		PatchTimeout:    cfg.PatchTimeout,
		ItemTimeout:     cfg.ItemTimeout,
		UploadTimeout:   cfg.UploadTimeout,
	}
}

// SyncSettings turns the sync section of the config into remote settings.
// ok is false when no remote is configured.
func SyncSettings(cfg config.SyncConfig) (syncer.Settings, bool) {
	s := syncer.Settings{Backend: cfg.Backend}
	switch cfg.Backend {
	case syncer.BackendFirebase:
		s.Firebase = firebase.Config{URL: cfg.FirebaseURL, Path: cfg.FirebasePath, Token: cfg.FirebaseToken}
	case syncer.BackendGist:
		s.Gist = gist.Config{GistID: cfg.GistID, Token: cfg.GistToken, FileName: cfg.GistFile}
	case syncer.BackendCouch:
		s.Couch = couch.Config{URL: cfg.CouchURL, Database: cfg.CouchDatabase}
	default:
		return s, false
	}
	return s, true
}

func (a *App) Handler() http.Handler {
	return a.handler
}

// Start loads the stored trip and connects the configured remote. A remote
// that cannot be reached leaves the app working locally.
func (a *App) Start(ctx context.Context) {
	go a.Hub.Run(ctx)

	if doc := a.Store.Load(ctx); doc != nil {
		a.log.Info().Str("trip", doc.ID).Int("days", len(doc.Days)).Msg("loaded stored trip")
	} else {
		a.log.Info().Msg("no stored trip, waiting for initialization")
	}

	settings, ok := SyncSettings(a.cfg.Sync)
	if !ok {
		return
	}
	res := a.Sync.Configure(ctx, settings)
	if !res.Success {
		a.log.Warn().Str("reason", res.Message).Msg("sync unavailable, working offline")
		return
	}
	if a.cfg.Sync.AutoSync {
		a.Sync.SetAutoSync(ctx, true)
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down.
func (a *App) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%s", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", addr).Str("env", a.cfg.Server.Env).Msg("starting tripsync server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Close flushes pending sync work and releases storage.
func (a *App) Close() error {
	a.Sync.Flush()
	a.Sync.StopAll()
	if c, ok := a.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
