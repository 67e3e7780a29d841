// Command oncued serves the oncue catalog engine: playlist and EPG
// ingestion, the unified channel catalog, parental controls and user
// state sync, over an HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/oncue-tv/oncue/internal/api"
	"github.com/oncue-tv/oncue/internal/catalog"
	"github.com/oncue-tv/oncue/internal/config"
	"github.com/oncue-tv/oncue/internal/httpclient"
	"github.com/oncue-tv/oncue/internal/parental"
	"github.com/oncue-tv/oncue/internal/refresh"
	"github.com/oncue-tv/oncue/internal/source"
	"github.com/oncue-tv/oncue/internal/store"
	"github.com/oncue-tv/oncue/internal/syncstate"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional; env overrides apply)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "oncued:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Logger)

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	var secrets source.SecureStore
	if cfg.Storage.SecretsPath != "" {
		secrets, err = source.OpenFileSecureStore(cfg.Storage.SecretsPath)
		if err != nil {
			return err
		}
	} else {
		log.Warn().Msg("no secrets_path configured, credentials will not survive restarts")
		secrets = source.NewMemorySecureStore()
	}

	fetcher := &httpclient.Fetcher{
		Client:     httpclient.Default(),
		Limiter:    httpclient.GlobalHostLimiter,
		MaxRetries: cfg.Refresh.Retries,
	}

	cat := catalog.New()
	mgr := refresh.New(log, st, secrets, cat, fetcher)
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	var gateState parental.State
	if _, err := st.Get(store.KeyParentalState, &gateState); err != nil {
		return err
	}
	gateSettings := parental.DefaultSettings()
	if _, err := st.Get(store.KeyParentalSettings, &gateSettings); err != nil {
		return err
	}
	gate := parental.NewGate(gateState, gateSettings, secrets)

	h := &api.Handler{
		Log:     log,
		Catalog: cat,
		Manager: mgr,
		Gate:    gate,
		Syncer:  syncstate.NewSyncer(),
		Store:   st,
	}

	sched, err := refresh.NewScheduler(log, mgr, cfg.Refresh.Schedule, cfg.Refresh.Timeout)
	if err != nil {
		return fmt.Errorf("refresh schedule %q: %w", cfg.Refresh.Schedule, err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Logger) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = os.Stderr
	logger := zerolog.New(out)
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
