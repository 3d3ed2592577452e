package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jewelshot/engine/internal/credits"
	"github.com/jewelshot/engine/internal/events"
	"github.com/jewelshot/engine/internal/http/handlers"
	httpapi "github.com/jewelshot/engine/internal/http/httpapi"
	"github.com/jewelshot/engine/internal/infra"
	"github.com/jewelshot/engine/internal/jobclient"
	"github.com/jewelshot/engine/internal/lifecycle"
	"github.com/jewelshot/engine/internal/poller"
	"github.com/jewelshot/engine/internal/store"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persister, cleanup, err := newPersister(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure persistence")
	}
	defer cleanup()

	st := store.New(persister, logger)
	if err := st.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to restore batch snapshot")
	}

	bus := events.NewBus()
	worker := jobclient.NewClient(jobclient.Options{
		BaseURL: cfg.WorkerBaseURL,
		Timeout: cfg.WorkerTimeout,
		Logger:  logger,
	})
	engine := poller.New(st, worker, bus, logger, poller.Config{
		Interval: cfg.PollInterval,
		Ceiling:  cfg.PollCeiling,
	})
	if st.HasDrivableBatches() {
		engine.Kick()
	}

	app := &handlers.App{
		Store:     st,
		Lifecycle: lifecycle.NewController(st, logger),
		Gate:      lifecycle.NewGate(lifecycle.DefaultConfirmTTL),
		Poller:    engine,
		Bus:       bus,
		Ledger:    credits.NewLedger(cfg.LedgerBaseURL, nil, logger),
		Logger:    logger,
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ",")
	router := httpapi.NewRouter(app, origins)
	server := infra.NewHTTPServer(cfg, router)

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		engine.Run(ctx)
	}()

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	<-pollerDone

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := st.Flush(flushCtx); err != nil {
		logger.Error().Err(err).Msg("failed to flush batch snapshot")
	}
	logger.Info().Msg("server stopped")
}

// newPersister selects Postgres when DATABASE_URL is set, otherwise the file
// snapshot.
func newPersister(ctx context.Context, cfg *infra.Config) (store.Persister, func(), error) {
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		p, err := store.NewPGPersister(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return p, pool.Close, nil
	}
	p, err := store.NewFilePersister(cfg.SnapshotPath)
	if err != nil {
		return nil, nil, err
	}
	return p, func() {}, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
