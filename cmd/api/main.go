package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"omnidownloader/internal/adapter/repo"
	"omnidownloader/internal/artifact"
	"omnidownloader/internal/engine"
	"omnidownloader/internal/export"
	"omnidownloader/internal/fetch"
	"omnidownloader/internal/http/handlers"
	"omnidownloader/internal/http/httpapi"
	"omnidownloader/internal/infra"
	"omnidownloader/internal/storage"
)

const shutdownGrace = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := repo.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open job store")
	}
	defer store.Close()

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	fetcher, err := fetch.FromConfig(cfg, files, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure fetcher")
	}

	eng := engine.New(store.Store, fetcher, logger,
		engine.WithConcurrency(cfg.FetchConcurrency),
		engine.WithFetchTimeout(cfg.FetchTimeout),
		engine.WithArtifactRemover(files),
	)
	gate := artifact.NewGate(eng, files, logger)

	app := handlers.NewApp(eng, gate, export.NewService(eng, logger), logger)
	app.Ping = store.Ping

	router := httpapi.NewRouter(app, logger, httpapi.Options{
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMin:    cfg.RateLimitPerMin,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("addr", server.Addr()).
			Str("store", cfg.StoreDriver).
			Str("fetcher", cfg.Fetcher).
			Msg("API listening")
		return server.Start()
	})

	if cfg.SweepInterval > 0 {
		g.Go(func() error {
			runSweeper(gctx, eng, cfg.SweepInterval, cfg.StaleAfter, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server")
		}
		if err := eng.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("running fetches cancelled")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api stopped with error")
		store.Close()
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

func runSweeper(ctx context.Context, eng *engine.Engine, every, staleAfter time.Duration, logger infra.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := eng.Sweep(ctx, staleAfter); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("stale job sweep failed")
			}
		}
	}
}
