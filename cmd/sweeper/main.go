package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"omnidownloader/internal/adapter/repo"
	"omnidownloader/internal/engine"
	"omnidownloader/internal/infra"
	"omnidownloader/internal/storage"
)

const defaultSweepInterval = time.Minute

func main() {
	var once bool
	flag.BoolVar(&once, "once", false, "run a single sweep and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "sweeper").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StoreDriver == infra.StoreMemory {
		logger.Fatal().Msg("sweeper: the memory store is process local; use postgres or sqlite")
	}
	store, err := repo.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: failed to open job store")
	}
	defer store.Close()

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: failed to configure storage")
	}

	// No fetcher: this process only fails stalled jobs.
	eng := engine.New(store.Store, nil, logger, engine.WithArtifactRemover(files))
	defer eng.Shutdown(context.Background())

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	sweep := func() {
		n, err := eng.Sweep(ctx, cfg.StaleAfter)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("sweep failed")
			}
			return
		}
		logger.Debug().Int("marked", n).Msg("sweep done")
	}

	sweep()
	if once {
		return
	}

	logger.Info().Dur("interval", interval).Dur("stale_after", cfg.StaleAfter).Msg("sweeper started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
