package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"omnidownloader/internal/adapter/repo"
	"omnidownloader/internal/domain"
	"omnidownloader/internal/engine"
	"omnidownloader/internal/fetch"
	"omnidownloader/internal/infra"
	"omnidownloader/internal/storage"
)

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one jobctl command and returns the process exit code. Every
// resource it opens is released before it returns.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("jobctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		idFlag    string
		ownerFlag string
		failFlag  string
		sweepFlag time.Duration
	)
	fs.StringVar(&idFlag, "id", "", "job ID to print")
	fs.StringVar(&ownerFlag, "owner", "", "owner whose history to print")
	fs.StringVar(&failFlag, "fail", "", "with -id: mark the job failed with this detail")
	fs.DurationVar(&sweepFlag, "sweep", 0, "fail unfinished jobs idle for longer than this duration")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	fail := func(err error) int {
		fmt.Fprintln(stderr, "jobctl:", err)
		return 1
	}

	jobID := strings.TrimSpace(idFlag)
	owner := strings.TrimSpace(ownerFlag)
	if jobID == "" && owner == "" && sweepFlag <= 0 {
		return fail(errors.New("one of -id, -owner or -sweep must be provided"))
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fail(err)
	}
	if cfg.StoreDriver == infra.StoreMemory {
		return fail(errors.New("STORE_DRIVER must be postgres or sqlite for jobctl"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// stdout carries the JSON result.
	logger := zerolog.New(stderr).Level(zerolog.WarnLevel).With().Timestamp().Str("cmd", "jobctl").Logger()
	store, err := repo.Open(ctx, cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to open job store: %w", err))
	}
	defer store.Close()

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return fail(fmt.Errorf("failed to configure storage: %w", err))
	}

	eng := engine.New(store.Store, nil, logger, engine.WithArtifactRemover(files))
	defer eng.Shutdown(context.Background())

	var out any
	switch {
	case sweepFlag > 0:
		n, err := eng.Sweep(ctx, sweepFlag)
		if err != nil {
			return fail(err)
		}
		out = map[string]int{"marked": n}

	case jobID != "" && strings.TrimSpace(failFlag) != "":
		if err := eng.ReportOutcome(ctx, jobID, fetch.Failed(failFlag)); err != nil {
			return fail(describe(err))
		}
		job, err := eng.GetStatus(ctx, jobID)
		if err != nil {
			return fail(describe(err))
		}
		out = job

	case jobID != "":
		job, err := eng.GetStatus(ctx, jobID)
		if err != nil {
			return fail(describe(err))
		}
		out = job

	default:
		jobs, err := eng.GetHistory(ctx, owner)
		if err != nil {
			return fail(err)
		}
		out = jobs
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fail(err)
	}
	return 0
}

func describe(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return errors.New("job not found")
	}
	return err
}
