package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const simulatedArtifactName = "video.mp4"

// Simulated replays a fixed-step download without touching the network and
// leaves a small placeholder file as the artifact. It exists for local
// development and demos.
type Simulated struct {
	workspace Workspace
	step      int
	interval  time.Duration
	logger    zerolog.Logger
}

// NewSimulated builds a simulated adapter advancing step percent per interval.
func NewSimulated(workspace Workspace, step int, interval time.Duration, logger zerolog.Logger) *Simulated {
	if step <= 0 || step > 100 {
		step = 20
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulated{workspace: workspace, step: step, interval: interval, logger: logger}
}

func (s *Simulated) Start(ctx context.Context, task Task, reporter Reporter) {
	log := s.logger.With().Str("job_id", task.JobID).Str("fetcher", "simulated").Logger()

	if err := reporter.ReportProgress(ctx, task.JobID, 0); err != nil {
		log.Warn().Err(err).Msg("report start")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for progress := s.step; ; progress += s.step {
		select {
		case <-ctx.Done():
			if stopped(ctx) {
				log.Info().Int("progress", progress-s.step).Msg("simulated fetch stopped")
				return
			}
			_ = reporter.ReportOutcome(outcomeContext(ctx), task.JobID, Failed("fetch interrupted: "+ctx.Err().Error()))
			return
		case <-ticker.C:
		}
		if progress >= 100 {
			break
		}
		if err := reporter.ReportProgress(ctx, task.JobID, progress); err != nil {
			log.Warn().Err(err).Int("progress", progress).Msg("report progress")
		}
	}

	if s.workspace != nil {
		if err := s.writePlaceholder(ctx, task); err != nil {
			if stopped(ctx) {
				return
			}
			log.Error().Err(err).Msg("write placeholder artifact")
			_ = reporter.ReportOutcome(outcomeContext(ctx), task.JobID, Failed(err.Error()))
			return
		}
	}
	if err := reporter.ReportOutcome(ctx, task.JobID, Succeeded()); err != nil {
		log.Warn().Err(err).Msg("report outcome")
	}
}

func (s *Simulated) writePlaceholder(ctx context.Context, task Task) error {
	w, err := s.workspace.Create(ctx, task.JobID, simulatedArtifactName)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "This is a simulated download of %s (format %s)\n", task.SourceURL, task.Format); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}
