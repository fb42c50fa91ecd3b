package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"omnidownloader/internal/artifact"
	"omnidownloader/internal/domain"
	"omnidownloader/internal/engine"
)

// JobService is the part of the job engine the HTTP layer calls.
type JobService interface {
	Create(ctx context.Context, req engine.CreateRequest) (string, error)
	GetStatus(ctx context.Context, jobID string) (domain.Job, error)
	GetHistory(ctx context.Context, owner string) ([]domain.Job, error)
}

// ArtifactSource releases artifacts of completed jobs.
type ArtifactSource interface {
	Retrieve(ctx context.Context, jobID string) (*artifact.Artifact, error)
}

// HistoryExporter renders an owner's history as a workbook.
type HistoryExporter interface {
	HistoryXLSX(ctx context.Context, owner string) ([]byte, error)
}

type App struct {
	Jobs      JobService
	Artifacts ArtifactSource
	Exporter  HistoryExporter
	Logger    zerolog.Logger
	// Ping reports whether the job store is reachable. Optional.
	Ping func(ctx context.Context) error

	createSchema *jsonschema.Schema
}

func NewApp(jobs JobService, artifacts ArtifactSource, exporter HistoryExporter, logger zerolog.Logger) *App {
	return &App{
		Jobs:         jobs,
		Artifacts:    artifacts,
		Exporter:     exporter,
		Logger:       logger,
		createSchema: mustCompileCreateJobSchema(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorPayload struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorPayload{Error: errorDetail{Code: code, Message: message}})
}

// fail maps domain errors onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		a.error(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotReady):
		a.error(w, http.StatusNotFound, "not_ready", "artifact not ready")
	case errors.Is(err, domain.ErrArtifactMissing):
		a.error(w, http.StatusNotFound, "artifact_missing", "artifact not available")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrStoreUnavailable):
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("job store unavailable")
		a.error(w, http.StatusServiceUnavailable, "store_unavailable", "job store unavailable, retry later")
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
