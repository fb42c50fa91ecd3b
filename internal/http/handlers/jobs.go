package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"omnidownloader/internal/artifact"
	"omnidownloader/internal/domain"
	"omnidownloader/internal/engine"
	"omnidownloader/internal/middleware"
)

const (
	maxCreateBody = 64 << 10
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type createJobRequest struct {
	SourceURL      string `json:"sourceUrl"`
	SelectedFormat string `json:"selectedFormat"`
	Owner          string `json:"owner"`
	Title          string `json:"title"`
	Thumbnail      string `json:"thumbnail"`
}

type createJobResponse struct {
	JobID string `json:"jobId"`
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCreateBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "payload too large")
			return
		}
		a.error(w, http.StatusBadRequest, "invalid_request", "unable to read payload")
		return
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if err := validatePayload(a.createSchema, doc); err != nil {
		a.fail(w, r, err)
		return
	}

	var req createJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if owner := middleware.OwnerFromContext(r.Context()); owner != "" {
		req.Owner = owner
	}

	id, err := a.Jobs.Create(r.Context(), engine.CreateRequest{
		SourceURL:      req.SourceURL,
		SelectedFormat: req.SelectedFormat,
		Owner:          req.Owner,
		Title:          req.Title,
		Thumbnail:      req.Thumbnail,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+id)
	a.json(w, http.StatusAccepted, createJobResponse{JobID: id})
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.GetStatus(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	a.json(w, http.StatusOK, job)
}

func (a *App) ListOwnerJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.Jobs.GetHistory(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	w.Header().Set("Cache-Control", "no-store")
	a.json(w, http.StatusOK, jobs)
}

func (a *App) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	art, err := a.Artifacts.Retrieve(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer func() {
		if err := art.Close(); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("close artifact")
		}
	}()

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", attachment(art.Name))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if rs, ok := art.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, art.Name, art.ModTime, rs)
		return
	}
	if art.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, art.Body); err != nil {
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("stream artifact")
	}
}

func (a *App) ExportOwnerJobs(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(chi.URLParam(r, "owner"))
	data, err := a.Exporter.HistoryXLSX(r.Context(), owner)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	name := artifact.DownloadName(fmt.Sprintf("history %s %s", owner, time.Now().UTC().Format("2006-01-02")), ".xlsx")
	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", attachment(name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
