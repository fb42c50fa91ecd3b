package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultHTTPArtifactName = "download.bin"

// HTTP streams the source URL straight into the job's artifact directory.
// It is meant for links that already point at a media file.
type HTTP struct {
	client    *http.Client
	workspace Workspace
	logger    zerolog.Logger
	userAgent string
}

// NewHTTP builds a direct download adapter. A nil client gets a default
// client without an overall timeout; the engine bounds each fetch instead.
func NewHTTP(client *http.Client, workspace Workspace, logger zerolog.Logger) *HTTP {
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}
	}
	return &HTTP{client: client, workspace: workspace, logger: logger, userAgent: "omnidownloader/1.0"}
}

func (h *HTTP) Start(ctx context.Context, task Task, reporter Reporter) {
	log := h.logger.With().Str("job_id", task.JobID).Str("fetcher", "http").Logger()

	if err := h.download(ctx, task, reporter); err != nil {
		if stopped(ctx) {
			log.Info().Msg("direct download stopped")
			return
		}
		log.Error().Err(err).Msg("direct download failed")
		_ = reporter.ReportOutcome(outcomeContext(ctx), task.JobID, Failed(err.Error()))
		return
	}
	_ = reporter.ReportOutcome(ctx, task.JobID, Succeeded())
}

func (h *HTTP) download(ctx context.Context, task Task, reporter Reporter) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", redactURL(task.SourceURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, msg)
	}

	_ = reporter.ReportProgress(ctx, task.JobID, 0)

	name := artifactName(resp, task.SourceURL)
	w, err := h.workspace.Create(ctx, task.JobID, name)
	if err != nil {
		return err
	}

	pw := &progressWriter{
		ctx:      ctx,
		total:    resp.ContentLength,
		tracker:  newProgressTracker(),
		reporter: reporter,
		jobID:    task.JobID,
	}
	if _, err := io.Copy(io.MultiWriter(w, pw), resp.Body); err != nil {
		w.Abort()
		return fmt.Errorf("copy body: %w", err)
	}
	if resp.ContentLength > 0 && pw.written != resp.ContentLength {
		w.Abort()
		return fmt.Errorf("short body: got %d of %d bytes", pw.written, resp.ContentLength)
	}
	return w.Close()
}

type progressWriter struct {
	ctx      context.Context
	total    int64
	written  int64
	tracker  *progressTracker
	reporter Reporter
	jobID    string
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total > 0 {
		if v, ok := p.tracker.next(float64(p.written) * 100 / float64(p.total)); ok {
			if err := p.reporter.ReportProgress(p.ctx, p.jobID, v); err != nil && errors.Is(err, context.Canceled) {
				return 0, err
			}
		}
	}
	return len(b), nil
}

// artifactName prefers the server supplied filename, then the last URL path segment.
func artifactName(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := cleanName(params["filename"]); name != "" {
				return name
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := cleanName(path.Base(u.Path)); name != "" {
			return name
		}
	}
	if exts, _ := mime.ExtensionsByType(resp.Header.Get("Content-Type")); len(exts) > 0 {
		return "download" + exts[0]
	}
	return defaultHTTPArtifactName
}

func cleanName(name string) string {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	switch name {
	case "", ".", "/", "..":
		return ""
	}
	if strings.HasPrefix(name, ".") {
		return ""
	}
	return name
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
