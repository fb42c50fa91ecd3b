// Package artifact hands out the finished output of completed jobs.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"time"

	"github.com/rs/zerolog"

	"omnidownloader/internal/domain"
	"omnidownloader/internal/storage"
	"omnidownloader/pkg/zip"
)

const bundleContentType = "application/zip"

// JobReader returns a snapshot of a job.
type JobReader interface {
	GetStatus(ctx context.Context, jobID string) (domain.Job, error)
}

// ObjectStore locates and opens stored artifact files.
type ObjectStore interface {
	Resolve(ctx context.Context, jobID string) ([]storage.Object, error)
	Open(ctx context.Context, obj storage.Object) (*os.File, error)
}

// Artifact is a readable artifact. Callers must Close it; bundled artifacts
// are removed from disk on Close.
type Artifact struct {
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
	Body        io.ReadCloser
}

func (a *Artifact) Close() error {
	if a == nil || a.Body == nil {
		return nil
	}
	return a.Body.Close()
}

// Gate releases artifacts only for completed jobs.
type Gate struct {
	jobs    JobReader
	objects ObjectStore
	tempDir string
	logger  zerolog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithTempDir sets where multi-file bundles are assembled.
func WithTempDir(dir string) Option {
	return func(g *Gate) { g.tempDir = dir }
}

func NewGate(jobs JobReader, objects ObjectStore, logger zerolog.Logger, opts ...Option) *Gate {
	g := &Gate{jobs: jobs, objects: objects, logger: logger.With().Str("component", "artifact").Logger()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Retrieve returns the artifact of a completed job. It fails with
// domain.ErrNotFound for unknown jobs, domain.ErrNotReady while the job has
// not completed and domain.ErrArtifactMissing when storage has nothing.
func (g *Gate) Retrieve(ctx context.Context, jobID string) (*Artifact, error) {
	job, err := g.jobs.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, domain.ErrNotReady)
	}

	objects, err := g.objects.Resolve(ctx, job.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			g.logger.Warn().Str("job_id", job.ID).Msg("completed job has no stored artifact")
			return nil, fmt.Errorf("job %s: %w", job.ID, domain.ErrArtifactMissing)
		}
		return nil, err
	}

	if len(objects) == 1 {
		return g.single(ctx, job, objects[0])
	}
	return g.bundle(ctx, job, objects)
}

func (g *Gate) single(ctx context.Context, job domain.Job, obj storage.Object) (*Artifact, error) {
	f, err := g.objects.Open(ctx, obj)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("job %s: %w", job.ID, domain.ErrArtifactMissing)
		}
		return nil, err
	}
	ext := extOf(obj.Name)
	return &Artifact{
		Name:        DownloadName(job.Title, ext),
		ContentType: contentType(ext),
		Size:        obj.Size,
		ModTime:     obj.ModTime,
		Body:        f,
	}, nil
}

func (g *Gate) bundle(ctx context.Context, job domain.Job, objects []storage.Object) (*Artifact, error) {
	tmp, err := os.CreateTemp(g.tempDir, "bundle-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create bundle: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	entries := make([]zip.Entry, 0, len(objects))
	var latest time.Time
	for _, obj := range objects {
		obj := obj
		if obj.ModTime.After(latest) {
			latest = obj.ModTime
		}
		entries = append(entries, zip.Entry{
			Filename: obj.Name,
			Modified: obj.ModTime,
			Open: func() (io.ReadCloser, error) {
				return g.objects.Open(ctx, obj)
			},
		})
	}
	if err := zip.Write(ctx, tmp, entries); err != nil {
		cleanup()
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("job %s: %w", job.ID, domain.ErrArtifactMissing)
		}
		return nil, fmt.Errorf("bundle job %s: %w", job.ID, err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("rewind bundle: %w", err)
	}

	g.logger.Debug().Str("job_id", job.ID).Int("files", len(objects)).Int64("bytes", size).Msg("artifact bundled")
	return &Artifact{
		Name:        DownloadName(job.Title, ".zip"),
		ContentType: bundleContentType,
		Size:        size,
		ModTime:     latest,
		Body:        &tempFile{File: tmp},
	}, nil
}

// tempFile deletes itself on Close.
type tempFile struct {
	*os.File
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	if rmErr := os.Remove(t.File.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".opus": "audio/ogg",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".vtt":  "text/vtt",
	".srt":  "application/x-subrip",
}

func contentType(ext string) string {
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
