package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotExist is returned when a job has no stored artifact.
var ErrNotExist = errors.New("storage: artifact does not exist")

const (
	artifactsDir = "artifacts"
	partialExt   = ".part"
)

// Suffixes of files that are still being written by this store or by
// external download tools.
var partialSuffixes = []string{partialExt, ".ytdl", ".tmp"}

// Object describes one stored artifact file.
type Object struct {
	Key     string
	Name    string
	Size    int64
	ModTime time.Time
}

// FileStore persists artifacts onto the local filesystem, one directory per
// job under <base>/artifacts/<job id>.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if !filepath.IsAbs(basePath) {
		if abs, err := filepath.Abs(basePath); err == nil {
			basePath = abs
		}
	}
	if err := os.MkdirAll(filepath.Join(basePath, artifactsDir), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// JobDir returns the absolute working directory for a job, creating it.
// Fetchers that drive external tools write into this directory.
func (s *FileStore) JobDir(jobID string) (string, error) {
	key, err := sanitizeKey(path.Join(artifactsDir, jobID))
	if err != nil {
		return "", err
	}
	if strings.Count(key, "/") != 1 {
		return "", errors.New("storage: invalid job id")
	}
	dir := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure job directory: %w", err)
	}
	return dir, nil
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	w, cleanKey, err := s.create(ctx, key)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return cleanKey, nil
}

// Create opens a writer for name inside the job's directory. The file only
// becomes visible to Resolve after Close succeeds; Abort discards it.
func (s *FileStore) Create(ctx context.Context, jobID, name string) (*Writer, error) {
	w, _, err := s.create(ctx, path.Join(artifactsDir, jobID, name))
	return w, err
}

func (s *FileStore) create(ctx context.Context, key string) (*Writer, string, error) {
	if s == nil {
		return nil, "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(fullPath), filepath.Base(fullPath)+".*"+partialExt)
	if err != nil {
		return nil, "", fmt.Errorf("storage: create file: %w", err)
	}
	return &Writer{file: f, target: fullPath}, cleanKey, nil
}

// Resolve lists the finished files stored for a job, ordered by name.
// ErrNotExist is returned when there are none.
func (s *FileStore) Resolve(ctx context.Context, jobID string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := sanitizeKey(path.Join(artifactsDir, jobID))
	if err != nil || strings.Count(key, "/") != 1 {
		return nil, ErrNotExist
	}
	dir := filepath.Join(s.basePath, filepath.FromSlash(key))
	var objects []Object
	walkErr := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || isPartial(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		objects = append(objects, Object{
			Key:     key + "/" + rel,
			Name:    rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, os.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("storage: resolve %s: %w", jobID, walkErr)
	}
	if len(objects) == 0 {
		return nil, ErrNotExist
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

// Open returns a reader for a resolved object.
func (s *FileStore) Open(ctx context.Context, obj Object) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(obj.Key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("storage: open %s: %w", obj.Key, err)
	}
	return f, nil
}

// Remove deletes everything stored for a job.
func (s *FileStore) Remove(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := sanitizeKey(path.Join(artifactsDir, jobID))
	if err != nil || strings.Count(key, "/") != 1 {
		return errors.New("storage: invalid job id")
	}
	return os.RemoveAll(filepath.Join(s.basePath, filepath.FromSlash(key)))
}

// Writer writes a file under a temporary name and renames it into place on Close.
type Writer struct {
	file   *os.File
	target string
	done   bool
}

var _ io.WriteCloser = (*Writer)(nil)

func (w *Writer) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Close flushes the file and publishes it under its final name.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.file.Name())
		return fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Rename(w.file.Name(), w.target); err != nil {
		_ = os.Remove(w.file.Name())
		return fmt.Errorf("storage: publish file: %w", err)
	}
	return nil
}

// Abort discards the partially written file. It is a no-op after Close.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
}

func isPartial(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
