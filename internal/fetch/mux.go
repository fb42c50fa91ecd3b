package fetch

import (
	"context"
	"net/url"
	"path"
	"strings"
)

var directMediaExts = map[string]struct{}{
	".mp4": {}, ".m4v": {}, ".mov": {}, ".webm": {}, ".mkv": {}, ".avi": {},
	".mp3": {}, ".m4a": {}, ".aac": {}, ".ogg": {}, ".opus": {}, ".flac": {}, ".wav": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
	".zip": {}, ".pdf": {},
}

// Mux routes links to plain media files to the direct adapter and everything
// else to the extractor adapter.
type Mux struct {
	Direct    Fetcher
	Extractor Fetcher
}

func (m Mux) Start(ctx context.Context, task Task, reporter Reporter) {
	if m.Direct != nil && IsDirectMedia(task.SourceURL) {
		m.Direct.Start(ctx, task, reporter)
		return
	}
	if m.Extractor != nil {
		m.Extractor.Start(ctx, task, reporter)
		return
	}
	if m.Direct != nil {
		m.Direct.Start(ctx, task, reporter)
		return
	}
	_ = reporter.ReportOutcome(ctx, task.JobID, Failed("no fetcher configured"))
}

// IsDirectMedia reports whether the URL path ends in a known file extension.
func IsDirectMedia(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := directMediaExts[strings.ToLower(path.Ext(u.Path))]
	return ok
}
