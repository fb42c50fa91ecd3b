package zip

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Entry is one file placed in an archive. Open is called lazily so only one
// source is held open at a time.
type Entry struct {
	Filename string
	Modified time.Time
	Open     func() (io.ReadCloser, error)
}

// Write streams entries into w as a zip archive. Media is already compressed,
// so entries are stored rather than deflated.
func Write(ctx context.Context, w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := uniqueName(entry.Filename, seen)
		hdr := &zip.FileHeader{Name: name, Method: zip.Store, Modified: entry.Modified}
		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("zip: open %s: %w", name, err)
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("zip: copy %s: %w", name, err)
		}
	}
	return zw.Close()
}

func uniqueName(name string, seen map[string]int) string {
	name = strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "" {
		name = "file"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
}
