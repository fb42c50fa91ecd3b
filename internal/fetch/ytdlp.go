package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var rePct = regexp.MustCompile(`^\[download\]\s+([0-9]+(?:\.[0-9]+)?)%`)

// YTDLP downloads media by running the yt-dlp binary inside the job's
// working directory.
type YTDLP struct {
	bin       string
	workspace Workspace
	logger    zerolog.Logger
	extraArgs []string
}

// NewYTDLP builds the adapter. bin defaults to "yt-dlp" on PATH.
func NewYTDLP(bin string, workspace Workspace, logger zerolog.Logger, extraArgs ...string) *YTDLP {
	if strings.TrimSpace(bin) == "" {
		bin = "yt-dlp"
	}
	return &YTDLP{bin: bin, workspace: workspace, logger: logger, extraArgs: extraArgs}
}

func (y *YTDLP) Start(ctx context.Context, task Task, reporter Reporter) {
	log := y.logger.With().Str("job_id", task.JobID).Str("fetcher", "ytdlp").Logger()

	dir, err := y.workspace.JobDir(task.JobID)
	if err != nil {
		_ = reporter.ReportOutcome(ctx, task.JobID, Failed(err.Error()))
		return
	}

	args := []string{"--newline", "--no-playlist", "--no-mtime",
		"-f", selectFormat(task.Format), "-P", dir, "-o", "%(title).120B [%(id)s].%(ext)s"}
	args = append(args, y.extraArgs...)
	args = append(args, "--", task.SourceURL)

	tracker := newProgressTracker()
	onLine := func(line string) {
		pct, ok := parseProgress(line)
		if !ok {
			return
		}
		if v, ok := tracker.next(pct); ok {
			if err := reporter.ReportProgress(ctx, task.JobID, v); err != nil {
				log.Warn().Err(err).Int("progress", v).Msg("report progress")
			}
		}
	}

	_ = reporter.ReportProgress(ctx, task.JobID, 0)
	log.Info().Str("format", task.Format).Msg("yt-dlp started")

	if err := y.run(ctx, args, onLine); err != nil {
		if stopped(ctx) {
			log.Info().Msg("yt-dlp stopped")
			return
		}
		log.Error().Err(err).Msg("yt-dlp failed")
		_ = reporter.ReportOutcome(outcomeContext(ctx), task.JobID, Failed(err.Error()))
		return
	}
	log.Info().Msg("yt-dlp finished")
	_ = reporter.ReportOutcome(ctx, task.JobID, Succeeded())
}

func (y *YTDLP) run(ctx context.Context, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, y.bin, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yt-dlp: %w", err)
	}

	var errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(r io.Reader, keep bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			if keep {
				mu.Lock()
				appendLimited(&errBuf, line)
				mu.Unlock()
			}
			onLine(line)
		}
	}

	wg.Add(2)
	go read(stdoutPipe, false)
	go read(stderrPipe, true)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("yt-dlp interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			mu.Lock()
			defer mu.Unlock()
			if msg := lastErrorLine(errBuf.String()); msg != "" {
				return fmt.Errorf("yt-dlp exited with code %d: %s", exitErr.ExitCode(), msg)
			}
		}
		return fmt.Errorf("yt-dlp failed: %w", err)
	}
	return nil
}

// parseProgress extracts the percentage from a "[download]  42.0% of ..." line.
func parseProgress(line string) (float64, bool) {
	m := rePct.FindStringSubmatch(strings.TrimSpace(line))
	if len(m) < 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// selectFormat maps the client's format choice onto a yt-dlp selector.
// Unknown values are passed through as raw selectors.
func selectFormat(raw string) string {
	format := strings.ToLower(strings.TrimSpace(raw))
	switch format {
	case "", "best":
		return "bv*+ba/b"
	case "2160p", "4k":
		return "bv*[height<=2160]+ba/b[height<=2160]"
	case "1080p", "1080", "hd":
		return "bv*[height<=1080]+ba/b[height<=1080]"
	case "720p", "720":
		return "bv*[height<=720]+ba/b[height<=720]"
	case "480p", "480", "sd":
		return "bv*[height<=480]+ba/b[height<=480]"
	case "360p", "360":
		return "bv*[height<=360]+ba/b[height<=360]"
	case "audio", "128k", "mp3", "m4a":
		return "ba/b"
	default:
		return strings.TrimSpace(raw)
	}
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(b *strings.Builder, line string) {
	const maxKeep = 8192
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	if remain := maxKeep - b.Len(); len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(l, "ERROR:"))
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return ""
}
