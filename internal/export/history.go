// Package export renders job history as spreadsheet workbooks.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"omnidownloader/internal/domain"
)

const (
	historySheet = "History"
	noteLimit    = 200
)

// HistorySource lists an owner's jobs newest first.
type HistorySource interface {
	GetHistory(ctx context.Context, owner string) ([]domain.Job, error)
}

// Service produces XLSX bytes for history exports.
type Service struct {
	jobs   HistorySource
	logger zerolog.Logger
}

func NewService(jobs HistorySource, logger zerolog.Logger) *Service {
	return &Service{jobs: jobs, logger: logger}
}

var historyHeaders = []string{
	"Created (UTC)",
	"Title",
	"Source URL",
	"Format",
	"Status",
	"Progress %",
	"Updated (UTC)",
	"Error",
	"Job ID",
}

// HistoryXLSX returns a workbook with one row per job of owner.
func (s *Service) HistoryXLSX(ctx context.Context, owner string) ([]byte, error) {
	start := time.Now()

	jobs, err := s.jobs.GetHistory(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	// Rename the default sheet rather than leaving an empty "Sheet1" behind.
	if err := f.SetSheetName(f.GetSheetName(0), historySheet); err != nil {
		return nil, err
	}

	if err := writeHistory(f, historySheet, jobs); err != nil {
		return nil, err
	}
	if err := layoutHistory(f, historySheet); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info().
		Str("owner", owner).
		Int("rows", len(jobs)).
		Int64("elapsed_ms", time.Since(start).Milliseconds()).
		Msg("history export ok")
	return buf.Bytes(), nil
}

// writeHistory fills sheet with the header row and one row per job.
func writeHistory(f *excelize.File, sheet string, jobs []domain.Job) error {
	if err := f.SetSheetRow(sheet, "A1", &historyHeaders); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	for i, job := range jobs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
		row := []any{
			job.CreatedAt.UTC().Format(time.RFC3339),
			job.Title,
			job.SourceURL,
			job.SelectedFormat,
			job.Status.String(),
			job.Progress,
			job.UpdatedAt.UTC().Format(time.RFC3339),
			truncate(job.Error, noteLimit),
			job.ID,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}
	return nil
}

var historyWidths = []struct {
	from, to string
	width    float64
}{
	{"A", "A", 22},
	{"B", "B", 40},
	{"C", "C", 60},
	{"D", "F", 12},
	{"G", "G", 22},
	{"H", "H", 48},
	{"I", "I", 38},
}

func layoutHistory(f *excelize.File, sheet string) error {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}
	for _, w := range historyWidths {
		if err := f.SetColWidth(sheet, w.from, w.to, w.width); err != nil {
			return fmt.Errorf("xlsx width %s: %w", w.from, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
