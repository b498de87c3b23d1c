package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/amishk599/jobflow/internal/model"
)

// Compile-time check.
var _ model.OutputSink = (*CSVSink)(nil)

var csvHeader = []string{
	"Reference", "Title", "Client", "Location", "Start Date", "End Date",
	"Skills", "Description Summary", "URL",
}

// CSVSink writes one jobs_<source>_<timestamp>.csv file per batch.
type CSVSink struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewCSVSink creates a sink writing into dir. The directory is created on
// first write.
func NewCSVSink(dir string, logger *slog.Logger) *CSVSink {
	if dir == "" {
		dir = "."
	}
	return &CSVSink{dir: dir, now: time.Now, logger: logger}
}

// WriteBatch writes listings and returns the file path. An empty batch writes
// nothing and returns "".
func (s *CSVSink) WriteBatch(ctx context.Context, source model.Source, listings []model.Listing) (string, error) {
	if len(listings) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	name := fmt.Sprintf("jobs_%s_%s.csv", source, s.now().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", name, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	for _, l := range listings {
		row := []string{
			l.Reference, l.Title, l.Client, l.Location, l.StartDate, l.EndDate,
			l.Skills, l.DescriptionSummary, l.URL,
		}
		for i := range row {
			if row[i] == "" {
				row[i] = "N/A"
			}
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("writing %s: %w", name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}

	s.logger.Info("csv written", "source", source, "path", path, "listings", len(listings))
	return path, nil
}
