// Package history persists one CSV row per report attempted in a
// download run and serves the tail of that log to the UI. The CSV is
// append-only; rows are never rewritten.
package history

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"

	"reportrunner/internal/apperrors"
)

const appendFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// header is the fixed CSV schema, written once when the file is created.
var header = []string{"Timestamp", "RunID", "ReportType", "FromDate", "ToDate", "ChunkSize", "Status", "Files", "Error"}

// numericColumns are parsed into numbers on read; malformed values in
// these columns normalize to null rather than erroring.
var numericColumns = map[string]bool{"Files": true}

// Row statuses.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusSkipped   = "SKIPPED"
)

// Row is one per-report outcome.
type Row struct {
	Timestamp  time.Time
	RunID      string
	ReportType string
	FromDate   string
	ToDate     string
	ChunkSize  string
	Status     string
	Files      int
	Error      string
}

// Log is the append-only CSV history file.
type Log struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// New creates a Log backed by the given filesystem and path.
func New(fs afero.Fs, path string) *Log {
	return &Log{fs: fs, path: path}
}

// Append writes one row, creating the file with its header first if needed.
func (l *Log) Append(row Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	exists, err := afero.Exists(l.fs, l.path)
	if err != nil {
		return apperrors.Internal("history.append", err)
	}

	f, err := l.fs.OpenFile(l.path, appendFlags, 0o644)
	if err != nil {
		return apperrors.Internal("history.append", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if !exists {
		if err := w.Write(header); err != nil {
			return apperrors.Internal("history.append", err)
		}
	}
	record := []string{
		row.Timestamp.Format("2006-01-02 15:04:05"),
		row.RunID,
		row.ReportType,
		row.FromDate,
		row.ToDate,
		row.ChunkSize,
		row.Status,
		strconv.Itoa(row.Files),
		row.Error,
	}
	if err := w.Write(record); err != nil {
		return apperrors.Internal("history.append", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return apperrors.Internal("history.append", err)
	}
	return nil
}

// Tail returns the last limit rows as JSON-ready objects keyed by
// column name. Numeric columns parse to numbers; empty, "NaN", or
// unparseable numeric cells become nil (JSON null). A missing file
// reads as no rows.
func (l *Log) Tail(limit int) ([]map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exists, err := afero.Exists(l.fs, l.path)
	if err != nil {
		return nil, apperrors.Internal("history.tail", err)
	}
	if !exists {
		return []map[string]any{}, nil
	}

	f, err := l.fs.Open(l.path)
	if err != nil {
		return nil, apperrors.Internal("history.tail", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate short rows from older schema versions
	records, err := r.ReadAll()
	if err != nil {
		return nil, apperrors.Internal("history.tail", err)
	}
	if len(records) < 2 {
		return []map[string]any{}, nil
	}

	cols := records[0]
	rows := records[1:]
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	out := make([]map[string]any, 0, len(rows))
	for _, rec := range rows {
		obj := make(map[string]any, len(cols))
		for i, col := range cols {
			var cell string
			if i < len(rec) {
				cell = rec[i]
			}
			obj[col] = normalizeCell(col, cell)
		}
		out = append(out, obj)
	}
	return out, nil
}

func normalizeCell(col, cell string) any {
	if cell == "" || cell == "NaN" || cell == "nan" {
		return nil
	}
	if numericColumns[col] {
		n, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil
		}
		return n
	}
	return cell
}
