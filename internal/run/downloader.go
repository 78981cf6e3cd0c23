package run

import (
	"context"
	"time"

	"reportrunner/internal/report"
)

// DownloadFunc retrieves one report over the given date range, chunked
// per chunk, and returns the number of files it produced.
type DownloadFunc func(ctx context.Context, url string, from, to time.Time, chunk report.Chunk) (int, error)

// Downloader is the browser-automation capability a run drives. A
// Downloader is constructed per run, bound to the run's output
// directory and status callback; the run owns its lifecycle and always
// calls Close.
type Downloader interface {
	// Login authenticates against the portal, navigating via loginURL
	// and generating one-time passwords from otpSecret. Retries are the
	// implementation's concern; an error here is fatal for the run.
	Login(ctx context.Context, loginURL, email, password, otpSecret string) error

	// Lookup returns the report-type-specific download routine for the
	// given catalog key, if one exists.
	Lookup(reportType string) (DownloadFunc, bool)

	// Generic returns the fallback chunked download routine, if the
	// implementation provides one.
	Generic() (DownloadFunc, bool)

	// DownloadForRegions is the region-aware variant for reports whose
	// URL requires region selection.
	DownloadForRegions(ctx context.Context, url string, from, to time.Time, chunk report.Chunk, regionIndices []int) (int, error)

	// Close releases browser resources. Safe to call after any failure.
	Close() error
}

// Options configures a Downloader for one run.
type Options struct {
	OutputDir string       // where the portal's exports land
	Status    func(string) // progress callback, appends to the status bus
}

// Factory constructs a Downloader for one run.
type Factory func(ctx context.Context, opts Options) (Downloader, error)
