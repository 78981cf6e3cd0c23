// Package run drives a download run: it claims the process-wide run
// slot, walks the configured reports through the browser automation
// layer, reports progress on the status bus, and records per-report
// outcomes in the history log.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"reportrunner/internal/configstore"
	"reportrunner/internal/history"
	"reportrunner/internal/notify"
	"reportrunner/internal/observability"
	"reportrunner/internal/report"
	"reportrunner/internal/runtime"
)

// Params are the inputs for one download run.
type Params struct {
	Email    string
	Password string
	Reports  []configstore.ReportRequest
	Regions  []int
}

// Runner executes download runs. At most one run is active per process,
// enforced by the shared runtime state.
type Runner struct {
	state    *runtime.State
	factory  Factory
	history  *history.Log
	notifier *notify.Notifier
	metrics  *observability.Metrics
	fs       afero.Fs

	basePath  string
	otpSecret string
	timeout   time.Duration
	now       func() time.Time
}

// Config wires a Runner.
type Config struct {
	State     *runtime.State
	Factory   Factory
	History   *history.Log
	Notifier  *notify.Notifier
	Metrics   *observability.Metrics // optional
	Fs        afero.Fs
	BasePath  string
	OTPSecret string
	Timeout   time.Duration // upper bound on a whole run, 0 means none
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	return &Runner{
		state:     cfg.State,
		factory:   cfg.Factory,
		history:   cfg.History,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		fs:        cfg.Fs,
		basePath:  cfg.BasePath,
		otpSecret: cfg.OTPSecret,
		timeout:   cfg.Timeout,
		now:       time.Now,
	}
}

// Start launches the run in a detached goroutine. There is no
// cancellation handle: once started, a run ends only when it completes
// or fails internally. Callers gate on the run flag before starting; the
// goroutine re-checks it, so a lost race is silent, not an error.
func (r *Runner) Start(params Params) {
	go r.Run(params)
}

// Run executes one download run synchronously. Exported for the
// scheduler and for tests; HTTP callers go through Start.
func (r *Runner) Run(params Params) {
	if !r.state.TryAcquire() {
		slog.Info("Download process already running, exiting new run request")
		return
	}

	runID := uuid.NewString()
	logger := slog.With("runId", runID)
	started := r.now()

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}

	r.state.ResetMessages()
	r.state.Append("Starting report download process...")

	if r.metrics != nil {
		r.metrics.RecordRunStarted(ctx)
	}
	r.notifier.RunStarted(runID, len(params.Reports))

	var downloader Downloader
	successful := true

	fatal := func(err error) {
		r.state.Appendf("A critical error occurred during setup or login: %v", err)
		logger.Error("Run failed during setup", "error", err)
		successful = false
	}

	func() {
		defer func() {
			// Cleanup runs on every path: close the browser, post the
			// summary, release the run slot.
			cancel()
			if downloader != nil {
				r.state.Append("Attempting to close browser...")
				if err := downloader.Close(); err != nil {
					r.state.Appendf("CRITICAL ERROR: Failed to close browser session properly: %v", err)
					logger.Error("Browser close failed", "error", err)
				}
			}

			final := "PROCESS FINISHED: All requested reports attempted."
			if successful {
				final += " Check logs and CSV file for individual report status."
			} else {
				final += " One or more errors occurred. Please review logs and CSV file."
			}
			r.state.Appendf("--- %s ---", final)

			if r.metrics != nil {
				r.metrics.RecordRunFinished(ctx, successful, r.now().Sub(started).Seconds())
			}
			r.notifier.RunFinished(runID, successful)
			logger.Info("Run finished", "success", successful, "duration", r.now().Sub(started))

			r.state.Release()
		}()

		if len(params.Reports) == 0 {
			fatal(fmt.Errorf("no reports configured for download"))
			return
		}

		outputDir := filepath.Join(r.basePath, "001"+r.now().Format("20060102"))
		if err := r.fs.MkdirAll(outputDir, 0o755); err != nil {
			fatal(fmt.Errorf("failed to create download directory %q: %w", outputDir, err))
			return
		}
		r.state.Appendf("Download folder for this run: %s", outputDir)

		r.state.Append("Initializing browser automation...")
		var err error
		downloader, err = r.factory(ctx, Options{OutputDir: outputDir, Status: r.state.Append})
		if err != nil {
			fatal(fmt.Errorf("browser automation init: %w", err))
			return
		}

		if err := r.login(ctx, downloader, params); err != nil {
			fatal(err)
			return
		}

		successful = r.processReports(ctx, logger, runID, downloader, params)
	}()
}

// login resolves the login URL from the first report and authenticates.
func (r *Runner) login(ctx context.Context, d Downloader, params Params) error {
	first := params.Reports[0]
	loginURL, ok := report.URL(first.ReportType)
	if !ok {
		return fmt.Errorf("could not find URL for initial report type %q needed for login", first.ReportType)
	}
	if r.otpSecret == "" {
		return fmt.Errorf("OTP secret is not configured")
	}

	r.state.Appendf("Logging in with user: %s...", params.Email)
	if err := d.Login(ctx, loginURL, params.Email, params.Password, r.otpSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrLogin, err)
	}
	r.state.Append("Login successful.")
	return nil
}

// processReports walks the report queue. It returns false if anything
// went wrong for any report; a session-invalid driver error aborts the
// remaining queue.
func (r *Runner) processReports(ctx context.Context, logger *slog.Logger, runID string, d Downloader, params Params) bool {
	successful := true

	for _, req := range params.Reports {
		if req.ReportType == "" || req.FromDate == "" || req.ToDate == "" {
			r.state.Appendf("Warning: Skipping report entry due to missing info: %+v", req)
			r.record(ctx, runID, req, history.StatusSkipped, 0, "missing report_type/from_date/to_date")
			successful = false
			continue
		}

		from, errFrom := time.Parse(report.DateLayout, req.FromDate)
		to, errTo := time.Parse(report.DateLayout, req.ToDate)
		if errFrom != nil || errTo != nil {
			r.state.Appendf("Warning: Skipping report '%s': invalid date range %s to %s", req.ReportType, req.FromDate, req.ToDate)
			r.record(ctx, runID, req, history.StatusSkipped, 0, "invalid date range")
			successful = false
			continue
		}

		chunk, defaulted := report.ResolveChunk(req.ChunkSize)
		if defaulted {
			r.state.Appendf("Warning: Invalid chunk size '%s' for '%s'. Using default: %d days.", req.ChunkSize, req.ReportType, report.DefaultChunkDays)
		}

		url, ok := report.URL(req.ReportType)
		if !ok {
			r.state.Appendf("Error: Could not find URL for report type '%s'. Skipping.", req.ReportType)
			r.record(ctx, runID, req, history.StatusFailed, 0, "unknown report type")
			successful = false
			continue
		}

		r.state.Appendf("--- Starting download for report: %s ---", req.ReportType)
		r.state.Appendf("Date Range: %s to %s, Chunk Size/Mode: %s", req.FromDate, req.ToDate, chunk)

		files, err := r.downloadOne(ctx, d, req, url, from, to, chunk, params.Regions)

		var failMsg string
		abort := false
		if err != nil {
			successful = false
			failMsg = err.Error()
			switch e := classify(err).(type) {
			case *DownloadFailedError:
				r.state.Appendf("ERROR downloading report %s: %v", req.ReportType, e)
			case *DriverError:
				r.state.Appendf("ERROR (driver) during download of %s: %v", req.ReportType, e)
				logger.Error("Driver error", "reportType", req.ReportType, "error", e)
				if e.SessionInvalid() {
					r.state.Append("FATAL: Session invalid. Stopping further report downloads for this run.")
					abort = true
				}
			default:
				r.state.Appendf("FATAL UNEXPECTED ERROR during processing of %s: %v", req.ReportType, err)
				logger.Error("Unexpected report error", "reportType", req.ReportType, "error", err)
			}
			r.state.Appendf("--- Download FAILED for report: %s ---", req.ReportType)
			r.record(ctx, runID, req, history.StatusFailed, files, failMsg)
		} else {
			r.state.Appendf("--- Download COMPLETED for report: %s ---", req.ReportType)
			r.record(ctx, runID, req, history.StatusCompleted, files, "")
		}

		if abort {
			return false
		}
	}
	return successful
}

// downloadOne dispatches a single report to the right download routine:
// the region-aware variant when the URL demands regions, else the
// type-specific routine, else the generic chunked fallback.
func (r *Runner) downloadOne(ctx context.Context, d Downloader, req configstore.ReportRequest, url string, from, to time.Time, chunk report.Chunk, regions []int) (int, error) {
	if report.RegionRequired(url) {
		if len(regions) == 0 {
			return 0, &DownloadFailedError{ReportType: req.ReportType, Cause: fmt.Errorf("report requires region selection, but none provided")}
		}
		names := make([]string, 0, len(regions))
		for _, idx := range regions {
			reg, ok := report.RegionByIndex(idx)
			if !ok {
				return 0, &DownloadFailedError{ReportType: req.ReportType, Cause: fmt.Errorf("unknown region index %d", idx)}
			}
			names = append(names, reg.Name)
		}
		r.state.Appendf("Downloading '%s' for regions: %s", req.ReportType, strings.Join(names, ", "))
		return d.DownloadForRegions(ctx, url, from, to, chunk, regions)
	}

	if fn, ok := d.Lookup(req.ReportType); ok {
		return fn(ctx, url, from, to, chunk)
	}
	if fn, ok := d.Generic(); ok {
		r.state.Appendf("Using generic chunking download logic for '%s'.", req.ReportType)
		return fn(ctx, url, from, to, chunk)
	}
	return 0, &DownloadFailedError{ReportType: req.ReportType, Cause: fmt.Errorf("no suitable download method found")}
}

// classify unwraps an error into its domain category for dispatch.
func classify(err error) error {
	var dfe *DownloadFailedError
	if errors.As(err, &dfe) {
		return dfe
	}
	var de *DriverError
	if errors.As(err, &de) {
		return de
	}
	return err
}

func (r *Runner) record(ctx context.Context, runID string, req configstore.ReportRequest, status string, files int, errMsg string) {
	row := history.Row{
		Timestamp:  r.now(),
		RunID:      runID,
		ReportType: req.ReportType,
		FromDate:   req.FromDate,
		ToDate:     req.ToDate,
		ChunkSize:  req.ChunkSize,
		Status:     status,
		Files:      files,
		Error:      errMsg,
	}
	if err := r.history.Append(row); err != nil {
		slog.Error("History append failed", "error", err)
	}
	if r.metrics != nil {
		r.metrics.RecordReport(ctx, req.ReportType, status)
	}
	r.notifier.ReportOutcome(runID, req.ReportType, status, errMsg)
}
