package run

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLogin means the portal login failed after the downloader's own
// retries. Fatal for the whole run; nothing at this layer retries it.
var ErrLogin = errors.New("login failed")

// DownloadFailedError is a failure scoped to a single report. The run
// logs it and continues with the next report.
type DownloadFailedError struct {
	ReportType string
	Cause      error
}

func (e *DownloadFailedError) Error() string {
	if e.ReportType == "" {
		return fmt.Sprintf("download failed: %v", e.Cause)
	}
	return fmt.Sprintf("download failed for %s: %v", e.ReportType, e.Cause)
}

func (e *DownloadFailedError) Unwrap() error { return e.Cause }

// DriverError means the underlying browser automation layer itself
// failed, as opposed to one report's export going wrong.
type DriverError struct {
	Msg   string
	Cause error
}

func (e *DriverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("driver: %s: %v", e.Msg, e.Cause)
	}
	return "driver: " + e.Msg
}

func (e *DriverError) Unwrap() error { return e.Cause }

// SessionInvalid reports whether the error indicates the automation
// session died. This is the one condition that aborts the remaining
// report queue for the run.
func (e *DriverError) SessionInvalid() bool {
	return strings.Contains(strings.ToLower(e.Error()), "invalid session")
}
