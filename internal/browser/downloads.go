package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/spf13/afero"

	"reportrunner/internal/report"
	"reportrunner/internal/run"
)

// exportForm describes where a report page keeps its date inputs and
// export button. The portal's pages share a template, but a few report
// types deviate.
type exportForm struct {
	fromSel   string
	toSel     string
	exportSel string
	readySel  string // element that signals the page finished loading
}

var defaultForm = exportForm{
	fromSel:   `input[name="from_date"]`,
	toSel:     `input[name="to_date"]`,
	exportSel: `#btn-export`,
	readySel:  `#report-form`,
}

// handlers builds the type-specific routine table. Types absent here
// fall back to the generic chunked routine.
func (s *Session) handlers() map[string]run.DownloadFunc {
	return map[string]run.DownloadFunc{
		// The sales page keeps its pickers in a filter panel.
		report.TypeSales: s.chunked(exportForm{
			fromSel:   `#filter-panel input[name="start"]`,
			toSel:     `#filter-panel input[name="end"]`,
			exportSel: `#filter-panel button.export`,
			readySel:  `#filter-panel`,
		}),
		// The transaction detail page exports through a dropdown menu.
		report.TypeTransactionDetail: s.chunked(exportForm{
			fromSel:   `input[name="from_date"]`,
			toSel:     `input[name="to_date"]`,
			exportSel: `#export-menu li[data-format="xlsx"]`,
			readySel:  `#export-menu`,
		}),
	}
}

// Lookup returns the type-specific routine, if the portal page for
// this type deviates from the shared template.
func (s *Session) Lookup(reportType string) (run.DownloadFunc, bool) {
	fn, ok := s.specific[reportType]
	return fn, ok
}

// Generic returns the shared-template chunked routine.
func (s *Session) Generic() (run.DownloadFunc, bool) {
	return s.chunked(defaultForm), true
}

// DownloadForRegions ticks the requested region boxes before running
// the shared chunked export.
func (s *Session) DownloadForRegions(ctx context.Context, url string, from, to time.Time, chunk report.Chunk, regionIndices []int) (int, error) {
	pre := make([]chromedp.Action, 0, len(regionIndices))
	for _, idx := range regionIndices {
		sel := fmt.Sprintf(`input[name="region"][value="%d"]`, idx)
		pre = append(pre, chromedp.Click(sel, chromedp.ByQuery))
	}
	return s.download(ctx, url, from, to, chunk, defaultForm, pre)
}

func (s *Session) chunked(form exportForm) run.DownloadFunc {
	return func(ctx context.Context, url string, from, to time.Time, chunk report.Chunk) (int, error) {
		return s.download(ctx, url, from, to, chunk, form, nil)
	}
}

// download navigates to the report page once, then submits one export
// per date chunk, waiting for each file to land before moving on.
func (s *Session) download(ctx context.Context, url string, from, to time.Time, chunk report.Chunk, form exportForm, pre []chromedp.Action) (int, error) {
	nav := append([]chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitVisible(form.readySel, chromedp.ByQuery),
	}, pre...)
	if err := s.runPage(nav...); err != nil {
		return 0, err
	}

	files := 0
	for _, rng := range report.SplitRange(from, to, chunk) {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		s.say("Requesting export for %s to %s...", rng.From.Format(report.DateLayout), rng.To.Format(report.DateLayout))

		before, err := s.listFiles()
		if err != nil {
			return files, &run.DownloadFailedError{Cause: err}
		}
		err = s.runPage(
			setValue(form.fromSel, rng.From.Format(report.DateLayout)),
			setValue(form.toSel, rng.To.Format(report.DateLayout)),
			chromedp.Click(form.exportSel, chromedp.ByQuery),
		)
		if err != nil {
			return files, err
		}
		name, err := s.waitForExport(ctx, before)
		if err != nil {
			return files, err
		}
		files++
		s.say("Saved %s", name)
	}
	return files, nil
}

// runPage runs chromedp actions under the page timeout and classifies
// failures: a dead Chrome session is a driver error that should stop
// the whole run, anything else fails just this report.
func (s *Session) runPage(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PageTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, actions...); err != nil {
		if s.ctx.Err() != nil || strings.Contains(strings.ToLower(err.Error()), "invalid session") {
			return &run.DriverError{Msg: "browser session lost", Cause: err}
		}
		return &run.DownloadFailedError{Cause: err}
	}
	return nil
}

// setValue writes an input's value through JS. The portal's date
// pickers reject synthetic keystrokes.
func setValue(sel, value string) chromedp.Action {
	return chromedp.SetValue(sel, value, chromedp.ByQuery)
}

// listFiles snapshots the settled files in the download directory.
func (s *Session) listFiles() (map[string]bool, error) {
	entries, err := afero.ReadDir(s.fs, s.outDir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() || pendingDownload(e.Name()) {
			continue
		}
		out[e.Name()] = true
	}
	return out, nil
}

// waitForExport polls the download directory until a new settled file
// appears or the download timeout lapses.
func (s *Session) waitForExport(ctx context.Context, before map[string]bool) (string, error) {
	deadline := time.Now().Add(s.cfg.DownloadTimeout)
	for {
		after, err := s.listFiles()
		if err != nil {
			return "", &run.DownloadFailedError{Cause: err}
		}
		for name := range after {
			if !before[name] {
				return name, nil
			}
		}
		if time.Now().After(deadline) {
			return "", &run.DownloadFailedError{Cause: fmt.Errorf("no file arrived within %s", s.cfg.DownloadTimeout)}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// pendingDownload reports whether the name is one of Chrome's
// in-progress download artifacts.
func pendingDownload(name string) bool {
	return strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp")
}
