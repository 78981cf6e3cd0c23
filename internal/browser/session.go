// Package browser drives the report portal through a headless Chrome
// instance. A Session is created per run, bound to the run's download
// directory, and torn down when the run finishes.
package browser

import (
	"context"
	"fmt"
	"time"

	cdp "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/afero"

	"reportrunner/internal/run"
	"reportrunner/pkg/backoff"
)

const (
	defaultLoginAttempts   = 3
	defaultPageTimeout     = 60 * time.Second
	defaultDownloadTimeout = 5 * time.Minute
	defaultPollInterval    = 500 * time.Millisecond
)

// Config tunes the Chrome session.
type Config struct {
	Headless        bool
	LoginAttempts   int           // default: 3
	PageTimeout     time.Duration // per navigation/interaction, default: 60s
	DownloadTimeout time.Duration // per exported file, default: 5m
	PollInterval    time.Duration // download-dir poll cadence, default: 500ms
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.LoginAttempts <= 0 {
		out.LoginAttempts = defaultLoginAttempts
	}
	if out.PageTimeout <= 0 {
		out.PageTimeout = defaultPageTimeout
	}
	if out.DownloadTimeout <= 0 {
		out.DownloadTimeout = defaultDownloadTimeout
	}
	if out.PollInterval <= 0 {
		out.PollInterval = defaultPollInterval
	}
	return out
}

// Session is one logged-in browser bound to one run's output directory.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	cfg      Config
	fs       afero.Fs
	outDir   string
	status   func(string)
	specific map[string]run.DownloadFunc
}

var _ run.Downloader = (*Session)(nil)

// NewFactory returns a run.Factory that opens a fresh Chrome session
// per run, with the portal's exports routed into the run's directory.
func NewFactory(cfg Config) run.Factory {
	return func(ctx context.Context, opts run.Options) (run.Downloader, error) {
		return newSession(ctx, cfg, afero.NewOsFs(), opts)
	}
}

func newSession(ctx context.Context, cfg Config, fs afero.Fs, opts run.Options) (*Session, error) {
	cfg = cfg.withDefaults()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		cfg:         cfg,
		fs:          fs,
		outDir:      opts.OutputDir,
		status:      opts.Status,
	}
	s.specific = s.handlers()

	err := chromedp.Run(browserCtx,
		cdp.SetDownloadBehavior(cdp.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(opts.OutputDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		cancel()
		allocCancel()
		return nil, &run.DriverError{Msg: "browser launch failed", Cause: err}
	}
	return s, nil
}

func (s *Session) say(format string, args ...any) {
	if s.status != nil {
		s.status(fmt.Sprintf(format, args...))
	}
}

// Login signs into the portal, generating a fresh one-time password
// per attempt. Transient failures are retried with backoff.
func (s *Session) Login(ctx context.Context, loginURL, email, password, otpSecret string) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.LoginAttempts; attempt++ {
		if attempt > 1 {
			s.say("Login attempt %d of %d...", attempt, s.cfg.LoginAttempts)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Exponential(attempt-1, &backoff.Config{Initial: time.Second})):
			}
		}
		if err := s.loginOnce(loginURL, email, password, otpSecret); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("login failed after %d attempts: %w", s.cfg.LoginAttempts, lastErr)
}

func (s *Session) loginOnce(loginURL, email, password, otpSecret string) error {
	code, err := totp.GenerateCode(otpSecret, time.Now())
	if err != nil {
		return fmt.Errorf("generate one-time password: %w", err)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PageTimeout)
	defer cancel()

	err = chromedp.Run(ctx,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(`input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="email"]`, email, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`input[name="otp"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="otp"]`, code, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`#report-nav`, chromedp.ByID),
	)
	if err != nil {
		return &run.DriverError{Msg: "login navigation failed", Cause: err}
	}
	return nil
}

// Close tears the browser down. Safe after a failed launch or login.
func (s *Session) Close() error {
	s.cancel()
	s.allocCancel()
	return nil
}
