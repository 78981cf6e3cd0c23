// Package notify delivers run lifecycle events to an optionally
// configured webhook. Events are queued in a bounded channel and sent
// by a small worker pool with retry and exponential backoff; when the
// buffer is full the event is dropped, never blocking a run.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"reportrunner/pkg/backoff"
	"reportrunner/pkg/cloudevent"
)

// Event types for run lifecycle callbacks.
const (
	EventTypeRunStarted  = "reportrunner.run.started"
	EventTypeRunReport   = "reportrunner.run.report"
	EventTypeRunFinished = "reportrunner.run.finished"
)

const eventSource = "reportrunner"

const (
	defaultBufferSize = 256
	defaultWorkers    = 2
	defaultMaxRetries = 3
	defaultTimeout    = 10 * time.Second
)

// Config holds notifier settings. URL empty disables delivery entirely.
type Config struct {
	URL        string
	SigningKey string
	BufferSize int
	Workers    int
}

// Stats holds delivery counters.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Notifier is the async webhook publisher.
type Notifier struct {
	queue  chan *cloudevent.CloudEvent
	sender *cloudevent.Sender
	url    string
	key    string
	logger *slog.Logger

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New creates a Notifier. With an empty URL it is inert: Publish
// becomes a no-op and no workers start.
func New(cfg Config) *Notifier {
	n := &Notifier{
		url:    cfg.URL,
		key:    cfg.SigningKey,
		logger: slog.With("component", "notify"),
	}
	if cfg.URL == "" {
		return n
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	n.queue = make(chan *cloudevent.CloudEvent, cfg.BufferSize)
	n.sender = cloudevent.NewSender(defaultTimeout)
	n.shutdown = make(chan struct{})

	n.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go n.worker()
	}
	n.logger.Info("Notifier started", "url", cfg.URL, "workers", cfg.Workers)
	return n
}

// Enabled reports whether a destination is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// RunStarted publishes a run start event.
func (n *Notifier) RunStarted(runID string, reportCount int) {
	n.publish(EventTypeRunStarted, runID, map[string]any{
		"runId":   runID,
		"reports": reportCount,
	})
}

// ReportOutcome publishes a per-report outcome event.
func (n *Notifier) ReportOutcome(runID, reportType, status string, errMsg string) {
	data := map[string]any{
		"runId":      runID,
		"reportType": reportType,
		"status":     status,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	n.publish(EventTypeRunReport, runID, data)
}

// RunFinished publishes a run completion event.
func (n *Notifier) RunFinished(runID string, success bool) {
	n.publish(EventTypeRunFinished, runID, map[string]any{
		"runId":   runID,
		"success": success,
	})
}

func (n *Notifier) publish(eventType, runID string, data map[string]any) {
	if n.url == "" || n.closed.Load() {
		return
	}
	eventID := fmt.Sprintf("%s-%d", runID, time.Now().UnixNano())
	event := cloudevent.New(eventType, eventSource, runID, eventID, data)

	select {
	case n.queue <- event:
	default:
		n.dropped.Add(1)
		n.logger.Warn("Notifier buffer full, event dropped", "type", eventType, "runId", runID)
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			// Drain remaining events before exiting
			n.drainQueue()
			return
		case event := <-n.queue:
			n.deliver(event)
		}
	}
}

// drainQueue delivers remaining events after the shutdown signal.
func (n *Notifier) drainQueue() {
	for {
		select {
		case event := <-n.queue:
			n.deliver(event)
		default:
			return // queue empty
		}
	}
}

func (n *Notifier) deliver(event *cloudevent.CloudEvent) {
	var lastErr error
	for attempt := 1; attempt <= defaultMaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		err := n.sender.Send(ctx, n.url, event, n.key)
		cancel()

		if err == nil {
			n.delivered.Add(1)
			return
		}
		lastErr = err
		if cloudevent.IsClientError(err) {
			break
		}
		if attempt < defaultMaxRetries {
			time.Sleep(backoff.Exponential(attempt, nil))
		}
	}
	n.failed.Add(1)
	n.logger.Warn("Event delivery failed", "type", event.Type, "subject", event.Subject, "error", lastErr)
}

// Stats returns current delivery counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		Delivered: n.delivered.Load(),
		Failed:    n.failed.Load(),
		Dropped:   n.dropped.Load(),
	}
}

// Close stops accepting events and waits for the queue to drain or the
// context to expire.
func (n *Notifier) Close(ctx context.Context) error {
	if !n.closed.CompareAndSwap(false, true) || n.url == "" {
		return nil
	}

	// Signal workers to stop. The queue channel is never closed: a
	// publish racing Close must never hit a closed channel, it either
	// lands in the buffer (and is drained) or is dropped.
	close(n.shutdown)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifier drain interrupted: %w", ctx.Err())
	}
}
