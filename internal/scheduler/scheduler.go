// Package scheduler queues download runs for future execution. It
// keeps pending jobs in a min-heap and wakes a background goroutine
// when the earliest job is due; due jobs are handed to a small worker
// pool so a slow fire handler never delays the next job.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

const (
	// maxSleepCap bounds the scheduler's sleep so wall-clock jumps
	// (suspend, NTP) are noticed within a minute.
	maxSleepCap = 60 * time.Second

	// DefaultMisfireGrace is how late a job may fire before it is
	// skipped instead.
	DefaultMisfireGrace = 10 * time.Minute

	// DefaultWorkers is the fire-handler pool size.
	DefaultWorkers = 2

	// MinLeadTime is the minimum distance into the future a one-shot
	// job may be scheduled at.
	MinLeadTime = 60 * time.Second
)

// Job is one pending scheduled run.
type Job struct {
	ID         string
	Name       string
	ConfigName string // saved configuration to load at fire time
	RunAt      time.Time
	CronExpr   string // empty for one-shot jobs
}

// Status is the externally visible state of a pending job.
type Status struct {
	ID         string     `json:"job_id"`
	Name       string     `json:"job_name"`
	ConfigName string     `json:"config_name"`
	NextRun    *time.Time `json:"next_run_time"`
	Trigger    string     `json:"trigger"`
}

// FireFunc handles a due job. It runs on a scheduler worker; handlers
// that kick off long work should start it in the background and return
// promptly so the worker is free for the next due job.
type FireFunc func(job Job)

// Config for a Scheduler. Zero values use defaults.
type Config struct {
	MisfireGrace time.Duration
	Workers      int
}

// Scheduler owns the pending-job heap. All heap access happens on the
// background goroutine; the public methods communicate over channels.
type Scheduler struct {
	addChan    chan Job
	removeChan chan removeReq
	listChan   chan chan []Status

	ctx     context.Context
	grace   time.Duration
	fireCh  chan Job
	wg      sync.WaitGroup
	logger  *slog.Logger
	onFire  FireFunc
}

type removeReq struct {
	id    string
	found chan bool
}

// New creates and starts a Scheduler. The background goroutine and the
// worker pool exit when ctx is cancelled.
func New(ctx context.Context, onFire FireFunc, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = DefaultMisfireGrace
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	s := &Scheduler{
		addChan:    make(chan Job, 64),
		removeChan: make(chan removeReq, 64),
		listChan:   make(chan chan []Status),
		ctx:        ctx,
		grace:      cfg.MisfireGrace,
		fireCh:     make(chan Job, cfg.Workers),
		logger:     logger,
		onFire:     onFire,
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	go s.run()
	return s
}

// JobID derives the job identifier for a schedule created now.
func JobID(name string, now time.Time) string {
	slug := strings.ReplaceAll(strings.ToLower(name), " ", "_")
	return "sched_" + slug + "_" + strconv.FormatInt(now.Unix(), 10)
}

// Add enqueues a job. The caller validates lead time and cron syntax
// before calling.
func (s *Scheduler) Add(job Job) {
	select {
	case s.addChan <- job:
	case <-s.ctx.Done():
	}
}

// Remove cancels a pending job by ID. Cancelling an unknown ID is not
// an error; the result only says whether anything was removed.
func (s *Scheduler) Remove(id string) bool {
	req := removeReq{id: id, found: make(chan bool, 1)}
	select {
	case s.removeChan <- req:
	case <-s.ctx.Done():
		return false
	}
	select {
	case found := <-req.found:
		return found
	case <-s.ctx.Done():
		return false
	}
}

// List snapshots the pending jobs, earliest first.
func (s *Scheduler) List() []Status {
	reply := make(chan []Status, 1)
	select {
	case s.listChan <- reply:
	case <-s.ctx.Done():
		return nil
	}
	select {
	case out := <-reply:
		return out
	case <-s.ctx.Done():
		return nil
	}
}

// ValidateCron reports whether expr is a usable cron expression.
func ValidateCron(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// NextCronTick returns the first time expr fires strictly after start.
func NextCronTick(expr string, start time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, start, false)
}

func (s *Scheduler) run() {
	h := &jobHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			return nil
		}
		dur := time.Until((*h)[0].RunAt)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()

	for {
		select {
		case <-s.ctx.Done():
			return

		case job := <-s.addChan:
			heapPush(h, job)
			timerCh = resetTimer()

		case req := <-s.removeChan:
			req.found <- heapRemoveByID(h, req.id)
			timerCh = resetTimer()

		case reply := <-s.listChan:
			out := make([]Status, 0, h.Len())
			for _, j := range *h {
				next := j.RunAt
				out = append(out, Status{
					ID:         j.ID,
					Name:       j.Name,
					ConfigName: j.ConfigName,
					NextRun:    &next,
					Trigger:    describeTrigger(j),
				})
			}
			sortByNextRun(out)
			reply <- out

		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].RunAt.After(now) {
				job := heapPop(h)
				if now.Sub(job.RunAt) > s.grace {
					s.logger.Warn("Skipping misfired job",
						"job_id", job.ID,
						"scheduled_for", job.RunAt,
						"late_by", now.Sub(job.RunAt).String())
				} else {
					s.dispatch(job)
				}
				if job.CronExpr != "" {
					next, err := gronx.NextTickAfter(job.CronExpr, time.Now(), false)
					if err == nil {
						job.RunAt = next
						heapPush(h, job)
					}
				}
			}
			timerCh = resetTimer()
		}
	}
}

// dispatch hands a due job to the worker pool without blocking the
// heap goroutine. With all workers busy (one run already active plus a
// queued fire) an extra fire would only be rejected by the run guard
// anyway, so it is dropped with a log line.
func (s *Scheduler) dispatch(job Job) {
	select {
	case s.fireCh <- job:
	default:
		s.logger.Warn("Dropping fired job, all workers busy", "job_id", job.ID)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.fireCh:
			s.logger.Info("Firing scheduled job", "job_id", job.ID, "job_name", job.Name)
			s.onFire(job)
		}
	}
}

// Wait blocks until the worker pool has exited. Call after cancelling
// the scheduler's context.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func describeTrigger(j Job) string {
	if j.CronExpr != "" {
		return "cron[" + j.CronExpr + "]"
	}
	return "date[" + j.RunAt.Format(time.RFC3339) + "]"
}

func sortByNextRun(out []Status) {
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRun.Before(*out[j].NextRun)
	})
}
