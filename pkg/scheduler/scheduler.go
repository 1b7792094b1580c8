// Package scheduler owns the service's periodic jobs. A single loop wakes
// at a fixed resolution and runs every job that is due; tests drive it
// with Tick and an explicit time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/bobbys-table/internal/log"
)

// DefaultResolution is how often Run checks for due jobs.
const DefaultResolution = 30 * time.Second

// ErrDuplicateJob is returned when a job name is registered twice.
var ErrDuplicateJob = errors.New("scheduler: job already registered")

// JobFunc is one run of a periodic job.
type JobFunc func(ctx context.Context, now time.Time) error

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// JobStatus reports a job's history.
type JobStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	NextRun   time.Time     `json:"next_run"`
	Runs      uint64        `json:"runs"`
	Errors    uint64        `json:"errors"`
	LastError string        `json:"last_error,omitempty"`
}

type entry struct {
	job     Job
	next    time.Time
	lastRun time.Time
	runs    uint64
	errors  uint64
	lastErr string
}

// Scheduler runs registered jobs when they are due.
type Scheduler struct {
	mu         sync.Mutex
	jobs       []*entry
	resolution time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithResolution sets how often Run wakes.
func WithResolution(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.resolution = d
		}
	}
}

// WithClock sets the time source used by Run and Add.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{resolution: DefaultResolution, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Component("scheduler")
	}
	return s
}

// Add registers a job. Its first run is one interval from now.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Interval <= 0 || j.Run == nil {
		return fmt.Errorf("scheduler: invalid job %q", j.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.jobs {
		if e.job.Name == j.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, j.Name)
		}
	}
	s.jobs = append(s.jobs, &entry{job: j, next: s.now().Add(j.Interval)})
	return nil
}

// Tick runs every job due at now and returns the names that ran. Jobs run
// sequentially; a failing job is logged and rescheduled like any other.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	s.mu.Lock()
	var due []*entry
	for _, e := range s.jobs {
		if !now.Before(e.next) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	ran := make([]string, 0, len(due))
	for _, e := range due {
		err := s.runJob(ctx, e, now)

		s.mu.Lock()
		e.lastRun = now
		e.next = now.Add(e.job.Interval)
		e.runs++
		if err != nil {
			e.errors++
			e.lastErr = err.Error()
		} else {
			e.lastErr = ""
		}
		s.mu.Unlock()
		ran = append(ran, e.job.Name)
	}
	return ran
}

func (s *Scheduler) runJob(ctx context.Context, e *entry, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: job %s panicked: %v", e.job.Name, r)
		}
		if err != nil {
			s.logger.Error("job failed", "job", e.job.Name, "error", err)
		}
	}()
	start := time.Now()
	err = e.job.Run(ctx, now)
	s.logger.Debug("job ran", "job", e.job.Name, "duration", time.Since(start))
	return err
}

// Run ticks at the configured resolution until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "jobs", len(s.Status()), "resolution", s.resolution)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Status returns a snapshot of every job.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, JobStatus{
			Name:      e.job.Name,
			Interval:  e.job.Interval,
			LastRun:   e.lastRun,
			NextRun:   e.next,
			Runs:      e.runs,
			Errors:    e.errors,
			LastError: e.lastErr,
		})
	}
	return out
}
