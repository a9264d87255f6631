// Package scheduler runs named periodic jobs, such as polling rescans of
// collection roots on filesystems where change notification is unreliable.
package scheduler

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"atlas/internal/logging"
)

// Schedule says when a job runs: every Interval, or on a cron expression.
type Schedule struct {
	Interval time.Duration
	Cron     string
}

// Every returns an interval schedule.
func Every(d time.Duration) Schedule { return Schedule{Interval: d} }

// Cron returns a cron schedule. Expressions have six fields (with seconds).
func Cron(expr string) Schedule { return Schedule{Cron: expr} }

func (s Schedule) String() string {
	if s.Cron != "" {
		return s.Cron
	}
	return "every " + s.Interval.String()
}

func (s Schedule) definition() (gocron.JobDefinition, error) {
	switch {
	case s.Cron != "" && s.Interval != 0:
		return nil, fmt.Errorf("schedule has both interval and cron expression")
	case s.Cron != "":
		return gocron.CronJob(s.Cron, true), nil
	case s.Interval > 0:
		return gocron.DurationJob(s.Interval), nil
	default:
		return nil, fmt.Errorf("schedule needs a positive interval or a cron expression")
	}
}

// JobInfo describes a registered job.
type JobInfo struct {
	ID       string
	Name     string
	Schedule string
	LastRun  time.Time // zero if never run
	NextRun  time.Time // zero if not scheduled
}

// Scheduler owns one gocron scheduler and indexes its jobs by name.
// A job never overlaps with itself: a run that is due while the previous
// one is still going is skipped.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	schedules map[string]Schedule
	logger    *slog.Logger
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		schedules: make(map[string]Schedule),
		logger:    logging.Default(logger).With("component", "scheduler"),
	}, nil
}

// AddJob registers fn under a unique name.
func (s *Scheduler) AddJob(name string, sched Schedule, fn func()) error {
	def, err := sched.definition()
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduled job already exists: %s", name)
	}
	j, err := s.scheduler.NewJob(
		def,
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("create scheduled job %s: %w", name, err)
	}
	s.jobs[name] = j
	s.schedules[name] = sched
	s.logger.Info("scheduled job added", "name", name, "schedule", sched.String())
	return nil
}

// RemoveJob removes a named job. It reports whether the job existed.
func (s *Scheduler) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	if err := s.scheduler.RemoveJob(j.ID()); err != nil {
		s.logger.Warn("failed to remove scheduled job", "name", name, "error", err)
	}
	delete(s.jobs, name)
	delete(s.schedules, name)
	s.logger.Info("scheduled job removed", "name", name)
	return true
}

// HasJob reports whether a job with the given name exists.
func (s *Scheduler) HasJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// ListJobs returns the registered jobs ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{
			ID:       j.ID().String(),
			Name:     name,
			Schedule: s.schedules[name].String(),
		}
		if lr, err := j.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := j.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// Start begins executing jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("scheduler started", "jobs", n)
}

// Stop shuts down the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
