// Package app wires the collection, the style registry and the current map
// mode into one process-wide object.
//
// The App owns every subsystem it builds. The collection and the registry
// do not depend on each other; the rescanner, watcher and scheduler only
// feed rescan requests into the collection and are stopped before it goes
// away.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"atlas/internal/collection"
	"atlas/internal/config"
	"atlas/internal/logging"
	"atlas/internal/notify"
	"atlas/internal/rescan"
	"atlas/internal/scheduler"
	"atlas/internal/style"
	"atlas/internal/watch"
)

// ErrInvalidArgument is returned for unknown modes and other unusable input.
var ErrInvalidArgument = notify.ErrInvalidArgument

// PollJob is the scheduler job name of the periodic rescan.
const PollJob = "poll-rescan"

// App is the application facade.
type App struct {
	cfg    config.Config
	base   *slog.Logger
	logger *slog.Logger

	collection *collection.Collection
	styles     *style.Registry
	rescanner  *rescan.Rescanner

	// Set by Start, guarded by mu.
	mu        sync.Mutex
	started   bool
	watcher   *watch.Watcher
	scheduler *scheduler.Scheduler
	poll      scheduler.Schedule

	modeMu sync.Mutex
	mode   Mode
	modes  notify.Observable[Mode]
}

// New builds the subsystems described by cfg. Nothing touches the
// filesystem until Start.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	logger = logging.Default(logger)
	mode := ModeFree
	if cfg.Mode != "" {
		m, err := ParseMode(cfg.Mode)
		if err != nil {
			return nil, err
		}
		mode = m
	}
	coll, err := collection.New(collection.Config{
		Patterns:    cfg.Patterns,
		Sniff:       cfg.Sniff,
		Verify:      cfg.Verify,
		Concurrency: cfg.Concurrency,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &App{
		cfg:        cfg,
		base:       logger,
		logger:     logger.With("component", "app"),
		collection: coll,
		styles:     style.NewRegistry(logger),
		rescanner:  rescan.New(coll, logger),
		mode:       mode,
	}, nil
}

// Start registers the configured roots, loads styles, runs the initial
// scan, starts the watcher when configured, and starts the scheduler with
// the configured poll job, if any. Style and scan failures of individual
// files are logged, not returned.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("app already started")
	}

	for _, r := range a.cfg.Roots {
		if err := a.collection.AddRoot(r); err != nil {
			return fmt.Errorf("add root %s: %w", r, err)
		}
	}
	if _, err := style.LoadDirs(a.styles, a.cfg.StyleDirs()...); err != nil {
		a.logger.Warn("some styles failed to load", "error", err)
	}
	if err := a.collection.RescanAll(ctx); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	if a.cfg.Watch.Enabled {
		w, err := watch.New(watch.Config{
			Trigger:  func(root string) { a.rescanner.Trigger(root) },
			Debounce: a.cfg.Watch.Debounce,
			Logger:   a.base,
		})
		if err != nil {
			return err
		}
		for _, info := range a.collection.Roots() {
			if err := w.AddRoot(info.Path); err != nil {
				a.logger.Warn("root not watched", "root", info.Path, "error", err)
			}
		}
		a.watcher = w
	}

	s, err := scheduler.New(a.base)
	if err != nil {
		_ = a.stopLocked()
		return err
	}
	a.scheduler = s
	if err := a.setPollLocked(a.configuredPoll()); err != nil {
		_ = a.stopLocked()
		return err
	}
	s.Start()

	a.started = true
	a.logger.Info("started",
		"roots", len(a.cfg.Roots),
		"sources", len(a.collection.Sources()),
		"styles", a.styles.Len(),
		"generation", a.collection.Generation(),
		"mode", a.Mode())
	return nil
}

// configuredPoll returns the poll schedule from the config, zero when
// polling is off.
func (a *App) configuredPoll() scheduler.Schedule {
	switch {
	case a.cfg.PollCron != "":
		return scheduler.Cron(a.cfg.PollCron)
	case a.cfg.PollInterval > 0:
		return scheduler.Every(a.cfg.PollInterval)
	}
	return scheduler.Schedule{}
}

// SetPollSchedule replaces the periodic rescan schedule. The zero Schedule
// turns polling off. If the new schedule is rejected the old one stays.
func (a *App) SetPollSchedule(sched scheduler.Schedule) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scheduler == nil {
		return errors.New("app not running")
	}
	return a.setPollLocked(sched)
}

func (a *App) setPollLocked(sched scheduler.Schedule) error {
	prev := a.poll
	if a.scheduler.HasJob(PollJob) {
		a.scheduler.RemoveJob(PollJob)
	}
	a.poll = scheduler.Schedule{}
	if sched == (scheduler.Schedule{}) {
		return nil
	}
	if err := a.scheduler.AddJob(PollJob, sched, a.rescanAll); err != nil {
		if prev != (scheduler.Schedule{}) && a.scheduler.AddJob(PollJob, prev, a.rescanAll) == nil {
			a.poll = prev
		}
		return err
	}
	a.poll = sched
	return nil
}

// Polling reports whether a periodic rescan job is registered.
func (a *App) Polling() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scheduler != nil && a.scheduler.HasJob(PollJob)
}

// Jobs lists the scheduled jobs, nil before Start.
func (a *App) Jobs() []scheduler.JobInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scheduler == nil {
		return nil
	}
	return a.scheduler.ListJobs()
}

func (a *App) rescanAll() {
	if err := a.rescanner.TriggerAll(); err != nil {
		a.logger.Warn("periodic rescan failed", "error", err)
	}
}

// AddRoot registers and watches a new root, then scans it in the
// background. The returned channel reports the scan result.
func (a *App) AddRoot(path string) (<-chan error, error) {
	if err := a.collection.AddRoot(path); err != nil {
		return nil, err
	}
	a.mu.Lock()
	w := a.watcher
	a.mu.Unlock()
	if w != nil {
		if err := w.AddRoot(path); err != nil {
			a.logger.Warn("root not watched", "root", path, "error", err)
		}
	}
	return a.rescanner.Trigger(path), nil
}

// RemoveRoot stops watching root and drops its sources.
func (a *App) RemoveRoot(path string) error {
	a.mu.Lock()
	w := a.watcher
	a.mu.Unlock()
	if w != nil {
		w.RemoveRoot(path)
	}
	return a.collection.RemoveRoot(path)
}

// Close stops the scheduler, the watcher and any running rescans. An App
// cannot be started again after Close.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.stopLocked()
	a.rescanner.Close()
	return err
}

func (a *App) stopLocked() error {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop())
		a.scheduler = nil
	}
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
		a.watcher = nil
	}
	return errors.Join(errs...)
}

// Collection returns the map data collection.
func (a *App) Collection() *collection.Collection { return a.collection }

// Styles returns the style registry.
func (a *App) Styles() *style.Registry { return a.styles }

// Rescanner returns the background rescan trigger.
func (a *App) Rescanner() *rescan.Rescanner { return a.rescanner }

// Scheduler returns the scheduler running periodic jobs, nil when the app is
// not started.
func (a *App) Scheduler() *scheduler.Scheduler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scheduler
}

// Mode returns the current map mode.
func (a *App) Mode() Mode {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	return a.mode
}

// SetMode changes the map mode and notifies mode observers on the calling
// goroutine. Setting the current mode again notifies nobody. Observer
// failures are returned joined; the mode is changed regardless.
func (a *App) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, m)
	}
	a.modeMu.Lock()
	prev := a.mode
	if prev == m {
		a.modeMu.Unlock()
		return nil
	}
	a.mode = m
	a.modeMu.Unlock()

	a.logger.Debug("mode changed", "mode", m, "previous", prev)
	return a.modes.Notify(m, prev)
}

// ModeObservable is the subject mode observers subscribe to.
func (a *App) ModeObservable() *notify.Observable[Mode] { return &a.modes }
