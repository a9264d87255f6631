// Package watch turns filesystem events under collection roots into rescan
// triggers.
//
// Each root's directory tree is watched with fsnotify; directories created
// later are added as they appear. Events are attributed to the innermost
// registered root containing them and debounced per root, so a burst of
// writes (a package manager unpacking a region) produces one trigger.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"atlas/internal/logging"
)

// DefaultDebounce is the quiet period before a root is triggered.
const DefaultDebounce = 250 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// Trigger is called from the watcher goroutine with the root whose
	// contents changed. It must not block.
	Trigger func(root string)

	// Debounce is how long a root must stay quiet before Trigger is
	// called. Defaults to DefaultDebounce.
	Debounce time.Duration

	// Logger for structured logging. If nil, logging is disabled.
	Logger *slog.Logger
}

// Watcher watches root directories. Safe for concurrent use.
type Watcher struct {
	trigger  func(root string)
	debounce time.Duration
	logger   *slog.Logger
	fw       *fsnotify.Watcher

	mu    sync.Mutex
	roots map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a watcher and starts its event loop.
func New(cfg Config) (*Watcher, error) {
	if cfg.Trigger == nil {
		return nil, errors.New("watch: nil trigger")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		trigger:  cfg.Trigger,
		debounce: debounce,
		logger:   logging.Default(cfg.Logger).With("component", "watch"),
		fw:       fw,
		roots:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// AddRoot watches root and every directory below it. A root that does not
// exist yet is remembered but not watched.
func (w *Watcher) AddRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.roots[abs] = struct{}{}
	w.mu.Unlock()

	if err := w.addTree(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Info("root directory missing, not watched", "root", abs)
			return nil
		}
		return fmt.Errorf("watch %s: %w", abs, err)
	}
	w.logger.Info("watching root", "root", abs)
	return nil
}

// RemoveRoot stops attributing events to root and unwatches its tree.
func (w *Watcher) RemoveRoot(root string) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return
	}
	w.mu.Lock()
	delete(w.roots, abs)
	w.mu.Unlock()

	for _, p := range w.fw.WatchList() {
		if p == abs || strings.HasPrefix(p, abs+string(filepath.Separator)) {
			if w.rootFor(p) == "" {
				_ = w.fw.Remove(p)
			}
		}
	}
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Debug("skipping unreadable directory", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := w.fw.Add(path); err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// rootFor returns the innermost registered root containing path.
func (w *Watcher) rootFor(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	best := ""
	for r := range w.roots {
		if (path == r || strings.HasPrefix(path, r+string(filepath.Separator))) && len(r) > len(best) {
			best = r
		}
	}
	return best
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if root := w.handle(ev); root != "" {
				pending[root] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			for root, t := range pending {
				if now.Sub(t) >= w.debounce {
					delete(pending, root)
					w.logger.Debug("root changed", "root", root)
					w.trigger(root)
				}
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// handle returns the root an event belongs to, or "" when it is irrelevant.
func (w *Watcher) handle(ev fsnotify.Event) string {
	if ev.Op == fsnotify.Chmod || strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return ""
	}
	root := w.rootFor(ev.Name)
	if root == "" {
		return ""
	}
	if ev.Has(fsnotify.Create) {
		if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "path", ev.Name, "error", err)
			}
		}
	}
	return root
}

// Roots returns the registered roots.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.roots))
	for r := range w.roots {
		out = append(out, r)
	}
	return out
}

// Close stops the watcher. Pending debounced triggers are dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fw.Close()
		<-w.done
	})
	return err
}
