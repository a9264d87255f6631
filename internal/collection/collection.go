// Package collection tracks the offline map data found under a set of
// storage roots and answers region queries against it.
//
// Readers never lock. Every completed change is published as a new immutable
// Snapshot through an atomic pointer, so a query sees either the generation
// before a rescan or the one after it, never a mixture. Mutations (root
// changes and the apply step of a rescan) are serialized by one mutex; the
// filesystem walk and source loading of a rescan run outside it.
package collection

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"atlas/internal/geo"
	"atlas/internal/logging"
	"atlas/internal/notify"
	"atlas/internal/source"
)

var (
	ErrRootNotFound = errors.New("root not found")

	ErrInvalidArgument = notify.ErrInvalidArgument
)

// DefaultPattern selects map containers by extension.
const DefaultPattern = "**/*.map"

// RootState is the scan lifecycle of one root.
type RootState int

const (
	// RootIdle roots have never completed a scan.
	RootIdle RootState = iota
	// RootScanning roots have at least one scan in flight.
	RootScanning
	// RootIndexed roots reflect a completed scan.
	RootIndexed
)

func (s RootState) String() string {
	switch s {
	case RootIdle:
		return "idle"
	case RootScanning:
		return "scanning"
	case RootIndexed:
		return "indexed"
	default:
		return fmt.Sprintf("RootState(%d)", int(s))
	}
}

// RootInfo describes a registered root.
type RootInfo struct {
	Path     string
	State    RootState
	Sources  int
	Invalid  int
	LastScan time.Time
}

// Config configures a Collection.
type Config struct {
	// Patterns select files under a root, matched with doublestar against
	// the slash-separated path relative to the root. Defaults to
	// DefaultPattern.
	Patterns []string

	// Sniff also accepts files that match no pattern but start with the
	// map container signature.
	Sniff bool

	// Verify checks every payload digest while loading. Without it only
	// headers are read.
	Verify bool

	// Concurrency bounds parallel source loads per scan. Defaults to
	// GOMAXPROCS.
	Concurrency int

	// Logger for structured logging. If nil, logging is disabled.
	// The collection scopes this logger with component="collection".
	Logger *slog.Logger

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

type root struct {
	path string

	// Guarded by Collection.rootsMu.
	state      RootState
	inFlight   int
	nextSeq    uint64
	appliedSeq uint64
	lastScan   time.Time
}

// Collection is the set of map data sources under the registered roots.
// Safe for concurrent use.
type Collection struct {
	logger      *slog.Logger
	now         func() time.Time
	patterns    []string
	sniff       bool
	srcOpts     source.Options
	concurrency int

	// mu serializes mutations: AddRoot, RemoveRoot and the apply step of
	// Rescan. Lock order is mu, then rootsMu.
	mu sync.Mutex

	rootsMu sync.Mutex
	roots   map[string]*root

	snap atomic.Pointer[Snapshot]

	changes notify.Observable[uint64]
	signal  *notify.Signal
}

// New returns an empty collection at generation zero.
func New(cfg Config) (*Collection, error) {
	patterns := slices.Clone(cfg.Patterns)
	if len(patterns) == 0 {
		patterns = []string{DefaultPattern}
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: bad pattern %q", ErrInvalidArgument, p)
		}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := &Collection{
		logger:      logging.Default(cfg.Logger).With("component", "collection"),
		now:         now,
		patterns:    patterns,
		sniff:       cfg.Sniff,
		srcOpts:     source.Options{Verify: cfg.Verify},
		concurrency: concurrency,
		roots:       make(map[string]*root),
		signal:      notify.NewSignal(),
	}
	c.snap.Store(emptySnapshot())
	return c, nil
}

// Canonical returns the key a root path is registered under.
func Canonical(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty root path", ErrInvalidArgument)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidArgument, path, err)
	}
	return abs, nil
}

// AddRoot registers a directory to be scanned. Registering a root twice is a
// no-op. The root is not scanned until Rescan is called for it.
func (c *Collection) AddRoot(path string) error {
	key, err := Canonical(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rootsMu.Lock()
	defer c.rootsMu.Unlock()
	if _, ok := c.roots[key]; ok {
		return nil
	}
	c.roots[key] = &root{path: key}
	c.logger.Info("root added", "root", key)
	return nil
}

// RemoveRoot deregisters a root and drops every source discovered under it.
// A source that also lies under another registered root, and that root's
// patterns select, moves to the innermost such root instead. Scans of the
// removed root still in flight discard their results.
func (c *Collection) RemoveRoot(path string) error {
	key, err := Canonical(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.rootsMu.Lock()
	_, ok := c.roots[key]
	delete(c.roots, key)
	remaining := slices.Collect(maps.Keys(c.roots))
	c.rootsMu.Unlock()
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRootNotFound, key)
	}

	old := c.snap.Load()
	sources := maps.Clone(old.sources)
	owners := maps.Clone(old.owners)
	removed, handed := 0, 0
	for p, owner := range old.owners {
		if owner != key {
			continue
		}
		if heir := innermostRoot(p, remaining); heir != "" && c.selected(heir, p) {
			owners[p] = heir
			handed++
			continue
		}
		delete(sources, p)
		delete(owners, p)
		removed++
	}
	var next *Snapshot
	switch {
	case removed > 0:
		next = buildSnapshot(old.generation+1, sources, owners)
		c.snap.Store(next)
	case handed > 0:
		// Same sources under a new owner: the generation stays.
		c.snap.Store(buildSnapshot(old.generation, sources, owners))
	}
	c.mu.Unlock()

	c.logger.Info("root removed", "root", key, "sources", removed, "handed_over", handed)
	if next != nil {
		c.publish(next, old)
	}
	return nil
}

// innermostRoot returns the deepest of roots containing path, or "".
func innermostRoot(path string, roots []string) string {
	best := ""
	for _, r := range roots {
		if strings.HasPrefix(path, r+string(filepath.Separator)) && len(r) > len(best) {
			best = r
		}
	}
	return best
}

// Roots lists the registered roots ordered by path.
func (c *Collection) Roots() []RootInfo {
	snap := c.snap.Load()
	c.rootsMu.Lock()
	out := make([]RootInfo, 0, len(c.roots))
	for _, r := range c.roots {
		out = append(out, RootInfo{Path: r.path, State: r.state, LastScan: r.lastScan})
	}
	c.rootsMu.Unlock()

	slices.SortFunc(out, func(a, b RootInfo) int {
		return strings.Compare(a.Path, b.Path)
	})
	for i := range out {
		out[i].Sources, out[i].Invalid = snap.countUnder(out[i].Path)
	}
	return out
}

// HasRoot reports whether path is registered.
func (c *Collection) HasRoot(path string) bool {
	key, err := Canonical(path)
	if err != nil {
		return false
	}
	c.rootsMu.Lock()
	defer c.rootsMu.Unlock()
	_, ok := c.roots[key]
	return ok
}

// Snapshot returns the current generation. Use it to run several reads
// against one consistent view.
func (c *Collection) Snapshot() *Snapshot { return c.snap.Load() }

// Generation returns the current generation number. It only grows, and
// changes exactly when the source set does.
func (c *Collection) Generation() uint64 { return c.snap.Load().generation }

// SourcesCovering returns the valid sources whose extent intersects q,
// ordered by path.
func (c *Collection) SourcesCovering(q geo.Region) ([]*source.Source, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return c.snap.Load().Covering(q), nil
}

// Sources returns every tracked source, including invalid ones, ordered by
// path.
func (c *Collection) Sources() []*source.Source { return c.snap.Load().Sources() }

// Source looks up one source by path.
func (c *Collection) Source(path string) (*source.Source, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	return c.snap.Load().Source(abs)
}

// Subscribe registers fn to receive (new, previous) generations after each
// published change. Callbacks run synchronously on the goroutine that made
// the change, after the collection's locks are released.
func (c *Collection) Subscribe(fn notify.Observer[uint64]) (notify.Subscription, error) {
	return c.changes.Subscribe(fn)
}

// Unsubscribe removes a registration made with Subscribe.
func (c *Collection) Unsubscribe(sub notify.Subscription) bool {
	return c.changes.Unsubscribe(sub)
}

// Changed returns a channel that is closed on the next published change.
func (c *Collection) Changed() <-chan struct{} { return c.signal.C() }

func (c *Collection) publish(next, prev *Snapshot) {
	c.signal.Notify()
	if err := c.changes.Notify(next.generation, prev.generation); err != nil {
		c.logger.Warn("generation observers failed", "generation", next.generation, "error", err)
	}
}
