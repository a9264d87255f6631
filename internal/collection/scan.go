package collection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"atlas/internal/format"
	"atlas/internal/source"
)

// ScanResult summarizes one Rescan.
type ScanResult struct {
	Root   string
	ScanID string

	// Generation is the collection generation after the scan. It equals the
	// generation before the scan when nothing changed or the result was
	// discarded.
	Generation uint64

	Added   []string
	Removed []string
	Updated []string

	// Found is the number of matching files, Invalid how many of them
	// failed to load and Reused how many were taken over unchanged from the
	// previous generation without reading them.
	Found   int
	Invalid int
	Reused  int

	// Discarded is set when a newer scan of the same root was applied first,
	// or the root was removed while this scan ran.
	Discarded bool

	Duration time.Duration
}

// Changed reports whether the scan published a new generation.
func (r ScanResult) Changed() bool {
	return !r.Discarded && len(r.Added)+len(r.Removed)+len(r.Updated) > 0
}

type candidate struct {
	path string
	fp   source.Fingerprint
	stat bool
}

// Rescan enumerates the root, loads new and modified sources, and publishes
// the difference as one new generation. Sources that fail to load are kept
// as invalid entries and never fail the scan.
//
// Rescan blocks on filesystem I/O; call it from a background goroutine when
// latency matters. Concurrent and redundant calls are safe: results are
// applied in scan start order and a scan overtaken by a newer one is
// discarded.
func (c *Collection) Rescan(ctx context.Context, path string) (ScanResult, error) {
	key, err := Canonical(path)
	if err != nil {
		return ScanResult{}, err
	}
	r, seq, err := c.beginScan(key)
	if err != nil {
		return ScanResult{}, err
	}
	defer c.endScan(r)

	start := c.now()
	res := ScanResult{Root: key, ScanID: uuid.Must(uuid.NewV7()).String()}
	logger := c.logger.With("root", key, "scan", res.ScanID)
	logger.Debug("scan started", "seq", seq)

	base := c.snap.Load()
	found, err := c.walk(ctx, key, logger)
	if err != nil {
		logger.Warn("scan aborted", "error", err)
		return res, err
	}
	scanned, reused, err := c.loadAll(ctx, found, base, key)
	if err != nil {
		logger.Warn("scan aborted", "error", err)
		return res, err
	}
	if err := ctx.Err(); err != nil {
		logger.Info("scan cancelled", "seq", seq)
		return res, err
	}
	res.Found = len(scanned)
	res.Reused = reused
	for _, s := range scanned {
		if !s.Valid() {
			res.Invalid++
		}
	}

	c.apply(r, seq, scanned, &res)
	res.Duration = c.now().Sub(start)

	switch {
	case res.Discarded:
		logger.Info("scan discarded", "seq", seq, "duration", res.Duration)
	case res.Changed():
		logger.Info("scan published",
			"generation", res.Generation,
			"found", res.Found,
			"added", len(res.Added),
			"removed", len(res.Removed),
			"updated", len(res.Updated),
			"invalid", res.Invalid,
			"duration", res.Duration)
	default:
		logger.Debug("scan unchanged", "generation", res.Generation, "found", res.Found, "duration", res.Duration)
	}
	return res, nil
}

// RescanAll rescans every registered root in path order and joins the
// errors.
func (c *Collection) RescanAll(ctx context.Context) error {
	var errs []error
	for _, info := range c.Roots() {
		if _, err := c.Rescan(ctx, info.Path); err != nil && !errors.Is(err, ErrRootNotFound) {
			errs = append(errs, fmt.Errorf("rescan %s: %w", info.Path, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Collection) beginScan(key string) (*root, uint64, error) {
	c.rootsMu.Lock()
	defer c.rootsMu.Unlock()
	r, ok := c.roots[key]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrRootNotFound, key)
	}
	r.nextSeq++
	r.inFlight++
	r.state = RootScanning
	return r, r.nextSeq, nil
}

func (c *Collection) endScan(r *root) {
	c.rootsMu.Lock()
	defer c.rootsMu.Unlock()
	r.inFlight--
	if r.inFlight > 0 {
		return
	}
	if r.appliedSeq > 0 {
		r.state = RootIndexed
	} else {
		r.state = RootIdle
	}
}

// walk lists the candidate files under dir. A missing root directory is an
// empty listing, so deleting a root's directory drops its sources. Hidden
// files and directories are skipped.
func (c *Collection) walk(ctx context.Context, dir string, logger *slog.Logger) ([]candidate, error) {
	var found []candidate
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == dir {
				if errors.Is(err, fs.ErrNotExist) {
					return fs.SkipAll
				}
				return err
			}
			logger.Warn("skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == dir {
			if !d.IsDir() {
				return fmt.Errorf("root %s is not a directory", dir)
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if !c.selected(dir, path) {
			return nil
		}
		cand := candidate{path: path}
		if st, err := os.Stat(path); err == nil {
			if !st.Mode().IsRegular() {
				return nil
			}
			cand.fp, cand.stat = source.FingerprintOf(st), true
		}
		found = append(found, cand)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (c *Collection) selected(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range c.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return c.sniff && sniff(path)
}

func sniff(path string) bool {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	var buf [format.HeaderSize]byte
	n, err := io.ReadFull(f, buf[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false
	}
	return format.HasSignature(buf[:n], format.TypeMapData)
}

// loadAll builds a source for every candidate. A candidate whose fingerprint
// matches the source already published for the same root is reused without
// reading it; the rest are loaded in parallel.
func (c *Collection) loadAll(ctx context.Context, found []candidate, base *Snapshot, key string) ([]*source.Source, int, error) {
	out := make([]*source.Source, len(found))
	reused := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, cand := range found {
		if prev, ok := base.sources[cand.path]; ok && cand.stat && base.owners[cand.path] == key &&
			prev.State() != source.StateUnloaded && prev.Fingerprint().Equal(cand.fp) {
			out[i] = prev
			reused++
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := source.New(cand.path, c.srcOpts)
			if err != nil {
				return err
			}
			if err := s.Load(); err != nil {
				c.logger.Debug("source failed to load", "path", cand.path, "error", err)
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, reused, nil
}

// apply diffs scanned against the latest generation and publishes the
// result. It fills in res.
func (c *Collection) apply(r *root, seq uint64, scanned []*source.Source, res *ScanResult) {
	c.mu.Lock()

	old := c.snap.Load()
	res.Generation = old.generation

	c.rootsMu.Lock()
	current, ok := c.roots[r.path]
	if !ok || current != r || seq < r.appliedSeq {
		c.rootsMu.Unlock()
		c.mu.Unlock()
		res.Discarded = true
		return
	}
	r.appliedSeq = seq
	r.lastScan = c.now()
	c.rootsMu.Unlock()

	sources := maps.Clone(old.sources)
	owners := maps.Clone(old.owners)
	seen := make(map[string]bool, len(scanned))
	refreshed := false

	for _, s := range scanned {
		p := s.Path()
		seen[p] = true
		if owner, ok := old.owners[p]; ok && owner != r.path {
			// Nested roots: the first root to claim a file keeps it.
			continue
		}
		prev, ok := old.sources[p]
		switch {
		case !ok:
			res.Added = append(res.Added, p)
		case prev == s:
			continue
		case prev.SameContent(s):
			// Same content under a new fingerprint: swap in the fresh
			// source so later scans can reuse it, without a new generation.
			refreshed = true
		default:
			res.Updated = append(res.Updated, p)
		}
		sources[p] = s
		owners[p] = r.path
	}
	for p, owner := range old.owners {
		if owner == r.path && !seen[p] {
			delete(sources, p)
			delete(owners, p)
			res.Removed = append(res.Removed, p)
		}
	}

	slices.Sort(res.Removed)

	changed := len(res.Added)+len(res.Removed)+len(res.Updated) > 0
	if !changed && !refreshed {
		c.mu.Unlock()
		return
	}
	gen := old.generation
	if changed {
		gen++
	}
	next := buildSnapshot(gen, sources, owners)
	c.snap.Store(next)
	c.mu.Unlock()

	res.Generation = gen
	if changed {
		c.publish(next, old)
	}
}
