// Package rescan runs collection rescans in the background on behalf of
// change signals (file watcher, periodic timer, explicit requests).
//
// Triggers are coalesced per root: at most one scan of a root runs at a
// time, and any number of triggers that arrive while it runs produce exactly
// one more scan.
package rescan

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"atlas/internal/callgroup"
	"atlas/internal/collection"
	"atlas/internal/logging"
)

// Scanner is the part of the collection a Rescanner drives.
type Scanner interface {
	Rescan(ctx context.Context, root string) (collection.ScanResult, error)
	Roots() []collection.RootInfo
}

// Rescanner triggers background rescans.
type Rescanner struct {
	scanner Scanner
	logger  *slog.Logger
	group   callgroup.Group[string]

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns a Rescanner for scanner. Scans run under a context that is
// cancelled by Close.
func New(scanner Scanner, logger *slog.Logger) *Rescanner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Rescanner{
		scanner: scanner,
		logger:  logging.Default(logger).With("component", "rescan"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Trigger requests a rescan of root. The returned channel receives the
// result of the first scan that starts after this call, then is abandoned.
// Callers that do not care may ignore it.
func (r *Rescanner) Trigger(root string) <-chan error {
	key, err := collection.Canonical(root)
	if err != nil {
		ch := make(chan error, 1)
		ch <- err
		return ch
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ch := make(chan error, 1)
		ch <- context.Canceled
		return ch
	}
	r.wg.Add(1)
	r.mu.Unlock()
	done := r.group.DoChan(key, func() error {
		res, err := r.scanner.Rescan(r.ctx, key)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.logger.Warn("rescan failed", "root", key, "error", err)
			}
			return err
		}
		r.logger.Debug("rescan finished", "root", key, "generation", res.Generation, "changed", res.Changed())
		return nil
	})
	out := make(chan error, 1)
	go func() {
		defer r.wg.Done()
		out <- <-done
	}()
	return out
}

// TriggerAll triggers every registered root and returns once all of those
// scans finished, joining their errors.
func (r *Rescanner) TriggerAll() error {
	roots := r.scanner.Roots()
	chans := make([]<-chan error, len(roots))
	for i, info := range roots {
		chans[i] = r.Trigger(info.Path)
	}
	var errs []error
	for _, ch := range chans {
		if err := <-ch; err != nil && !errors.Is(err, collection.ErrRootNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close cancels running scans and waits for them to return.
func (r *Rescanner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}
