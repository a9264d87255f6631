// Package notify provides change-broadcast primitives: Observable delivers
// (new, previous) value pairs to registered callbacks, Signal wakes channel
// waiters.
package notify

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrInvalidArgument is returned for nil observers and other unusable input.
var ErrInvalidArgument = errors.New("invalid argument")

// Observer receives a new value and the value it replaced. A returned error
// is collected by Notify; it does not stop delivery to other observers.
type Observer[T any] func(value, previous T) error

// Subscription identifies one registration. The zero Subscription matches
// nothing.
type Subscription struct {
	id uint64
}

type registration[T any] struct {
	id uint64
	fn Observer[T]
}

// Observable is an ordered list of observers for a single subject.
// Safe for concurrent use.
//
// Notify works on a snapshot of the list taken on entry, so observers may
// subscribe or unsubscribe from inside a callback: newcomers are first called
// on the next Notify, and observers removed mid-cycle still receive the
// cycle in progress.
type Observable[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	observers []registration[T]
}

// Subscribe appends fn to the observer list.
func (o *Observable[T]) Subscribe(fn Observer[T]) (Subscription, error) {
	if fn == nil {
		return Subscription{}, fmt.Errorf("%w: nil observer", ErrInvalidArgument)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	o.observers = append(o.observers, registration[T]{id: o.nextID, fn: fn})
	return Subscription{id: o.nextID}, nil
}

// Unsubscribe removes the registration identified by sub. It reports whether
// anything was removed.
func (o *Observable[T]) Unsubscribe(sub Subscription) bool {
	if sub.id == 0 {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	i := slices.IndexFunc(o.observers, func(r registration[T]) bool { return r.id == sub.id })
	if i < 0 {
		return false
	}
	// Copy instead of slices.Delete so snapshots handed to Notify stay intact.
	next := make([]registration[T], 0, len(o.observers)-1)
	next = append(next, o.observers[:i]...)
	next = append(next, o.observers[i+1:]...)
	o.observers = next
	return true
}

// Len returns the number of registered observers.
func (o *Observable[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.observers)
}

// Notify calls every observer registered at entry, in registration order, on
// the calling goroutine. Errors and panics from observers are joined into the
// returned error.
func (o *Observable[T]) Notify(value, previous T) error {
	o.mu.Lock()
	snapshot := o.observers
	o.mu.Unlock()

	var errs []error
	for _, r := range snapshot {
		if err := call(r, value, previous); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func call[T any](r registration[T], value, previous T) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("observer %d panicked: %v", r.id, p)
		}
	}()
	if err := r.fn(value, previous); err != nil {
		return fmt.Errorf("observer %d: %w", r.id, err)
	}
	return nil
}
