// Package callgroup coalesces repeated requests for the same work by key.
//
// A request arriving while no call is in flight for its key starts one. A
// request arriving while a call is running does not start a second
// concurrent call; instead it marks the key dirty, and the running call runs
// fn once more after it finishes. Any number of requests during one run
// collapse into a single extra run. Every request receives the result of the
// first run that started after the request was made.
package callgroup

import "sync"

// Group coalesces calls by key. The zero value is ready to use.
type Group[K comparable] struct {
	mu    sync.Mutex
	calls map[K]*call
}

type call struct {
	// Guarded by Group.mu.
	again   bool
	current *round
	next    *round
}

// round is one execution of fn and the waiters owed its result.
type round struct {
	done chan struct{}
	err  error
}

// DoChan requests a run of fn for key. The returned channel receives exactly
// one value and is never closed.
func (g *Group[K]) DoChan(key K, fn func() error) <-chan error {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call)
	}
	var rd *round
	if c, ok := g.calls[key]; ok {
		// The running round may already have read whatever changed, so the
		// caller waits for the next one.
		if c.next == nil {
			c.next = &round{done: make(chan struct{})}
		}
		c.again = true
		rd = c.next
	} else {
		c := &call{current: &round{done: make(chan struct{})}}
		g.calls[key] = c
		rd = c.current
		go g.run(key, c, fn)
	}
	g.mu.Unlock()

	ch := make(chan error, 1)
	go func() {
		<-rd.done
		ch <- rd.err
	}()
	return ch
}

func (g *Group[K]) run(key K, c *call, fn func() error) {
	for {
		rd := c.current
		rd.err = fn()
		close(rd.done)

		g.mu.Lock()
		if !c.again {
			delete(g.calls, key)
			g.mu.Unlock()
			return
		}
		c.again = false
		c.current, c.next = c.next, nil
		g.mu.Unlock()
	}
}

// InFlight reports whether a call for key is running.
func (g *Group[K]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}
