package notify

import "sync"

// Signal is a value-less broadcast. Each Notify closes the channel handed
// out by C, releasing every goroutine blocked on it, and arms a new one.
// Waiters learn only that something changed and go read the current state.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal returns an armed Signal.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Notify releases the current waiters and re-arms the signal.
func (s *Signal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
}

// C returns the channel the next Notify closes. A channel fires once; fetch
// a new one before waiting again.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}
