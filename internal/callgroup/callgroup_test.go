package callgroup

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSingleCall(t *testing.T) {
	var g Group[string]
	var calls atomic.Int32

	err := <-g.DoChan("a", func() error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fn called %d times, want 1", got)
	}
	if g.InFlight("a") {
		t.Error("key still in flight after completion")
	}
}

func TestRequestsDuringRunCoalesce(t *testing.T) {
	var g Group[int]
	var calls, running, maxRunning atomic.Int32
	started := make(chan struct{}, 8)
	release := make(chan struct{})

	fn := func() error {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		calls.Add(1)
		started <- struct{}{}
		<-release
		running.Add(-1)
		return nil
	}

	first := g.DoChan(1, fn)
	<-started

	// Pile on while the first run is blocked.
	const n = 10
	var chans []<-chan error
	for range n {
		chans = append(chans, g.DoChan(1, fn))
	}
	close(release)

	if err := <-first; err != nil {
		t.Fatal(err)
	}
	for i, ch := range chans {
		if err := <-ch; err != nil {
			t.Errorf("caller %d got error: %v", i, err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fn called %d times, want 2 (original plus one coalesced rerun)", got)
	}
	if got := maxRunning.Load(); got != 1 {
		t.Errorf("%d concurrent runs for one key", got)
	}
}

func TestIndependentKeys(t *testing.T) {
	var g Group[int]
	var calls atomic.Int32

	fn := func() error {
		calls.Add(1)
		return nil
	}

	var wg sync.WaitGroup
	for _, key := range []int{1, 2, 3} {
		wg.Go(func() {
			<-g.DoChan(key, fn)
		})
	}

	wg.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("fn called %d times, want 3", got)
	}
}

func TestLateCallerGetsRerunResult(t *testing.T) {
	var g Group[int]
	started := make(chan struct{})
	var round atomic.Int32
	errSecond := errors.New("second round")

	fn := func() error {
		if round.Add(1) == 1 {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return nil
		}
		return errSecond
	}

	ch1 := g.DoChan(1, fn)
	<-started
	ch2 := g.DoChan(1, fn)

	if err := <-ch1; err != nil {
		t.Errorf("first caller: got %v, want nil", err)
	}
	if err := <-ch2; !errors.Is(err, errSecond) {
		t.Errorf("late caller: got %v, want result of the rerun", err)
	}
}

func TestErrorPropagation(t *testing.T) {
	var g Group[int]
	want := errors.New("fail")

	err := <-g.DoChan(1, func() error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
}

func TestKeyForgottenAfterCompletion(t *testing.T) {
	var g Group[int]
	var calls atomic.Int32

	fn := func() error {
		calls.Add(1)
		return nil
	}

	<-g.DoChan(1, fn)
	<-g.DoChan(1, fn)

	if got := calls.Load(); got != 2 {
		t.Errorf("fn called %d times, want 2", got)
	}
}
