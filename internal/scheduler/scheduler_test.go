package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestIntervalJobRuns(t *testing.T) {
	s := newScheduler(t)
	var runs atomic.Int32
	if err := s.AddJob("poll", Every(20*time.Millisecond), func() { runs.Add(1) }); err != nil {
		t.Fatal(err)
	}
	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("job ran %d times", runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAddRemoveAndList(t *testing.T) {
	s := newScheduler(t)
	noop := func() {}

	if err := s.AddJob("b-poll", Every(time.Hour), noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("a-nightly", Cron("0 0 3 * * *"), noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("b-poll", Every(time.Minute), noop); err == nil {
		t.Error("duplicate name accepted")
	}

	jobs := s.ListJobs()
	if len(jobs) != 2 || jobs[0].Name != "a-nightly" || jobs[1].Name != "b-poll" {
		t.Fatalf("ListJobs = %+v", jobs)
	}
	if jobs[0].Schedule != "0 0 3 * * *" || jobs[1].Schedule != "every 1h0m0s" {
		t.Errorf("schedules = %q, %q", jobs[0].Schedule, jobs[1].Schedule)
	}

	if !s.RemoveJob("b-poll") || s.HasJob("b-poll") {
		t.Error("RemoveJob did not remove")
	}
	if s.RemoveJob("b-poll") {
		t.Error("second RemoveJob reported success")
	}
}

func TestInvalidSchedules(t *testing.T) {
	s := newScheduler(t)
	for _, sched := range []Schedule{{}, Every(-time.Second), {Interval: time.Second, Cron: "* * * * * *"}, Cron("not cron")} {
		if err := s.AddJob("bad", sched, func() {}); err == nil {
			t.Errorf("schedule %+v accepted", sched)
		}
	}
	if s.HasJob("bad") {
		t.Error("invalid job registered")
	}
}
