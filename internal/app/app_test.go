package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"atlas/internal/config"
	"atlas/internal/geo"
	"atlas/internal/mapfile"
	"atlas/internal/scheduler"
)

func writeMap(t *testing.T, dir, name string, box geo.Box) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	err := mapfile.WriteFile(filepath.Join(dir, name), []byte(name), mapfile.WriteOptions{Region: geo.Region{box}})
	if err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	return config.Config{
		Roots:    []string{filepath.Join(root, "maps")},
		Patterns: []string{"**/*.map"},
		Styles: config.StylesConfig{
			Bundled: []string{filepath.Join(root, "bundled")},
			User:    []string{filepath.Join(root, "user")},
		},
		Watch:    config.WatchConfig{Debounce: 20 * time.Millisecond},
		LogLevel: "info",
		Mode:     "free",
	}
}

func startApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestStartScansRootsAndLoadsStyles(t *testing.T) {
	cfg := testConfig(t)
	writeMap(t, cfg.Roots[0], "a.map", geo.NewBox(0, 0, 1, 1))
	for _, dir := range cfg.StyleDirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(cfg.Styles.Bundled[0], "base.toml"), []byte("[rules]\ncolor = \"red\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Styles.User[0], "child.toml"), []byte("parent = \"base\"\n[rules]\nwidth = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := startApp(t, cfg)
	if a.Collection().Generation() != 1 {
		t.Errorf("generation = %d, want 1", a.Collection().Generation())
	}
	srcs, err := a.Collection().SourcesCovering(geo.Region{geo.NewBox(0, 0, 2, 2)})
	if err != nil || len(srcs) != 1 {
		t.Errorf("covering = %v, %v", srcs, err)
	}
	res, err := a.Styles().Resolve("child")
	if err != nil {
		t.Fatal(err)
	}
	if c, _ := res.Get("color"); c != "red" {
		t.Errorf("color = %q", c)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestWatcherTriggersRescan(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watch.Enabled = true
	if err := os.MkdirAll(cfg.Roots[0], 0o755); err != nil {
		t.Fatal(err)
	}
	a := startApp(t, cfg)
	changed := a.Collection().Changed()

	writeMap(t, cfg.Roots[0], "late.map", geo.NewBox(3, 3, 4, 4))
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("collection did not change after a file was added")
	}
	srcs, _ := a.Collection().SourcesCovering(geo.Region{geo.NewBox(3, 3, 4, 4)})
	if len(srcs) != 1 {
		t.Errorf("covering = %v", srcs)
	}
}

func TestPollJobRescans(t *testing.T) {
	cfg := testConfig(t)
	cfg.PollInterval = 20 * time.Millisecond
	a := startApp(t, cfg)
	if s := a.Scheduler(); s == nil || !s.HasJob(PollJob) {
		t.Fatal("poll job not registered")
	}
	changed := a.Collection().Changed()

	writeMap(t, cfg.Roots[0], "polled.map", geo.NewBox(0, 0, 1, 1))
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not pick up the new file")
	}
}

func TestSetPollSchedule(t *testing.T) {
	a, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetPollSchedule(scheduler.Every(time.Minute)); err == nil {
		t.Error("SetPollSchedule before Start succeeded")
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if a.Polling() || len(a.Jobs()) != 0 {
		t.Fatalf("polling without a configured schedule: %+v", a.Jobs())
	}

	if err := a.SetPollSchedule(scheduler.Cron("0 0 3 * * *")); err != nil {
		t.Fatal(err)
	}
	jobs := a.Jobs()
	if len(jobs) != 1 || jobs[0].Name != PollJob || jobs[0].Schedule != "0 0 3 * * *" {
		t.Fatalf("jobs = %+v", jobs)
	}

	if err := a.SetPollSchedule(scheduler.Cron("not a cron")); err == nil {
		t.Error("invalid cron expression accepted")
	}
	if jobs := a.Jobs(); len(jobs) != 1 || jobs[0].Schedule != "0 0 3 * * *" {
		t.Errorf("rejected schedule replaced the previous one: %+v", jobs)
	}

	changed := a.Collection().Changed()
	if err := a.SetPollSchedule(scheduler.Every(20 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	writeMap(t, a.cfg.Roots[0], "polled.map", geo.NewBox(0, 0, 1, 1))
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("replacement schedule never ran")
	}

	if err := a.SetPollSchedule(scheduler.Schedule{}); err != nil {
		t.Fatal(err)
	}
	if a.Polling() || len(a.Jobs()) != 0 {
		t.Errorf("polling still on: %+v", a.Jobs())
	}
}

func TestPollCronFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.PollCron = "0 */5 * * * *"
	a := startApp(t, cfg)
	if !a.Polling() {
		t.Fatal("cron poll job not registered")
	}
	if jobs := a.Jobs(); jobs[0].Schedule != cfg.PollCron {
		t.Errorf("schedule = %q", jobs[0].Schedule)
	}
}

func TestAddAndRemoveRoot(t *testing.T) {
	cfg := testConfig(t)
	a := startApp(t, cfg)

	extra := t.TempDir()
	writeMap(t, extra, "x.map", geo.NewBox(0, 0, 1, 1))
	done, err := a.AddRoot(extra)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := len(a.Collection().Sources()); n != 1 {
		t.Fatalf("sources = %d", n)
	}
	if err := a.RemoveRoot(extra); err != nil {
		t.Fatal(err)
	}
	if n := len(a.Collection().Sources()); n != 0 {
		t.Errorf("sources after remove = %d", n)
	}
}

func TestSetModeNotifies(t *testing.T) {
	a, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	var got []Mode
	sub, err := a.ModeObservable().Subscribe(func(m, prev Mode) error {
		got = append(got, prev, m)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := a.SetMode(ModeFollow); err != nil {
		t.Fatal(err)
	}
	if err := a.SetMode(ModeFollow); err != nil {
		t.Fatal(err)
	}
	if err := a.SetMode(Mode(42)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("invalid mode: got %v", err)
	}
	a.ModeObservable().Unsubscribe(sub)
	_ = a.SetMode(ModePositionTrack)

	if len(got) != 2 || got[0] != ModeFree || got[1] != ModeFollow {
		t.Errorf("notifications = %v", got)
	}
	if a.Mode() != ModePositionTrack {
		t.Errorf("Mode = %s", a.Mode())
	}
}

func TestSetModeReportsObserverErrors(t *testing.T) {
	a, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	var reached bool
	_, _ = a.ModeObservable().Subscribe(func(Mode, Mode) error { return boom })
	_, _ = a.ModeObservable().Subscribe(func(Mode, Mode) error { reached = true; return nil })

	if err := a.SetMode(ModeFollow); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
	if !reached || a.Mode() != ModeFollow {
		t.Error("failing observer blocked delivery or the mode change")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"free", ModeFree},
		{"Position_Track", ModePositionTrack},
		{" follow ", ModeFollow},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
		if got.String() != tt.want.String() {
			t.Errorf("String mismatch for %q", tt.in)
		}
	}
	if _, err := ParseMode("orbit"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown mode: got %v", err)
	}
	cfg := testConfig(t)
	cfg.Mode = "orbit"
	if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("New with unknown mode: got %v", err)
	}
}
