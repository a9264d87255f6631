package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls map[string]int
	ch    chan string
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int), ch: make(chan string, 64)}
}

func (r *recorder) trigger(root string) {
	r.mu.Lock()
	r.calls[root]++
	r.mu.Unlock()
	r.ch <- root
}

func (r *recorder) count(root string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[root]
}

func (r *recorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.ch:
		if got != want {
			t.Fatalf("triggered %s, want %s", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no trigger for %s", want)
	}
}

func newWatcher(t *testing.T, rec *recorder) *Watcher {
	t.Helper()
	w, err := New(Config{Trigger: rec.trigger, Debounce: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestCreateTriggersRoot(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	w := newWatcher(t, rec)
	if err := w.AddRoot(root); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(root, "a.map"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec.wait(t, root)
}

func TestBurstIsDebounced(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	w := newWatcher(t, rec)
	if err := w.AddRoot(root); err != nil {
		t.Fatal(err)
	}

	for i := range 20 {
		name := filepath.Join(root, "m"+string(rune('a'+i))+".map")
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	rec.wait(t, root)
	time.Sleep(200 * time.Millisecond)
	if got := rec.count(root); got != 1 {
		t.Errorf("burst produced %d triggers, want 1", got)
	}
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	w := newWatcher(t, rec)
	if err := w.AddRoot(root); err != nil {
		t.Fatal(err)
	}

	sub := filepath.Join(root, "europe")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	rec.wait(t, root)

	if err := os.WriteFile(filepath.Join(sub, "nl.map"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec.wait(t, root)
}

func TestEventsGoToInnermostRoot(t *testing.T) {
	outer := t.TempDir()
	inner := filepath.Join(outer, "inner")
	if err := os.Mkdir(inner, 0o755); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	w := newWatcher(t, rec)
	for _, r := range []string{outer, inner} {
		if err := w.AddRoot(r); err != nil {
			t.Fatal(err)
		}
	}
	if got := w.rootFor(filepath.Join(inner, "x.map")); got != inner {
		t.Errorf("rootFor = %s, want %s", got, inner)
	}
	if got := w.rootFor(outer + "-sibling"); got != "" {
		t.Errorf("sibling path attributed to %s", got)
	}

	if err := os.WriteFile(filepath.Join(inner, "a.map"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec.wait(t, inner)
}

func TestHiddenFilesIgnored(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	w := newWatcher(t, rec)
	if err := w.AddRoot(root); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".partial.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-rec.ch:
		t.Errorf("hidden file triggered %s", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRemoveRootStopsTriggers(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	w := newWatcher(t, rec)
	if err := w.AddRoot(root); err != nil {
		t.Fatal(err)
	}
	w.RemoveRoot(root)
	if len(w.Roots()) != 0 {
		t.Fatalf("roots = %v", w.Roots())
	}
	if err := os.WriteFile(filepath.Join(root, "a.map"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-rec.ch:
		t.Errorf("removed root triggered %s", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMissingRootIsNotAnError(t *testing.T) {
	rec := newRecorder()
	w := newWatcher(t, rec)
	if err := w.AddRoot(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Errorf("AddRoot missing dir: %v", err)
	}
	if _, err := New(Config{}); err == nil {
		t.Error("New without trigger succeeded")
	}
}
