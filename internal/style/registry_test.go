package style

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func mustRegister(t *testing.T, r *Registry, name, raw string) {
	t.Helper()
	if err := r.Register(name, []byte(raw)); err != nil {
		t.Fatalf("Register(%q): %v", name, err)
	}
}

func TestResolveMergesParentChain(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "base", "[rules]\ncolor = \"red\"\n")
	mustRegister(t, r, "child", "parent = \"base\"\n[rules]\nwidth = 2\n")

	res, err := r.Resolve("child")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := map[string]string{"color": "red", "width": "2"}
	if len(res.Rules) != len(want) {
		t.Fatalf("rules = %v, want %v", res.Rules, want)
	}
	for k, v := range want {
		if got, _ := res.Get(k); got != v {
			t.Errorf("rule %s = %q, want %q", k, got, v)
		}
	}
	if len(res.Chain) != 2 || res.Chain[0] != "child" || res.Chain[1] != "base" {
		t.Errorf("chain = %v", res.Chain)
	}
}

func TestDerivedOverridesBase(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "base", "[rules]\ncolor = \"red\"\n[rules.road]\nwidth = 1.5\n")
	mustRegister(t, r, "night", "parent = \"base\"\n[rules]\ncolor = \"black\"\n")
	mustRegister(t, r, "night-hc", "parent = \"night\"\n[rules.road]\nwidth = 3\n")

	res, err := r.Resolve("night-hc")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := res.Get("color"); got != "black" {
		t.Errorf("color = %q, want black", got)
	}
	if got, _ := res.Get("road.width"); got != "3" {
		t.Errorf("road.width = %q, want 3", got)
	}
	if got := res.Keys(); len(got) != 2 || got[0] != "color" || got[1] != "road.width" {
		t.Errorf("Keys = %v", got)
	}
}

func TestResolveErrors(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "orphan", "parent = \"missing\"\n")

	if _, err := r.Resolve("nope"); !errors.Is(err, ErrUnknownStyle) {
		t.Errorf("unknown style: got %v", err)
	}
	if _, err := r.Resolve("orphan"); !errors.Is(err, ErrUnknownStyle) {
		t.Errorf("unknown parent: got %v", err)
	}

	mustRegister(t, r, "missing", "[rules]\nx = 1\n")
	res, err := r.Resolve("orphan")
	if err != nil {
		t.Fatalf("after registering parent: %v", err)
	}
	if got, _ := res.Get("x"); got != "1" {
		t.Errorf("x = %q", got)
	}
}

func TestRegisterRejectsCycle(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "a", "parent = \"b\"\n")
	mustRegister(t, r, "b", "parent = \"c\"\n")
	rev := r.Revision()

	if err := r.Register("c", []byte("parent = \"a\"\n")); !errors.Is(err, ErrCyclicStyle) {
		t.Fatalf("got %v, want ErrCyclicStyle", err)
	}
	if _, ok := r.Definition("c"); ok {
		t.Error("cyclic style was registered")
	}
	if r.Revision() != rev {
		t.Errorf("revision moved from %d to %d", rev, r.Revision())
	}

	if err := r.Register("self", []byte("parent = \"self\"\n")); !errors.Is(err, ErrCyclicStyle) {
		t.Errorf("self parent: got %v", err)
	}
}

func TestRegisterCycleKeepsPreviousDefinition(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "a", "[rules]\nk = \"v1\"\n")
	mustRegister(t, r, "b", "parent = \"a\"\n")

	if err := r.Register("a", []byte("parent = \"b\"\n")); !errors.Is(err, ErrCyclicStyle) {
		t.Fatalf("got %v", err)
	}
	res, err := r.Resolve("b")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := res.Get("k"); got != "v1" {
		t.Errorf("k = %q, previous definition lost", got)
	}
}

func TestRegisterInvalidArgument(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register("", []byte("")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty name: got %v", err)
	}
	if err := r.Register("broken", []byte("rules = [")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad toml: got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after failed registrations", r.Len())
	}
}

func TestResolveIsIdempotentAndCopied(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "base", "[rules]\ncolor = \"red\"\n")

	first, err := r.Resolve("base")
	if err != nil {
		t.Fatal(err)
	}
	first.Rules["color"] = "tampered"
	first.Chain[0] = "tampered"

	second, err := r.Resolve("base")
	if err != nil {
		t.Fatal(err)
	}
	third, _ := r.Resolve("base")
	if got, _ := second.Get("color"); got != "red" {
		t.Errorf("cache corrupted through returned value: %q", got)
	}
	if !second.Equal(third) {
		t.Error("repeated resolves differ")
	}
}

func TestRegisterInvalidatesDescendants(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "base", "[rules]\ncolor = \"red\"\n")
	mustRegister(t, r, "child", "parent = \"base\"\n")
	mustRegister(t, r, "other", "[rules]\nz = 1\n")

	for _, name := range []string{"child", "other"} {
		if _, err := r.Resolve(name); err != nil {
			t.Fatal(err)
		}
	}
	if !r.cached("child") || !r.cached("other") {
		t.Fatal("expected resolutions to be cached")
	}

	mustRegister(t, r, "base", "[rules]\ncolor = \"blue\"\n")
	if r.cached("child") {
		t.Error("child resolution survived parent change")
	}
	if !r.cached("other") {
		t.Error("unrelated resolution was invalidated")
	}

	res, err := r.Resolve("child")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := res.Get("color"); got != "blue" {
		t.Errorf("color = %q, want blue", got)
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "base", "[rules]\ncolor = \"red\"\n")
	mustRegister(t, r, "child", "parent = \"base\"\n")
	if _, err := r.Resolve("child"); err != nil {
		t.Fatal(err)
	}

	if err := r.Unregister("base"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := r.Resolve("child"); !errors.Is(err, ErrUnknownStyle) {
		t.Errorf("child after parent removal: got %v", err)
	}
	if err := r.Unregister("base"); !errors.Is(err, ErrUnknownStyle) {
		t.Errorf("second Unregister: got %v", err)
	}
	if got := r.Names(); len(got) != 1 || got[0] != "child" {
		t.Errorf("Names = %v", got)
	}
}

func TestSubscribeReceivesRevisions(t *testing.T) {
	r := NewRegistry(nil)
	var got [][2]uint64
	sub, err := r.Subscribe(func(rev, prev uint64) error {
		got = append(got, [2]uint64{rev, prev})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	mustRegister(t, r, "a", "")
	mustRegister(t, r, "b", "")
	_ = r.Register("bad", []byte("parent = \"bad\""))
	if err := r.Unregister("a"); err != nil {
		t.Fatal(err)
	}
	r.Unsubscribe(sub)
	mustRegister(t, r, "c", "")

	want := [][2]uint64{{1, 0}, {2, 1}, {3, 2}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
	if _, err := r.Subscribe(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil observer: got %v", err)
	}
}

func TestConcurrentResolveAndRegister(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "base", "[rules]\ncolor = \"red\"\n")
	mustRegister(t, r, "child", "parent = \"base\"\n[rules]\nwidth = 2\n")

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 200 {
				res, err := r.Resolve("child")
				if err != nil {
					t.Errorf("Resolve: %v", err)
					return
				}
				if got, _ := res.Get("width"); got != "2" {
					t.Errorf("width = %q", got)
					return
				}
			}
		})
	}
	wg.Go(func() {
		for i := range 200 {
			raw := fmt.Sprintf("[rules]\ncolor = \"c%d\"\n", i)
			if err := r.Register("base", []byte(raw)); err != nil {
				t.Errorf("Register: %v", err)
				return
			}
		}
	})
	wg.Wait()

	res, err := r.Resolve("child")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := res.Get("color"); got != "c199" {
		t.Errorf("final color = %q, stale cache entry survived", got)
	}
}

func writeStyle(t *testing.T, dir, name, raw string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDirsUserOverridesBundled(t *testing.T) {
	bundled, user := t.TempDir(), t.TempDir()
	writeStyle(t, bundled, "base.toml", "[rules]\ncolor = \"red\"\n")
	writeStyle(t, bundled, "child.toml", "parent = \"base\"\n[rules]\nwidth = 2\n")
	writeStyle(t, bundled, "README.md", "not a style")
	writeStyle(t, user, "base.toml", "[rules]\ncolor = \"green\"\n")
	writeStyle(t, user, "broken.toml", "parent = ")

	r := NewRegistry(nil)
	n, err := LoadDirs(r, bundled, user, filepath.Join(user, "missing"))
	if err == nil {
		t.Fatal("expected error for broken.toml")
	}
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("error %v does not wrap ErrInvalidArgument", err)
	}
	if n != 3 {
		t.Errorf("loaded %d files, want 3", n)
	}

	res, err := r.Resolve("child")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := res.Get("color"); got != "green" {
		t.Errorf("color = %q, user style did not override bundled", got)
	}
	def, ok := r.Definition("base")
	if !ok || def.Origin != filepath.Join(user, "base.toml") {
		t.Errorf("base origin = %q", def.Origin)
	}
}
