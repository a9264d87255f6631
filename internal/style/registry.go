// Package style holds the registry of named rendering styles.
//
// A style may name a parent; resolving a style merges the rules of its whole
// parent chain, base first, so derived styles override inherited keys.
// Resolution depends only on registered content, so results are cached and
// the cache is invalidated whenever a style in a cached chain changes.
package style

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"atlas/internal/logging"
	"atlas/internal/notify"
)

var (
	ErrUnknownStyle = errors.New("unknown style")
	ErrCyclicStyle  = errors.New("cyclic style")

	ErrInvalidArgument = notify.ErrInvalidArgument
)

// Resolved is the effective rule set of a style.
type Resolved struct {
	Name string
	// Chain lists the style and its ancestors, derived first.
	Chain []string
	Rules map[string]string
}

// Get returns the value of one rule.
func (r Resolved) Get(key string) (string, bool) {
	v, ok := r.Rules[key]
	return v, ok
}

// Keys returns the rule keys in sorted order.
func (r Resolved) Keys() []string {
	return slices.Sorted(maps.Keys(r.Rules))
}

// Equal reports whether two resolutions carry the same chain and rules.
func (r Resolved) Equal(o Resolved) bool {
	return r.Name == o.Name && slices.Equal(r.Chain, o.Chain) && maps.Equal(r.Rules, o.Rules)
}

func (r Resolved) clone() Resolved {
	return Resolved{Name: r.Name, Chain: slices.Clone(r.Chain), Rules: maps.Clone(r.Rules)}
}

// Registry maps style names to definitions. Safe for concurrent use:
// mutations are exclusive, resolves run in parallel.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	defs     map[string]*Definition
	revision uint64

	// cacheMu guards cache. Entries are only written while mu is held for
	// reading, so an invalidation under the write lock cannot race a
	// resolve that started against older definitions.
	cacheMu sync.Mutex
	cache   map[string]Resolved

	changes notify.Observable[uint64]
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logging.Default(logger).With("component", "style-registry"),
		defs:   make(map[string]*Definition),
		cache:  make(map[string]Resolved),
	}
}

// Register parses raw and stores it under name, replacing any existing
// definition. A parent chain that leads back to name fails with
// ErrCyclicStyle and leaves the registry unchanged. Parents that are not
// registered yet are allowed; resolving fails until they are.
func (r *Registry) Register(name string, raw []byte) error {
	return r.register(name, raw, "")
}

func (r *Registry) register(name string, raw []byte, origin string) error {
	def, err := Parse(name, raw)
	if err != nil {
		return err
	}
	def.Origin = origin

	r.mu.Lock()
	if err := r.checkCycle(def); err != nil {
		r.mu.Unlock()
		return err
	}
	_, replaced := r.defs[name]
	r.defs[name] = def
	r.invalidate(name)
	prev := r.revision
	r.revision++
	rev := r.revision
	r.mu.Unlock()

	r.logger.Debug("style registered", "style", name, "parent", def.Parent, "replaced", replaced, "origin", origin)
	r.publish(rev, prev)
	return nil
}

// checkCycle walks the chain above def as it would be after registration.
// Caller must hold mu.
func (r *Registry) checkCycle(def *Definition) error {
	seen := map[string]bool{def.Name: true}
	for p := def.Parent; p != ""; {
		if seen[p] {
			return fmt.Errorf("%w: %q reaches %q through its parents", ErrCyclicStyle, def.Name, p)
		}
		seen[p] = true
		next, ok := r.defs[p]
		if !ok {
			return nil
		}
		p = next.Parent
	}
	return nil
}

// Unregister removes name. Styles inheriting from it fail to resolve until
// it is registered again.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	if _, ok := r.defs[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownStyle, name)
	}
	delete(r.defs, name)
	r.invalidate(name)
	prev := r.revision
	r.revision++
	rev := r.revision
	r.mu.Unlock()

	r.logger.Debug("style unregistered", "style", name)
	r.publish(rev, prev)
	return nil
}

// invalidate drops cached resolutions whose chain includes name.
// Caller must hold mu for writing.
func (r *Registry) invalidate(name string) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	for key, res := range r.cache {
		if slices.Contains(res.Chain, name) {
			delete(r.cache, key)
		}
	}
}

func (r *Registry) publish(rev, prev uint64) {
	if err := r.changes.Notify(rev, prev); err != nil {
		r.logger.Warn("style observers failed", "revision", rev, "error", err)
	}
}

// Resolve returns the merged rules of name and its ancestors. The result is
// a copy owned by the caller.
func (r *Registry) Resolve(name string) (Resolved, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.cacheMu.Lock()
	res, ok := r.cache[name]
	r.cacheMu.Unlock()
	if ok {
		return res.clone(), nil
	}

	res, err := r.resolveLocked(name)
	if err != nil {
		return Resolved{}, err
	}
	r.cacheMu.Lock()
	r.cache[name] = res
	r.cacheMu.Unlock()
	return res.clone(), nil
}

func (r *Registry) resolveLocked(name string) (Resolved, error) {
	var chain []*Definition
	seen := make(map[string]bool)
	for cur, child := name, ""; cur != ""; {
		if seen[cur] {
			return Resolved{}, fmt.Errorf("%w: %q repeats while resolving %q", ErrCyclicStyle, cur, name)
		}
		seen[cur] = true
		def, ok := r.defs[cur]
		if !ok {
			if child == "" {
				return Resolved{}, fmt.Errorf("%w: %q", ErrUnknownStyle, cur)
			}
			return Resolved{}, fmt.Errorf("%w: %q (parent of %q)", ErrUnknownStyle, cur, child)
		}
		chain = append(chain, def)
		child, cur = cur, def.Parent
	}

	res := Resolved{
		Name:  name,
		Chain: make([]string, len(chain)),
		Rules: make(map[string]string),
	}
	for i, def := range chain {
		res.Chain[i] = def.Name
	}
	for _, def := range slices.Backward(chain) {
		maps.Copy(res.Rules, def.Rules)
	}
	return res, nil
}

// Names returns the registered style names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.defs))
}

// Len returns the number of registered styles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Definition returns a copy of the registered definition of name.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, false
	}
	return def.clone(), true
}

// Revision increments on every successful Register or Unregister.
func (r *Registry) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Subscribe registers fn to receive (new, previous) revisions after each
// change. Callbacks run on the mutating goroutine after locks are released.
func (r *Registry) Subscribe(fn notify.Observer[uint64]) (notify.Subscription, error) {
	return r.changes.Subscribe(fn)
}

// Unsubscribe removes a registration made with Subscribe.
func (r *Registry) Unsubscribe(sub notify.Subscription) bool {
	return r.changes.Unsubscribe(sub)
}

func (r *Registry) cached(name string) bool {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	_, ok := r.cache[name]
	return ok
}
