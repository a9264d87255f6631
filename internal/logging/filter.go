package logging

import (
	"context"
	"log/slog"
	"sync"
)

// componentKey is the attribute every atlas component scopes its logger with.
const componentKey = "component"

// levels is shared between a ComponentFilterHandler and the handlers derived
// from it through WithAttrs/WithGroup, so SetLevel affects all of them.
type levels struct {
	mu         sync.RWMutex
	byName     map[string]slog.Level
	defaultLvl slog.Level
}

func (l *levels) lookup(component string) slog.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lvl, ok := l.byName[component]; ok {
		return lvl
	}
	return l.defaultLvl
}

// minimum returns the lowest level any component may log at.
func (l *levels) minimum() slog.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	low := l.defaultLvl
	for _, lvl := range l.byName {
		if lvl < low {
			low = lvl
		}
	}
	return low
}

// ComponentFilterHandler filters records by the level configured for their
// "component" attribute, falling back to a default level. The component is
// taken from attributes bound with Logger.With or from the record itself.
type ComponentFilterHandler struct {
	next      slog.Handler
	levels    *levels
	component string
}

// NewComponentFilterHandler wraps next. Records below defaultLevel are
// dropped unless their component has a lower level set via SetLevel.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next: next,
		levels: &levels{
			byName:     make(map[string]slog.Level),
			defaultLvl: defaultLevel,
		},
	}
}

// SetLevel overrides the level for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.levels.mu.Lock()
	h.levels.byName[component] = level
	h.levels.mu.Unlock()
}

// ClearLevel removes a component override.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.levels.mu.Lock()
	delete(h.levels.byName, component)
	h.levels.mu.Unlock()
}

// Level returns the effective level for component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	return h.levels.lookup(component)
}

// DefaultLevel returns the level used for components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	return h.levels.defaultLvl
}

// SetDefaultLevel changes the level used for components without an override.
func (h *ComponentFilterHandler) SetDefaultLevel(level slog.Level) {
	h.levels.mu.Lock()
	h.levels.defaultLvl = level
	h.levels.mu.Unlock()
}

// Enabled reports whether any record at level could pass. The precise
// per-component decision is made in Handle once attributes are known.
func (h *ComponentFilterHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.component != "" {
		return level >= h.levels.lookup(h.component)
	}
	return level >= h.levels.minimum()
}

// Handle forwards r to the wrapped handler if its component allows it.
func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == componentKey {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.levels.lookup(component) {
		return nil
	}
	if h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs remembers a bound component attribute so later records can be
// filtered without scanning their attributes.
func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == componentKey {
			component = a.Value.String()
		}
	}
	var next slog.Handler
	if h.next != nil {
		next = h.next.WithAttrs(attrs)
	}
	return &ComponentFilterHandler{next: next, levels: h.levels, component: component}
}

// WithGroup returns a handler that keeps filtering with the same levels.
func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	var next slog.Handler
	if h.next != nil {
		next = h.next.WithGroup(name)
	}
	return &ComponentFilterHandler{next: next, levels: h.levels, component: h.component}
}
