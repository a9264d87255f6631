package collection

import (
	"maps"
	"slices"
	"strings"

	"github.com/tidwall/rtree"

	"atlas/internal/geo"
	"atlas/internal/source"
)

// Snapshot is one published generation of the collection. It is immutable:
// readers may hold on to it for as long as they like and run any number of
// queries against a consistent view.
type Snapshot struct {
	generation uint64
	sources    map[string]*source.Source
	owners     map[string]string // source path -> root path
	ordered    []*source.Source  // all sources, sorted by path
	tree       rtree.RTreeG[*source.Source]
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		sources: make(map[string]*source.Source),
		owners:  make(map[string]string),
	}
}

// buildSnapshot indexes sources and owners as generation gen. The maps are
// taken over by the snapshot.
func buildSnapshot(gen uint64, sources map[string]*source.Source, owners map[string]string) *Snapshot {
	s := &Snapshot{
		generation: gen,
		sources:    sources,
		owners:     owners,
		ordered:    make([]*source.Source, 0, len(sources)),
	}
	for _, path := range slices.Sorted(maps.Keys(sources)) {
		src := sources[path]
		s.ordered = append(s.ordered, src)
		if !src.Valid() {
			continue
		}
		for _, b := range src.Region() {
			s.tree.Insert(b.Min(), b.Max(), src)
		}
	}
	return s
}

// Generation identifies this snapshot.
func (s *Snapshot) Generation() uint64 { return s.generation }

// Len returns the number of tracked sources, valid or not.
func (s *Snapshot) Len() int { return len(s.ordered) }

// Sources returns every tracked source, including invalid ones, ordered by
// path.
func (s *Snapshot) Sources() []*source.Source { return slices.Clone(s.ordered) }

// Source looks up one source by its canonical path.
func (s *Snapshot) Source(path string) (*source.Source, bool) {
	src, ok := s.sources[path]
	return src, ok
}

// Owner returns the root a source was discovered under.
func (s *Snapshot) Owner(path string) (string, bool) {
	root, ok := s.owners[path]
	return root, ok
}

// Covering returns the valid sources with an extent intersecting any box of
// q, ordered by path. q must already be validated.
func (s *Snapshot) Covering(q geo.Region) []*source.Source {
	hits := make(map[*source.Source]struct{})
	for _, b := range q {
		s.tree.Search(b.Min(), b.Max(), func(_, _ [2]float64, src *source.Source) bool {
			hits[src] = struct{}{}
			return true
		})
	}
	out := make([]*source.Source, 0, len(hits))
	for src := range hits {
		out = append(out, src)
	}
	slices.SortFunc(out, func(a, b *source.Source) int {
		return strings.Compare(a.Path(), b.Path())
	})
	return out
}

// countUnder returns how many sources root owns, and how many of them are
// invalid.
func (s *Snapshot) countUnder(root string) (total, invalid int) {
	for path, owner := range s.owners {
		if owner != root {
			continue
		}
		total++
		if !s.sources[path].Valid() {
			invalid++
		}
	}
	return total, invalid
}
