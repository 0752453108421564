package world

import (
	"errors"
	"fmt"
	"sort"
)

// RelKind tags a directed relationship edge. The same tags name the edge
// tables in the graph store.
type RelKind string

const (
	RelHasChild     RelKind = "HAS_CHILD"
	RelMountedOn    RelKind = "MOUNTED_ON"
	RelHasHardpoint RelKind = "HAS_HARDPOINT"
	RelOwns         RelKind = "OWNS"
	RelHasItem      RelKind = "HAS_ITEM"
)

// Edge is a directed, tagged relationship between two entities.
type Edge struct {
	From EntityID
	To   EntityID
	Rel  RelKind
}

var ErrCycle = errors.New("relationship edge would create a cycle")

// Hierarchy is the runtime edge index keyed by UUID. Parent/child and mount
// relationships live here as typed edges, not as in-memory pointers, so the
// index round-trips through the graph store and rebuilds deterministically.
// Cycles are rejected at insertion, never detected after the fact.
type Hierarchy struct {
	out map[EntityID]map[RelKind]map[EntityID]struct{}
	in  map[EntityID]map[RelKind]map[EntityID]struct{}
}

func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		out: make(map[EntityID]map[RelKind]map[EntityID]struct{}),
		in:  make(map[EntityID]map[RelKind]map[EntityID]struct{}),
	}
}

// Link inserts the edge from→to. For hierarchical relations (HAS_CHILD,
// MOUNTED_ON) it first walks the existing edges of the same kind and rejects
// the insert with ErrCycle if `to` already reaches `from`.
func (h *Hierarchy) Link(from, to EntityID, rel RelKind) error {
	if from == to {
		return fmt.Errorf("%w: %s -> itself", ErrCycle, from)
	}
	if rel == RelHasChild || rel == RelMountedOn {
		if h.reaches(to, from, rel) {
			return fmt.Errorf("%w: %s -> %s (%s)", ErrCycle, from, to, rel)
		}
	}
	addEdge(h.out, from, rel, to)
	addEdge(h.in, to, rel, from)
	return nil
}

func (h *Hierarchy) Unlink(from, to EntityID, rel RelKind) {
	removeEdge(h.out, from, rel, to)
	removeEdge(h.in, to, rel, from)
}

// Linked reports whether the exact edge exists.
func (h *Hierarchy) Linked(from, to EntityID, rel RelKind) bool {
	rels, ok := h.out[from]
	if !ok {
		return false
	}
	targets, ok := rels[rel]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// Targets returns the sorted set of entities `from` points at via rel.
func (h *Hierarchy) Targets(from EntityID, rel RelKind) []EntityID {
	return sortedEdgeSet(h.out, from, rel)
}

// Sources returns the sorted set of entities pointing at `to` via rel.
func (h *Hierarchy) Sources(to EntityID, rel RelKind) []EntityID {
	return sortedEdgeSet(h.in, to, rel)
}

// Parent returns the single source of a hierarchical relation, if any.
func (h *Hierarchy) Parent(child EntityID, rel RelKind) (EntityID, bool) {
	sources := h.Sources(child, rel)
	if len(sources) == 0 {
		return "", false
	}
	return sources[0], true
}

// RemoveEntity drops every edge touching the entity.
func (h *Hierarchy) RemoveEntity(id EntityID) {
	for rel, targets := range h.out[id] {
		for to := range targets {
			removeEdge(h.in, to, rel, id)
		}
	}
	delete(h.out, id)
	for rel, sources := range h.in[id] {
		for from := range sources {
			removeEdge(h.out, from, rel, id)
		}
	}
	delete(h.in, id)
}

// Edges returns every edge in deterministic (from, rel, to) order.
func (h *Hierarchy) Edges() []Edge {
	var edges []Edge
	for from, rels := range h.out {
		for rel, targets := range rels {
			for to := range targets {
				edges = append(edges, Edge{From: from, To: to, Rel: rel})
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Rel != b.Rel {
			return a.Rel < b.Rel
		}
		return a.To < b.To
	})
	return edges
}

// reaches walks rel-edges from start and reports whether goal is reachable.
func (h *Hierarchy) reaches(start, goal EntityID, rel RelKind) bool {
	seen := map[EntityID]struct{}{start: {}}
	frontier := []EntityID{start}
	for len(frontier) > 0 {
		cur := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if cur == goal {
			return true
		}
		for _, next := range h.Targets(cur, rel) {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			frontier = append(frontier, next)
		}
	}
	return false
}

func addEdge(index map[EntityID]map[RelKind]map[EntityID]struct{}, a EntityID, rel RelKind, b EntityID) {
	rels, ok := index[a]
	if !ok {
		rels = make(map[RelKind]map[EntityID]struct{})
		index[a] = rels
	}
	set, ok := rels[rel]
	if !ok {
		set = make(map[EntityID]struct{})
		rels[rel] = set
	}
	set[b] = struct{}{}
}

func removeEdge(index map[EntityID]map[RelKind]map[EntityID]struct{}, a EntityID, rel RelKind, b EntityID) {
	rels, ok := index[a]
	if !ok {
		return
	}
	set, ok := rels[rel]
	if !ok {
		return
	}
	delete(set, b)
	if len(set) == 0 {
		delete(rels, rel)
	}
	if len(rels) == 0 {
		delete(index, a)
	}
}

func sortedEdgeSet(index map[EntityID]map[RelKind]map[EntityID]struct{}, a EntityID, rel RelKind) []EntityID {
	rels, ok := index[a]
	if !ok {
		return nil
	}
	set, ok := rels[rel]
	if !ok {
		return nil
	}
	out := make([]EntityID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
