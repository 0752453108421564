package world

import (
	"fmt"
	"sort"
)

// Store is the in-memory authoritative entity table: the single mutable
// source of truth for one tick. The tick loop owns it exclusively for the
// duration of a tick; everything else (visibility fan-out, persistence)
// works from immutable Snapshots taken at the tick boundary. The store is
// passed explicitly into every system invocation, never reached through a
// package global.
type Store struct {
	entities  map[EntityID]*Entity
	hierarchy *Hierarchy
	destroyed []EntityID
}

func NewStore() *Store {
	return &Store{
		entities:  make(map[EntityID]*Entity),
		hierarchy: NewHierarchy(),
	}
}

// Create spawns an entity with a fresh identity.
func (s *Store) Create() *Entity {
	return s.CreateWithID(NewEntityID())
}

// CreateWithID spawns an entity under a known identity. Used by hydration
// and bootstrap, which already hold durable IDs.
func (s *Store) CreateWithID(id EntityID) *Entity {
	e := NewEntity(id)
	e.AddLabel("Entity")
	s.entities[id] = e
	return e
}

// Destroy removes an entity and all of its edges. Destruction is explicit
// and recorded for the differ; entities are never garbage-collected mid-tick.
func (s *Store) Destroy(id EntityID) error {
	if _, ok := s.entities[id]; !ok {
		return fmt.Errorf("destroy: entity %s not found", id)
	}
	delete(s.entities, id)
	s.hierarchy.RemoveEntity(id)
	s.destroyed = append(s.destroyed, id)
	return nil
}

func (s *Store) Get(id EntityID) (*Entity, bool) {
	e, ok := s.entities[id]
	return e, ok
}

func (s *Store) Has(id EntityID) bool {
	_, ok := s.entities[id]
	return ok
}

func (s *Store) Len() int {
	return len(s.entities)
}

func (s *Store) Hierarchy() *Hierarchy {
	return s.hierarchy
}

// IDs returns every live entity ID in sorted order. Sorted iteration keeps
// rule evaluation and diffing deterministic.
func (s *Store) IDs() []EntityID {
	ids := make([]EntityID, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ForEach visits every entity in sorted ID order.
func (s *Store) ForEach(fn func(*Entity)) {
	for _, id := range s.IDs() {
		fn(s.entities[id])
	}
}

// DrainDestroyed returns IDs destroyed since the last drain. Consumed once
// per tick by the differ.
func (s *Store) DrainDestroyed() []EntityID {
	out := s.destroyed
	s.destroyed = nil
	return out
}

// Snapshot is an immutable deep copy of the store at one tick boundary.
type Snapshot struct {
	Tick     uint64
	Entities map[EntityID]*Entity
	Edges    []Edge
}

// Snapshot deep-clones the live table. The result is handed to visibility
// resolution and persistence, which run concurrently with the next tick.
func (s *Store) Snapshot(tick uint64) *Snapshot {
	entities := make(map[EntityID]*Entity, len(s.entities))
	for id, e := range s.entities {
		entities[id] = e.Clone()
	}
	return &Snapshot{
		Tick:     tick,
		Entities: entities,
		Edges:    s.hierarchy.Edges(),
	}
}

// IDs returns the snapshot's entity IDs in sorted order.
func (sn *Snapshot) IDs() []EntityID {
	ids := make([]EntityID, 0, len(sn.Entities))
	for id := range sn.Entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
