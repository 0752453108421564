package world

import (
	"sort"

	"github.com/google/uuid"
)

// EntityID is the stable identity of an entity. It is the only handle that
// ever crosses a process boundary: the wire protocol and the graph store both
// key on it. In-memory map slots, indices and iteration order are
// implementation details and are never serialized.
type EntityID string

// NewEntityID generates a fresh UUIDv4 entity identity.
func NewEntityID() EntityID {
	return EntityID(uuid.NewString())
}

// ParseEntityID validates that raw is a well-formed UUID.
func ParseEntityID(raw string) (EntityID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", err
	}
	return EntityID(id.String()), nil
}

// OwnerKind classifies who controls an entity.
type OwnerKind uint8

const (
	OwnerUnowned OwnerKind = iota
	OwnerPlayer
	OwnerFaction
	OwnerWorld
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerPlayer:
		return "player"
	case OwnerFaction:
		return "faction"
	case OwnerWorld:
		return "world"
	default:
		return "unowned"
	}
}

// Entity is a stable identity plus a bag of named components and additive
// classification labels. At most one component per kind.
type Entity struct {
	id         EntityID
	labels     map[string]struct{}
	components map[string]Component
}

func NewEntity(id EntityID) *Entity {
	return &Entity{
		id:         id,
		labels:     make(map[string]struct{}),
		components: make(map[string]Component),
	}
}

func (e *Entity) ID() EntityID {
	return e.id
}

// Set stores the component under its kind, replacing any previous value.
func (e *Entity) Set(c Component) {
	e.components[c.Kind()] = c
}

func (e *Entity) Get(kind string) (Component, bool) {
	c, ok := e.components[kind]
	return c, ok
}

// Has reports capability by component presence. Systems querying for an
// ability check for the component kind rather than branching on a type field.
func (e *Entity) Has(kind string) bool {
	_, ok := e.components[kind]
	return ok
}

func (e *Entity) Remove(kind string) {
	delete(e.components, kind)
}

// Kinds returns the component kinds present on the entity in sorted order.
func (e *Entity) Kinds() []string {
	kinds := make([]string, 0, len(e.components))
	for k := range e.components {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// AddLabel records an additive classification label. Labels are never removed
// by persistence round-trips.
func (e *Entity) AddLabel(label string) {
	e.labels[label] = struct{}{}
}

func (e *Entity) HasLabel(label string) bool {
	_, ok := e.labels[label]
	return ok
}

// Labels returns the entity's labels in sorted order.
func (e *Entity) Labels() []string {
	labels := make([]string, 0, len(e.labels))
	for l := range e.labels {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Clone deep-copies the entity, cloning every component.
func (e *Entity) Clone() *Entity {
	out := NewEntity(e.id)
	for l := range e.labels {
		out.labels[l] = struct{}{}
	}
	for k, c := range e.components {
		out.components[k] = c.Clone()
	}
	return out
}

// Owner resolves the entity's ownership from its OwnerRef component.
// Entities without one are unowned.
func (e *Entity) Owner() (OwnerKind, string) {
	c, ok := e.Get(KindOwnerRef)
	if !ok {
		return OwnerUnowned, ""
	}
	ref := c.(*OwnerRef)
	return ref.OwnerKind, ref.OwnerID
}
