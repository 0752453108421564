package sim

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"

	"github.com/astrosync/astrosync/internal/core/world"
)

// EntityDelta is one entity's slice of a tick delta. A Removed entry is
// terminal: no component maps accompany it and nothing else references the
// entity later in the same delta.
type EntityDelta struct {
	EntityID          world.EntityID             `json:"entity_id"`
	Labels            []string                   `json:"labels,omitempty"`
	Added             map[string]json.RawMessage `json:"added,omitempty"`
	Updated           map[string]json.RawMessage `json:"updated,omitempty"`
	RemovedComponents []string                   `json:"removed_components,omitempty"`
	Removed           bool                       `json:"removed,omitempty"`
}

// WorldDelta is the ordered per-tick state delta the authoritative step
// produces, before any per-observer filtering.
type WorldDelta struct {
	Tick    uint64        `json:"tick"`
	Entries []EntityDelta `json:"entries"`
}

// Empty reports whether the delta carries nothing.
func (d *WorldDelta) Empty() bool {
	return len(d.Entries) == 0
}

// Differ diffs consecutive tick snapshots into WorldDeltas. Change detection
// is by xxhash of the canonical component encoding, so touched-but-unchanged
// components don't inflate the delta. The same hashes drive the persistence
// dirty set.
type Differ struct {
	registry *world.Registry
	prev     map[world.EntityID]map[string]uint64
}

func NewDiffer(registry *world.Registry) *Differ {
	return &Differ{
		registry: registry,
		prev:     make(map[world.EntityID]map[string]uint64),
	}
}

// Produce diffs the snapshot against the previous tick and folds in explicit
// destroys. Entries are ordered by entity ID; removals are terminal.
func (d *Differ) Produce(sn *world.Snapshot, destroyed []world.EntityID) (*WorldDelta, error) {
	delta := &WorldDelta{Tick: sn.Tick}

	removedSet := make(map[world.EntityID]struct{}, len(destroyed))
	for _, id := range destroyed {
		removedSet[id] = struct{}{}
	}

	for _, id := range sn.IDs() {
		if _, gone := removedSet[id]; gone {
			continue
		}
		e := sn.Entities[id]
		prevHashes := d.prev[id]
		nextHashes := make(map[string]uint64, len(e.Kinds()))

		entry := EntityDelta{EntityID: id, Labels: e.Labels()}
		for _, kind := range e.Kinds() {
			c, _ := e.Get(kind)
			payload, err := d.registry.Encode(c)
			if err != nil {
				return nil, err
			}
			h := xxhash.Sum64(payload)
			nextHashes[kind] = h

			prevH, existed := prevHashes[kind]
			switch {
			case !existed:
				if entry.Added == nil {
					entry.Added = make(map[string]json.RawMessage)
				}
				entry.Added[kind] = payload
			case prevH != h:
				if entry.Updated == nil {
					entry.Updated = make(map[string]json.RawMessage)
				}
				entry.Updated[kind] = payload
			}
		}
		for kind := range prevHashes {
			if _, still := nextHashes[kind]; !still {
				entry.RemovedComponents = append(entry.RemovedComponents, kind)
			}
		}
		d.prev[id] = nextHashes

		if len(entry.Added) > 0 || len(entry.Updated) > 0 || len(entry.RemovedComponents) > 0 {
			delta.Entries = append(delta.Entries, entry)
		}
	}

	// Destroys last, ordered, with no trailing fields.
	for _, id := range destroyed {
		delete(d.prev, id)
		delta.Entries = append(delta.Entries, EntityDelta{EntityID: id, Removed: true})
	}

	return delta, nil
}

// KnownEntities reports how many entities the differ currently tracks.
func (d *Differ) KnownEntities() int {
	return len(d.prev)
}
