// Package client holds the receive-side state pipeline: delta ingestion into
// a local replica, snapshot interpolation for remote entities, and
// prediction with server reconciliation for the controlled entity.
package client

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/protocol"
	"github.com/astrosync/astrosync/internal/core/sim"
	"github.com/astrosync/astrosync/internal/core/world"
)

// Replica is the client's local copy of the entities the server chose to
// reveal. It is not authoritative and holds only what survived redaction.
type Replica struct {
	mu       sync.RWMutex
	registry *world.Registry
	entities map[world.EntityID]*world.Entity
	lastTick map[world.EntityID]uint64
}

func NewReplica(registry *world.Registry) *Replica {
	return &Replica{
		registry: registry,
		entities: make(map[world.EntityID]*world.Entity),
		lastTick: make(map[world.EntityID]uint64),
	}
}

// Get returns the replica entity, if known.
func (r *Replica) Get(id world.EntityID) (*world.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// ForEach visits every replica entity.
func (r *Replica) ForEach(fn func(*world.Entity)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entities {
		fn(e)
	}
}

// Ingest applies a per-session delta to the replica. State frames may arrive
// out of order on the unreliable channel, so each entity keeps only its
// newest tick: an entry older than what the entity already has is dropped.
// Removal entries are terminal and always honored.
func (r *Replica) Ingest(delta *sim.WorldDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range delta.Entries {
		if entry.Removed {
			delete(r.entities, entry.EntityID)
			// Keep the tick as a tombstone so a straggler frame from before
			// the removal cannot resurrect the entity. A genuinely newer
			// delta respawns it.
			r.lastTick[entry.EntityID] = delta.Tick
			continue
		}
		if last, ok := r.lastTick[entry.EntityID]; ok && delta.Tick < last {
			continue
		}
		ent, ok := r.entities[entry.EntityID]
		if !ok {
			ent = world.NewEntity(entry.EntityID)
			r.entities[entry.EntityID] = ent
		}
		for _, l := range entry.Labels {
			ent.AddLabel(l)
		}
		if err := r.applyComponents(ent, entry.Added); err != nil {
			return err
		}
		if err := r.applyComponents(ent, entry.Updated); err != nil {
			return err
		}
		for _, kind := range entry.RemovedComponents {
			ent.Remove(kind)
		}
		r.lastTick[entry.EntityID] = delta.Tick
	}
	return nil
}

func (r *Replica) applyComponents(ent *world.Entity, payloads map[string]json.RawMessage) error {
	for kind, payload := range payloads {
		comp, err := r.registry.Decode(kind, payload)
		if err != nil {
			return errors.Wrapf(err, "failed to decode %s for %s", kind, ent.ID())
		}
		ent.Set(comp)
	}
	return nil
}

// Ingestor decodes inbound envelopes, enforces the lease epoch, and routes
// state deltas into the replica and interpolation buffers. Control frames
// are returned to the caller for session-level handling.
type Ingestor struct {
	codec   *protocol.Codec
	epochs  *protocol.EpochGate
	replica *Replica
	buffers *BufferSet
	logger  log.Log
}

func NewIngestor(codec *protocol.Codec, replica *Replica, buffers *BufferSet, logger log.Log) *Ingestor {
	return &Ingestor{
		codec:   codec,
		epochs:  protocol.NewEpochGate(),
		replica: replica,
		buffers: buffers,
		logger:  logger,
	}
}

// HandleFrame decodes one wire frame. State frames are consumed internally
// and return (nil, nil); control frames are decoded and returned.
func (i *Ingestor) HandleFrame(frame []byte) (*protocol.Envelope, error) {
	env, err := i.codec.Decode(frame)
	if err != nil {
		return nil, err
	}
	if err := i.epochs.Admit(env); err != nil {
		// A frame from a dead server lease must never mutate the replica.
		i.logger.Debug("dropped stale-epoch frame",
			log.Uint64("lease_epoch", env.LeaseEpoch),
			log.Uint64("tick", env.Tick))
		return nil, nil
	}
	if env.Channel != protocol.ChannelState {
		return env, nil
	}

	var delta sim.WorldDelta
	if err := json.Unmarshal(env.Payload, &delta); err != nil {
		return nil, errors.Wrap(err, "failed to decode state delta")
	}
	if err := i.replica.Ingest(&delta); err != nil {
		return nil, err
	}
	i.buffers.Observe(i.replica, &delta)
	return nil, nil
}
