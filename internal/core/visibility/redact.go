package visibility

import (
	"encoding/json"
	"fmt"

	"github.com/astrosync/astrosync/internal/core/identity"
	"github.com/astrosync/astrosync/internal/core/sim"
	"github.com/astrosync/astrosync/internal/core/world"
)

// Redactor applies field-level masks to component payloads before they are
// serialized for a session. It is a pure function of (payload, authorization
// scope, delivery scope): no network stack, no globals, independently
// testable.
type Redactor struct {
	registry *world.Registry
}

func NewRedactor(registry *world.Registry) *Redactor {
	return &Redactor{registry: registry}
}

// MaskComponent returns the payload an observer with the given scopes may
// receive for one component, or ok=false if the component is withheld
// entirely. Most kinds are all-or-nothing; Cargo and Mass carry intra-
// component masks (summary figures below full scope).
func (r *Redactor) MaskComponent(kind string, payload json.RawMessage, scope identity.FieldScope, stream StreamClass) (json.RawMessage, bool, error) {
	if _, ok := deliveredKinds(scope, stream)[kind]; !ok {
		return nil, false, nil
	}

	switch kind {
	case world.KindCargo:
		if scope >= identity.ScopeFull {
			return payload, true, nil
		}
		// cargo_summary exposes the coarse mass figure, never the manifest.
		c, err := r.registry.Decode(kind, payload)
		if err != nil {
			return nil, false, fmt.Errorf("redact cargo: %w", err)
		}
		cargo := c.(*world.Cargo)
		masked, err := r.registry.Encode(&world.Cargo{SummaryKg: cargo.SummaryKg})
		if err != nil {
			return nil, false, err
		}
		return masked, true, nil
	case world.KindMass:
		if scope >= identity.ScopeFull {
			return payload, true, nil
		}
		// Below full scope only the total is visible; the base/cargo/module
		// split leaks loadout and cargo details.
		c, err := r.registry.Decode(kind, payload)
		if err != nil {
			return nil, false, fmt.Errorf("redact mass: %w", err)
		}
		mass := c.(*world.Mass)
		masked, err := r.registry.Encode(&world.Mass{TotalKg: mass.TotalKg})
		if err != nil {
			return nil, false, err
		}
		return masked, true, nil
	default:
		return payload, true, nil
	}
}

// RedactEntry filters one global delta entry down to a session's scopes.
// ok=false means nothing survives the mask and the entry is dropped. Removal
// entries pass through untouched; clients must always learn about despawns
// they could previously see.
func (r *Redactor) RedactEntry(entry sim.EntityDelta, scope identity.FieldScope, stream StreamClass) (sim.EntityDelta, bool, error) {
	if entry.Removed {
		return sim.EntityDelta{EntityID: entry.EntityID, Removed: true}, true, nil
	}

	out := sim.EntityDelta{EntityID: entry.EntityID, Labels: entry.Labels}
	for kind, payload := range entry.Added {
		masked, ok, err := r.MaskComponent(kind, payload, scope, stream)
		if err != nil {
			return sim.EntityDelta{}, false, err
		}
		if !ok {
			continue
		}
		if out.Added == nil {
			out.Added = make(map[string]json.RawMessage)
		}
		out.Added[kind] = masked
	}
	for kind, payload := range entry.Updated {
		masked, ok, err := r.MaskComponent(kind, payload, scope, stream)
		if err != nil {
			return sim.EntityDelta{}, false, err
		}
		if !ok {
			continue
		}
		if out.Updated == nil {
			out.Updated = make(map[string]json.RawMessage)
		}
		out.Updated[kind] = masked
	}
	allowed := deliveredKinds(scope, stream)
	for _, kind := range entry.RemovedComponents {
		if _, ok := allowed[kind]; ok {
			out.RemovedComponents = append(out.RemovedComponents, kind)
		}
	}

	if len(out.Added) == 0 && len(out.Updated) == 0 && len(out.RemovedComponents) == 0 {
		return sim.EntityDelta{}, false, nil
	}
	return out, true, nil
}

// FullEntry builds a complete Added entry for an entity from a snapshot,
// masked to the session's scopes. Used when an entity first becomes visible
// to a session or its authorization scope changes.
func (r *Redactor) FullEntry(e *world.Entity, scope identity.FieldScope, stream StreamClass) (sim.EntityDelta, bool, error) {
	out := sim.EntityDelta{EntityID: e.ID(), Labels: e.Labels()}
	for _, kind := range e.Kinds() {
		c, _ := e.Get(kind)
		payload, err := r.registry.Encode(c)
		if err != nil {
			return sim.EntityDelta{}, false, err
		}
		masked, ok, err := r.MaskComponent(kind, payload, scope, stream)
		if err != nil {
			return sim.EntityDelta{}, false, err
		}
		if !ok {
			continue
		}
		if out.Added == nil {
			out.Added = make(map[string]json.RawMessage)
		}
		out.Added[kind] = masked
	}
	if len(out.Added) == 0 {
		return sim.EntityDelta{}, false, nil
	}
	return out, true, nil
}
