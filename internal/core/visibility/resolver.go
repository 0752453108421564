package visibility

import (
	"sort"
	"time"

	"github.com/astrosync/astrosync/internal/core/identity"
	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/sim"
	"github.com/astrosync/astrosync/internal/core/world"
)

// Observer describes one session's view parameters for a tick: who is
// looking, from where, how far, and over which stream.
type Observer struct {
	Player identity.PlayerID
	// Focus points for the spatial query, usually the positions of the
	// observer's controlled entities.
	Focus   []world.Vec3
	RadiusM float64
	Stream  StreamClass
}

// SessionView is the per-session memory the resolver needs across ticks: the
// set of entities the session currently sees and the scope each was last
// serialized at. A scope change forces a fresh full entry; a disappearance
// forces an explicit removal so the client reliably despawns it.
type SessionView struct {
	visible map[world.EntityID]identity.FieldScope
}

func NewSessionView() *SessionView {
	return &SessionView{visible: make(map[world.EntityID]identity.FieldScope)}
}

// Reset forgets everything, forcing full re-send. Used on stream switches
// and reconnects.
func (v *SessionView) Reset() {
	v.visible = make(map[world.EntityID]identity.FieldScope)
}

// Sees reports whether the view currently includes the entity.
func (v *SessionView) Sees(id world.EntityID) bool {
	_, ok := v.visible[id]
	return ok
}

// Resolver computes per-observer session deltas from the tick's immutable
// output. Safe for concurrent use across sessions: it only reads the
// snapshot, the spatial grid (quiescent between ticks), the ledger view and
// the grant table; per-session state lives in the SessionView.
type Resolver struct {
	grid     *world.Grid
	grants   *identity.GrantTable
	redactor *Redactor
	logger   log.Log
}

func NewResolver(grid *world.Grid, grants *identity.GrantTable, redactor *Redactor, logger log.Log) *Resolver {
	if logger == nil {
		logger = log.Provide()
	}
	return &Resolver{
		grid:     grid,
		grants:   grants,
		redactor: redactor,
		logger:   logger.With(log.String("component", "visibility_resolver")),
	}
}

// Resolve produces the session's delta for one tick. The pipeline per
// candidate is: authorization scope first (owned/attached → full, else best
// active scan grant, else none), then delivery scope, then redaction.
// Entities resolving to no authorization are never serialized; if the session
// saw them before, an explicit removal is emitted instead.
func (r *Resolver) Resolve(
	out sim.TickOutput,
	view *SessionView,
	obs Observer,
	ledger *identity.View,
	now time.Time,
) (*sim.WorldDelta, error) {
	candidates := r.candidates(out.Snapshot, obs, ledger)

	delta := &sim.WorldDelta{Tick: out.Tick}

	// Index the global delta once per call.
	byEntity := make(map[world.EntityID]*sim.EntityDelta, len(out.Delta.Entries))
	for i := range out.Delta.Entries {
		entry := &out.Delta.Entries[i]
		byEntity[entry.EntityID] = entry
	}

	ids := make([]world.EntityID, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	nextVisible := make(map[world.EntityID]identity.FieldScope, len(ids))
	for _, id := range ids {
		e, ok := out.Snapshot.Entities[id]
		if !ok {
			continue
		}

		scope := r.authScope(obs.Player, id, candidates[id], ledger, now)
		if scope == identity.ScopeNone {
			continue
		}

		prevScope, seen := view.visible[id]
		if !seen || prevScope != scope {
			entry, ok, err := r.redactor.FullEntry(e, scope, obs.Stream)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			delta.Entries = append(delta.Entries, entry)
			nextVisible[id] = scope
			continue
		}

		nextVisible[id] = scope
		if global, ok := byEntity[id]; ok && !global.Removed {
			entry, ok, err := r.redactor.RedactEntry(*global, scope, obs.Stream)
			if err != nil {
				return nil, err
			}
			if ok {
				delta.Entries = append(delta.Entries, entry)
			}
		}
	}

	// Anything the session saw that did not survive this pass despawns
	// explicitly, whether it was destroyed, moved out of range, or lost its
	// authorization.
	var removals []world.EntityID
	for id := range view.visible {
		if _, still := nextVisible[id]; !still {
			removals = append(removals, id)
		}
	}
	sort.Slice(removals, func(i, j int) bool { return removals[i] < removals[j] })
	for _, id := range removals {
		delta.Entries = append(delta.Entries, sim.EntityDelta{EntityID: id, Removed: true})
	}

	view.visible = nextVisible
	return delta, nil
}

type candidateReason struct {
	ownedOrAttached bool
}

// candidates builds the spatial-query union with the observer's owned and
// attached entities. Owned entities are never spatially culled.
func (r *Resolver) candidates(
	sn *world.Snapshot,
	obs Observer,
	ledger *identity.View,
) map[world.EntityID]candidateReason {
	out := make(map[world.EntityID]candidateReason)

	for _, focus := range obs.Focus {
		for _, id := range r.grid.QueryRadius(focus, obs.RadiusM) {
			if _, ok := sn.Entities[id]; ok {
				out[id] = candidateReason{}
			}
		}
	}

	owned := ledger.OwnedBy(obs.Player)
	attached := make(map[world.EntityID]struct{})
	for _, edge := range sn.Edges {
		if edge.Rel != world.RelMountedOn && edge.Rel != world.RelHasChild {
			continue
		}
		if _, ok := owned[edge.From]; ok {
			attached[edge.To] = struct{}{}
		}
		if _, ok := owned[edge.To]; ok {
			attached[edge.From] = struct{}{}
		}
	}
	for id := range owned {
		if _, ok := sn.Entities[id]; ok {
			out[id] = candidateReason{ownedOrAttached: true}
		}
	}
	for id := range attached {
		if _, ok := sn.Entities[id]; ok {
			out[id] = candidateReason{ownedOrAttached: true}
		}
	}
	return out
}

// authScope resolves the authorization tier for one candidate.
func (r *Resolver) authScope(
	player identity.PlayerID,
	id world.EntityID,
	reason candidateReason,
	ledger *identity.View,
	now time.Time,
) identity.FieldScope {
	if reason.ownedOrAttached || ledger.Owns(player, id) {
		return identity.ScopeFull
	}
	// No ownership and no live grant means no authorization at all: the
	// entity is never serialized for this observer, spatial proximity
	// notwithstanding.
	return r.grants.ScopeFor(player, id, now)
}
