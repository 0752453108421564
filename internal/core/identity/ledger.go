// Package identity holds the ownership ledger and the scan-grant table: the
// leaf inputs of every authorization decision. Both are read-mostly; the tick
// loop takes an immutable view at the start of each resolution pass, and
// mutations land between ticks so a single pass never observes a half-applied
// change.
package identity

import (
	"sync"

	"github.com/astrosync/astrosync/internal/core/world"
)

// PlayerID is the durable account identity carried by the auth collaborator's
// bearer token. It is trusted as-is; no client-supplied alternative is ever
// accepted in its place.
type PlayerID string

type ledgerOp struct {
	player PlayerID
	entity world.EntityID
	remove bool
}

// Ledger maps a player to every entity it owns, aggregated across the whole
// account rather than just the currently controlled entity.
type Ledger struct {
	mu     sync.RWMutex
	owned  map[PlayerID]map[world.EntityID]struct{}
	owner  map[world.EntityID]PlayerID
	staged []ledgerOp
}

func NewLedger() *Ledger {
	return &Ledger{
		owned: make(map[PlayerID]map[world.EntityID]struct{}),
		owner: make(map[world.EntityID]PlayerID),
	}
}

// StageOwn queues an ownership assignment. It takes effect on the next
// ApplyStaged, between ticks.
func (l *Ledger) StageOwn(player PlayerID, entity world.EntityID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.staged = append(l.staged, ledgerOp{player: player, entity: entity})
}

// StageRelease queues removal of an ownership assignment.
func (l *Ledger) StageRelease(player PlayerID, entity world.EntityID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.staged = append(l.staged, ledgerOp{player: player, entity: entity, remove: true})
}

// ApplyStaged applies all queued mutations in order. The tick scheduler calls
// this at the tick boundary, never mid-resolution.
func (l *Ledger) ApplyStaged() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range l.staged {
		if op.remove {
			if set, ok := l.owned[op.player]; ok {
				delete(set, op.entity)
				if len(set) == 0 {
					delete(l.owned, op.player)
				}
			}
			if l.owner[op.entity] == op.player {
				delete(l.owner, op.entity)
			}
			continue
		}
		if prev, ok := l.owner[op.entity]; ok && prev != op.player {
			if set, ok := l.owned[prev]; ok {
				delete(set, op.entity)
				if len(set) == 0 {
					delete(l.owned, prev)
				}
			}
		}
		set, ok := l.owned[op.player]
		if !ok {
			set = make(map[world.EntityID]struct{})
			l.owned[op.player] = set
		}
		set[op.entity] = struct{}{}
		l.owner[op.entity] = op.player
	}
	l.staged = nil
}

// View is an immutable per-tick copy of the ledger.
type View struct {
	owned map[PlayerID]map[world.EntityID]struct{}
	owner map[world.EntityID]PlayerID
}

// Snapshot copies the applied state. Staged mutations are not visible.
func (l *Ledger) Snapshot() *View {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owned := make(map[PlayerID]map[world.EntityID]struct{}, len(l.owned))
	for p, set := range l.owned {
		cp := make(map[world.EntityID]struct{}, len(set))
		for id := range set {
			cp[id] = struct{}{}
		}
		owned[p] = cp
	}
	owner := make(map[world.EntityID]PlayerID, len(l.owner))
	for id, p := range l.owner {
		owner[id] = p
	}
	return &View{owned: owned, owner: owner}
}

// Owns reports whether player owns entity.
func (v *View) Owns(player PlayerID, entity world.EntityID) bool {
	set, ok := v.owned[player]
	if !ok {
		return false
	}
	_, ok = set[entity]
	return ok
}

// OwnedBy returns the set of entities the player owns.
func (v *View) OwnedBy(player PlayerID) map[world.EntityID]struct{} {
	return v.owned[player]
}

// OwnerOf returns the owning player of an entity, if any.
func (v *View) OwnerOf(entity world.EntityID) (PlayerID, bool) {
	p, ok := v.owner[entity]
	return p, ok
}
