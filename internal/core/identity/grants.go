package identity

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astrosync/astrosync/internal/core/world"
)

// FieldScope names a slice of entity data a scan grant exposes. Scopes are
// ordered from coarsest to finest; the resolver picks the finest active one.
type FieldScope uint8

const (
	// ScopeNone authorizes nothing at all.
	ScopeNone FieldScope = iota
	// ScopeKinematics exposes position, velocity, rotation and tags.
	ScopeKinematics
	// ScopeCargoSummary adds the coarse cargo mass figure.
	ScopeCargoSummary
	// ScopeLoadout adds hardpoints, mounts and module identities.
	ScopeLoadout
	// ScopeFull is what an owner sees.
	ScopeFull
)

func (s FieldScope) String() string {
	switch s {
	case ScopeKinematics:
		return "kinematics"
	case ScopeCargoSummary:
		return "cargo_summary"
	case ScopeLoadout:
		return "loadout"
	case ScopeFull:
		return "full"
	default:
		return "none"
	}
}

// ParseFieldScope maps a scope name to its value. Unknown names parse to
// ScopeNone.
func ParseFieldScope(raw string) FieldScope {
	switch raw {
	case "kinematics":
		return ScopeKinematics
	case "cargo_summary":
		return ScopeCargoSummary
	case "loadout":
		return ScopeLoadout
	case "full":
		return ScopeFull
	default:
		return ScopeNone
	}
}

// GrantID identifies one scan grant.
type GrantID string

func NewGrantID() GrantID {
	return GrantID(uuid.NewString())
}

// ScanGrant is a time-bounded authorization for one observer to see a field
// scope of one target entity. A grant is live strictly before ExpiresAt;
// at and after that instant it is dead, with no dependency on any revocation
// message arriving.
type ScanGrant struct {
	ID        GrantID
	Observer  PlayerID
	Target    world.EntityID
	Scope     FieldScope
	Source    string
	GrantedAt time.Time
	ExpiresAt time.Time
}

// Active reports whether the grant is live at the given instant.
func (g *ScanGrant) Active(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// GrantTable indexes active scan grants by observer. Expiry is enforced by
// clock comparison on every read; Prune only reclaims memory.
type GrantTable struct {
	mu         sync.RWMutex
	byID       map[GrantID]*ScanGrant
	byObserver map[PlayerID]map[GrantID]*ScanGrant
}

func NewGrantTable() *GrantTable {
	return &GrantTable{
		byID:       make(map[GrantID]*ScanGrant),
		byObserver: make(map[PlayerID]map[GrantID]*ScanGrant),
	}
}

func (t *GrantTable) Add(g *ScanGrant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[g.ID] = g
	obs, ok := t.byObserver[g.Observer]
	if !ok {
		obs = make(map[GrantID]*ScanGrant)
		t.byObserver[g.Observer] = obs
	}
	obs[g.ID] = g
}

// Revoke deletes a grant immediately. Reversion to baseline redaction is
// effective on the next resolution pass.
func (t *GrantTable) Revoke(id GrantID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	if obs, ok := t.byObserver[g.Observer]; ok {
		delete(obs, id)
		if len(obs) == 0 {
			delete(t.byObserver, g.Observer)
		}
	}
	return true
}

// ReleaseObserver drops every grant held by an observer, e.g. on disconnect
// of the session that subscribed to them.
func (t *GrantTable) ReleaseObserver(observer PlayerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.byObserver[observer] {
		delete(t.byID, id)
	}
	delete(t.byObserver, observer)
}

// ScopeFor returns the finest field scope any live grant gives observer on
// target at the given instant, or ScopeNone.
func (t *GrantTable) ScopeFor(observer PlayerID, target world.EntityID, now time.Time) FieldScope {
	t.mu.RLock()
	defer t.mu.RUnlock()
	best := ScopeNone
	for _, g := range t.byObserver[observer] {
		if g.Target != target || !g.Active(now) {
			continue
		}
		if g.Scope > best {
			best = g.Scope
		}
	}
	return best
}

// ActiveFor lists the observer's live grants sorted by grant ID.
func (t *GrantTable) ActiveFor(observer PlayerID, now time.Time) []*ScanGrant {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*ScanGrant
	for _, g := range t.byObserver[observer] {
		if g.Active(now) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Prune removes expired grants. Correctness never depends on it running;
// every read re-checks the clock.
func (t *GrantTable) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, g := range t.byID {
		if g.Active(now) {
			continue
		}
		delete(t.byID, id)
		if obs, ok := t.byObserver[g.Observer]; ok {
			delete(obs, id)
			if len(obs) == 0 {
				delete(t.byObserver, g.Observer)
			}
		}
		removed++
	}
	return removed
}
