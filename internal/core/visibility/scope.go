// Package visibility decides, per observer and per tick, which entities and
// which of their fields leave the server. Authorization (what an observer may
// know) is always resolved strictly before delivery (what its active stream
// actually carries); an entity can be authorized but undelivered, never the
// reverse.
package visibility

import (
	"github.com/astrosync/astrosync/internal/core/identity"
	"github.com/astrosync/astrosync/internal/core/world"
)

// StreamClass is the delivery scope: which slice of authorized data the
// observer's active stream subscription carries.
type StreamClass uint8

const (
	// StreamFocus carries everything the observer is authorized to see.
	StreamFocus StreamClass = iota
	// StreamStrategic is the coarse overview stream: kinematics and tags
	// only, regardless of authorization.
	StreamStrategic
)

func (s StreamClass) String() string {
	if s == StreamStrategic {
		return "strategic"
	}
	return "focus"
}

// kindsForScope returns the component kinds an authorization scope exposes.
// The default is maximally restrictive: a kind absent from every tier is
// owner-only.
func kindsForScope(scope identity.FieldScope) map[string]struct{} {
	kinds := make(map[string]struct{})
	if scope >= identity.ScopeKinematics {
		for _, k := range []string{
			world.KindPosition,
			world.KindVelocity,
			world.KindRotation,
			world.KindDisplayName,
			world.KindShipTag,
			world.KindModuleTag,
			world.KindMass,
		} {
			kinds[k] = struct{}{}
		}
	}
	if scope >= identity.ScopeCargoSummary {
		kinds[world.KindCargo] = struct{}{}
	}
	if scope >= identity.ScopeLoadout {
		kinds[world.KindHardpoint] = struct{}{}
		kinds[world.KindMountedOn] = struct{}{}
		kinds[world.KindEngine] = struct{}{}
	}
	if scope >= identity.ScopeFull {
		kinds[world.KindFuelTank] = struct{}{}
		kinds[world.KindFlightComputer] = struct{}{}
		kinds[world.KindHealthPool] = struct{}{}
		kinds[world.KindScanner] = struct{}{}
		kinds[world.KindScannerBuff] = struct{}{}
		kinds[world.KindOwnerRef] = struct{}{}
	}
	return kinds
}

// strategicKinds is the coarse delivery whitelist.
var strategicKinds = map[string]struct{}{
	world.KindPosition:    {},
	world.KindRotation:    {},
	world.KindDisplayName: {},
	world.KindShipTag:     {},
	world.KindModuleTag:   {},
}

// deliveredKinds intersects authorization with the stream's delivery scope.
func deliveredKinds(scope identity.FieldScope, stream StreamClass) map[string]struct{} {
	authorized := kindsForScope(scope)
	if stream == StreamFocus {
		return authorized
	}
	out := make(map[string]struct{})
	for k := range authorized {
		if _, ok := strategicKinds[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}
