package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownKind is returned when decoding a payload whose kind has no
// registered factory.
var ErrUnknownKind = errors.New("unknown component kind")

// ComponentFactory produces an empty component of one kind, ready to be
// unmarshaled into.
type ComponentFactory func() Component

// Registry maps stable component kind names to factories. The wire codec and
// the graph store share one registry so a payload persisted to the graph
// decodes identically to one received off the wire.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ComponentFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ComponentFactory)}
}

// DefaultRegistry returns a registry with every built-in component kind
// registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(KindPosition, func() Component { return &Position{} })
	r.MustRegister(KindVelocity, func() Component { return &Velocity{} })
	r.MustRegister(KindRotation, func() Component { return &Rotation{} })
	r.MustRegister(KindMass, func() Component { return &Mass{} })
	r.MustRegister(KindDisplayName, func() Component { return &DisplayName{} })
	r.MustRegister(KindShipTag, func() Component { return &ShipTag{} })
	r.MustRegister(KindModuleTag, func() Component { return &ModuleTag{} })
	r.MustRegister(KindHardpoint, func() Component { return &Hardpoint{} })
	r.MustRegister(KindMountedOn, func() Component { return &MountedOn{} })
	r.MustRegister(KindEngine, func() Component { return &Engine{} })
	r.MustRegister(KindFuelTank, func() Component { return &FuelTank{} })
	r.MustRegister(KindFlightComputer, func() Component { return &FlightComputer{} })
	r.MustRegister(KindHealthPool, func() Component { return &HealthPool{} })
	r.MustRegister(KindCargo, func() Component { return &Cargo{} })
	r.MustRegister(KindScanner, func() Component { return &Scanner{} })
	r.MustRegister(KindScannerBuff, func() Component { return &ScannerRangeBuff{} })
	r.MustRegister(KindOwnerRef, func() Component { return &OwnerRef{} })
	return r
}

func (r *Registry) Register(kind string, f ComponentFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("component kind %q already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

func (r *Registry) MustRegister(kind string, f ComponentFactory) {
	if err := r.Register(kind, f); err != nil {
		panic(err)
	}
}

// Kinds returns all registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Encode marshals a component payload. The encoding is canonical for a given
// component value, so equal values hash equal.
func (r *Registry) Encode(c Component) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode component %q: %w", c.Kind(), err)
	}
	return data, nil
}

// Decode unmarshals a payload into a fresh component of the named kind.
func (r *Registry) Decode(kind string, payload []byte) (Component, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	c := f()
	if err := json.Unmarshal(payload, c); err != nil {
		return nil, fmt.Errorf("decode component %q: %w", kind, err)
	}
	return c, nil
}
