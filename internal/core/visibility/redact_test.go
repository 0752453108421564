package visibility

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosync/astrosync/internal/core/identity"
	"github.com/astrosync/astrosync/internal/core/sim"
	"github.com/astrosync/astrosync/internal/core/world"
)

func encode(t *testing.T, registry *world.Registry, c world.Component) json.RawMessage {
	t.Helper()
	payload, err := registry.Encode(c)
	require.NoError(t, err)
	return payload
}

func TestMaskCargoSummaryHidesManifest(t *testing.T) {
	registry := world.DefaultRegistry()
	r := NewRedactor(registry)
	payload := encode(t, registry, &world.Cargo{
		Items:     []world.CargoItem{{ItemID: "ore", Quantity: 10, UnitKg: 25}},
		SummaryKg: 250,
	})

	masked, ok, err := r.MaskComponent(world.KindCargo, payload, identity.ScopeCargoSummary, StreamFocus)
	require.NoError(t, err)
	require.True(t, ok)

	var cargo world.Cargo
	require.NoError(t, json.Unmarshal(masked, &cargo))
	assert.Equal(t, 250.0, cargo.SummaryKg)
	assert.Empty(t, cargo.Items)

	// The owner receives the manifest untouched.
	full, ok, err := r.MaskComponent(world.KindCargo, payload, identity.ScopeFull, StreamFocus)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(full, &cargo))
	assert.Len(t, cargo.Items, 1)
}

func TestMaskCargoWithheldBelowSummaryScope(t *testing.T) {
	registry := world.DefaultRegistry()
	r := NewRedactor(registry)
	payload := encode(t, registry, &world.Cargo{SummaryKg: 250})

	_, ok, err := r.MaskComponent(world.KindCargo, payload, identity.ScopeKinematics, StreamFocus)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMaskMassExposesOnlyTotalBelowFull(t *testing.T) {
	registry := world.DefaultRegistry()
	r := NewRedactor(registry)
	payload := encode(t, registry, &world.Mass{BaseKg: 1000, CargoKg: 260, ModuleKg: 200, TotalKg: 1460})

	masked, ok, err := r.MaskComponent(world.KindMass, payload, identity.ScopeKinematics, StreamFocus)
	require.NoError(t, err)
	require.True(t, ok)

	var mass world.Mass
	require.NoError(t, json.Unmarshal(masked, &mass))
	assert.Equal(t, 1460.0, mass.TotalKg)
	assert.Zero(t, mass.BaseKg)
	assert.Zero(t, mass.CargoKg)
	assert.Zero(t, mass.ModuleKg)
}

func TestStrategicStreamIntersectsAuthorization(t *testing.T) {
	registry := world.DefaultRegistry()
	r := NewRedactor(registry)

	// Full authorization, coarse delivery: the strategic stream still carries
	// only kinematics and tags.
	pos := encode(t, registry, &world.Position{Pos: world.Vec3{X: 1}})
	_, ok, err := r.MaskComponent(world.KindPosition, pos, identity.ScopeFull, StreamStrategic)
	require.NoError(t, err)
	assert.True(t, ok)

	fuel := encode(t, registry, &world.FuelTank{FuelKg: 10})
	_, ok, err = r.MaskComponent(world.KindFuelTank, fuel, identity.ScopeFull, StreamStrategic)
	require.NoError(t, err)
	assert.False(t, ok)

	cargo := encode(t, registry, &world.Cargo{SummaryKg: 5})
	_, ok, err = r.MaskComponent(world.KindCargo, cargo, identity.ScopeFull, StreamStrategic)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedactEntryRemovalPassesThrough(t *testing.T) {
	r := NewRedactor(world.DefaultRegistry())
	entry := sim.EntityDelta{EntityID: "e1", Removed: true}

	out, ok, err := r.RedactEntry(entry, identity.ScopeNone, StreamStrategic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, out.Removed)
	assert.Equal(t, world.EntityID("e1"), out.EntityID)
}

func TestRedactEntryDropsWhenNothingSurvives(t *testing.T) {
	registry := world.DefaultRegistry()
	r := NewRedactor(registry)
	entry := sim.EntityDelta{
		EntityID: "e1",
		Updated: map[string]json.RawMessage{
			world.KindFuelTank: encode(t, registry, &world.FuelTank{FuelKg: 3}),
		},
	}

	_, ok, err := r.RedactEntry(entry, identity.ScopeKinematics, StreamFocus)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFullEntryMasksToScope(t *testing.T) {
	registry := world.DefaultRegistry()
	r := NewRedactor(registry)
	store := world.NewStore()
	ship := store.Create()
	ship.Set(&world.ShipTag{})
	ship.Set(&world.Position{})
	ship.Set(&world.FuelTank{FuelKg: 10})
	ship.Set(&world.Cargo{SummaryKg: 40})

	entry, ok, err := r.FullEntry(ship, identity.ScopeCargoSummary, StreamFocus)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, entry.Added, world.KindPosition)
	assert.Contains(t, entry.Added, world.KindCargo)
	assert.NotContains(t, entry.Added, world.KindFuelTank)
}
