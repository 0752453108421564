package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosync/astrosync/internal/core/identity"
	"github.com/astrosync/astrosync/internal/core/world"
)

func TestBootstrapStarterShip(t *testing.T) {
	store := world.NewStore()
	ledger := identity.NewLedger()

	shipID := bootstrapStarterShip(store, ledger, "alice")
	ledger.ApplyStaged()

	ship, ok := store.Get(shipID)
	require.True(t, ok)
	require.Equal(t, 4, store.Len()) // hull + two engines + fuel tank

	_, ok = ship.Get(world.KindShipTag)
	assert.True(t, ok)
	fc, ok := ship.Get(world.KindFlightComputer)
	require.True(t, ok)
	assert.Equal(t, "corvette", fc.(*world.FlightComputer).Profile)
	oc, _ := ship.Get(world.KindOwnerRef)
	assert.Equal(t, "alice", oc.(*world.OwnerRef).OwnerID)

	// Every module is mounted on the hull and owned by the player, and the
	// ownership ledger covers hull and modules alike.
	view := ledger.Snapshot()
	require.True(t, view.Owns("alice", shipID))

	modules := store.Hierarchy().Sources(shipID, world.RelMountedOn)
	require.Len(t, modules, 3)
	engines, tanks := 0, 0
	for _, id := range modules {
		mod, ok := store.Get(id)
		require.True(t, ok)
		assert.True(t, store.Hierarchy().Linked(shipID, id, world.RelHasChild))
		assert.True(t, view.Owns("alice", id))
		if _, ok := mod.Get(world.KindEngine); ok {
			engines++
		}
		if _, ok := mod.Get(world.KindFuelTank); ok {
			tanks++
		}
		mc, ok := mod.Get(world.KindMountedOn)
		require.True(t, ok)
		assert.Equal(t, shipID, mc.(*world.MountedOn).ParentID)
	}
	assert.Equal(t, 2, engines)
	assert.Equal(t, 1, tanks)
}

func TestBootstrapShipsAreIndependent(t *testing.T) {
	store := world.NewStore()
	ledger := identity.NewLedger()

	a := bootstrapStarterShip(store, ledger, "alice")
	b := bootstrapStarterShip(store, ledger, "bob")
	ledger.ApplyStaged()

	require.NotEqual(t, a, b)
	view := ledger.Snapshot()
	assert.True(t, view.Owns("alice", a))
	assert.False(t, view.Owns("alice", b))
	assert.Len(t, view.OwnedBy("bob"), 4)
}
