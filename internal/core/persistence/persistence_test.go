package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/world"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestWriteback(store *Store) *Writeback {
	cfg := DefaultWritebackConfig()
	cfg.MaxAttempts = 1
	return NewWriteback(store, world.DefaultRegistry(), cfg, log.Nop())
}

// buildWorld assembles a ship with a mounted engine, enough structure to
// exercise nodes, components, labels and edges in one pass.
func buildWorld(t *testing.T) (*world.Store, *world.Entity, *world.Entity) {
	t.Helper()
	ws := world.NewStore()

	ship := ws.Create()
	ship.AddLabel("Ship")
	ship.Set(&world.ShipTag{})
	ship.Set(&world.Position{Pos: world.Vec3{X: 10, Y: 20, Z: 30}})
	ship.Set(&world.Mass{BaseKg: 1000, TotalKg: 1200})
	ship.Set(&world.Cargo{Items: []world.CargoItem{{ItemID: "ore", Quantity: 4, UnitKg: 50}}, SummaryKg: 200})
	ship.Set(&world.OwnerRef{OwnerKind: world.OwnerPlayer, OwnerID: "alice"})

	engine := ws.Create()
	engine.AddLabel("Module")
	engine.Set(&world.ModuleTag{})
	engine.Set(&world.Engine{ThrustN: 60_000, BurnRateKgS: 0.5})
	require.NoError(t, ws.Hierarchy().Link(engine.ID(), ship.ID(), world.RelMountedOn))

	return ws, ship, engine
}

func TestRoundTripThroughDisk(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	wb := newTestWriteback(store)
	ws, ship, engine := buildWorld(t)

	wb.Collect(ws.Snapshot(42))
	wb.Flush(ctx)
	assert.Zero(t, wb.Failures())

	restored := world.NewStore()
	tick, err := Hydrate(ctx, store, world.DefaultRegistry(), restored, log.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), tick)
	require.Equal(t, 2, restored.Len())

	got, ok := restored.Get(ship.ID())
	require.True(t, ok)
	assert.ElementsMatch(t, ship.Kinds(), got.Kinds())
	assert.Contains(t, got.Labels(), "Ship")

	pc, _ := got.Get(world.KindPosition)
	assert.Equal(t, world.Vec3{X: 10, Y: 20, Z: 30}, pc.(*world.Position).Pos)
	cc, _ := got.Get(world.KindCargo)
	assert.Equal(t, []world.CargoItem{{ItemID: "ore", Quantity: 4, UnitKg: 50}}, cc.(*world.Cargo).Items)
	oc, _ := got.Get(world.KindOwnerRef)
	assert.Equal(t, "alice", oc.(*world.OwnerRef).OwnerID)

	assert.True(t, restored.Hierarchy().Linked(engine.ID(), ship.ID(), world.RelMountedOn))
}

func TestFlushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	wb := newTestWriteback(store)
	ws, _, _ := buildWorld(t)

	wb.Collect(ws.Snapshot(1))
	wb.Flush(ctx)

	// An unchanged snapshot marks nothing dirty; replaying the flush must not
	// duplicate or disturb rows either way.
	wb.Collect(ws.Snapshot(2))
	wb.Flush(ctx)
	wb.Flush(ctx)
	assert.Zero(t, wb.Failures())

	var nodes, components, edges int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&nodes))
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM components`).Scan(&components))
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&edges))
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 7, components)
	assert.Equal(t, 1, edges)
}

func TestOnlyChangedComponentsFlush(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	wb := newTestWriteback(store)
	ws, ship, _ := buildWorld(t)

	wb.Collect(ws.Snapshot(1))
	wb.Flush(ctx)

	pc, _ := ship.Get(world.KindPosition)
	pc.(*world.Position).Pos.X = 999
	wb.Collect(ws.Snapshot(2))
	wb.Flush(ctx)

	var x float64
	require.NoError(t, store.DB().QueryRow(
		`SELECT json_extract(payload, '$.pos.x') FROM components WHERE node_id = ? AND kind = ?`,
		string(ship.ID()), world.KindPosition).Scan(&x))
	assert.Equal(t, 999.0, x)
}

func TestComponentRemovalReachesDisk(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	wb := newTestWriteback(store)
	ws, ship, _ := buildWorld(t)

	wb.Collect(ws.Snapshot(1))
	wb.Flush(ctx)

	ship.Remove(world.KindCargo)
	wb.Collect(ws.Snapshot(2))
	wb.Flush(ctx)

	var n int
	require.NoError(t, store.DB().QueryRow(
		`SELECT COUNT(*) FROM components WHERE node_id = ? AND kind = ?`,
		string(ship.ID()), world.KindCargo).Scan(&n))
	assert.Zero(t, n)
}

func TestDestroyBypassesCadence(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	wb := newTestWriteback(store)
	ws, ship, engine := buildWorld(t)

	wb.Collect(ws.Snapshot(1))
	wb.Flush(ctx)

	wb.Destroy(ctx, []world.EntityID{engine.ID()})

	restored := world.NewStore()
	_, err := Hydrate(ctx, store, world.DefaultRegistry(), restored, log.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Len())
	assert.True(t, restored.Has(ship.ID()))
	assert.False(t, restored.Has(engine.ID()))

	// The FK cascade takes the engine's component rows down with the node.
	var n int
	require.NoError(t, store.DB().QueryRow(
		`SELECT COUNT(*) FROM components WHERE node_id = ?`, string(engine.ID())).Scan(&n))
	assert.Zero(t, n)
}

func TestBumpLeaseEpochMonotonic(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.BumpLeaseEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)

	second, err := store.BumpLeaseEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second)
}

func TestLatestMarker(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, ok, err := store.LatestMarker(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	wb := newTestWriteback(store)
	ws, _, _ := buildWorld(t)
	wb.Collect(ws.Snapshot(7))
	wb.Flush(ctx)

	tick, ok, err := store.LatestMarker(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), tick)
}

func TestHydrateSkipsUnknownComponentKinds(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	wb := newTestWriteback(store)
	ws, ship, _ := buildWorld(t)

	wb.Collect(ws.Snapshot(1))
	wb.Flush(ctx)

	// A row written by a newer build with a kind this build never registered.
	_, err := store.DB().Exec(
		`INSERT INTO components (node_id, kind, payload, updated_at) VALUES (?, 'shield_array', '{}', 0)`,
		string(ship.ID()))
	require.NoError(t, err)

	restored := world.NewStore()
	_, err = Hydrate(ctx, store, world.DefaultRegistry(), restored, log.Nop())
	require.NoError(t, err)

	got, ok := restored.Get(ship.ID())
	require.True(t, ok)
	_, ok = got.Get("shield_array")
	assert.False(t, ok)
}
