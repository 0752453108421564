package server

import (
	"fmt"

	"github.com/astrosync/astrosync/internal/core/identity"
	"github.com/astrosync/astrosync/internal/core/world"
)

// Starter corvette loadout. New players spawn with a hull carrying two
// engine mounts and one utility mount, a fueled tank and a basic scanner.
const (
	starterHullKg     = 12_000
	starterFuelKg     = 800
	starterEngineKg   = 1_400
	starterThrustN    = 900_000
	starterBurnKgS    = 0.35
	starterScanRangeM = 2_500
	starterTurnDegS   = 85
	starterHullHP     = 450
)

// bootstrapStarterShip creates a corvette for a player who owns no ship:
// the hull entity plus mounted module entities, linked through hardpoint and
// mount edges. Must run on the simulation goroutine between ticks, like any
// other store mutation.
func bootstrapStarterShip(store *world.Store, ledger *identity.Ledger, player identity.PlayerID) world.EntityID {
	h := store.Hierarchy()

	ship := store.Create()
	ship.AddLabel("Ship")
	ship.Set(&world.ShipTag{})
	ship.Set(&world.DisplayName{Name: fmt.Sprintf("Corvette %.8s", string(ship.ID()))})
	ship.Set(&world.Position{})
	ship.Set(&world.Velocity{})
	ship.Set(&world.Rotation{W: 1})
	ship.Set(&world.Mass{BaseKg: starterHullKg, TotalKg: starterHullKg})
	ship.Set(&world.HealthPool{Current: starterHullHP, Maximum: starterHullHP})
	ship.Set(&world.Cargo{})
	ship.Set(&world.Scanner{BaseRangeM: starterScanRangeM})
	ship.Set(&world.FlightComputer{Profile: "corvette", TurnRateDegS: starterTurnDegS})
	ship.Set(&world.OwnerRef{OwnerKind: world.OwnerPlayer, OwnerID: string(player)})

	mounts := []struct {
		hardpoint string
		offset    world.Vec3
		build     func(*world.Entity)
	}{
		{
			hardpoint: "engine-port",
			offset:    world.Vec3{X: -6, Y: -2},
			build: func(m *world.Entity) {
				m.AddLabel("Engine")
				m.Set(&world.Engine{ThrustN: starterThrustN, BurnRateKgS: starterBurnKgS, ThrustDir: world.Vec3{X: 1}})
				m.Set(&world.Mass{BaseKg: starterEngineKg, TotalKg: starterEngineKg})
			},
		},
		{
			hardpoint: "engine-starboard",
			offset:    world.Vec3{X: -6, Y: 2},
			build: func(m *world.Entity) {
				m.AddLabel("Engine")
				m.Set(&world.Engine{ThrustN: starterThrustN, BurnRateKgS: starterBurnKgS, ThrustDir: world.Vec3{X: 1}})
				m.Set(&world.Mass{BaseKg: starterEngineKg, TotalKg: starterEngineKg})
			},
		},
		{
			hardpoint: "utility-1",
			offset:    world.Vec3{X: 2},
			build: func(m *world.Entity) {
				m.AddLabel("FuelTank")
				m.Set(&world.FuelTank{FuelKg: starterFuelKg})
				m.Set(&world.Mass{BaseKg: starterFuelKg, TotalKg: starterFuelKg})
			},
		},
	}

	for _, spec := range mounts {
		module := store.Create()
		module.AddLabel("Module")
		module.Set(&world.ModuleTag{})
		module.Set(&world.Hardpoint{HardpointID: spec.hardpoint, OffsetM: spec.offset})
		module.Set(&world.MountedOn{ParentID: ship.ID(), HardpointID: spec.hardpoint, OffsetM: spec.offset})
		module.Set(&world.OwnerRef{OwnerKind: world.OwnerPlayer, OwnerID: string(player)})
		spec.build(module)

		// Mount edges never form cycles here, so Link cannot fail.
		_ = h.Link(module.ID(), ship.ID(), world.RelMountedOn)
		_ = h.Link(ship.ID(), module.ID(), world.RelHasChild)

		ledger.StageOwn(player, module.ID())
	}

	ledger.StageOwn(player, ship.ID())
	return ship.ID()
}
