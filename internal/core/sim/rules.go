package sim

import (
	"math"
	"time"

	"github.com/astrosync/astrosync/internal/core/input"
	"github.com/astrosync/astrosync/internal/core/world"
)

// TickContext carries everything a rule may touch during one tick. The store
// reference is the single-writer handle owned by the tick loop; rules never
// retain it past the call.
type TickContext struct {
	Tick    uint64
	DT      float64
	Now     time.Time
	Store   *world.Store
	Intents map[world.EntityID]input.Intent
	Physics Physics
}

// Rule is one deterministic gameplay system, evaluated per entity each tick.
// A panic inside Apply is isolated by the scheduler: logged, skipped, and
// never allowed to abort the tick for other entities.
type Rule interface {
	Name() string
	Apply(ctx *TickContext, e *world.Entity) error
}

// MassRule keeps the mass aggregate honest: cargo mass from item stacks,
// module mass from mounted entities, total as the sum physics sees.
type MassRule struct{}

func NewMassRule() *MassRule { return &MassRule{} }

func (r *MassRule) Name() string { return "mass_aggregate" }

func (r *MassRule) Apply(ctx *TickContext, e *world.Entity) error {
	c, ok := e.Get(world.KindMass)
	if !ok {
		return nil
	}
	mass := c.(*world.Mass)

	cargoKg := 0.0
	if cc, ok := e.Get(world.KindCargo); ok {
		cargo := cc.(*world.Cargo)
		for _, item := range cargo.Items {
			cargoKg += float64(item.Quantity) * item.UnitKg
		}
		cargo.SummaryKg = cargoKg
	}

	moduleKg := 0.0
	for _, modID := range ctx.Store.Hierarchy().Sources(e.ID(), world.RelMountedOn) {
		mod, ok := ctx.Store.Get(modID)
		if !ok {
			continue
		}
		if mc, ok := mod.Get(world.KindMass); ok {
			moduleKg += mc.(*world.Mass).BaseKg
		}
	}

	mass.CargoKg = cargoKg
	mass.ModuleKg = moduleKg
	mass.TotalKg = mass.BaseKg + cargoKg + moduleKg
	return nil
}

// FlightRule routes intent through the flight computer, gates thrust on
// mounted engines and fuel, and advances the shared deterministic flight
// model. The stepped body is written back to the physics collaborator as
// kinematic state for this tick.
type FlightRule struct {
	baseline Tuning
}

func NewFlightRule() *FlightRule {
	return &FlightRule{baseline: DefaultTuning()}
}

func (r *FlightRule) Name() string { return "flight_control" }

func (r *FlightRule) Apply(ctx *TickContext, e *world.Entity) error {
	fcComp, ok := e.Get(world.KindFlightComputer)
	if !ok {
		return nil
	}
	fc := fcComp.(*world.FlightComputer)

	var controls Controls
	if intent, ok := ctx.Intents[e.ID()]; ok {
		controls = ControlsFromIntent(intent)
		fc.Throttle = controls.Throttle
		fc.YawInput = controls.Yaw
	} else {
		// No packet this tick: hold the last control state. The next intent
		// snapshot fully replaces it.
		controls = Controls{Throttle: fc.Throttle, Yaw: fc.YawInput}
	}

	var tank *world.FuelTank
	if tc, ok := e.Get(world.KindFuelTank); ok {
		tank = tc.(*world.FuelTank)
	}

	totalThrustN := 0.0
	totalBurnKgS := 0.0
	for _, modID := range ctx.Store.Hierarchy().Sources(e.ID(), world.RelMountedOn) {
		mod, ok := ctx.Store.Get(modID)
		if !ok {
			continue
		}
		if ec, ok := mod.Get(world.KindEngine); ok {
			engine := ec.(*world.Engine)
			totalThrustN += engine.ThrustN
			totalBurnKgS += engine.BurnRateKgS
		}
		// Fuel may live on the hull or on a mounted tank module. Sources is
		// sorted, so the drawn tank is deterministic.
		if tank == nil {
			if tc, ok := mod.Get(world.KindFuelTank); ok {
				tank = tc.(*world.FuelTank)
			}
		}
	}

	// Thrust capability is component presence: no mounted engine, no thrust.
	if totalThrustN == 0 {
		controls.Throttle = 0
	}
	burnKg := totalBurnKgS * math.Abs(controls.Throttle) * ctx.DT
	if controls.Throttle != 0 {
		if tank == nil || tank.FuelKg < burnKg {
			// Fuel gate: running dry cuts thrust, it never goes negative.
			controls.Throttle = 0
			burnKg = 0
		}
	}

	massKg := 1.0
	if mc, ok := e.Get(world.KindMass); ok {
		if total := mc.(*world.Mass).TotalKg; total > 0 {
			massKg = total
		}
	}

	tuning := r.baseline
	if totalThrustN > 0 {
		tuning.ThrustAccelMps2 = totalThrustN / massKg
	}
	if fc.TurnRateDegS > 0 {
		tuning.TurnRateRadS = fc.TurnRateDegS * math.Pi / 180
	}

	body, ok := ctx.Physics.Body(e.ID())
	if !ok {
		return nil
	}
	k := Kinematics{Pos: body.Position, Vel: body.LinearVel, HeadingRad: fc.HeadingRad}
	next := StepShip(k, controls, tuning, ctx.DT)

	fc.HeadingRad = next.HeadingRad
	if tank != nil && burnKg > 0 {
		tank.FuelKg -= burnKg
	}

	body.Position = next.Pos
	body.LinearVel = next.Vel
	body.Rotation = HeadingToRotation(next.HeadingRad)
	ctx.Physics.SetBodyState(e.ID(), body)
	return nil
}

// ScannerRangeFor computes the effective scan radius of an entity: its own
// scanner base range, plus mounted scanner modules, modified by any range
// buff. Entities without a scanner see only their own ships.
func ScannerRangeFor(store *world.Store, id world.EntityID) float64 {
	e, ok := store.Get(id)
	if !ok {
		return 0
	}
	base := 0.0
	if sc, ok := e.Get(world.KindScanner); ok {
		base = sc.(*world.Scanner).BaseRangeM
	}
	for _, modID := range store.Hierarchy().Sources(id, world.RelMountedOn) {
		mod, ok := store.Get(modID)
		if !ok {
			continue
		}
		if sc, ok := mod.Get(world.KindScanner); ok {
			base += sc.(*world.Scanner).BaseRangeM
		}
	}
	if bc, ok := e.Get(world.KindScannerBuff); ok {
		buff := bc.(*world.ScannerRangeBuff)
		mult := buff.Multiplier
		if mult <= 0 {
			mult = 1
		}
		base = base*mult + buff.FlatBonusM
	}
	return base
}
