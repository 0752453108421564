package sim

import (
	"sort"

	"github.com/astrosync/astrosync/internal/core/world"
)

// BodyState is the per-tick authoritative kinematic state of one simulated
// body, exchanged with the physics collaborator.
type BodyState struct {
	Position   world.Vec3
	LinearVel  world.Vec3
	AngularVel world.Vec3
	Rotation   world.Rotation
	MassKg     float64
}

// Physics is the external rigid-body collaborator. The scheduler ensures a
// body per simulated entity, rule systems push state and forces in, and
// MirrorKinematics copies the authoritative result back into the world store.
type Physics interface {
	EnsureBody(id world.EntityID, state BodyState)
	RemoveBody(id world.EntityID)
	SetBodyState(id world.EntityID, state BodyState)
	ApplyForce(id world.EntityID, force world.Vec3)
	ApplyTorque(id world.EntityID, torque world.Vec3)
	Step(dt float64)
	Body(id world.EntityID) (BodyState, bool)
	Bodies() []world.EntityID
}

type integratorBody struct {
	state  BodyState
	force  world.Vec3
	torque world.Vec3
	// kinematic bodies are driven by rule systems; Step leaves them alone.
	kinematic bool
}

// Integrator is the built-in deterministic semi-implicit Euler integrator.
// It stands in for a full rigid-body engine in tests and single-process
// deployments: force accumulation, a = F/m, velocity then position.
type Integrator struct {
	bodies map[world.EntityID]*integratorBody
}

var _ Physics = (*Integrator)(nil)

func NewIntegrator() *Integrator {
	return &Integrator{bodies: make(map[world.EntityID]*integratorBody)}
}

func (p *Integrator) EnsureBody(id world.EntityID, state BodyState) {
	if _, ok := p.bodies[id]; ok {
		return
	}
	p.bodies[id] = &integratorBody{state: state}
}

func (p *Integrator) RemoveBody(id world.EntityID) {
	delete(p.bodies, id)
}

// SetBodyState overwrites a body and marks it kinematic for the current tick:
// rule systems that step their own deterministic model own the integration.
func (p *Integrator) SetBodyState(id world.EntityID, state BodyState) {
	b, ok := p.bodies[id]
	if !ok {
		b = &integratorBody{}
		p.bodies[id] = b
	}
	b.state = state
	b.kinematic = true
}

func (p *Integrator) ApplyForce(id world.EntityID, force world.Vec3) {
	if b, ok := p.bodies[id]; ok {
		b.force = b.force.Add(force)
	}
}

func (p *Integrator) ApplyTorque(id world.EntityID, torque world.Vec3) {
	if b, ok := p.bodies[id]; ok {
		b.torque = b.torque.Add(torque)
	}
}

// Step integrates force-driven bodies and clears accumulators. Iteration is
// in sorted ID order so the result is independent of map layout.
func (p *Integrator) Step(dt float64) {
	for _, id := range p.Bodies() {
		b := p.bodies[id]
		if b.kinematic {
			// Ruleset already advanced this body; consume the flag.
			b.kinematic = false
			b.force = world.Vec3{}
			b.torque = world.Vec3{}
			continue
		}
		mass := b.state.MassKg
		if mass <= 0 {
			mass = 1
		}
		accel := b.force.Scale(1 / mass)
		b.state.LinearVel = b.state.LinearVel.Add(accel.Scale(dt))
		b.state.Position = b.state.Position.Add(b.state.LinearVel.Scale(dt))
		angAccel := b.torque.Scale(1 / mass)
		b.state.AngularVel = b.state.AngularVel.Add(angAccel.Scale(dt))
		b.force = world.Vec3{}
		b.torque = world.Vec3{}
	}
}

func (p *Integrator) Body(id world.EntityID) (BodyState, bool) {
	b, ok := p.bodies[id]
	if !ok {
		return BodyState{}, false
	}
	return b.state, true
}

func (p *Integrator) Bodies() []world.EntityID {
	ids := make([]world.EntityID, 0, len(p.bodies))
	for id := range p.bodies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
