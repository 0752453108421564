package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/astrosync/astrosync/internal/core/input"
	"github.com/astrosync/astrosync/internal/core/world"
)

const dt30 = 1.0 / 30.0

func TestStepShipDeterministic(t *testing.T) {
	controls := []Controls{
		{Throttle: 1},
		{Throttle: 1, Yaw: 0.5},
		{Throttle: 0.3, Yaw: -1},
		{Brake: true},
		{Throttle: -0.7},
	}
	tuning := DefaultTuning()

	run := func() Kinematics {
		k := Kinematics{}
		for tick := 0; tick < 10; tick++ {
			k = StepShip(k, controls[tick%len(controls)], tuning, dt30)
		}
		return k
	}

	// Two replays of the same inputs must agree bit for bit, not merely
	// within a tolerance.
	assert.Equal(t, run(), run())
}

func TestStepShipThrustFollowsHeading(t *testing.T) {
	k := StepShip(Kinematics{}, Controls{Throttle: 1}, DefaultTuning(), dt30)
	assert.Greater(t, k.Vel.X, 0.0)
	assert.InDelta(t, 0, k.Vel.Y, 1e-12)
	assert.Greater(t, k.Pos.X, 0.0)
}

func TestStepShipBrakeStops(t *testing.T) {
	tuning := DefaultTuning()
	k := Kinematics{Vel: world.Vec3{X: 0.1}}
	k = StepShip(k, Controls{Brake: true}, tuning, 1.0)
	assert.Equal(t, world.Vec3{}, k.Vel)
}

func TestStepShipSpeedClamp(t *testing.T) {
	tuning := DefaultTuning()
	tuning.MaxSpeedMps = 50
	tuning.DragPerS = 0

	k := Kinematics{}
	for i := 0; i < 200; i++ {
		k = StepShip(k, Controls{Throttle: 1}, tuning, dt30)
	}
	speed := k.Vel.X // heading 0, all velocity along X
	assert.LessOrEqual(t, speed, 50.0+1e-9)
	assert.Greater(t, speed, 49.0)
}

func TestControlsFromIntent(t *testing.T) {
	c := ControlsFromIntent(input.Intent{ThrustForward: true, YawLeft: true})
	assert.Equal(t, Controls{Throttle: 1, Yaw: 1}, c)

	c = ControlsFromIntent(input.Intent{ThrustReverse: true, YawRight: true, Brake: true})
	assert.Equal(t, Controls{Throttle: -0.7, Yaw: -1, Brake: true}, c)

	// Discrete keys override the analog throttle; analog alone is clamped.
	c = ControlsFromIntent(input.Intent{Throttle: 3.5})
	assert.Equal(t, 1.0, c.Throttle)
}
