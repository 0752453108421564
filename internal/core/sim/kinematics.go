package sim

import (
	"math"

	"github.com/astrosync/astrosync/internal/core/input"
	"github.com/astrosync/astrosync/internal/core/world"
)

// Kinematics is the minimal state the deterministic flight model advances.
type Kinematics struct {
	Pos        world.Vec3
	Vel        world.Vec3
	HeadingRad float64
}

// Controls is the resolved control state for one tick: throttle in [-1, 1]
// (or the brake sentinel applied internally), yaw in [-1, 1].
type Controls struct {
	Throttle float64
	Yaw      float64
	Brake    bool
}

// ControlsFromIntent resolves a raw intent snapshot into control state.
// Discrete thrust keys override the analog throttle.
func ControlsFromIntent(in input.Intent) Controls {
	c := Controls{Throttle: in.Throttle, Brake: in.Brake}
	if in.ThrustForward {
		c.Throttle = 1.0
	}
	if in.ThrustReverse {
		c.Throttle = -0.7
	}
	if in.YawLeft {
		c.Yaw = 1.0
	}
	if in.YawRight {
		c.Yaw = -1.0
	}
	if c.Throttle > 1.0 {
		c.Throttle = 1.0
	}
	if c.Throttle < -1.0 {
		c.Throttle = -1.0
	}
	return c
}

// Tuning parameterizes the flight model for one ship. Server rules derive it
// from the ship's mounted engines and mass; the client derives it from the
// same replicated components, so both sides step identical math.
type Tuning struct {
	ThrustAccelMps2 float64
	TurnRateRadS    float64
	DragPerS        float64
	BrakeAccelMps2  float64
	MaxSpeedMps     float64
}

func DefaultTuning() Tuning {
	return Tuning{
		ThrustAccelMps2: 60,
		TurnRateRadS:    1.5,
		DragPerS:        0.05,
		BrakeAccelMps2:  8,
		MaxSpeedMps:     600,
	}
}

// StepShip advances one tick of the flight model. This function is the
// determinism boundary: the server rule systems and the client predictor both
// call it with the same inputs and must get bit-identical results, so the
// operation order below is fixed and nothing here may read globals, clocks or
// random state.
func StepShip(k Kinematics, c Controls, t Tuning, dt float64) Kinematics {
	next := k

	next.HeadingRad += c.Yaw * t.TurnRateRadS * dt

	dirX := math.Cos(next.HeadingRad)
	dirY := math.Sin(next.HeadingRad)

	if c.Brake {
		speed := math.Sqrt(next.Vel.X*next.Vel.X + next.Vel.Y*next.Vel.Y + next.Vel.Z*next.Vel.Z)
		if speed > 0 {
			drop := t.BrakeAccelMps2 * dt
			if drop >= speed {
				next.Vel = world.Vec3{}
			} else {
				scale := (speed - drop) / speed
				next.Vel = next.Vel.Scale(scale)
			}
		}
	} else {
		accel := c.Throttle * t.ThrustAccelMps2
		next.Vel.X += dirX * accel * dt
		next.Vel.Y += dirY * accel * dt
	}

	dragFactor := 1.0 - t.DragPerS*dt
	if dragFactor < 0 {
		dragFactor = 0
	}
	next.Vel = next.Vel.Scale(dragFactor)

	speed := math.Sqrt(next.Vel.X*next.Vel.X + next.Vel.Y*next.Vel.Y + next.Vel.Z*next.Vel.Z)
	if t.MaxSpeedMps > 0 && speed > t.MaxSpeedMps {
		next.Vel = next.Vel.Scale(t.MaxSpeedMps / speed)
	}

	next.Pos = next.Pos.Add(next.Vel.Scale(dt))
	return next
}

// HeadingToRotation converts a flat heading into the replicated quaternion.
func HeadingToRotation(headingRad float64) world.Rotation {
	half := headingRad / 2
	return world.Rotation{X: 0, Y: 0, Z: math.Sin(half), W: math.Cos(half)}
}
