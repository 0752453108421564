package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosync/astrosync/internal/core/input"
	"github.com/astrosync/astrosync/internal/core/sim"
	"github.com/astrosync/astrosync/internal/core/world"
)

const predDT = 1.0 / 30.0

func newPredictor() *Predictor {
	return NewPredictor(DefaultPredictionConfig(), sim.DefaultTuning(), predDT, 0, sim.Kinematics{})
}

func TestPredictorMatchesServerModel(t *testing.T) {
	p := newPredictor()
	intent := input.Intent{ThrustForward: true}

	var server sim.Kinematics
	for i := 0; i < 5; i++ {
		p.Step(intent)
		server = sim.StepShip(server, sim.ControlsFromIntent(intent), sim.DefaultTuning(), predDT)
	}

	// Same model, same inputs: prediction and authority agree bit for bit.
	assert.Equal(t, server, p.State())
	assert.Equal(t, uint64(5), p.Tick())
}

func TestReconcileAcceptsSmallError(t *testing.T) {
	p := newPredictor()
	intent := input.Intent{ThrustForward: true}
	for i := 0; i < 6; i++ {
		p.Step(intent)
	}
	stateBefore := p.State()

	// The server answers for tick 2 with a position 10 cm off, inside the
	// correction threshold. Prediction stands untouched.
	var auth sim.Kinematics
	for i := 0; i < 3; i++ {
		auth = sim.StepShip(auth, sim.ControlsFromIntent(intent), sim.DefaultTuning(), predDT)
	}
	auth.Pos.Y += 0.1
	p.Reconcile(2, auth)

	assert.Equal(t, stateBefore, p.State())
	assert.Equal(t, world.Vec3{}, p.RenderPose().Pos.Sub(p.State().Pos))
}

func TestReconcileReplaysPendingInputs(t *testing.T) {
	p := newPredictor()
	intent := input.Intent{ThrustForward: true}
	for i := 0; i < 6; i++ {
		p.Step(intent)
	}

	// Authoritative tick 2 disagrees by 2 m: over the correction threshold,
	// under the snap threshold.
	var acked sim.Kinematics
	for i := 0; i < 3; i++ {
		acked = sim.StepShip(acked, sim.ControlsFromIntent(intent), sim.DefaultTuning(), predDT)
	}
	auth := acked
	auth.Pos.Y += 2
	p.Reconcile(2, auth)

	// The new state is the server's answer with the three pending inputs
	// replayed through the same flight model.
	want := auth
	for i := 0; i < 3; i++ {
		want = sim.StepShip(want, sim.ControlsFromIntent(intent), sim.DefaultTuning(), predDT)
	}
	assert.Equal(t, want, p.State())

	// The correction is smeared: the rendered pose starts where it was and
	// decays onto the corrected state.
	offset := p.RenderPose().Pos.Sub(p.State().Pos)
	assert.InDelta(t, -2.0, offset.Y, 1e-9)

	p.Advance(DefaultPredictionConfig().BlendDuration)
	assert.Equal(t, p.State().Pos, p.RenderPose().Pos)
}

func TestReconcileHardSnapSkipsBlend(t *testing.T) {
	p := newPredictor()
	intent := input.Intent{ThrustForward: true}
	for i := 0; i < 6; i++ {
		p.Step(intent)
	}

	var acked sim.Kinematics
	for i := 0; i < 3; i++ {
		acked = sim.StepShip(acked, sim.ControlsFromIntent(intent), sim.DefaultTuning(), predDT)
	}
	auth := acked
	auth.Pos.Y += 100 // way past the snap threshold
	p.Reconcile(2, auth)

	// Teleport: no visual offset survives a divergence this large.
	assert.Equal(t, p.State().Pos, p.RenderPose().Pos)
	assert.InDelta(t, 100.0, p.State().Pos.Y, 1.0)
}

func TestReconcileUnknownFutureTickSnaps(t *testing.T) {
	p := newPredictor()
	p.Step(input.Intent{ThrustForward: true})

	auth := sim.Kinematics{Pos: world.Vec3{X: 50}}
	p.Reconcile(10, auth)

	assert.Equal(t, auth, p.State())
	assert.Equal(t, uint64(11), p.Tick())
}

func TestReconcileOldTickOutsideHistoryIgnored(t *testing.T) {
	cfg := DefaultPredictionConfig()
	cfg.HistorySize = 4
	p := NewPredictor(cfg, sim.DefaultTuning(), predDT, 0, sim.Kinematics{})
	for i := 0; i < 10; i++ {
		p.Step(input.Intent{ThrustForward: true})
	}
	stateBefore := p.State()

	// Tick 1 scrolled out of the ring but newer predictions exist; a rewind
	// that far back would discard good history, so the answer is ignored.
	p.Reconcile(1, sim.Kinematics{Pos: world.Vec3{X: -100}})
	assert.Equal(t, stateBefore, p.State())
}

func TestAdvanceDecaysOffsetProgressively(t *testing.T) {
	p := newPredictor()
	intent := input.Intent{ThrustForward: true}
	for i := 0; i < 6; i++ {
		p.Step(intent)
	}
	var acked sim.Kinematics
	for i := 0; i < 3; i++ {
		acked = sim.StepShip(acked, sim.ControlsFromIntent(intent), sim.DefaultTuning(), predDT)
	}
	auth := acked
	auth.Pos.Y += 2
	p.Reconcile(2, auth)

	full := p.RenderPose().Pos.Sub(p.State().Pos)
	require.NotEqual(t, world.Vec3{}, full)

	p.Advance(DefaultPredictionConfig().BlendDuration / 2)
	half := p.RenderPose().Pos.Sub(p.State().Pos)
	assert.Less(t, mag(half), mag(full))
	assert.Greater(t, mag(half), 0.0)
}

func mag(v world.Vec3) float64 {
	return distance(v, world.Vec3{})
}
