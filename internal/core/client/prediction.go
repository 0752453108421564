package client

import (
	"math"
	"time"

	"github.com/astrosync/astrosync/internal/core/input"
	"github.com/astrosync/astrosync/internal/core/sim"
	"github.com/astrosync/astrosync/internal/core/world"
)

// PredictionConfig tunes reconciliation against authoritative corrections.
type PredictionConfig struct {
	// CorrectionThresholdM is the positional error below which the server's
	// answer is accepted silently, with no visual adjustment.
	CorrectionThresholdM float64
	// SnapThresholdM is the error above which the predictor teleports
	// instead of blending. Errors this large mean the timelines diverged,
	// usually from a server-side event the client could not predict.
	SnapThresholdM float64
	// BlendDuration is how long a sub-snap correction is smeared across the
	// rendered pose.
	BlendDuration time.Duration
	// HistorySize bounds remembered inputs and predicted states. It must
	// cover the round trip in ticks; inputs older than the ring are
	// unrecoverable and force a snap.
	HistorySize int
}

func DefaultPredictionConfig() PredictionConfig {
	return PredictionConfig{
		CorrectionThresholdM: 0.5,
		SnapThresholdM:       5.0,
		BlendDuration:        150 * time.Millisecond,
		HistorySize:          128,
	}
}

type inputRecord struct {
	tick      uint64
	intent    input.Intent
	predicted sim.Kinematics // state after applying intent at tick
}

// Predictor advances the controlled entity locally, tick by tick, with the
// same flight model the server runs. When an authoritative state arrives for
// a past tick it is compared against what was predicted for that tick;
// mismatches rewind to the server's answer and replay the inputs sent since.
type Predictor struct {
	config PredictionConfig
	tuning sim.Tuning
	dt     float64

	history []inputRecord // ring, oldest first
	state   sim.Kinematics
	tick    uint64

	visualOffset   world.Vec3
	blendRemaining time.Duration
}

// NewPredictor starts predicting from an authoritative initial state.
func NewPredictor(config PredictionConfig, tuning sim.Tuning, dt float64, tick uint64, initial sim.Kinematics) *Predictor {
	return &Predictor{
		config:  config,
		tuning:  tuning,
		dt:      dt,
		history: make([]inputRecord, 0, config.HistorySize),
		state:   initial,
		tick:    tick,
	}
}

// SetTuning replaces the flight tuning, after a loadout change replicates.
func (p *Predictor) SetTuning(t sim.Tuning) {
	p.tuning = t
}

// Tick reports the next tick the predictor will step.
func (p *Predictor) Tick() uint64 {
	return p.tick
}

// State returns the raw predicted kinematics, without visual blending.
func (p *Predictor) State() sim.Kinematics {
	return p.state
}

// Step applies one local input and advances prediction by one tick. The
// intent recorded here is the same one sent to the server for this tick.
func (p *Predictor) Step(intent input.Intent) sim.Kinematics {
	controls := sim.ControlsFromIntent(intent)
	p.state = sim.StepShip(p.state, controls, p.tuning, p.dt)
	p.history = append(p.history, inputRecord{tick: p.tick, intent: intent, predicted: p.state})
	if len(p.history) > p.config.HistorySize {
		p.history = p.history[len(p.history)-p.config.HistorySize:]
	}
	p.tick++
	return p.state
}

// Reconcile compares an authoritative state for serverTick against what was
// predicted for that tick. Acknowledged inputs are discarded; on mismatch
// the predictor rewinds to the server state and replays every unacknowledged
// input through the shared flight model.
func (p *Predictor) Reconcile(serverTick uint64, authoritative sim.Kinematics) {
	idx := -1
	for i, rec := range p.history {
		if rec.tick == serverTick {
			idx = i
			break
		}
	}
	if idx < 0 {
		if serverTick >= p.tick || len(p.history) == 0 {
			// Nothing predicted for this tick yet, or the history ring no
			// longer covers it. Adopt the server state outright.
			p.snapTo(serverTick, authoritative)
		}
		return
	}

	predicted := p.history[idx].predicted
	errM := distance(predicted.Pos, authoritative.Pos)

	// Drop acknowledged inputs either way.
	pending := append([]inputRecord(nil), p.history[idx+1:]...)
	p.history = p.history[:0]

	if errM <= p.config.CorrectionThresholdM {
		p.history = append(p.history, pending...)
		return
	}

	renderedBefore := p.state.Pos.Add(p.visualOffset)

	// Rewind and replay.
	state := authoritative
	for i := range pending {
		controls := sim.ControlsFromIntent(pending[i].intent)
		state = sim.StepShip(state, controls, p.tuning, p.dt)
		pending[i].predicted = state
	}
	p.state = state
	p.history = append(p.history, pending...)

	if errM > p.config.SnapThresholdM {
		p.visualOffset = world.Vec3{}
		p.blendRemaining = 0
		return
	}

	// Smear the correction: keep rendering from the old pose and decay the
	// offset to zero over the blend window.
	p.visualOffset = renderedBefore.Sub(p.state.Pos)
	p.blendRemaining = p.config.BlendDuration
}

func (p *Predictor) snapTo(serverTick uint64, authoritative sim.Kinematics) {
	p.state = authoritative
	p.tick = serverTick + 1
	p.history = p.history[:0]
	p.visualOffset = world.Vec3{}
	p.blendRemaining = 0
}

// Advance decays the visual correction offset by elapsed render time.
func (p *Predictor) Advance(elapsed time.Duration) {
	if p.blendRemaining <= 0 {
		return
	}
	if elapsed >= p.blendRemaining {
		p.blendRemaining = 0
		p.visualOffset = world.Vec3{}
		return
	}
	frac := 1.0 - float64(elapsed)/float64(p.blendRemaining)
	p.blendRemaining -= elapsed
	p.visualOffset = p.visualOffset.Scale(frac)
}

// RenderPose returns the pose to draw: predicted state plus any decaying
// correction offset.
func (p *Predictor) RenderPose() Pose {
	return Pose{
		Pos: p.state.Pos.Add(p.visualOffset),
		Rot: sim.HeadingToRotation(p.state.HeadingRad),
	}
}

func distance(a, b world.Vec3) float64 {
	d := a.Sub(b)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}
