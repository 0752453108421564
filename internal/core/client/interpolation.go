package client

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/astrosync/astrosync/internal/core/sim"
	"github.com/astrosync/astrosync/internal/core/world"
)

// InterpolationConfig tunes remote-entity rendering.
type InterpolationConfig struct {
	// Delay is how far behind arrival time entities are rendered. Larger
	// values ride out more jitter at the cost of staleness.
	Delay time.Duration
	// ExtrapolationLimit caps dead reckoning past the newest sample. Beyond
	// it the entity freezes at its last extrapolated pose.
	ExtrapolationLimit time.Duration
	// MaxSamples bounds the per-entity history.
	MaxSamples int
}

func DefaultInterpolationConfig() InterpolationConfig {
	return InterpolationConfig{
		Delay:              100 * time.Millisecond,
		ExtrapolationLimit: 50 * time.Millisecond,
		MaxSamples:         32,
	}
}

// Pose is a renderable position and orientation.
type Pose struct {
	Pos world.Vec3
	Rot world.Rotation
}

type sample struct {
	tick uint64
	at   time.Time
	pos  world.Vec3
	vel  world.Vec3
	rot  world.Rotation
}

// SnapshotBuffer holds timestamped kinematic samples for one remote entity
// and renders the pose at now minus the configured delay. Between samples it
// interpolates; past the newest it dead-reckons along the last velocity for
// at most the extrapolation limit, then holds still.
type SnapshotBuffer struct {
	config  InterpolationConfig
	samples []sample
}

func NewSnapshotBuffer(config InterpolationConfig) *SnapshotBuffer {
	return &SnapshotBuffer{config: config}
}

// Push records a sample. Out-of-order ticks are inserted in place.
func (b *SnapshotBuffer) Push(tick uint64, at time.Time, pos, vel world.Vec3, rot world.Rotation) {
	s := sample{tick: tick, at: at, pos: pos, vel: vel, rot: rot}
	i := sort.Search(len(b.samples), func(i int) bool { return b.samples[i].tick >= tick })
	if i < len(b.samples) && b.samples[i].tick == tick {
		b.samples[i] = s
	} else {
		b.samples = append(b.samples, sample{})
		copy(b.samples[i+1:], b.samples[i:])
		b.samples[i] = s
	}
	if max := b.config.MaxSamples; max > 0 && len(b.samples) > max {
		b.samples = b.samples[len(b.samples)-max:]
	}
}

func (b *SnapshotBuffer) Len() int {
	return len(b.samples)
}

// At renders the pose for the given wall-clock instant.
func (b *SnapshotBuffer) At(now time.Time) (Pose, bool) {
	if len(b.samples) == 0 {
		return Pose{}, false
	}
	target := now.Add(-b.config.Delay)

	newest := b.samples[len(b.samples)-1]
	if !target.Before(newest.at) {
		// Past the buffer: extrapolate along the last velocity, capped.
		dt := target.Sub(newest.at)
		if dt > b.config.ExtrapolationLimit {
			dt = b.config.ExtrapolationLimit
		}
		return Pose{
			Pos: newest.pos.Add(newest.vel.Scale(dt.Seconds())),
			Rot: newest.rot,
		}, true
	}

	oldest := b.samples[0]
	if target.Before(oldest.at) {
		return Pose{Pos: oldest.pos, Rot: oldest.rot}, true
	}

	// Find the bracketing pair.
	i := sort.Search(len(b.samples), func(i int) bool { return !b.samples[i].at.Before(target) })
	lo, hi := b.samples[i-1], b.samples[i]
	span := hi.at.Sub(lo.at).Seconds()
	var t float64
	if span > 0 {
		t = target.Sub(lo.at).Seconds() / span
	}
	return Pose{
		Pos: lerpVec3(lo.pos, hi.pos, t),
		Rot: nlerpRotation(lo.rot, hi.rot, t),
	}, true
}

func lerpVec3(a, b world.Vec3, t float64) world.Vec3 {
	return a.Add(b.Sub(a).Scale(t))
}

func nlerpRotation(a, b world.Rotation, t float64) world.Rotation {
	// Take the short arc.
	dot := a.X*b.X + a.Y*b.Y + a.Z*b.Z + a.W*b.W
	sign := 1.0
	if dot < 0 {
		sign = -1.0
	}
	out := world.Rotation{
		X: a.X + (sign*b.X-a.X)*t,
		Y: a.Y + (sign*b.Y-a.Y)*t,
		Z: a.Z + (sign*b.Z-a.Z)*t,
		W: a.W + (sign*b.W-a.W)*t,
	}
	norm := math.Sqrt(out.X*out.X + out.Y*out.Y + out.Z*out.Z + out.W*out.W)
	if norm == 0 {
		return a
	}
	out.X /= norm
	out.Y /= norm
	out.Z /= norm
	out.W /= norm
	return out
}

// BufferSet fans delta entries out into per-entity snapshot buffers. The
// locally predicted entity is excluded so rendering never mixes the two
// timelines.
type BufferSet struct {
	config InterpolationConfig
	clock  func() time.Time

	mu      sync.Mutex
	buffers map[world.EntityID]*SnapshotBuffer
	exclude map[world.EntityID]struct{}
}

func NewBufferSet(config InterpolationConfig) *BufferSet {
	return &BufferSet{
		config:  config,
		clock:   time.Now,
		buffers: make(map[world.EntityID]*SnapshotBuffer),
		exclude: make(map[world.EntityID]struct{}),
	}
}

// Exclude removes an entity from interpolation, for the controlled entity
// whose pose comes from prediction instead.
func (s *BufferSet) Exclude(id world.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exclude[id] = struct{}{}
	delete(s.buffers, id)
}

// Observe folds a freshly ingested delta into the buffers, sampling each
// touched entity's kinematics from the replica.
func (s *BufferSet) Observe(replica *Replica, delta *sim.WorldDelta) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range delta.Entries {
		if entry.Removed {
			delete(s.buffers, entry.EntityID)
			continue
		}
		if _, skip := s.exclude[entry.EntityID]; skip {
			continue
		}
		if !touchesKinematics(entry) {
			continue
		}
		ent, ok := replica.Get(entry.EntityID)
		if !ok {
			continue
		}
		pos, vel, rot, ok := kinematicsOf(ent)
		if !ok {
			continue
		}
		buf := s.buffers[entry.EntityID]
		if buf == nil {
			buf = NewSnapshotBuffer(s.config)
			s.buffers[entry.EntityID] = buf
		}
		buf.Push(delta.Tick, now, pos, vel, rot)
	}
}

// Pose renders one entity at the given instant.
func (s *BufferSet) Pose(id world.EntityID, now time.Time) (Pose, bool) {
	s.mu.Lock()
	buf := s.buffers[id]
	s.mu.Unlock()
	if buf == nil {
		return Pose{}, false
	}
	return buf.At(now)
}

func touchesKinematics(entry sim.EntityDelta) bool {
	for kind := range entry.Added {
		if kind == world.KindPosition || kind == world.KindVelocity || kind == world.KindRotation {
			return true
		}
	}
	for kind := range entry.Updated {
		if kind == world.KindPosition || kind == world.KindVelocity || kind == world.KindRotation {
			return true
		}
	}
	return false
}

func kinematicsOf(ent *world.Entity) (pos, vel world.Vec3, rot world.Rotation, ok bool) {
	pc, has := ent.Get(world.KindPosition)
	if !has {
		return pos, vel, rot, false
	}
	pos = pc.(*world.Position).Pos
	if vc, has := ent.Get(world.KindVelocity); has {
		vel = vc.(*world.Velocity).Linear
	}
	if rc, has := ent.Get(world.KindRotation); has {
		rot = *rc.(*world.Rotation)
	}
	return pos, vel, rot, true
}
