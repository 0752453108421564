package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosync/astrosync/internal/core/world"
)

var identityRot = world.Rotation{W: 1}

func TestSnapshotBufferInterpolatesBetweenSamples(t *testing.T) {
	cfg := DefaultInterpolationConfig()
	buf := NewSnapshotBuffer(cfg)
	base := time.Unix(1_700_000_000, 0)

	buf.Push(1, base, world.Vec3{X: 0}, world.Vec3{}, identityRot)
	buf.Push(2, base.Add(100*time.Millisecond), world.Vec3{X: 10}, world.Vec3{}, identityRot)

	// Render target lands exactly between the two samples.
	pose, ok := buf.At(base.Add(50 * time.Millisecond).Add(cfg.Delay))
	require.True(t, ok)
	assert.InDelta(t, 5.0, pose.Pos.X, 1e-9)
}

func TestSnapshotBufferExtrapolationCapped(t *testing.T) {
	cfg := DefaultInterpolationConfig()
	buf := NewSnapshotBuffer(cfg)
	base := time.Unix(1_700_000_000, 0)

	buf.Push(1, base, world.Vec3{X: 0}, world.Vec3{X: 100}, identityRot)

	// 20 ms past the newest sample: dead reckoning along the velocity.
	pose, ok := buf.At(base.Add(20 * time.Millisecond).Add(cfg.Delay))
	require.True(t, ok)
	assert.InDelta(t, 2.0, pose.Pos.X, 1e-9)

	// Far past the limit the entity freezes instead of flying off forever.
	pose, ok = buf.At(base.Add(10 * time.Second).Add(cfg.Delay))
	require.True(t, ok)
	capped := 100 * cfg.ExtrapolationLimit.Seconds()
	assert.InDelta(t, capped, pose.Pos.X, 1e-9)
}

func TestSnapshotBufferBeforeOldestHoldsFirstSample(t *testing.T) {
	cfg := DefaultInterpolationConfig()
	buf := NewSnapshotBuffer(cfg)
	base := time.Unix(1_700_000_000, 0)

	buf.Push(5, base, world.Vec3{X: 3}, world.Vec3{}, identityRot)
	pose, ok := buf.At(base.Add(-time.Second))
	require.True(t, ok)
	assert.Equal(t, 3.0, pose.Pos.X)
}

func TestSnapshotBufferOutOfOrderInsert(t *testing.T) {
	cfg := DefaultInterpolationConfig()
	buf := NewSnapshotBuffer(cfg)
	base := time.Unix(1_700_000_000, 0)

	buf.Push(1, base, world.Vec3{X: 0}, world.Vec3{}, identityRot)
	buf.Push(3, base.Add(200*time.Millisecond), world.Vec3{X: 20}, world.Vec3{}, identityRot)
	// Tick 2 arrives late and slots in between.
	buf.Push(2, base.Add(100*time.Millisecond), world.Vec3{X: 10}, world.Vec3{}, identityRot)

	require.Equal(t, 3, buf.Len())
	pose, ok := buf.At(base.Add(100 * time.Millisecond).Add(cfg.Delay))
	require.True(t, ok)
	assert.InDelta(t, 10.0, pose.Pos.X, 1e-9)
}

func TestSnapshotBufferHistoryBounded(t *testing.T) {
	cfg := DefaultInterpolationConfig()
	cfg.MaxSamples = 4
	buf := NewSnapshotBuffer(cfg)
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 10; i++ {
		buf.Push(uint64(i), base.Add(time.Duration(i)*33*time.Millisecond), world.Vec3{X: float64(i)}, world.Vec3{}, identityRot)
	}
	assert.Equal(t, 4, buf.Len())
}

func TestNlerpTakesShortArc(t *testing.T) {
	a := world.Rotation{W: 1}
	// The same orientation with flipped sign; the midpoint must stay near a,
	// not pass through zero.
	b := world.Rotation{W: -1}
	mid := nlerpRotation(a, b, 0.5)
	assert.InDelta(t, 1.0, mid.W, 1e-9)
}

func TestBufferSetExcludesControlledEntity(t *testing.T) {
	replica := NewReplica(world.DefaultRegistry())
	bs := NewBufferSet(DefaultInterpolationConfig())
	now := time.Unix(1_700_000_000, 0)
	bs.clock = func() time.Time { return now }

	bs.Exclude("mine")
	require.NoError(t, replica.Ingest(positionDelta(t, 1, "mine", 1)))
	require.NoError(t, replica.Ingest(positionDelta(t, 1, "other", 2)))

	bs.Observe(replica, positionDelta(t, 1, "mine", 1))
	bs.Observe(replica, positionDelta(t, 1, "other", 2))

	_, ok := bs.Pose("mine", now.Add(time.Second))
	assert.False(t, ok)
	_, ok = bs.Pose("other", now.Add(time.Second))
	assert.True(t, ok)
}

func TestBufferSetDropsRemovedEntities(t *testing.T) {
	replica := NewReplica(world.DefaultRegistry())
	bs := NewBufferSet(DefaultInterpolationConfig())
	now := time.Unix(1_700_000_000, 0)
	bs.clock = func() time.Time { return now }

	require.NoError(t, replica.Ingest(positionDelta(t, 1, "e1", 1)))
	bs.Observe(replica, positionDelta(t, 1, "e1", 1))
	_, ok := bs.Pose("e1", now.Add(time.Second))
	require.True(t, ok)

	removal := positionDelta(t, 2, "e1", 0)
	removal.Entries[0].Updated = nil
	removal.Entries[0].Removed = true
	bs.Observe(replica, removal)
	_, ok = bs.Pose("e1", now.Add(time.Second))
	assert.False(t, ok)
}
