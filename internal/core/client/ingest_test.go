package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/protocol"
	"github.com/astrosync/astrosync/internal/core/sim"
	"github.com/astrosync/astrosync/internal/core/world"
)

func encodeComponent(t *testing.T, c world.Component) json.RawMessage {
	t.Helper()
	payload, err := world.DefaultRegistry().Encode(c)
	require.NoError(t, err)
	return payload
}

func positionDelta(t *testing.T, tick uint64, id world.EntityID, x float64) *sim.WorldDelta {
	t.Helper()
	return &sim.WorldDelta{
		Tick: tick,
		Entries: []sim.EntityDelta{{
			EntityID: id,
			Updated: map[string]json.RawMessage{
				world.KindPosition: encodeComponent(t, &world.Position{Pos: world.Vec3{X: x}}),
			},
		}},
	}
}

func TestReplicaNewestTickWins(t *testing.T) {
	r := NewReplica(world.DefaultRegistry())

	require.NoError(t, r.Ingest(positionDelta(t, 5, "e1", 5)))
	// A straggler from tick 3 arrives after tick 5 on the unreliable channel.
	require.NoError(t, r.Ingest(positionDelta(t, 3, "e1", 3)))

	e, ok := r.Get("e1")
	require.True(t, ok)
	pc, _ := e.Get(world.KindPosition)
	assert.Equal(t, 5.0, pc.(*world.Position).Pos.X)
}

func TestReplicaRemovalIsTerminal(t *testing.T) {
	r := NewReplica(world.DefaultRegistry())
	require.NoError(t, r.Ingest(positionDelta(t, 5, "e1", 5)))

	require.NoError(t, r.Ingest(&sim.WorldDelta{
		Tick:    6,
		Entries: []sim.EntityDelta{{EntityID: "e1", Removed: true}},
	}))
	_, ok := r.Get("e1")
	assert.False(t, ok)
	assert.Zero(t, r.Len())

	// A straggler from before the removal must not resurrect the entity.
	require.NoError(t, r.Ingest(positionDelta(t, 4, "e1", 4)))
	_, ok = r.Get("e1")
	assert.False(t, ok)

	// A genuinely newer delta respawns it, e.g. after re-entering visibility.
	require.NoError(t, r.Ingest(positionDelta(t, 9, "e1", 9)))
	_, ok = r.Get("e1")
	assert.True(t, ok)
}

func TestReplicaRemovedComponents(t *testing.T) {
	r := NewReplica(world.DefaultRegistry())
	require.NoError(t, r.Ingest(&sim.WorldDelta{
		Tick: 1,
		Entries: []sim.EntityDelta{{
			EntityID: "e1",
			Added: map[string]json.RawMessage{
				world.KindPosition: encodeComponent(t, &world.Position{}),
				world.KindFuelTank: encodeComponent(t, &world.FuelTank{FuelKg: 10}),
			},
		}},
	}))

	require.NoError(t, r.Ingest(&sim.WorldDelta{
		Tick: 2,
		Entries: []sim.EntityDelta{{
			EntityID:          "e1",
			RemovedComponents: []string{world.KindFuelTank},
		}},
	}))

	e, _ := r.Get("e1")
	_, ok := e.Get(world.KindFuelTank)
	assert.False(t, ok)
	_, ok = e.Get(world.KindPosition)
	assert.True(t, ok)
}

func stateFrame(t *testing.T, codec *protocol.Codec, epoch uint64, delta *sim.WorldDelta) []byte {
	t.Helper()
	payload, err := json.Marshal(delta)
	require.NoError(t, err)
	frame, err := codec.Encode(&protocol.Envelope{
		ProtocolVersion: protocol.ProtocolVersion,
		Channel:         protocol.ChannelState,
		SourceID:        1,
		LeaseEpoch:      epoch,
		Tick:            delta.Tick,
		Payload:         payload,
	})
	require.NoError(t, err)
	return frame
}

func TestIngestorRoutesStateAndReturnsControl(t *testing.T) {
	codec := protocol.NewCodec()
	replica := NewReplica(world.DefaultRegistry())
	buffers := NewBufferSet(DefaultInterpolationConfig())
	ing := NewIngestor(codec, replica, buffers, log.Nop())

	env, err := ing.HandleFrame(stateFrame(t, codec, 1, positionDelta(t, 10, "e1", 7)))
	require.NoError(t, err)
	assert.Nil(t, env)
	assert.Equal(t, 1, replica.Len())

	controlFrame, err := codec.Encode(&protocol.Envelope{
		ProtocolVersion: protocol.ProtocolVersion,
		Channel:         protocol.ChannelControl,
		SourceID:        1,
		LeaseEpoch:      1,
		Payload:         json.RawMessage(`{"type":"grant_notice"}`),
	})
	require.NoError(t, err)
	env, err = ing.HandleFrame(controlFrame)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, protocol.ChannelControl, env.Channel)
}

func TestIngestorDropsStaleEpochFrames(t *testing.T) {
	codec := protocol.NewCodec()
	replica := NewReplica(world.DefaultRegistry())
	buffers := NewBufferSet(DefaultInterpolationConfig())
	ing := NewIngestor(codec, replica, buffers, log.Nop())

	_, err := ing.HandleFrame(stateFrame(t, codec, 2, positionDelta(t, 10, "e1", 10)))
	require.NoError(t, err)

	// A frame from the superseded authority carries epoch 1. It is dropped
	// without error and mutates nothing.
	env, err := ing.HandleFrame(stateFrame(t, codec, 1, positionDelta(t, 11, "e1", 999)))
	require.NoError(t, err)
	assert.Nil(t, env)

	e, _ := replica.Get("e1")
	pc, _ := e.Get(world.KindPosition)
	assert.Equal(t, 10.0, pc.(*world.Position).Pos.X)
}
