package protocol

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec()
	env := &Envelope{
		ProtocolVersion: ProtocolVersion,
		Channel:         ChannelState,
		SourceID:        7,
		LeaseEpoch:      3,
		Seq:             42,
		Tick:            1000,
		Payload:         json.RawMessage(`{"hello":"world"}`),
	}

	frame, err := codec.Encode(env)
	require.NoError(t, err)

	got, err := codec.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestCodecCompressesAboveThreshold(t *testing.T) {
	codec := NewCodec()
	small := &Envelope{ProtocolVersion: ProtocolVersion, Payload: json.RawMessage(`{}`)}
	frame, err := codec.Encode(small)
	require.NoError(t, err)
	assert.Equal(t, byte(0), frame[0])

	payload, err := json.Marshal(map[string]string{"blob": string(bytes.Repeat([]byte("a"), 4096))})
	require.NoError(t, err)
	big := &Envelope{ProtocolVersion: ProtocolVersion, Payload: payload}
	frame, err = codec.Encode(big)
	require.NoError(t, err)
	assert.Equal(t, byte(1), frame[0])
	assert.Less(t, len(frame), len(payload))

	got, err := codec.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, big.Payload, got.Payload)
}

func TestCodecRejectsVersionMismatch(t *testing.T) {
	codec := NewCodec()
	env := &Envelope{ProtocolVersion: ProtocolVersion + 1, Payload: json.RawMessage(`{}`)}
	frame, err := codec.Encode(env)
	require.NoError(t, err)

	_, err = codec.Decode(frame)
	assert.ErrorIs(t, err, ErrProtocolVersion)
}

func TestCodecRejectsBadChannelClass(t *testing.T) {
	codec := NewCodec()
	env := &Envelope{ProtocolVersion: ProtocolVersion, Channel: ChannelInput + 1, Payload: json.RawMessage(`{}`)}
	frame, err := codec.Encode(env)
	require.NoError(t, err)

	_, err = codec.Decode(frame)
	assert.ErrorIs(t, err, ErrChannelClass)
}

func TestCodecRejectsTruncatedAndOversized(t *testing.T) {
	codec := NewCodec()
	_, err := codec.Decode([]byte{0})
	assert.ErrorIs(t, err, ErrTruncated)

	codec.MaxFrameSize = 16
	_, err = codec.Decode(bytes.Repeat([]byte("x"), 64))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestEpochGateRejectsStale(t *testing.T) {
	gate := NewEpochGate()

	require.NoError(t, gate.Admit(&Envelope{SourceID: 1, LeaseEpoch: 5}))
	// Equal epoch is the same live authority, not a stale one.
	require.NoError(t, gate.Admit(&Envelope{SourceID: 1, LeaseEpoch: 5}))
	require.NoError(t, gate.Admit(&Envelope{SourceID: 1, LeaseEpoch: 6}))

	err := gate.Admit(&Envelope{SourceID: 1, LeaseEpoch: 5})
	assert.ErrorIs(t, err, ErrStaleEpoch)

	// Epochs are tracked per source.
	require.NoError(t, gate.Admit(&Envelope{SourceID: 2, LeaseEpoch: 1}))
}
