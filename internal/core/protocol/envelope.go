package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// ProtocolVersion is bumped on any wire-incompatible change. Old and new
// binaries detect the mismatch instead of silently corrupting state.
const ProtocolVersion uint16 = 3

// ChannelClass separates the session's channels: ordered control traffic,
// tick-indexed state, and client input.
type ChannelClass uint8

const (
	ChannelControl ChannelClass = iota
	ChannelState
	ChannelInput
)

func (c ChannelClass) String() string {
	switch c {
	case ChannelControl:
		return "control"
	case ChannelState:
		return "state"
	case ChannelInput:
		return "input"
	default:
		return "unknown"
	}
}

// Envelope is the versioned, tick-stamped wire frame shared by every channel.
// Each envelope is self-describing: a receiver on the unreliable state channel
// can order by Tick and deduplicate by Seq without any channel-level ordering.
type Envelope struct {
	ProtocolVersion uint16          `json:"protocol_version"`
	Channel         ChannelClass    `json:"channel_class"`
	SourceID        int32           `json:"source_id"`
	LeaseEpoch      uint64          `json:"lease_epoch"`
	Seq             uint64          `json:"sequence"`
	Tick            uint64          `json:"tick"`
	Payload         json.RawMessage `json:"payload"`
}

const (
	flagPlain      byte = 0
	flagCompressed byte = 1
)

// Codec encodes envelopes to self-contained frames. One uniform encoding
// (JSON) carries the envelope and every payload end to end; component
// payloads inside a state delta are the same JSON the graph store persists,
// so there is no secondary encoding nested inside the primary one. Frames
// above CompressThreshold are lz4-compressed, flagged by the leading byte.
type Codec struct {
	// CompressThreshold of zero disables compression.
	CompressThreshold int
	// MaxFrameSize guards decode against hostile frames. Zero means no limit.
	MaxFrameSize int
}

func NewCodec() *Codec {
	return &Codec{
		CompressThreshold: 1024,
		MaxFrameSize:      8 << 20,
	}
}

// Encode frames an envelope: flag byte, then plain or lz4-framed JSON.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if c.CompressThreshold <= 0 || len(body) < c.CompressThreshold {
		return append([]byte{flagPlain}, body...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(flagCompressed)
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("compress envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a frame and validates the protocol version.
func (c *Codec) Decode(frame []byte) (*Envelope, error) {
	if len(frame) < 2 {
		return nil, ErrTruncated
	}
	if c.MaxFrameSize > 0 && len(frame) > c.MaxFrameSize {
		return nil, ErrPayloadTooLarge
	}

	body := frame[1:]
	if frame[0] == flagCompressed {
		zr := lz4.NewReader(bytes.NewReader(body))
		limit := int64(-1)
		if c.MaxFrameSize > 0 {
			limit = int64(c.MaxFrameSize)
		}
		var r io.Reader = zr
		if limit > 0 {
			r = io.LimitReader(zr, limit+1)
		}
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("decompress envelope: %w", err)
		}
		if limit > 0 && int64(len(decompressed)) > limit {
			return nil, ErrPayloadTooLarge
		}
		body = decompressed
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ProtocolVersion != ProtocolVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrProtocolVersion, env.ProtocolVersion, ProtocolVersion)
	}
	if env.Channel > ChannelInput {
		return nil, ErrChannelClass
	}
	return &env, nil
}

// EpochGate rejects envelopes from superseded authorities. The lease epoch is
// monotonic per source; the gate remembers the newest epoch seen per source
// and silently discards anything older.
type EpochGate struct {
	mu     sync.Mutex
	newest map[int32]uint64
}

func NewEpochGate() *EpochGate {
	return &EpochGate{newest: make(map[int32]uint64)}
}

// Admit checks the envelope's epoch. A stale epoch returns ErrStaleEpoch; a
// newer epoch advances the gate.
func (g *EpochGate) Admit(env *Envelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	newest, seen := g.newest[env.SourceID]
	if seen && env.LeaseEpoch < newest {
		return ErrStaleEpoch
	}
	g.newest[env.SourceID] = env.LeaseEpoch
	return nil
}
