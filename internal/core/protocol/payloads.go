package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/astrosync/astrosync/internal/core/input"
	"github.com/astrosync/astrosync/internal/core/world"
)

// Control message types carried on the reliable channel.
const (
	ControlAuthHello   = "auth_hello"
	ControlAuthWelcome = "auth_welcome"
	ControlGrantNotice = "grant_notice"
	ControlGrantRevoke = "grant_revoke"
	ControlStreamSub   = "stream_subscribe"
	ControlAck         = "ack"
)

// ControlMessage wraps a typed control payload. The state and input channels
// carry bare payloads; only control multiplexes types over one stream.
type ControlMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewControlMessage marshals the payload under its type tag.
func NewControlMessage(msgType string, payload any) (*ControlMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal control %q: %w", msgType, err)
	}
	return &ControlMessage{Type: msgType, Data: data}, nil
}

// AuthHello opens a session: the bearer token from the auth collaborator and
// the requested stream class. The token's player identifier is trusted as-is;
// nothing else in the hello can substitute for it.
type AuthHello struct {
	Token  string `json:"token"`
	Stream string `json:"stream"`
}

// AuthWelcome acknowledges a successful handshake.
type AuthWelcome struct {
	PlayerID        string         `json:"player_id"`
	ControlledID    world.EntityID `json:"controlled_entity_id"`
	Tick            uint64         `json:"tick"`
	TickRate        int            `json:"tick_rate"`
	ProtocolVersion uint16         `json:"protocol_version"`
}

// IntentPacket is one tick's control snapshot on the input channel.
type IntentPacket struct {
	ClaimedEntityID world.EntityID `json:"claimed_entity_id"`
	Tick            uint64         `json:"tick"`
	Intent          input.Intent   `json:"intent"`
}

// GrantNotice announces a scan grant on the reliable channel. Delivery is a
// courtesy: expiry is enforced by clock comparison on the server regardless
// of whether this message arrives.
type GrantNotice struct {
	GrantID    string         `json:"grant_id"`
	Observer   string         `json:"observer"`
	TargetID   world.EntityID `json:"target_entity_id"`
	FieldScope string         `json:"field_scope"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// GrantRevoke announces explicit revocation.
type GrantRevoke struct {
	GrantID string `json:"grant_id"`
}

// StreamSubscribe switches the session's delivery stream.
type StreamSubscribe struct {
	Stream string `json:"stream"`
}

// Ack acknowledges the newest authoritative tick a client consumed. The
// server uses it to size reconciliation history, not for retransmission.
type Ack struct {
	Tick uint64 `json:"tick"`
}
