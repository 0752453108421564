package protocol

import (
	"context"
	"net"

	"github.com/google/uuid"
)

// ConnectionID represents a unique identifier for a connection
type ConnectionID string

// GenerateConnectionID generates a unique connection ID
func GenerateConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// Conn is one session's transport. Reliable frames arrive in order and never
// drop (session control, grant notices); unreliable frames (tick state) may
// drop or reorder and the envelope carries enough to cope. A transport that
// cannot distinguish the two (a single ordered socket) may deliver both
// reliably.
type Conn interface {
	ID() ConnectionID
	RemoteAddr() net.Addr

	SendReliable(frame []byte) error
	SendUnreliable(frame []byte) error

	// Receive returns the next inbound frame from any channel. Envelopes are
	// self-describing, so the caller routes on the decoded channel class.
	Receive(ctx context.Context) ([]byte, error)

	Close() error
	Done() <-chan struct{}
}

// Listener accepts session transports.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}
