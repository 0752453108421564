package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astrosync/astrosync/internal/core/identity"
	"github.com/astrosync/astrosync/internal/core/input"
	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/protocol"
	"github.com/astrosync/astrosync/internal/core/visibility"
	"github.com/astrosync/astrosync/internal/core/world"
)

// Session represents one authenticated client session
type Session struct {
	ID         input.SessionID
	Player     identity.PlayerID
	Connection protocol.Conn
	Controlled world.EntityID

	// View is the per-session visibility memory. Guarded by viewMu: the
	// fan-out mutates it every tick, and a stream switch resets it from the
	// read goroutine.
	View   *visibility.SessionView
	viewMu sync.Mutex

	stream   int32 // atomic visibility.StreamClass
	lastAck  uint64
	lastSeen int64 // atomic unix timestamp
	active   int32 // atomic bool
	seq      uint64

	// Reliable frames go through a bounded queue and a single writer
	// goroutine so a slow client never blocks the fan-out.
	sendQueue chan []byte
	sendOnce  sync.Once

	ConnectedAt time.Time
	logger      log.Log
}

func newSession(conn protocol.Conn, player identity.PlayerID, controlled world.EntityID, queueSize int, logger log.Log) *Session {
	return &Session{
		ID:          input.SessionID(conn.ID()),
		Player:      player,
		Connection:  conn,
		Controlled:  controlled,
		View:        visibility.NewSessionView(),
		active:      1,
		sendQueue:   make(chan []byte, queueSize),
		ConnectedAt: time.Now(),
		lastSeen:    time.Now().Unix(),
		logger: logger.With(
			log.String("session_id", string(conn.ID())),
			log.String("player_id", string(player))),
	}
}

// Stream returns the session's delivery stream class.
func (s *Session) Stream() visibility.StreamClass {
	return visibility.StreamClass(atomic.LoadInt32(&s.stream))
}

// SetStream switches the delivery stream. Callers reset the session view
// alongside so the new stream starts from full entries.
func (s *Session) SetStream(stream visibility.StreamClass) {
	atomic.StoreInt32(&s.stream, int32(stream))
}

// WithView runs fn with exclusive access to the session's visibility memory.
func (s *Session) WithView(fn func(*visibility.SessionView)) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	fn(s.View)
}

// Active reports whether the session still accepts work.
func (s *Session) Active() bool {
	return atomic.LoadInt32(&s.active) == 1
}

// Deactivate marks the session dead. Idempotent.
func (s *Session) Deactivate() {
	atomic.StoreInt32(&s.active, 0)
}

// Touch refreshes the liveness timestamp.
func (s *Session) Touch() {
	atomic.StoreInt64(&s.lastSeen, time.Now().Unix())
}

// LastSeen returns the unix timestamp of the last inbound frame.
func (s *Session) LastSeen() int64 {
	return atomic.LoadInt64(&s.lastSeen)
}

// Ack records the newest tick the client reports having consumed.
func (s *Session) Ack(tick uint64) {
	for {
		cur := atomic.LoadUint64(&s.lastAck)
		if tick <= cur || atomic.CompareAndSwapUint64(&s.lastAck, cur, tick) {
			return
		}
	}
}

// LastAck returns the newest acknowledged tick.
func (s *Session) LastAck() uint64 {
	return atomic.LoadUint64(&s.lastAck)
}

func (s *Session) nextSeq() uint64 {
	return atomic.AddUint64(&s.seq, 1)
}

// EnqueueReliable queues a frame for the control stream. A full queue drops
// the session: reliable delivery with unbounded buffering is worse than a
// reconnect.
func (s *Session) EnqueueReliable(frame []byte) error {
	if !s.Active() {
		return protocol.ErrConnectionClosed
	}
	select {
	case s.sendQueue <- frame:
		return nil
	default:
		s.logger.Warn("send queue full, dropping session")
		s.Deactivate()
		return protocol.ErrSendQueueFull
	}
}

// SendControl marshals and queues a typed control message inside an envelope.
func (s *Session) SendControl(codec *protocol.Codec, sourceID int32, epoch, tick uint64, msgType string, payload any) error {
	msg, err := protocol.NewControlMessage(msgType, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	frame, err := codec.Encode(&protocol.Envelope{
		ProtocolVersion: protocol.ProtocolVersion,
		Channel:         protocol.ChannelControl,
		SourceID:        sourceID,
		LeaseEpoch:      epoch,
		Seq:             s.nextSeq(),
		Tick:            tick,
		Payload:         body,
	})
	if err != nil {
		return err
	}
	return s.EnqueueReliable(frame)
}

// SendState ships an already encoded state frame on the unreliable channel.
// Loss is acceptable; failure to send is not a session error.
func (s *Session) SendState(frame []byte) {
	if !s.Active() {
		return
	}
	if err := s.Connection.SendUnreliable(frame); err != nil {
		s.logger.Debug("state frame send failed", log.Error(err))
	}
}

// runSendPump drains the reliable queue onto the control stream.
func (s *Session) runSendPump(ctx context.Context) {
	for {
		select {
		case frame := <-s.sendQueue:
			if err := s.Connection.SendReliable(frame); err != nil {
				s.logger.Debug("reliable send failed", log.Error(err))
				s.Deactivate()
				return
			}
		case <-ctx.Done():
			return
		case <-s.Connection.Done():
			return
		}
	}
}
