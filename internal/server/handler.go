package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/astrosync/astrosync/internal/core/identity"
	"github.com/astrosync/astrosync/internal/core/input"
	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/protocol"
	"github.com/astrosync/astrosync/internal/core/visibility"
	"github.com/astrosync/astrosync/internal/core/world"
)

// acceptLoop accepts connections from one listener until the context ends.
func (s *Server) acceptLoop(ctx context.Context, listener protocol.Listener) {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to accept connection", log.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if int(atomic.LoadInt64(&s.sessionCount)) >= s.config.MaxClients {
			s.logger.Warn("Maximum clients reached, rejecting connection",
				log.String("remote_addr", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection runs the handshake, then the session's read loop. The
// goroutine owns the connection for its whole life.
func (s *Server) handleConnection(ctx context.Context, conn protocol.Conn) {
	sess, err := s.handshake(ctx, conn)
	if err != nil {
		s.logger.Warn("handshake failed",
			log.String("remote_addr", conn.RemoteAddr().String()),
			log.Error(err))
		_ = conn.Close()
		return
	}

	s.sessions.Store(sess.ID, sess)
	atomic.AddInt64(&s.sessionCount, 1)
	sess.logger.Info("Session established",
		log.String("controlled_entity", string(sess.Controlled)),
		log.Int64("total_sessions", atomic.LoadInt64(&s.sessionCount)))

	go sess.runSendPump(ctx)

	s.readLoop(ctx, sess)

	// Disconnect: the session dies but the entity keeps simulating under
	// the player's ownership. Grants held by the observer are released.
	sess.Deactivate()
	s.sessions.Delete(sess.ID)
	atomic.AddInt64(&s.sessionCount, -1)
	s.router.Unbind(sess.ID)
	s.grants.ReleaseObserver(sess.Player)
	_ = conn.Close()
	sess.logger.Info("Session closed",
		log.Int64("total_sessions", atomic.LoadInt64(&s.sessionCount)))
}

// handshake expects an auth hello as the first control frame, resolves the
// player's controlled ship (bootstrapping a starter ship for new accounts)
// and answers with a welcome.
func (s *Server) handshake(ctx context.Context, conn protocol.Conn) (*Session, error) {
	handshakeCtx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout.Std())
	defer cancel()

	frame, err := conn.Receive(handshakeCtx)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeTimeout, err.Error())
	}
	env, err := s.codec.Decode(frame)
	if err != nil {
		return nil, err
	}
	if env.Channel != protocol.ChannelControl {
		return nil, ErrHandshakeRequired
	}
	var msg protocol.ControlMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return nil, errors.Wrap(err, "malformed control message")
	}
	if msg.Type != protocol.ControlAuthHello {
		return nil, ErrHandshakeRequired
	}
	var hello protocol.AuthHello
	if err := json.Unmarshal(msg.Data, &hello); err != nil {
		return nil, errors.Wrap(err, "malformed auth hello")
	}

	player, err := playerFromToken(hello.Token)
	if err != nil {
		return nil, err
	}

	controlled, err := s.resolveControlled(handshakeCtx, player)
	if err != nil {
		return nil, err
	}

	sess := newSession(conn, player, controlled, s.config.SendQueueSize, s.logger)
	sess.SetStream(parseStream(hello.Stream))
	s.router.Bind(sess.ID, controlled)

	welcome := protocol.AuthWelcome{
		PlayerID:        string(player),
		ControlledID:    controlled,
		Tick:            s.scheduler.Tick(),
		TickRate:        s.config.TickRate,
		ProtocolVersion: protocol.ProtocolVersion,
	}
	if err := sess.SendControl(s.codec, s.config.SourceID, s.leaseEpoch, s.scheduler.Tick(), protocol.ControlAuthWelcome, welcome); err != nil {
		return nil, err
	}
	return sess, nil
}

// playerFromToken extracts the durable player identity from the bearer
// token. The auth collaborator signs tokens of the form "player:<uuid>";
// the identity inside is trusted as-is and nothing client-supplied can
// substitute for it.
func playerFromToken(token string) (identity.PlayerID, error) {
	if !strings.HasPrefix(token, "player:") {
		return "", ErrInvalidToken
	}
	raw := strings.TrimPrefix(token, "player:")
	if raw == "" {
		return "", ErrInvalidToken
	}
	return identity.PlayerID(raw), nil
}

// resolveControlled finds the player's ship, creating a starter corvette on
// the simulation goroutine for accounts that own none.
func (s *Server) resolveControlled(ctx context.Context, player identity.PlayerID) (world.EntityID, error) {
	var controlled world.EntityID
	err := s.enqueueBoundary(ctx, func(time.Time) {
		view := s.ledger.Snapshot()
		for id := range view.OwnedBy(player) {
			if e, ok := s.store.Get(id); ok && e.Has(world.KindShipTag) {
				controlled = id
				return
			}
		}
		controlled = bootstrapStarterShip(s.store, s.ledger, player)
		s.ledger.ApplyStaged()
	})
	if err != nil {
		return "", err
	}
	return controlled, nil
}

// readLoop consumes inbound frames until the connection dies.
func (s *Server) readLoop(ctx context.Context, sess *Session) {
	for sess.Active() {
		frame, err := sess.Connection.Receive(ctx)
		if err != nil {
			if sess.Active() && !errors.Is(err, protocol.ErrConnectionClosed) && ctx.Err() == nil {
				sess.logger.Debug("receive failed", log.Error(err))
			}
			return
		}
		sess.Touch()
		env, err := s.codec.Decode(frame)
		if err != nil {
			sess.logger.Debug("bad frame dropped", log.Error(err))
			continue
		}
		switch env.Channel {
		case protocol.ChannelInput:
			s.handleIntent(sess, env)
		case protocol.ChannelControl:
			s.handleControl(sess, env)
		default:
			sess.logger.Debug("unexpected channel from client",
				log.String("channel", env.Channel.String()))
		}
	}
}

// handleIntent routes one input packet. Routing errors are per-packet: the
// packet is dropped, the session lives on.
func (s *Server) handleIntent(sess *Session, env *protocol.Envelope) {
	var pkt protocol.IntentPacket
	if err := json.Unmarshal(env.Payload, &pkt); err != nil {
		sess.logger.Debug("malformed intent packet", log.Error(err))
		return
	}
	err := s.router.Submit(sess.ID, pkt.ClaimedEntityID, pkt.Tick, pkt.Intent)
	if err != nil && errors.Is(err, input.ErrIdentityMismatch) {
		sess.logger.Warn("intent for foreign entity rejected",
			log.String("claimed", string(pkt.ClaimedEntityID)))
	}
}

func (s *Server) handleControl(sess *Session, env *protocol.Envelope) {
	var msg protocol.ControlMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		sess.logger.Debug("malformed control message", log.Error(err))
		return
	}
	switch msg.Type {
	case protocol.ControlStreamSub:
		var sub protocol.StreamSubscribe
		if err := json.Unmarshal(msg.Data, &sub); err != nil {
			sess.logger.Debug("malformed stream subscribe", log.Error(err))
			return
		}
		stream := parseStream(sub.Stream)
		if stream != sess.Stream() {
			sess.SetStream(stream)
			// Fresh stream starts from full entries for everything visible.
			sess.WithView(func(view *visibility.SessionView) { view.Reset() })
			sess.logger.Info("stream switched", log.String("stream", sub.Stream))
		}
	case protocol.ControlAck:
		var ack protocol.Ack
		if err := json.Unmarshal(msg.Data, &ack); err != nil {
			return
		}
		sess.Ack(ack.Tick)
	default:
		sess.logger.Debug("unknown control type", log.String("type", msg.Type))
	}
}

func parseStream(raw string) visibility.StreamClass {
	if raw == "strategic" {
		return visibility.StreamStrategic
	}
	return visibility.StreamFocus
}
