package quic

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/protocol"
)

// Connection implements protocol.Conn over one QUIC connection: the control
// stream carries length-prefixed reliable frames, datagrams carry the rest.
type Connection struct {
	id      protocol.ConnectionID
	conn    *quic.Conn
	control *quic.Stream
	config  Config
	logger  log.Log

	recvQueue chan []byte
	closed    int32 // atomic bool
	done      chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex
}

var _ protocol.Conn = (*Connection)(nil)

func newConnection(conn *quic.Conn, control *quic.Stream, config Config, logger log.Log) *Connection {
	id := protocol.GenerateConnectionID()
	c := &Connection{
		id:        id,
		conn:      conn,
		control:   control,
		config:    config,
		logger:    logger.With(log.String("connection_id", string(id))),
		recvQueue: make(chan []byte, config.ReceiveQueueSize),
		done:      make(chan struct{}),
	}

	c.logger.Info("QUIC connection established",
		log.String("remote_addr", conn.RemoteAddr().String()))

	go c.readControl()
	go c.readDatagrams()

	return c
}

func (c *Connection) ID() protocol.ConnectionID {
	return c.id
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SendReliable writes a length-prefixed frame to the control stream.
func (c *Connection) SendReliable(frame []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return protocol.ErrConnectionClosed
	}
	if c.config.MaxFrameSize > 0 && len(frame) > c.config.MaxFrameSize {
		return protocol.ErrPayloadTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(frame)))
	if _, err := c.control.Write(prefix[:]); err != nil {
		return errors.Wrap(err, "failed to write frame prefix")
	}
	if _, err := c.control.Write(frame); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// SendUnreliable sends a datagram. Loss is acceptable; oversized frames are
// the caller's bug and reported.
func (c *Connection) SendUnreliable(frame []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return protocol.ErrConnectionClosed
	}
	if err := c.conn.SendDatagram(frame); err != nil {
		return errors.Wrap(err, "failed to send datagram")
	}
	return nil
}

func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-c.recvQueue:
		if !ok {
			return nil, protocol.ErrConnectionClosed
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, protocol.ErrConnectionClosed
	}
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		close(c.done)
		err = c.conn.CloseWithError(0, "closed")
	})
	return err
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// readControl pumps length-prefixed frames off the control stream. Control
// frames must not drop, so enqueueing blocks until the consumer catches up
// or the connection dies.
func (c *Connection) readControl() {
	defer func() { _ = c.Close() }()

	var prefix [4]byte
	for {
		if _, err := io.ReadFull(c.control, prefix[:]); err != nil {
			c.logControlExit(err)
			return
		}
		size := binary.BigEndian.Uint32(prefix[:])
		if c.config.MaxFrameSize > 0 && int(size) > c.config.MaxFrameSize {
			c.logger.Warn("oversized control frame, closing", log.Uint32("size", size))
			return
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(c.control, frame); err != nil {
			c.logControlExit(err)
			return
		}
		select {
		case c.recvQueue <- frame:
		case <-c.done:
			return
		}
	}
}

// readDatagrams pumps inbound datagrams. A full queue drops the oldest
// behavior is not needed here: state frames are disposable, so a saturated
// consumer just loses the frame.
func (c *Connection) readDatagrams() {
	for {
		frame, err := c.conn.ReceiveDatagram(context.Background())
		if err != nil {
			_ = c.Close()
			return
		}
		select {
		case c.recvQueue <- frame:
		default:
			c.logger.Debug("receive queue full, datagram dropped")
		}
	}
}

func (c *Connection) logControlExit(err error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return
	}
	c.logger.Debug("control stream closed", log.Error(err))
}
