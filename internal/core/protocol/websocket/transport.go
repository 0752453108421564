// Package websocket provides the ordered fallback transport. Both channel
// classes travel over the single socket, so unreliable state frames inherit
// TCP ordering and loss recovery; clients behind QUIC-hostile middleboxes
// trade latency for connectivity.
package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/protocol"
)

// Config holds WebSocket transport settings.
type Config struct {
	// Path is the HTTP path the upgrader is mounted on.
	Path string
	// MaxFrameSize bounds a single inbound message.
	MaxFrameSize int
	// ReceiveQueueSize bounds buffered inbound frames per connection.
	ReceiveQueueSize int
	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration
}

// DefaultConfig returns working transport settings.
func DefaultConfig() Config {
	return Config{
		Path:             "/ws",
		MaxFrameSize:     8 * 1024 * 1024,
		ReceiveQueueSize: 512,
		WriteTimeout:     10 * time.Second,
	}
}

// Transport implements protocol.Listener over an HTTP upgrade endpoint.
type Transport struct {
	config   Config
	logger   log.Log
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	accepted  chan *Connection
	done      chan struct{}
	closeOnce sync.Once
}

var _ protocol.Listener = (*Transport)(nil)

// Listen binds addr and starts serving upgrade requests.
func Listen(addr string, config Config, logger log.Log) (*Transport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen")
	}

	t := &Transport{
		config:   config,
		logger:   logger,
		listener: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		accepted: make(chan *Connection, 16),
		done:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.Path, t.handleUpgrade)
	t.server = &http.Server{Handler: mux}

	go func() {
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.logger.Error("WebSocket server stopped", log.Error(err))
		}
	}()

	t.logger.Info("WebSocket transport listening",
		log.String("addr", ln.Addr().String()),
		log.String("path", config.Path))

	return t, nil
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("upgrade failed", log.Error(err))
		return
	}
	conn := newConnection(ws, t.config, t.logger)
	select {
	case t.accepted <- conn:
	case <-t.done:
		_ = conn.Close()
	}
}

// Accept returns the next upgraded connection.
func (t *Transport) Accept(ctx context.Context) (protocol.Conn, error) {
	select {
	case conn := <-t.accepted:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, protocol.ErrConnectionClosed
	}
}

func (t *Transport) Addr() net.Addr {
	return t.listener.Addr()
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.server.Close()
	})
	return err
}

// Dial connects to a server endpoint, e.g. "ws://host:port/ws".
func Dial(ctx context.Context, url string, config Config, logger log.Log) (*Connection, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial")
	}
	return newConnection(ws, config, logger), nil
}

// Connection implements protocol.Conn over one WebSocket. There is no
// unreliable path on TCP, so SendUnreliable degrades to an ordered write
// that is dropped instead of blocking when the socket is backed up.
type Connection struct {
	id     protocol.ConnectionID
	ws     *websocket.Conn
	config Config
	logger log.Log

	recvQueue chan []byte
	done      chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex
}

var _ protocol.Conn = (*Connection)(nil)

func newConnection(ws *websocket.Conn, config Config, logger log.Log) *Connection {
	id := protocol.GenerateConnectionID()
	c := &Connection{
		id:        id,
		ws:        ws,
		config:    config,
		logger:    logger.With(log.String("connection_id", string(id))),
		recvQueue: make(chan []byte, config.ReceiveQueueSize),
		done:      make(chan struct{}),
	}
	if config.MaxFrameSize > 0 {
		ws.SetReadLimit(int64(config.MaxFrameSize))
	}

	c.logger.Info("WebSocket connection established",
		log.String("remote_addr", ws.RemoteAddr().String()))

	go c.readLoop()
	return c
}

func (c *Connection) ID() protocol.ConnectionID {
	return c.id
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *Connection) SendReliable(frame []byte) error {
	return c.write(frame, true)
}

func (c *Connection) SendUnreliable(frame []byte) error {
	return c.write(frame, false)
}

func (c *Connection) write(frame []byte, reliable bool) error {
	select {
	case <-c.done:
		return protocol.ErrConnectionClosed
	default:
	}
	if c.config.MaxFrameSize > 0 && len(frame) > c.config.MaxFrameSize {
		return protocol.ErrPayloadTooLarge
	}

	if reliable {
		c.writeMu.Lock()
	} else if !c.writeMu.TryLock() {
		// Socket is busy; state frames are disposable.
		return nil
	}
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.Wrap(err, "failed to write frame")
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
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) readLoop() {
	defer func() { _ = c.Close() }()
	for {
		kind, frame, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case c.recvQueue <- frame:
		case <-c.done:
			return
		}
	}
}
