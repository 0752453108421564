// Package quic carries sessions over QUIC: one bidirectional stream per
// session for the reliable control channel, DATAGRAM frames for the
// unreliable state and input channels.
package quic

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/protocol"
)

const nextProtocol = "astrosync/3"

// Config tunes the QUIC transport.
type Config struct {
	MaxFrameSize      int
	ReceiveQueueSize  int
	KeepAlivePeriodMs int
}

func DefaultConfig() Config {
	return Config{
		MaxFrameSize:     8 << 20,
		ReceiveQueueSize: 512,
	}
}

// Transport listens for QUIC sessions.
type Transport struct {
	listener *quic.Listener
	config   Config
	logger   log.Log
}

var _ protocol.Listener = (*Transport)(nil)

// Listen binds a QUIC listener with datagram support enabled.
func Listen(addr string, tlsConf *tls.Config, config Config, logger log.Log) (*Transport, error) {
	if logger == nil {
		logger = log.Provide()
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = append(tlsConf.NextProtos, nextProtocol)

	listener, err := quic.ListenAddr(addr, tlsConf, &quic.Config{
		EnableDatagrams: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen on QUIC")
	}
	logger.Info("QUIC transport listening", log.String("addr", listener.Addr().String()))
	return &Transport{
		listener: listener,
		config:   config,
		logger:   logger,
	}, nil
}

// Accept waits for the next session. The client opens the control stream
// right after the handshake; Accept blocks until it does.
func (t *Transport) Accept(ctx context.Context) (protocol.Conn, error) {
	conn, err := t.listener.Accept(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to accept QUIC connection")
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no control stream")
		return nil, errors.Wrap(err, "failed to accept control stream")
	}
	return newConnection(conn, stream, t.config, t.logger), nil
}

func (t *Transport) Addr() net.Addr {
	return t.listener.Addr()
}

func (t *Transport) Close() error {
	return t.listener.Close()
}

// Dial opens a client session: QUIC connection plus the control stream.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, config Config, logger log.Log) (protocol.Conn, error) {
	if logger == nil {
		logger = log.Provide()
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = append(tlsConf.NextProtos, nextProtocol)

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		EnableDatagrams: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial QUIC")
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "control stream failed")
		return nil, errors.Wrap(err, "failed to open control stream")
	}
	return newConnection(conn, stream, config, logger), nil
}
