package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrMaxClientsReached    = errors.New("maximum clients reached")
	ErrHandshakeTimeout     = errors.New("handshake timed out")
	ErrHandshakeRequired    = errors.New("first frame must be an auth hello")
	ErrInvalidToken         = errors.New("bearer token is empty or malformed")
	ErrInvalidConfig        = errors.New("invalid server configuration")
)
