package protocol

import (
	"errors"
)

// Core protocol errors
var (
	// Envelope errors

	ErrProtocolVersion = errors.New("incompatible protocol version")
	ErrStaleEpoch      = errors.New("envelope from superseded authority epoch")
	ErrChannelClass    = errors.New("unknown channel class")
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")
	ErrTruncated       = errors.New("envelope data truncated")

	// Connection errors

	ErrConnectionClosed = errors.New("connection is closed")
	ErrSendQueueFull    = errors.New("send queue is full")

	// Control message errors

	ErrUnknownControlType = errors.New("unknown control message type")
)
