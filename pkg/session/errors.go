package session

import (
	"github.com/echolink/echolink-go/pkg/connection"
	"github.com/echolink/echolink-go/pkg/transport"
)

// Errors returned by Session operations, re-exported so callers need a
// single import.
var (
	ErrConnect         = connection.ErrConnect
	ErrConnectionLost  = connection.ErrConnectionLost
	ErrCancelled       = connection.ErrCancelled
	ErrMessageTooLarge = transport.ErrMessageTooLarge
	ErrCorruptFrame    = transport.ErrCorruptFrame
	ErrStreamClosed    = transport.ErrStreamClosed
)
