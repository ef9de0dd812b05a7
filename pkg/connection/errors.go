package connection

import "errors"

// Connection errors.
var (
	// ErrConnect indicates a TCP handshake (or on-connect hook) failed.
	ErrConnect = errors.New("connect failed")

	// ErrConnectionLost indicates the established connection failed
	// mid-operation. The Manager is already Disconnected when it is returned.
	ErrConnectionLost = errors.New("connection lost")

	// ErrCancelled indicates the caller's context ended the operation.
	ErrCancelled = errors.New("cancelled")

	// ErrAlreadyConnected is returned by Connect while a connection is live.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrInvalidTransition indicates a state change outside the state machine.
	ErrInvalidTransition = errors.New("invalid state transition")
)
