// Package connection owns the TCP socket of an echolink client.
//
// A Manager dials one Endpoint, tracks the connection state and hands out
// a borrowed *Conn for framed I/O. Any read or write failure on the Conn
// closes the socket and returns the Manager to StateDisconnected at once,
// so the next EnsureConnected call reconnects.
//
// # States
//
//	Disconnected -> Connecting -> Connected -> Disconnected   (loss)
//	                Connecting -> Disconnected                 (dial or handshake failure)
//	                              Connected -> Closing -> Disconnected   (Close)
//
// # Reconnection Strategy
//
// EnsureConnected waits before every attempt, including the first one after
// a loss:
//
//	delay(attempt) = min(BaseDelay * 2^attempt, MaxDelay)
//
// The attempt counter grows by one per connection attempt and resets to
// zero once a connection is established. There is no jitter; a client
// talks to exactly one server.
//
// # Cancellation
//
// Every blocking step takes a context. Cancelling it interrupts a backoff
// wait, a dial, or a blocked read or write immediately and yields an error
// matching ErrCancelled. An interrupted read or write also drops the
// connection, since the position in the byte stream is no longer known.
package connection
