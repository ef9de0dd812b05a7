// Package session is the public face of the echolink client.
//
// A Session sends and receives whole messages over one persistent TCP
// connection to one endpoint, reconnecting with exponential backoff when the
// connection drops:
//
//	s, err := session.New(endpoint, session.DefaultConfig())
//	if err != nil { ... }
//	defer s.Stop()
//
//	if err := s.Send(ctx, []byte("Hello world")); err != nil { ... }
//	reply, err := s.Receive(ctx)
//
// Send and Receive never retry on their own: a message whose write failed
// is reported (ErrConnectionLost) and not re-sent, so delivery is at most
// once. The next call reconnects. Run wraps the send/receive cycle in a
// loop that logs and survives connection loss.
//
// A Session is meant to be driven from one goroutine. Stop may be called
// from any goroutine and interrupts whatever the driver is blocked on.
package session
