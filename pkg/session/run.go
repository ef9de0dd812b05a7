package session

import (
	"context"
	"errors"
	"fmt"
)

// MessageHandler receives each message read by Run.
type MessageHandler func(msg []byte)

// Run drives the session until Stop or ctx cancellation.
//
// Each cycle takes the next message from outgoing (if outgoing is non-nil),
// sends it, receives one message and passes it to onMessage. A nil or
// closed outgoing channel makes Run receive only. Lost connections and
// corrupt frames are logged and followed by a reconnect; oversized messages
// are logged and skipped.
//
// Run returns an error matching ErrCancelled on Stop or cancellation, or
// ErrConnect once Config.Connection.MaxAttempts attempts in a row failed.
func (s *Session) Run(ctx context.Context, onMessage MessageHandler, outgoing <-chan []byte) error {
	ctx, done := s.opContext(ctx)
	defer done()

	s.logger.Info().Bool("receive_only", outgoing == nil).Msg("run loop started")
	for {
		// A handler may cancel ctx; stop before taking another message.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		if outgoing != nil {
			var (
				msg []byte
				ok  bool
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			case msg, ok = <-outgoing:
			}
			if !ok {
				s.logger.Debug().Msg("outgoing closed, receiving only")
				outgoing = nil
			} else if err := s.Send(ctx, msg); err != nil {
				if stop := s.recoverFrom(ctx, "send", err); stop != nil {
					return stop
				}
				continue
			}
		}

		msg, err := s.Receive(ctx)
		if err != nil {
			if stop := s.recoverFrom(ctx, "receive", err); stop != nil {
				return stop
			}
			continue
		}
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

// recoverFrom decides whether Run survives err. It returns nil to keep
// going or the error Run should return.
func (s *Session) recoverFrom(ctx context.Context, op string, err error) error {
	switch {
	case ctx.Err() != nil:
		if errors.Is(err, ErrCancelled) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())

	case errors.Is(err, ErrConnect):
		s.logger.Error().Err(err).Msg("giving up")
		return err

	case errors.Is(err, ErrMessageTooLarge):
		s.mu.Lock()
		s.stats.SkippedMessages++
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("skipping oversized message")
		return nil

	case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrCorruptFrame):
		s.logger.Warn().Err(err).Str("op", op).Msg("connection dropped, reconnecting")
		if _, rerr := s.mgr.EnsureConnected(ctx); rerr != nil {
			return s.recoverFrom(ctx, "reconnect", rerr)
		}
		return nil
	}

	s.logger.Error().Err(err).Str("op", op).Msg("unexpected error")
	return err
}
