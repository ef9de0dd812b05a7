package log

import (
	"encoding/hex"

	"github.com/rs/zerolog"
)

// ZerologAdapter forwards capture events to an operational zerolog logger.
// Frames are logged at debug level, state changes at info and errors at warn.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter wraps logger. A nil logger discards everything.
func NewZerologAdapter(logger *zerolog.Logger) *ZerologAdapter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ZerologAdapter{logger: logger.With().Str("component", "capture").Logger()}
}

// Log writes the event as one structured log line.
func (a *ZerologAdapter) Log(event Event) {
	var e *zerolog.Event
	switch event.Category {
	case CategoryState:
		e = a.logger.Info()
	case CategoryError:
		e = a.logger.Warn()
	default:
		e = a.logger.Debug()
	}
	if e == nil {
		return
	}

	e = e.Time("ts", event.Timestamp).
		Str("layer", event.Layer.String()).
		Str("category", event.Category.String())
	if event.ConnectionID != "" {
		e = e.Str("conn_id", event.ConnectionID)
	}
	if event.Endpoint != "" {
		e = e.Str("endpoint", event.Endpoint)
	}
	if event.RemoteAddr != "" {
		e = e.Str("remote", event.RemoteAddr)
	}

	switch {
	case event.Frame != nil:
		e.Str("direction", event.Direction.String()).
			Int("size", event.Frame.Size).
			Str("data", hex.EncodeToString(event.Frame.Data)).
			Bool("truncated", event.Frame.Truncated).
			Msg("frame")
	case event.StateChange != nil:
		e.Str("old", event.StateChange.OldState).
			Str("new", event.StateChange.NewState).
			Str("reason", event.StateChange.Reason).
			Msg("state change")
	case event.Error != nil:
		e.Str("op", event.Error.Context).
			Str("error", event.Error.Message).
			Msg("error")
	default:
		e.Msg("event")
	}
}

var _ Logger = (*ZerologAdapter)(nil)
