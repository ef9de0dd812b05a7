package transport

import (
	"io"

	"github.com/echolink/echolink-go/pkg/log"
)

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Stream.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Stream combines frame reading and writing over one byte stream.
type Stream struct {
	*FrameReader
	*FrameWriter
}

// NewStream creates a framed stream over rw. A nil framer uses the defaults.
func NewStream(rw io.ReadWriter, framer *Framer) *Stream {
	if framer == nil {
		framer = NewFramer(0)
	}
	return &Stream{
		FrameReader: NewFrameReader(rw, framer),
		FrameWriter: NewFrameWriter(rw, framer),
	}
}

// SetLogger configures capture for both directions.
// Pass nil to disable it.
func (s *Stream) SetLogger(logger log.Logger, connID string) {
	s.FrameReader.SetLogger(logger, connID)
	s.FrameWriter.SetLogger(logger, connID)
}

var _ FrameReadWriter = (*Stream)(nil)
