package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"sync"

	"github.com/echolink/echolink-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum message size (64 KiB).
	DefaultMaxMessageSize = 65536

	// MaxFrameSize is the largest payload a 4-byte prefix can declare.
	MaxFrameSize = math.MaxUint32
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates an outgoing message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrCorruptFrame indicates an incoming header declared a length above
	// the maximum. The stream cannot be resynchronized after this.
	ErrCorruptFrame = errors.New("corrupt frame")

	// ErrStreamClosed indicates the stream ended in the middle of a frame.
	ErrStreamClosed = errors.New("stream closed mid-frame")
)

// Framer encodes messages into length-prefixed frames and creates decoders
// for the reverse direction. A Framer holds no stream state and can be
// shared between connections.
type Framer struct {
	maxMessageSize uint32
}

// NewFramer creates a framer. maxSize <= 0 selects DefaultMaxMessageSize;
// values above MaxFrameSize are clamped to it.
func NewFramer(maxSize int) *Framer {
	switch {
	case maxSize <= 0:
		return &Framer{maxMessageSize: DefaultMaxMessageSize}
	case uint64(maxSize) > MaxFrameSize:
		return &Framer{maxMessageSize: MaxFrameSize}
	}
	return &Framer{maxMessageSize: uint32(maxSize)}
}

// MaxMessageSize returns the largest payload the framer accepts.
func (f *Framer) MaxMessageSize() int {
	return int(f.maxMessageSize)
}

// Check returns ErrMessageTooLarge if msg cannot be framed.
func (f *Framer) Check(msg []byte) error {
	if uint64(len(msg)) > uint64(f.maxMessageSize) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(msg), f.maxMessageSize)
	}
	return nil
}

// Encode returns the 4-byte big-endian length header followed by msg.
// Empty messages are valid and encode to a bare header.
func (f *Framer) Encode(msg []byte) ([]byte, error) {
	if err := f.Check(msg); err != nil {
		return nil, err
	}
	frame := make([]byte, LengthPrefixSize+len(msg))
	binary.BigEndian.PutUint32(frame, uint32(len(msg)))
	copy(frame[LengthPrefixSize:], msg)
	return frame, nil
}

// NewDecoder returns a decoder reading frames from r. The decoder owns a
// read buffer, so one decoder must be used per stream for its whole life.
func (f *Framer) NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:              bufio.NewReader(r),
		maxMessageSize: f.maxMessageSize,
	}
}

// Decoder reads length-prefixed frames from a byte stream.
type Decoder struct {
	r              *bufio.Reader
	maxMessageSize uint32
	header         [LengthPrefixSize]byte
}

// Next blocks until one complete frame is available and returns its payload.
//
// It returns io.EOF when the stream ends cleanly between frames,
// ErrStreamClosed when it ends inside a header or payload, and
// ErrCorruptFrame when the declared length exceeds the maximum.
// Other read errors are returned wrapped.
func (d *Decoder) Next() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: header", ErrStreamClosed)
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(d.header[:])
	if length > d.maxMessageSize {
		return nil, fmt.Errorf("%w: declared length %d > %d", ErrCorruptFrame, length, d.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d payload bytes", ErrStreamClosed, length)
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}

// Messages returns the decoded payloads as a lazy sequence. The sequence
// ends quietly at io.EOF; any other error is yielded once and ends it.
func (d *Decoder) Messages() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			msg, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(msg, err) || err != nil {
				return
			}
		}
	}
}

// FrameWriter writes length-prefixed frames to an underlying writer.
type FrameWriter struct {
	w      io.Writer
	framer *Framer
	mu     sync.Mutex

	// Capture support (optional)
	logger log.Logger
	connID string
}

// NewFrameWriter creates a frame writer. A nil framer uses the defaults.
func NewFrameWriter(w io.Writer, framer *Framer) *FrameWriter {
	if framer == nil {
		framer = NewFramer(0)
	}
	return &FrameWriter{w: w, framer: framer}
}

// SetLogger configures capture for this writer.
// Pass nil to disable it.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.logger = logger
	fw.connID = connID
}

// WriteFrame writes header and payload with a single Write call so a frame
// is never interleaved with another writer's bytes.
// Thread-safe: can be called from multiple goroutines.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	frame, err := fw.framer.Encode(data)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	n, err := fw.w.Write(frame)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("write frame: %w", io.ErrShortWrite)
	}

	if fw.logger != nil {
		fw.logger.Log(log.NewFrameEvent(fw.connID, log.DirectionOut, data))
	}
	return nil
}

// FrameReader reads length-prefixed frames from an underlying reader.
type FrameReader struct {
	dec *Decoder

	// Capture support (optional)
	logger log.Logger
	connID string
}

// NewFrameReader creates a frame reader. A nil framer uses the defaults.
func NewFrameReader(r io.Reader, framer *Framer) *FrameReader {
	if framer == nil {
		framer = NewFramer(0)
	}
	return &FrameReader{dec: framer.NewDecoder(r)}
}

// SetLogger configures capture for this reader.
// Pass nil to disable it.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// ReadFrame reads one frame and returns its payload. Errors are those of
// Decoder.Next.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	payload, err := fr.dec.Next()
	if err != nil {
		return nil, err
	}
	if fr.logger != nil {
		fr.logger.Log(log.NewFrameEvent(fr.connID, log.DirectionIn, payload))
	}
	return payload, nil
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
