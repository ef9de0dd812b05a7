package log

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends capture events to a file.
//
// Frames are buffered; state changes and errors flush the buffer so the
// connection history survives a crash. A failed write never reaches the
// caller: the event is counted as dropped and the first error is reported
// by Close.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	enc     *cbor.Encoder
	written uint64
	dropped uint64
	err     error
	closed  bool
}

// NewFileLogger opens path for appending, creating it with mode 0644 if
// needed. An empty file first gets a FileHeader.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	l := &FileLogger{file: f, buf: bufio.NewWriter(f)}
	l.enc = encMode.NewEncoder(l.buf)
	if info.Size() == 0 {
		if err := l.enc.Encode(newHeader()); err == nil {
			err = l.buf.Flush()
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("write capture header: %w", err)
		}
	}
	return l, nil
}

// Log appends event. Calls after Close are ignored.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	err := l.enc.Encode(event)
	if err == nil && event.Category != CategoryMessage {
		err = l.buf.Flush()
	}
	if err != nil {
		l.dropped++
		if l.err == nil {
			l.err = err
		}
		return
	}
	l.written++
}

// Flush writes buffered events to the file.
func (l *FileLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return l.buf.Flush()
}

// Counts returns the number of events written and dropped so far.
func (l *FileLogger) Counts() (written, dropped uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written, l.dropped
}

// Close flushes and closes the file. It returns the first write error
// seen by Log, if any. Only the first call does anything.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if l.err != nil {
		errs = append(errs, fmt.Errorf("capture dropped %d events: %w", l.dropped, l.err))
	}
	if err := l.buf.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ Logger = (*FileLogger)(nil)
