package log

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func decodeAll(t *testing.T, path string) []Event {
	t.Helper()
	r, err := Open(path, Filter{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var events []Event
	for e, err := range r.Events() {
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		events = append(events, e)
	}
	return events
}

func TestFileLoggerWritesFrameEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.elog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	logger.Log(NewFrameEvent("conn-123", DirectionOut, []byte("Hello world")))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := decodeAll(t, path)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.ConnectionID != "conn-123" {
		t.Errorf("ConnectionID = %q, want conn-123", got.ConnectionID)
	}
	if got.Direction != DirectionOut {
		t.Errorf("Direction = %v, want OUT", got.Direction)
	}
	if got.Frame == nil {
		t.Fatal("Frame is nil")
	}
	if got.Frame.Size != 4+len("Hello world") {
		t.Errorf("Frame.Size = %d, want %d", got.Frame.Size, 4+len("Hello world"))
	}
	if string(got.Frame.Data) != "Hello world" {
		t.Errorf("Frame.Data = %q", got.Frame.Data)
	}
}

func TestFileLoggerWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.elog")

	for _, id := range []string{"conn-1", "conn-2"} {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger: %v", err)
		}
		logger.Log(NewStateEvent(id, LayerConnection, "DISCONNECTED", "CONNECTING", ""))
		logger.Close()
	}

	r, err := Open(path, Filter{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	h := r.Header()
	if h.Magic != Magic || h.Version != FormatVersion || h.Writer != "echolink" {
		t.Errorf("unexpected header %+v", h)
	}
	if h.Created.IsZero() {
		t.Error("header has no creation time")
	}

	events := decodeAll(t, path)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ConnectionID != "conn-1" || events[1].ConnectionID != "conn-2" {
		t.Errorf("unexpected order: %q, %q", events[0].ConnectionID, events[1].ConnectionID)
	}
}

func TestFileLoggerFlushesOnStateChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.elog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer logger.Close()

	logger.Log(NewFrameEvent("c", DirectionIn, []byte("buffered")))
	if got := len(decodeAll(t, path)); got != 0 {
		t.Fatalf("frame reached the file before a flush: %d events", got)
	}

	logger.Log(NewStateEvent("c", LayerConnection, "CONNECTED", "DISCONNECTED", "peer closed"))
	if got := len(decodeAll(t, path)); got != 2 {
		t.Fatalf("got %d events after state change, want 2", got)
	}

	logger.Log(NewFrameEvent("c", DirectionOut, []byte("later")))
	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := len(decodeAll(t, path)); got != 3 {
		t.Fatalf("got %d events after Flush, want 3", got)
	}
}

func TestFileLoggerConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.elog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range perWriter {
				logger.Log(NewFrameEvent(fmt.Sprintf("conn-%d", i), DirectionIn, []byte{byte(j)}))
			}
		}()
	}
	wg.Wait()

	if written, dropped := logger.Counts(); written != writers*perWriter || dropped != 0 {
		t.Errorf("Counts() = %d, %d; want %d, 0", written, dropped, writers*perWriter)
	}
	logger.Close()

	if got := len(decodeAll(t, path)); got != writers*perWriter {
		t.Errorf("event count = %d, want %d", got, writers*perWriter)
	}
}

func TestFileLoggerReportsDroppedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.elog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	// Closing the file underneath makes the next flush fail.
	logger.file.Close()
	logger.Log(NewErrorEvent("c", LayerSession, "receive", errors.New("boom")))

	if _, dropped := logger.Counts(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	err = logger.Close()
	if !errors.Is(err, os.ErrClosed) {
		t.Errorf("Close() = %v, want os.ErrClosed", err)
	}
}

func TestFileLoggerCloseIsIdempotent(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "capture.elog"))
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	// ignored after close
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "late"})
	if written, _ := logger.Counts(); written != 0 {
		t.Errorf("written = %d after Close, want 0", written)
	}
}

func TestNewFrameEventTruncatesLargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, MaxFrameDataSize+10)
	e := NewFrameEvent("c", DirectionIn, payload)

	if !e.Frame.Truncated {
		t.Error("expected Truncated")
	}
	if len(e.Frame.Data) != MaxFrameDataSize {
		t.Errorf("len(Data) = %d, want %d", len(e.Frame.Data), MaxFrameDataSize)
	}
	if e.Frame.Size != 4+len(payload) {
		t.Errorf("Size = %d, want %d", e.Frame.Size, 4+len(payload))
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) Log(e Event) { r.events = append(r.events, e) }

func TestTee(t *testing.T) {
	dir := t.TempDir()
	file, err := NewFileLogger(filepath.Join(dir, "a.elog"))
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}

	Tee(file, nil, rec).Log(NewErrorEvent("c", LayerSession, "receive", errors.New("boom")))
	file.Close()

	events := decodeAll(t, filepath.Join(dir, "a.elog"))
	if len(events) != 1 || events[0].Error == nil || events[0].Error.Message != "boom" {
		t.Errorf("file: unexpected events %+v", events)
	}
	if len(rec.events) != 1 || rec.events[0].Error.Context != "receive" {
		t.Errorf("recorder: unexpected events %+v", rec.events)
	}

	if _, ok := Tee().(NoopLogger); !ok {
		t.Error("Tee() should return NoopLogger")
	}
	if Tee(nil, rec) != Logger(rec) {
		t.Error("Tee with one live logger should return it")
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	rec := &recorder{}
	if OrNoop(rec) != Logger(rec) {
		t.Error("OrNoop should pass through non-nil loggers")
	}
}
