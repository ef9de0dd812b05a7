package log

import (
	"strings"
	"time"
)

// Event is one capture record. Exactly one of Frame, StateChange and Error
// is set, matching Category.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID is the uuid of the connection. Failed dials happen
	// before there is one and leave it empty.
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// Endpoint is the configured host:port, RemoteAddr the address the
	// socket actually reached.
	Endpoint   string `cbor:"6,keyasint,omitempty"`
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	Frame       *Frame       `cbor:"10,keyasint,omitempty"`
	StateChange *StateChange `cbor:"12,keyasint,omitempty"`
	Error       *Failure     `cbor:"14,keyasint,omitempty"`
}

// Direction of a frame relative to this client.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Layer names the component that produced an event.
type Layer uint8

const (
	LayerTransport Layer = iota
	LayerConnection
	LayerSession
)

// Category classifies an event by its payload.
type Category uint8

// Category 1 is reserved.
const (
	CategoryMessage Category = 0
	CategoryState   Category = 2
	CategoryError   Category = 3
)

var (
	directionNames = map[Direction]string{DirectionIn: "IN", DirectionOut: "OUT"}
	layerNames     = map[Layer]string{LayerTransport: "TRANSPORT", LayerConnection: "CONNECTION", LayerSession: "SESSION"}
	categoryNames  = map[Category]string{CategoryMessage: "MESSAGE", CategoryState: "STATE", CategoryError: "ERROR"}
)

func nameOf[K comparable](names map[K]string, k K) string {
	if n, ok := names[k]; ok {
		return n
	}
	return "UNKNOWN"
}

// lookup finds the key whose name equals s, ignoring case and surrounding
// space.
func lookup[K comparable](names map[K]string, s string) (K, bool) {
	s = strings.TrimSpace(s)
	for k, n := range names {
		if strings.EqualFold(n, s) {
			return k, true
		}
	}
	var zero K
	return zero, false
}

func (d Direction) String() string { return nameOf(directionNames, d) }
func (l Layer) String() string     { return nameOf(layerNames, l) }
func (c Category) String() string  { return nameOf(categoryNames, c) }

// ParseDirection accepts "in" or "out" in any case.
func ParseDirection(s string) (Direction, bool) { return lookup(directionNames, s) }

// ParseCategory accepts "message", "state" or "error" in any case.
func ParseCategory(s string) (Category, bool) { return lookup(categoryNames, s) }

// Frame is one wire frame. Size counts the length prefix.
type Frame struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// StateChange records a connection state transition.
type StateChange struct {
	OldState string `cbor:"2,keyasint,omitempty"`
	NewState string `cbor:"3,keyasint"`
	Reason   string `cbor:"4,keyasint,omitempty"`
}

// Failure records an error and the operation that raised it.
type Failure struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Context string `cbor:"4,keyasint,omitempty"`
}

// MaxFrameDataSize caps the payload bytes copied into a frame event.
const MaxFrameDataSize = 4096

// NewFrameEvent records a frame carrying payload. Payloads longer than
// MaxFrameDataSize are cut and marked Truncated.
func NewFrameEvent(connID string, dir Direction, payload []byte) Event {
	kept := payload[:min(len(payload), MaxFrameDataSize)]
	e := newEvent(connID, LayerTransport, CategoryMessage)
	e.Direction = dir
	e.Frame = &Frame{
		Size:      4 + len(payload),
		Data:      append([]byte(nil), kept...),
		Truncated: len(kept) < len(payload),
	}
	return e
}

// NewStateEvent records a transition from oldState to newState.
func NewStateEvent(connID string, layer Layer, oldState, newState, reason string) Event {
	e := newEvent(connID, layer, CategoryState)
	e.StateChange = &StateChange{OldState: oldState, NewState: newState, Reason: reason}
	return e
}

// NewErrorEvent records err, raised while doing op.
func NewErrorEvent(connID string, layer Layer, op string, err error) Event {
	e := newEvent(connID, layer, CategoryError)
	e.Error = &Failure{Layer: layer, Context: op}
	if err != nil {
		e.Error.Message = err.Error()
	}
	return e
}

func newEvent(connID string, layer Layer, category Category) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        layer,
		Category:     category,
	}
}
