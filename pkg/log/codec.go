package log

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Capture file identification.
const (
	// Magic opens every capture file.
	Magic = "ELOG"

	// FormatVersion is the capture format written by this package.
	FormatVersion = 1
)

var (
	// ErrNotCapture is returned for input that does not start with a
	// capture file header.
	ErrNotCapture = errors.New("not a capture file")

	// ErrUnsupportedVersion is returned for captures written by a newer
	// format version.
	ErrUnsupportedVersion = errors.New("unsupported capture version")
)

// FileHeader is the first record of a capture file. Its keys do not
// overlap with Event keys, so an Event never decodes as a valid header.
type FileHeader struct {
	Magic   string    `cbor:"0,keyasint"`
	Version uint8     `cbor:"100,keyasint"`
	Created time.Time `cbor:"101,keyasint"`
	Writer  string    `cbor:"102,keyasint,omitempty"`
}

func newHeader() FileHeader {
	return FileHeader{
		Magic:   Magic,
		Version: FormatVersion,
		Created: time.Now().UTC(),
		Writer:  "echolink",
	}
}

func (h FileHeader) validate() error {
	if h.Magic != Magic {
		return ErrNotCapture
	}
	if h.Version == 0 || h.Version > FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return nil
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor encode mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
		MaxMapPairs: 64,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor decode mode: %v", err))
	}
}
