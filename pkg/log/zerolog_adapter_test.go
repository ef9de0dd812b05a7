package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologAdapterFields(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.DebugLevel)
	a := NewZerologAdapter(&zl)

	a.Log(NewFrameEvent("conn-1", DirectionIn, []byte{0x01, 0x02}))
	a.Log(NewStateEvent("conn-1", LayerConnection, "CONNECTING", "CONNECTED", ""))
	a.Log(NewErrorEvent("", LayerConnection, "dial", errors.New("refused")))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)

	var frame, state, failure map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &frame))
	require.NoError(t, json.Unmarshal(lines[1], &state))
	require.NoError(t, json.Unmarshal(lines[2], &failure))

	assert.Equal(t, "debug", frame["level"])
	assert.Equal(t, "IN", frame["direction"])
	assert.Equal(t, "0102", frame["data"])
	assert.EqualValues(t, 6, frame["size"])

	assert.Equal(t, "info", state["level"])
	assert.Equal(t, "CONNECTED", state["new"])

	assert.Equal(t, "warn", failure["level"])
	assert.Equal(t, "refused", failure["error"])
	assert.NotContains(t, failure, "conn_id")
}

func TestZerologAdapterNilLogger(t *testing.T) {
	a := NewZerologAdapter(nil)
	a.Log(NewFrameEvent("c", DirectionOut, nil))
}
