package echoserver

import (
	"net"
	"testing"

	"github.com/echolink/echolink-go/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoAndCloseAfter(t *testing.T) {
	srv := Start(t, WithWelcome([]byte("welcome")), WithCloseAfter(2))

	nc, err := net.Dial("tcp", srv.Endpoint().Address())
	require.NoError(t, err)
	defer nc.Close()
	stream := transport.NewStream(nc, nil)

	welcome, err := stream.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "welcome", string(welcome))

	for _, msg := range []string{"one", "two"} {
		require.NoError(t, stream.WriteFrame([]byte(msg)))
		got, err := stream.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, msg, string(got))
	}

	_, err = stream.ReadFrame()
	assert.Error(t, err, "server closes after two echoes")
	assert.Equal(t, 2, srv.Echoed())
	assert.Equal(t, 1, srv.Accepted())
}
