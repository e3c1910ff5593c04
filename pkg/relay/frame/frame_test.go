package frame

import (
	"testing"

	"github.com/corallang/voicerelay/pkg/relay/relayerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlTypeOK(t *testing.T) {
	typ, err := ControlType([]byte(`{"type":"ping","timestamp":123}`))
	require.NoError(t, err)
	assert.Equal(t, "ping", typ)
}

func TestControlTypeMalformedJSON(t *testing.T) {
	_, err := ControlType([]byte(`not json`))
	require.Error(t, err)
	e := relayerr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, relayerr.CodeMessageProcessingError, e.Code)
	assert.True(t, relayerr.Recoverable(err))
}

func TestControlTypeMissingType(t *testing.T) {
	_, err := ControlType([]byte(`{"foo":"bar"}`))
	require.Error(t, err)
	assert.True(t, relayerr.Recoverable(err))
}

func TestNewErrorMessageFromRelayErr(t *testing.T) {
	err := relayerr.Newf("relaycore.dispatch", relayerr.CodeUnknownMessageType, "unknown type %q", "bogus")
	msg := NewErrorMessage(err)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, string(relayerr.CodeUnknownMessageType), msg.Code)
	assert.Contains(t, msg.Message, "bogus")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ping := Ping{Type: TypePing, Timestamp: 42}
	data, err := Encode(ping)
	require.NoError(t, err)

	var decoded Ping
	require.NoError(t, Decode(data, &decoded))
	assert.Equal(t, ping, decoded)
}
