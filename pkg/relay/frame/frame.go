// Package frame classifies and encodes the WebSocket frames exchanged with
// the learner and with the upstream provider: JSON text control messages and
// raw binary audio.
package frame

import (
	"encoding/json"

	"github.com/corallang/voicerelay/pkg/relay/relayerr"
)

// Kind distinguishes a decoded frame's payload.
type Kind int

const (
	KindBinary Kind = iota
	KindText
)

// envelope is the minimal shape every control message must satisfy: a type
// discriminator. The remaining fields are decoded into the concrete message
// type once the type is known.
type envelope struct {
	Type string `json:"type"`
}

// ControlType returns the "type" discriminator of a text control message.
func ControlType(payload []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", relayerr.New("frame.decode", relayerr.CodeMessageProcessingError, err)
	}
	if env.Type == "" {
		return "", relayerr.Newf("frame.decode", relayerr.CodeMessageProcessingError, "missing type field")
	}
	return env.Type, nil
}

// Decode unmarshals payload into v, wrapping any failure as a recoverable
// relayerr.Error.
func Decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return relayerr.New("frame.decode", relayerr.CodeMessageProcessingError, err)
	}
	return nil
}

// Encode marshals v to JSON for sending as a text frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ErrorMessage is the "error" control message sent on a recoverable
// protocol failure; the session is not terminated.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage builds the "error" control frame payload for err.
func NewErrorMessage(err error) ErrorMessage {
	code := string(relayerr.CodeMessageProcessingError)
	msg := err.Error()
	if e := relayerr.As(err); e != nil {
		code = string(e.Code)
		if e.Message != "" {
			msg = e.Message
		}
	}
	return ErrorMessage{Type: "error", Code: code, Message: msg}
}
