package supervisor

import (
	"time"

	"github.com/gorilla/websocket"
)

// learnerConn wraps the learner's upgraded WebSocket with the same
// FrameWriter surface relaycore.Core expects of both sides of the relay.
type learnerConn struct {
	ws *websocket.Conn
}

func newLearnerConn(ws *websocket.Conn) *learnerConn {
	return &learnerConn{ws: ws}
}

func (c *learnerConn) WriteBinary(data []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *learnerConn) WriteText(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *learnerConn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *learnerConn) Close() error {
	return c.ws.Close()
}

// Ping sends a WebSocket protocol-level ping frame, distinct from the
// JSON "ping"/"pong" control messages exchanged at the application layer.
func (c *learnerConn) Ping(deadline time.Duration) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(deadline))
}
