// Package upstream dials the third-party conversational-AI provider a
// session relays audio to, and wraps the resulting WebSocket connection in
// the same framing used for the learner's socket.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corallang/voicerelay/pkg/relay/relayerr"
	"github.com/corallang/voicerelay/resilience"
)

// DefaultDialTimeout is applied when Dialer.Timeout is zero.
const DefaultDialTimeout = 10 * time.Second

// Conn is a dialed upstream connection, offering the same read/write frame
// shape as the learner's socket.
type Conn struct {
	ws *websocket.Conn
}

// ReadMessage reads the next frame, returning its gorilla/websocket message
// type (TextMessage or BinaryMessage) and payload.
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// WriteBinary sends a binary audio frame upstream.
func (c *Conn) WriteBinary(data []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// WriteText sends a text control frame upstream. Per the relay's contract,
// the only control frame ever sent upstream is {"type":"interrupt"}.
func (c *Conn) WriteText(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close closes the upstream connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// Dialer dials the upstream provider for a session.
type Dialer struct {
	// BaseURL is used to synthesize a per-agent URL when a session does not
	// carry its own websocket_url. Formatted as BaseURL + "/" + agentID.
	BaseURL string
	Timeout time.Duration
	Breaker *resilience.CircuitBreaker
}

// NewDialer creates a Dialer with a circuit breaker guarding upstream dial
// attempts, so a provider outage trips open rather than queuing dial
// attempts behind a slow timeout for every new session.
func NewDialer(baseURL string) *Dialer {
	return &Dialer{
		BaseURL: baseURL,
		Timeout: DefaultDialTimeout,
		Breaker: resilience.NewCircuitBreaker(5, 30*time.Second),
	}
}

// resolveURL picks the session's own websocket_url if set, else synthesizes
// one from BaseURL and agentID.
func (d *Dialer) resolveURL(websocketURL, agentID string) string {
	if websocketURL != "" {
		return websocketURL
	}
	return fmt.Sprintf("%s/%s", d.BaseURL, agentID)
}

// Dial connects to the upstream provider for tenantID/agentID, attaching a
// tenant-scoped API key header. Any failure, including a breaker trip, is
// reported as relayerr.CodeUpstreamConnect.
func (d *Dialer) Dial(ctx context.Context, websocketURL, agentID, tenantAPIKey string) (*Conn, error) {
	url := d.resolveURL(websocketURL, agentID)
	timeout := d.Timeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}

	result, err := d.Breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		header := http.Header{}
		if tenantAPIKey != "" {
			header.Set("Authorization", "Bearer "+tenantAPIKey)
		}

		ws, _, dialErr := websocket.DefaultDialer.DialContext(dialCtx, url, header)
		if dialErr != nil {
			return nil, dialErr
		}
		return &Conn{ws: ws}, nil
	})
	if err != nil {
		return nil, relayerr.New("upstream.dial", relayerr.CodeUpstreamConnect, err)
	}
	return result.(*Conn), nil
}
