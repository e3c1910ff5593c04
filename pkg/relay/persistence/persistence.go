// Package persistence defines the PersistenceSink collaborator the relay
// assumes but does not own, plus a Postgres-backed implementation and an
// in-memory fallback for tests and single-node deployments.
package persistence

import (
	"context"

	"github.com/corallang/voicerelay/pkg/relay/session"
)

// Sink persists turns as they finalize and session summaries on close.
// Per the relay's failure semantics, a Sink error is logged and the
// operation is not retried or escalated to the caller as fatal.
type Sink interface {
	// LoadSession returns the stored session record for sessionID, if any.
	// A missing record is reported via ok=false, not an error.
	LoadSession(ctx context.Context, sessionID string) (rec Record, ok bool, err error)

	// SaveTurn persists a single finalized turn.
	SaveTurn(ctx context.Context, sessionID string, turn session.Turn) error

	// SaveSummary persists the terminal session summary.
	SaveSummary(ctx context.Context, summary session.Summary) error
}

// Record is the subset of session state a sink can be asked to recall when
// a session.start names an existing session id.
type Record struct {
	SessionID    string
	TenantID     string
	LearnerID    string
	AgentID      string
	WebsocketURL string
}
