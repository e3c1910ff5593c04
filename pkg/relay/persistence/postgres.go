package persistence

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"

	"github.com/corallang/voicerelay/pkg/relay/relayerr"
	"github.com/corallang/voicerelay/pkg/relay/session"
)

// PostgresConfig configures a PostgresSink.
type PostgresConfig struct {
	ConnString string `mapstructure:"conn_string" validate:"required"`
}

// PostgresSink persists turns and session summaries to Postgres. Schema:
//
//	CREATE TABLE voice_sessions (
//	    session_id TEXT PRIMARY KEY, tenant_id TEXT, learner_id TEXT,
//	    agent_id TEXT, websocket_url TEXT
//	);
//	CREATE TABLE voice_turns (
//	    session_id TEXT, turn_id TEXT, payload JSONB
//	);
//	CREATE TABLE voice_summaries (
//	    session_id TEXT, payload JSONB
//	);
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSinkFromConfig opens a connection pool per cfg.
func NewPostgresSinkFromConfig(cfg PostgresConfig) (*PostgresSink, error) {
	db, err := sql.Open("postgres", cfg.ConnString)
	if err != nil {
		return nil, relayerr.New("persistence.postgres.open", relayerr.CodeSessionStartFailed, err)
	}
	return &PostgresSink{db: db}, nil
}

var _ Sink = (*PostgresSink)(nil)

func (p *PostgresSink) LoadSession(ctx context.Context, sessionID string) (Record, bool, error) {
	var rec Record
	row := p.db.QueryRowContext(ctx,
		`SELECT session_id, tenant_id, learner_id, agent_id, websocket_url FROM voice_sessions WHERE session_id = $1`,
		sessionID,
	)
	if err := row.Scan(&rec.SessionID, &rec.TenantID, &rec.LearnerID, &rec.AgentID, &rec.WebsocketURL); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func (p *PostgresSink) SaveTurn(ctx context.Context, sessionID string, turn session.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO voice_turns (session_id, turn_id, payload) VALUES ($1, $2, $3)`,
		sessionID, turn.TurnID, payload,
	)
	return err
}

func (p *PostgresSink) SaveSummary(ctx context.Context, summary session.Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO voice_summaries (session_id, payload) VALUES ($1, $2)`,
		summary.SessionID, payload,
	)
	return err
}

// Close releases the connection pool.
func (p *PostgresSink) Close() error {
	return p.db.Close()
}
