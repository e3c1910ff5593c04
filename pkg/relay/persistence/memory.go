package persistence

import (
	"context"
	"sync"

	"github.com/corallang/voicerelay/pkg/relay/session"
)

// InMemorySink is an in-memory implementation of Sink, suitable for tests
// and single-node deployments without a database.
type InMemorySink struct {
	mu        sync.RWMutex
	records   map[string]Record
	turns     map[string][]session.Turn
	summaries []session.Summary
}

// NewInMemorySink creates an empty InMemorySink.
func NewInMemorySink() *InMemorySink {
	return &InMemorySink{
		records: make(map[string]Record),
		turns:   make(map[string][]session.Turn),
	}
}

var _ Sink = (*InMemorySink)(nil)

// Put seeds a session record, used when a test pre-populates a known
// session before a "session.start" that should resume it.
func (s *InMemorySink) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.SessionID] = rec
}

func (s *InMemorySink) LoadSession(_ context.Context, sessionID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sessionID]
	return rec, ok, nil
}

func (s *InMemorySink) SaveTurn(_ context.Context, sessionID string, turn session.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

func (s *InMemorySink) SaveSummary(_ context.Context, summary session.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return nil
}

// Turns returns the persisted turns for sessionID, for test assertions.
func (s *InMemorySink) Turns(sessionID string) []session.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]session.Turn(nil), s.turns[sessionID]...)
}

// Summaries returns every persisted summary, for test assertions.
func (s *InMemorySink) Summaries() []session.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]session.Summary(nil), s.summaries...)
}
