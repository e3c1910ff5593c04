package assessor

import (
	"context"
	"strings"

	"github.com/corallang/voicerelay/pkg/relay/session"
)

// Stub is a deterministic assessor for tests and environments without a
// real scoring provider. It scores every word at a fixed confidence and
// flags none below threshold, unless Fail is set to simulate a provider
// error.
type Stub struct {
	Score float64
	Fail  error
}

// NewStub creates a Stub that scores every word at 0.9.
func NewStub() *Stub {
	return &Stub{Score: 0.9}
}

var _ Assessor = (*Stub)(nil)

func (s *Stub) Assess(_ context.Context, _ string, transcript string, _ []byte) (session.Assessment, error) {
	if s.Fail != nil {
		return session.Assessment{}, s.Fail
	}

	words := strings.Fields(transcript)
	scores := make(map[string]float64, len(words))
	for _, w := range words {
		scores[w] = s.Score
	}
	return session.Assessment{OverallScore: s.Score, WordScores: scores}, nil
}
