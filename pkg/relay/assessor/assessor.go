// Package assessor defines the PronunciationAssessor collaborator the
// relay schedules inline for finalized learner turns, plus a deterministic
// stub implementation for tests and environments without a scoring
// provider wired up.
package assessor

import (
	"context"

	"github.com/corallang/voicerelay/pkg/relay/session"
)

// Assessor scores a window of learner audio against its final transcript.
// A failure here is logged, not fatal: the turn is persisted without an
// assessment.
type Assessor interface {
	Assess(ctx context.Context, turnID, transcript string, audio []byte) (session.Assessment, error)
}

// FeedbackThreshold is the default score below which a word is surfaced in
// a "pronunciation.feedback" message.
const FeedbackThreshold = 0.6

// WordsBelow returns the words in a.WordScores scoring strictly below
// threshold.
func WordsBelow(a session.Assessment, threshold float64) []string {
	var words []string
	for word, score := range a.WordScores {
		if score < threshold {
			words = append(words, word)
		}
	}
	return words
}
