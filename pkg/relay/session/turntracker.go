package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind names the control messages the turn tracker emits. Relaycore
// translates these into the JSON frames sent to the learner.
type EventKind string

const (
	EventTurnStart   EventKind = "turn.start"
	EventTurnEnd     EventKind = "turn.end"
	EventTranscript  EventKind = "transcript"
)

// Event is a turn-tracker emission, queued for relaycore to encode and send.
type Event struct {
	Kind EventKind
	Turn Turn
}

// AssessmentRequest is enqueued when a final transcript fragment arrives
// for the current learner turn with pronunciation feedback enabled; the turn
// may still be open. Relaycore drains these and hands them to the assessor
// using the turn's accumulated ring-buffer audio.
type AssessmentRequest struct {
	TurnID string
}

// TurnTracker maintains a session's turn log and current-turn pointer,
// enforcing the strict sequencing and ordering guarantees: sequence numbers
// are dense and increasing, at most one current turn is open at a time, and
// a turn is finalized before any later turn's events are observable.
type TurnTracker struct {
	sess *Session

	events      []Event
	assessments []AssessmentRequest
}

// NewTurnTracker creates a tracker bound to sess. Callers must hold
// sess.Mu for every method call, matching the rest of the session's
// single-writer discipline.
func NewTurnTracker(sess *Session) *TurnTracker {
	return &TurnTracker{sess: sess}
}

// Start opens a new turn for speaker. If a turn is already open for a
// different speaker, it is closed first via endCurrentLocked. Starting a
// turn for the same speaker that is already current is a no-op.
func (t *TurnTracker) Start(speaker Speaker) {
	s := t.sess
	if s.CurrentTurn != nil {
		if s.CurrentTurn.Speaker == speaker {
			return
		}
		t.endCurrentLocked()
	}

	turn := Turn{
		TurnID:    uuid.NewString(),
		Speaker:   speaker,
		Sequence:  len(s.Turns) + 1,
		StartedAt: time.Now(),
	}
	s.CurrentTurn = &turn
	t.events = append(t.events, Event{Kind: EventTurnStart, Turn: turn})
}

// AppendPartial records a transcript fragment against the current turn. It
// is ignored if there is no current turn or the current turn belongs to a
// different speaker than the one reported alongside the fragment, since a
// stray late fragment from a just-closed turn must not resurrect it.
func (t *TurnTracker) AppendPartial(speaker Speaker, text string, isFinal bool, language string, confidence float64) {
	s := t.sess
	if s.CurrentTurn == nil || s.CurrentTurn.Speaker != speaker {
		return
	}

	s.CurrentTurn.Partials = append(s.CurrentTurn.Partials, text)
	if language != "" {
		s.CurrentTurn.Language = language
	}
	if confidence != 0 {
		s.CurrentTurn.Confidence = confidence
	}
	s.CurrentTurn.IsFinal = isFinal

	t.events = append(t.events, Event{Kind: EventTranscript, Turn: *s.CurrentTurn})

	if isFinal && speaker == SpeakerLearner && s.Config.PronunciationFeedback {
		t.assessments = append(t.assessments, AssessmentRequest{TurnID: s.CurrentTurn.TurnID})
	}
}

// EndCurrent closes the current turn, if any, per endCurrentLocked.
func (t *TurnTracker) EndCurrent() {
	t.endCurrentLocked()
}

func (t *TurnTracker) endCurrentLocked() {
	s := t.sess
	if s.CurrentTurn == nil {
		return
	}

	turn := s.CurrentTurn
	now := time.Now()
	turn.EndedAt = &now
	turn.FinalTranscript = strings.Join(turn.Partials, "")

	duration := now.Sub(turn.StartedAt).Milliseconds()
	switch turn.Speaker {
	case SpeakerLearner:
		s.Metrics.LearnerSpeakingMs += duration
	case SpeakerAgent:
		s.Metrics.AgentSpeakingMs += duration
	}

	s.Turns = append(s.Turns, *turn)
	s.Metrics.TurnCount = len(s.Turns)
	t.events = append(t.events, Event{Kind: EventTurnEnd, Turn: *turn})

	s.CurrentTurn = nil
}

// DrainEvents returns and clears the queued emission events, in emission
// order.
func (t *TurnTracker) DrainEvents() []Event {
	if len(t.events) == 0 {
		return nil
	}
	out := t.events
	t.events = nil
	return out
}

// DrainAssessments returns and clears the queued assessment requests.
func (t *TurnTracker) DrainAssessments() []AssessmentRequest {
	if len(t.assessments) == 0 {
		return nil
	}
	out := t.assessments
	t.assessments = nil
	return out
}
