// Package session defines the relay's core data model: the Session record,
// its Configuration, Turn history, and Metrics, plus the TurnTracker that
// maintains turn state and ordering guarantees on top of them.
//
// A Session is data only — it has no goroutines of its own. Relaycore,
// the heartbeat/watchdog, and the turn tracker all read and mutate it
// through the supervisor's single-writer serialization discipline.
package session

import (
	"sort"
	"sync"
	"time"
)

// State is one of the session lifecycle states.
type State string

const (
	StateConnecting     State = "connecting"
	StateReady          State = "ready"
	StateLearnerSpeaking State = "learner_speaking"
	StateAgentThinking  State = "agent_thinking"
	StateAgentSpeaking  State = "agent_speaking"
	StatePaused         State = "paused"
	StateEnding         State = "ending"
	StateClosed         State = "closed"
)

// IsTerminal reports whether s is the sole terminal state, closed.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// Speaker identifies which party produced a turn.
type Speaker string

const (
	SpeakerLearner Speaker = "learner"
	SpeakerAgent   Speaker = "agent"
)

// Default configuration values, per the relay's external contract.
const (
	DefaultAudioFormat            = "pcm_16000"
	DefaultSampleRate             = 16000
	DefaultChannels               = 1
	DefaultVADSensitivity         = 0.5
	DefaultInterruptionThreshold  = 0.5
	DefaultTurnTimeoutMs          = 3000
	DefaultPronunciationFeedback  = true
	DefaultMaxDurationMs          = 1_800_000
	MinTurnTimeoutMs              = 500
	MaxTurnTimeoutMs              = 10_000
	DefaultPronunciationThreshold = 0.6
	DefaultMaxAudioBufferBytes    = 1_048_576
)

// Configuration holds the per-session tunables. Clamp normalizes out-of-range
// values rather than rejecting them, per the relay's "best effort" posture
// toward client-supplied tuning.
type Configuration struct {
	AudioFormat           string  `json:"audioFormat"`
	SampleRate            int     `json:"sampleRate"`
	Channels              int     `json:"channels"`
	VADSensitivity        float64 `json:"vadSensitivity"`
	InterruptionThreshold float64 `json:"interruptionThreshold"`
	TurnTimeoutMs         int     `json:"turnTimeoutMs"`
	PronunciationFeedback bool    `json:"pronunciationFeedback"`
	MaxDurationMs         int     `json:"maxDurationMs"`
}

// ConfigPatch is a partial "session.config" update. Only these four fields
// are live-tunable; pointers distinguish an absent field from an explicit
// zero or false value, which Configuration's own zero-value-means-unset
// convention cannot do for PronunciationFeedback.
type ConfigPatch struct {
	VADSensitivity        *float64 `json:"vadSensitivity,omitempty"`
	InterruptionThreshold *float64 `json:"interruptionThreshold,omitempty"`
	TurnTimeoutMs         *int     `json:"turnTimeout,omitempty"`
	PronunciationFeedback *bool    `json:"pronunciationFeedback,omitempty"`
}

// DefaultConfiguration returns the configuration applied when a session
// does not specify one.
func DefaultConfiguration() Configuration {
	return Configuration{
		AudioFormat:           DefaultAudioFormat,
		SampleRate:            DefaultSampleRate,
		Channels:              DefaultChannels,
		VADSensitivity:        DefaultVADSensitivity,
		InterruptionThreshold: DefaultInterruptionThreshold,
		TurnTimeoutMs:         DefaultTurnTimeoutMs,
		PronunciationFeedback: DefaultPronunciationFeedback,
		MaxDurationMs:         DefaultMaxDurationMs,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Apply merges patch into c, clamping every tunable field to its declared
// range. Only the four live-tunable fields are touched; a nil field in
// patch means "not named by this update" and leaves c unchanged.
func (c *Configuration) Apply(patch ConfigPatch) {
	if patch.VADSensitivity != nil {
		c.VADSensitivity = clamp(*patch.VADSensitivity, 0, 1)
	}
	if patch.InterruptionThreshold != nil {
		c.InterruptionThreshold = clamp(*patch.InterruptionThreshold, 0, 1)
	}
	if patch.TurnTimeoutMs != nil {
		c.TurnTimeoutMs = clampInt(*patch.TurnTimeoutMs, MinTurnTimeoutMs, MaxTurnTimeoutMs)
	}
	if patch.PronunciationFeedback != nil {
		c.PronunciationFeedback = *patch.PronunciationFeedback
	}
}

// Assessment is the pronunciation assessor's scored summary of a turn.
type Assessment struct {
	OverallScore float64            `json:"overallScore"`
	WordScores   map[string]float64 `json:"wordScores,omitempty"`
}

// Turn is one contiguous span of speech from a single speaker.
type Turn struct {
	TurnID          string
	Speaker         Speaker
	Sequence        int
	StartedAt       time.Time
	EndedAt         *time.Time
	Partials        []string
	FinalTranscript string
	Language        string
	Confidence      float64
	IsFinal         bool
	Assessment      *Assessment
}

// errorLogCap bounds the number of errors retained in Metrics.Errors.
const errorLogCap = 20

// rttSampleCap bounds the number of RTT samples retained in Metrics.
const rttSampleCap = 50

// Metrics accumulates counters for a session's lifetime.
type Metrics struct {
	BytesReceived     int64
	BytesSent         int64
	TurnCount         int
	LearnerSpeakingMs int64
	AgentSpeakingMs   int64
	RTTSamplesMs      []float64
	ReconnectAttempts int
	Errors            []string
}

// RecordRTT appends a round-trip sample, evicting the oldest when full.
func (m *Metrics) RecordRTT(ms float64) {
	m.RTTSamplesMs = append(m.RTTSamplesMs, ms)
	if len(m.RTTSamplesMs) > rttSampleCap {
		m.RTTSamplesMs = m.RTTSamplesMs[len(m.RTTSamplesMs)-rttSampleCap:]
	}
}

// RecordError appends an error message, evicting the oldest when full.
func (m *Metrics) RecordError(msg string) {
	m.Errors = append(m.Errors, msg)
	if len(m.Errors) > errorLogCap {
		m.Errors = m.Errors[len(m.Errors)-errorLogCap:]
	}
}

// Session is the relay's per-connection record. It is owned exclusively by
// the supervisor and mutated only while holding Mu, released around any
// blocking I/O per the relay's single-writer concurrency discipline.
type Session struct {
	Mu sync.Mutex

	SessionID    string
	TenantID     string
	LearnerID    string
	AgentID      string
	WebsocketURL string

	Config Configuration

	State State

	Turns       []Turn
	CurrentTurn *Turn

	Ring *RingBuffer

	Metrics Metrics

	StartedAt      time.Time
	LastActivityAt time.Time
}

// New creates a Session in the initial connecting state.
func New(sessionID, tenantID, learnerID, agentID string, cfg Configuration, ringCap int) *Session {
	now := time.Now()
	return &Session{
		SessionID:      sessionID,
		TenantID:       tenantID,
		LearnerID:      learnerID,
		AgentID:        agentID,
		Config:         cfg,
		State:          StateConnecting,
		Ring:           NewRingBuffer(ringCap),
		StartedAt:      now,
		LastActivityAt: now,
	}
}

// Touch refreshes the session's last-activity timestamp. Callers must hold
// Mu.
func (s *Session) Touch() {
	s.LastActivityAt = time.Now()
}

// Transition moves the session to state, provided it is not already closed.
// Transitioning a closed session is a no-op, keeping cleanup idempotent.
func (s *Session) Transition(state State) {
	if s.State.IsTerminal() {
		return
	}
	s.State = state
}

// Summary is the terminal snapshot sent in "session.end" and handed to the
// persistence sink.
type Summary struct {
	SessionID            string    `json:"sessionId"`
	TenantID             string    `json:"tenantId"`
	LearnerID            string    `json:"learnerId"`
	AgentID              string    `json:"agentId"`
	TurnCount            int       `json:"turnCount"`
	BytesReceived        int64     `json:"bytesReceived"`
	BytesSent            int64     `json:"bytesSent"`
	LearnerSpeakingMs    int64     `json:"learnerSpeakingMs"`
	AgentSpeakingMs      int64     `json:"agentSpeakingMs"`
	StartedAt            time.Time `json:"startedAt"`
	EndedAt              time.Time `json:"endedAt"`
	DurationMs           int64     `json:"durationMs"`
	AveragePronunciation *float64  `json:"averagePronunciation,omitempty"`
	AverageGrammar       *float64  `json:"averageGrammar,omitempty"`
	AverageFluency       *float64  `json:"averageFluency,omitempty"`
	TopIssues            []string  `json:"topIssues,omitempty"`
	CompetenciesUpdated  []string  `json:"competenciesUpdated,omitempty"`
	Reason               string    `json:"reason"`
}

// topIssuesLimit bounds how many words Summarize surfaces as topIssues.
const topIssuesLimit = 5

// Summarize builds the terminal Summary, aggregating every turn's
// pronunciation assessment into session-level averages and issue/
// competency lists. Callers must hold Mu. Grammar and fluency scoring are
// not produced by the assessor collaborator, so AverageGrammar and
// AverageFluency are left nil rather than fabricated.
func (s *Session) Summarize(reason string) Summary {
	now := time.Now()
	sum := Summary{
		SessionID:         s.SessionID,
		TenantID:          s.TenantID,
		LearnerID:         s.LearnerID,
		AgentID:           s.AgentID,
		TurnCount:         s.Metrics.TurnCount,
		BytesReceived:     s.Metrics.BytesReceived,
		BytesSent:         s.Metrics.BytesSent,
		LearnerSpeakingMs: s.Metrics.LearnerSpeakingMs,
		AgentSpeakingMs:   s.Metrics.AgentSpeakingMs,
		StartedAt:         s.StartedAt,
		EndedAt:           now,
		DurationMs:        now.Sub(s.StartedAt).Milliseconds(),
		Reason:            reason,
	}

	var totalScore float64
	var scoredTurns int
	worstByWord := make(map[string]float64)
	competencies := make(map[string]struct{})
	for _, t := range s.Turns {
		if t.Assessment == nil {
			continue
		}
		totalScore += t.Assessment.OverallScore
		scoredTurns++
		for word, score := range t.Assessment.WordScores {
			competencies[word] = struct{}{}
			if score >= DefaultPronunciationThreshold {
				continue
			}
			if existing, ok := worstByWord[word]; !ok || score < existing {
				worstByWord[word] = score
			}
		}
	}
	if scoredTurns > 0 {
		avg := totalScore / float64(scoredTurns)
		sum.AveragePronunciation = &avg
	}
	if len(worstByWord) > 0 {
		sum.TopIssues = worstWords(worstByWord, topIssuesLimit)
	}
	if len(competencies) > 0 {
		sum.CompetenciesUpdated = sortedWordSet(competencies)
	}
	return sum
}

// worstWords returns the lowest-scoring words in scores, worst first,
// capped at limit. Ties break alphabetically for determinism.
func worstWords(scores map[string]float64, limit int) []string {
	words := make([]string, 0, len(scores))
	for w := range scores {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if scores[words[i]] != scores[words[j]] {
			return scores[words[i]] < scores[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

func sortedWordSet(set map[string]struct{}) []string {
	words := make([]string, 0, len(set))
	for w := range set {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}
