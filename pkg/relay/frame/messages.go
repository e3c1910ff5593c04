package frame

import "github.com/corallang/voicerelay/pkg/relay/session"

// Client-to-server control message types.
const (
	TypeSessionStart     = "session.start"
	TypeSessionStop      = "session.stop"
	TypeSessionConfig    = "session.config"
	TypeSessionInterrupt = "session.interrupt"
	TypeSessionTranscript = "session.transcript"
	TypePing             = "ping"
)

// Server-to-client control message types.
const (
	TypeSessionReady         = "session.ready"
	TypeTurnStart            = "turn.start"
	TypeTurnEnd              = "turn.end"
	TypeTranscript           = "transcript"
	TypeAssessment           = "assessment"
	TypePronunciationFeedback = "pronunciation.feedback"
	TypeAgentState           = "agent.state"
	TypeSessionEnd           = "session.end"
	TypeError                = "error"
	TypePong                 = "pong"
)

// SessionStart is the client request to begin a session, either as the
// first message on a freshly-upgraded socket or explicitly after connect.
type SessionStart struct {
	Type      string                `json:"type"`
	SessionID string                `json:"sessionId"`
	AgentID   string                `json:"agentId"`
	Config    session.Configuration `json:"config,omitempty"`
}

// SessionStop is the client request to end the session early.
type SessionStop struct {
	Type string `json:"type"`
}

// SessionConfigUpdate patches a subset of the session's tunables.
type SessionConfigUpdate struct {
	Type   string              `json:"type"`
	Config session.ConfigPatch `json:"config"`
}

// SessionInterrupt signals the learner is interrupting the agent's speech.
type SessionInterrupt struct {
	Type string `json:"type"`
}

// SessionTranscriptReplay requests replay of the turn log.
type SessionTranscriptReplay struct {
	Type string `json:"type"`
}

// Ping carries a client timestamp echoed back in Pong.
type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Pong answers a Ping, echoing its timestamp unchanged and reporting the
// server's own clock so the client can compute one-way skew as well as
// round-trip latency.
type Pong struct {
	Type            string `json:"type"`
	Timestamp       int64  `json:"timestamp"`
	ServerTimestamp int64  `json:"serverTimestamp"`
	LatencyMs       int64  `json:"latencyMs"`
}

// SessionReady announces the session has finished admission and upstream
// dial-out and is ready to relay audio.
type SessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// TurnStart announces a new turn has begun.
type TurnStart struct {
	Type     string          `json:"type"`
	TurnID   string          `json:"turnId"`
	Speaker  session.Speaker `json:"speaker"`
	Sequence int             `json:"sequence"`
}

// TurnEnd announces a turn has finished, with its final transcript.
type TurnEnd struct {
	Type            string          `json:"type"`
	TurnID          string          `json:"turnId"`
	Speaker         session.Speaker `json:"speaker"`
	Sequence        int             `json:"sequence"`
	FinalTranscript string          `json:"finalTranscript"`
}

// Transcript carries a partial or final transcript fragment for the
// current turn.
type Transcript struct {
	Type       string          `json:"type"`
	TurnID     string          `json:"turnId"`
	Speaker    session.Speaker `json:"speaker"`
	Text       string          `json:"text"`
	IsFinal    bool            `json:"isFinal"`
	Language   string          `json:"language,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
}

// AssessmentMessage carries the pronunciation assessor's scored summary for
// a completed learner turn.
type AssessmentMessage struct {
	Type       string             `json:"type"`
	TurnID     string             `json:"turnId"`
	Assessment session.Assessment `json:"assessment"`
}

// PronunciationFeedback flags individual words scoring below the feedback
// threshold.
type PronunciationFeedback struct {
	Type   string   `json:"type"`
	TurnID string   `json:"turnId"`
	Words  []string `json:"words"`
}

// AgentState is emitted on every session-state entry.
type AgentState struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// SessionEnd carries the terminal summary when a session closes.
type SessionEnd struct {
	Type    string          `json:"type"`
	Summary session.Summary `json:"summary"`
}
