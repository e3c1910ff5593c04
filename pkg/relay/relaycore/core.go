// Package relaycore implements the bidirectional audio/control relay
// between a learner's WebSocket and the dialed upstream provider: frame
// classification, the client and upstream dispatch tables, turn tracking,
// pronunciation-assessment scheduling, and the session state machine.
package relaycore

import (
	"context"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corallang/voicerelay/internal/syncutil"
	"github.com/corallang/voicerelay/o11y"
	"github.com/corallang/voicerelay/pkg/relay/assessor"
	"github.com/corallang/voicerelay/pkg/relay/frame"
	"github.com/corallang/voicerelay/pkg/relay/persistence"
	"github.com/corallang/voicerelay/pkg/relay/relayerr"
	"github.com/corallang/voicerelay/pkg/relay/session"
	"github.com/corallang/voicerelay/resilience"
)

// persistTurnRetryPolicy governs retries of a single SaveTurn call. Turn
// persistence runs off the session's hot path, so it can afford a few
// attempts against a transient store error without risking relay latency.
var persistTurnRetryPolicy = resilience.RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     1 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         true,
}

// FrameWriter is satisfied by both the learner socket and the upstream
// Conn: it is the minimal write surface relaycore needs.
type FrameWriter interface {
	WriteBinary(data []byte) error
	WriteText(data []byte) error
}

// EventPublisher is the best-effort event bus relaycore announces session
// lifecycle events on. Publish errors are logged, never escalated.
type EventPublisher interface {
	Publish(topic string, payload any) error
}

// Core wires one session's turn tracker, sockets, assessor, persistence
// sink, and event bus together. A Core instance is owned by exactly one
// session and must not be shared.
type Core struct {
	Sess        *session.Session
	Tracker     *session.TurnTracker
	Learner     FrameWriter
	Upstream    FrameWriter
	Assessor    assessor.Assessor
	Persistence persistence.Sink
	Events      EventPublisher
	Logger      *o11y.Logger

	// FeedbackThreshold is the assessor word score below which a word is
	// surfaced via "pronunciation.feedback".
	FeedbackThreshold float64

	// PersistPool bounds the concurrency of asynchronous turn persistence
	// across every session sharing it. When nil, SaveTurn runs inline on
	// the session's event loop instead.
	PersistPool *syncutil.WorkerPool
}

func (c *Core) threshold() float64 {
	if c.FeedbackThreshold == 0 {
		return assessor.FeedbackThreshold
	}
	return c.FeedbackThreshold
}

func (c *Core) logf(ctx context.Context, msg string, args ...any) {
	if c.Logger != nil {
		c.Logger.Debug(ctx, msg, args...)
	}
}

// sendLearner marshals v and writes it to the learner as a text control
// frame. Marshal failures are logged and swallowed: they reflect a bug in
// relaycore's own message construction, not a client-facing condition.
func (c *Core) sendLearner(ctx context.Context, v any) {
	data, err := frame.Encode(v)
	if err != nil {
		c.logf(ctx, "relaycore: failed to encode outbound message", "err", err)
		return
	}
	if err := c.Learner.WriteText(data); err != nil {
		c.Sess.Mu.Lock()
		c.Sess.Metrics.RecordError(err.Error())
		c.Sess.Mu.Unlock()
	}
}

func (c *Core) publish(topic string, payload any) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Publish(topic, payload); err != nil {
		c.logf(context.Background(), "relaycore: event publish failed", "topic", topic, "err", err)
	}
}

// outwardRole translates an internal session.State into the relay's
// learner-facing "agent.state" vocabulary. States with no direct mapping
// (connecting, ready, paused, ending, closed) surface as "waiting": the
// learner-facing contract only distinguishes who is talking and whether
// the agent is composing a reply.
func outwardRole(state session.State) string {
	switch state {
	case session.StateLearnerSpeaking:
		return "listening"
	case session.StateAgentThinking:
		return "thinking"
	case session.StateAgentSpeaking:
		return "speaking"
	default:
		return "waiting"
	}
}

// emitAgentState sends "agent.state" for the session's current state. It is
// emitted on every state-entry transition per the relay's state machine.
func (c *Core) emitAgentState(ctx context.Context, state session.State) {
	c.sendLearner(ctx, frame.AgentState{Type: frame.TypeAgentState, State: outwardRole(state)})
}

// transition moves the session to state and emits "agent.state", unless the
// session is already terminal.
func (c *Core) transition(ctx context.Context, state session.State) {
	c.Sess.Mu.Lock()
	already := c.Sess.State.IsTerminal()
	c.Sess.Transition(state)
	c.Sess.Mu.Unlock()
	if !already {
		c.emitAgentState(ctx, state)
	}
}

// drainTurnEvents flushes the tracker's queued events to the learner as
// control messages. Callers must already hold Sess.Mu; drainTurnEvents
// releases it while writing and persisting, and re-acquires it before
// returning so the caller's own Unlock stays balanced.
func (c *Core) drainTurnEvents(ctx context.Context) {
	events := c.Tracker.DrainEvents()
	if len(events) == 0 {
		return
	}
	c.Sess.Mu.Unlock()
	defer c.Sess.Mu.Lock()
	for _, ev := range events {
		switch ev.Kind {
		case session.EventTurnStart:
			c.sendLearner(ctx, frame.TurnStart{
				Type: frame.TypeTurnStart, TurnID: ev.Turn.TurnID,
				Speaker: ev.Turn.Speaker, Sequence: ev.Turn.Sequence,
			})
		case session.EventTurnEnd:
			c.sendLearner(ctx, frame.TurnEnd{
				Type: frame.TypeTurnEnd, TurnID: ev.Turn.TurnID,
				Speaker: ev.Turn.Speaker, Sequence: ev.Turn.Sequence,
				FinalTranscript: ev.Turn.FinalTranscript,
			})
			c.persistTurn(ctx, ev.Turn)
		case session.EventTranscript:
			last := ""
			if n := len(ev.Turn.Partials); n > 0 {
				last = ev.Turn.Partials[n-1]
			}
			c.sendLearner(ctx, frame.Transcript{
				Type: frame.TypeTranscript, TurnID: ev.Turn.TurnID,
				Speaker: ev.Turn.Speaker, Text: last, IsFinal: ev.Turn.IsFinal,
				Language: ev.Turn.Language, Confidence: ev.Turn.Confidence,
			})
		}
	}
}

func (c *Core) persistTurn(ctx context.Context, turn session.Turn) {
	if c.Persistence == nil {
		return
	}
	sessionID := c.Sess.SessionID
	save := func(saveCtx context.Context) {
		_, err := resilience.Retry(saveCtx, persistTurnRetryPolicy, func(attemptCtx context.Context) (struct{}, error) {
			return struct{}{}, c.Persistence.SaveTurn(attemptCtx, sessionID, turn)
		})
		if err != nil {
			c.logf(ctx, "relaycore: persistence save_turn failed", "err", err, "turn_id", turn.TurnID)
		}
	}

	if c.PersistPool == nil {
		save(ctx)
		return
	}

	saveCtx := context.WithoutCancel(ctx)
	if err := c.PersistPool.Submit(func() { save(saveCtx) }); err != nil {
		c.logf(ctx, "relaycore: persist pool closed, saving turn inline", "err", err, "turn_id", turn.TurnID)
		save(ctx)
	}
}

// drainAssessments runs pronunciation assessment for every request the
// tracker queued on a final learner transcript fragment. Assessor failures
// are logged, never fatal: the turn keeps no assessment.
func (c *Core) drainAssessments(ctx context.Context) {
	reqs := c.Tracker.DrainAssessments()
	for _, req := range reqs {
		c.runAssessment(ctx, req.TurnID)
	}
}

func (c *Core) runAssessment(ctx context.Context, turnID string) {
	if c.Assessor == nil {
		return
	}

	c.Sess.Mu.Lock()
	audio := c.Sess.Ring.Take()
	var transcript string
	if cur := c.Sess.CurrentTurn; cur != nil && cur.TurnID == turnID {
		transcript = strings.Join(cur.Partials, "")
	}
	for i := len(c.Sess.Turns) - 1; i >= 0; i-- {
		if c.Sess.Turns[i].TurnID == turnID {
			transcript = c.Sess.Turns[i].FinalTranscript
			break
		}
	}
	c.Sess.Mu.Unlock()

	result, err := c.Assessor.Assess(ctx, turnID, transcript, audio)
	if err != nil {
		c.Sess.Mu.Lock()
		c.Sess.Metrics.RecordError(err.Error())
		c.Sess.Mu.Unlock()
		c.logf(ctx, "relaycore: assessment failed", "turn_id", turnID, "err", err)
		return
	}

	c.Sess.Mu.Lock()
	if cur := c.Sess.CurrentTurn; cur != nil && cur.TurnID == turnID {
		cur.Assessment = &result
	}
	for i := range c.Sess.Turns {
		if c.Sess.Turns[i].TurnID == turnID {
			c.Sess.Turns[i].Assessment = &result
		}
	}
	c.Sess.Mu.Unlock()

	c.sendLearner(ctx, frame.AssessmentMessage{Type: frame.TypeAssessment, TurnID: turnID, Assessment: result})

	if words := assessor.WordsBelow(result, c.threshold()); len(words) > 0 {
		c.sendLearner(ctx, frame.PronunciationFeedback{Type: frame.TypePronunciationFeedback, TurnID: turnID, Words: words})
	}
}

// HandleLearnerBinary processes an inbound audio frame from the learner:
// activity refresh, turn-open-on-demand, ring-buffer accumulation, and
// forwarding upstream.
func (c *Core) HandleLearnerBinary(ctx context.Context, data []byte) error {
	c.Sess.Mu.Lock()
	c.Sess.Touch()
	c.Tracker.Start(session.SpeakerLearner)
	c.Sess.Metrics.BytesReceived += int64(len(data))
	c.Sess.Ring.Append(data)
	c.drainTurnEvents(ctx)
	c.Sess.Mu.Unlock()

	c.transition(ctx, session.StateLearnerSpeaking)

	if err := c.Upstream.WriteBinary(data); err != nil {
		return c.fatal(ctx, relayerr.New("relaycore.forward_upstream", relayerr.CodeAgentDisconnected, err))
	}
	return nil
}

// HandleLearnerText dispatches an inbound control message from the
// learner per the client-to-server dispatch table.
func (c *Core) HandleLearnerText(ctx context.Context, data []byte) error {
	typ, err := frame.ControlType(data)
	if err != nil {
		c.sendLearner(ctx, frame.NewErrorMessage(err))
		return nil
	}

	switch typ {
	case frame.TypeSessionStop:
		return c.fatal(ctx, relayerr.Newf("relaycore.session_stop", relayerr.CodeNoActiveSession, "client requested stop"))

	case frame.TypeSessionConfig:
		var msg frame.SessionConfigUpdate
		if err := frame.Decode(data, &msg); err != nil {
			c.sendLearner(ctx, frame.NewErrorMessage(err))
			return nil
		}
		c.Sess.Mu.Lock()
		c.Sess.Config.Apply(msg.Config)
		c.Sess.Mu.Unlock()
		return nil

	case frame.TypeSessionInterrupt:
		if err := c.Upstream.WriteText(mustEncode(map[string]string{"type": "interrupt"})); err != nil {
			return c.fatal(ctx, relayerr.New("relaycore.interrupt", relayerr.CodeAgentDisconnected, err))
		}
		c.Sess.Mu.Lock()
		c.Tracker.EndCurrent()
		c.drainTurnEvents(ctx)
		c.Sess.Mu.Unlock()
		return nil

	case frame.TypeSessionTranscript:
		c.Sess.Mu.Lock()
		turns := append([]session.Turn(nil), c.Sess.Turns...)
		c.Sess.Mu.Unlock()
		for _, t := range turns {
			c.sendLearner(ctx, frame.Transcript{
				Type: frame.TypeTranscript, TurnID: t.TurnID, Speaker: t.Speaker,
				Text: t.FinalTranscript, IsFinal: true, Language: t.Language,
			})
		}
		return nil

	case frame.TypePing:
		var ping frame.Ping
		if err := frame.Decode(data, &ping); err != nil {
			c.sendLearner(ctx, frame.NewErrorMessage(err))
			return nil
		}
		now := time.Now().UnixMilli()
		latency := now - ping.Timestamp
		if latency < 0 {
			latency = 0
		}
		c.Sess.Mu.Lock()
		c.Sess.Metrics.RecordRTT(float64(latency))
		c.Sess.Mu.Unlock()
		c.sendLearner(ctx, frame.Pong{Type: frame.TypePong, Timestamp: ping.Timestamp, ServerTimestamp: now, LatencyMs: latency})
		return nil

	case frame.TypeSessionStart:
		// A second session.start for an already-admitted session is
		// handled by the supervisor before relaycore ever sees frames;
		// here it is a no-op re-announcement of readiness.
		return nil

	default:
		c.sendLearner(ctx, frame.NewErrorMessage(
			relayerr.Newf("relaycore.dispatch", relayerr.CodeUnknownMessageType, "unknown message type %q", typ),
		))
		return nil
	}
}

// HandleUpstreamBinary processes an inbound audio frame from upstream:
// activity refresh, agent-turn-open-on-demand, byte accounting, and
// forwarding to the learner.
func (c *Core) HandleUpstreamBinary(ctx context.Context, data []byte) error {
	c.Sess.Mu.Lock()
	c.Sess.Touch()
	c.Tracker.Start(session.SpeakerAgent)
	c.Sess.Metrics.BytesSent += int64(len(data))
	c.drainTurnEvents(ctx)
	c.Sess.Mu.Unlock()

	c.transition(ctx, session.StateAgentSpeaking)

	if err := c.Learner.WriteBinary(data); err != nil {
		return c.fatal(ctx, relayerr.New("relaycore.forward_learner", relayerr.CodeAgentDisconnected, err))
	}
	return nil
}

// upstreamEnvelope captures the discriminator plus the union of fields the
// upstream dispatch table's message kinds carry.
type upstreamEnvelope struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// HandleUpstreamText dispatches an inbound control message from upstream
// per the upstream dispatch table.
func (c *Core) HandleUpstreamText(ctx context.Context, data []byte) error {
	var env upstreamEnvelope
	if err := frame.Decode(data, &env); err != nil {
		c.logf(ctx, "relaycore: unparseable upstream text, ignoring", "err", err)
		return nil
	}

	switch env.Type {
	case "agent_response", "transcript":
		c.Sess.Mu.Lock()
		c.Sess.Touch()
		c.Tracker.Start(session.SpeakerAgent)
		c.Tracker.AppendPartial(session.SpeakerAgent, env.Text, env.IsFinal, env.Language, env.Confidence)
		c.drainTurnEvents(ctx)
		c.Sess.Mu.Unlock()
		c.transition(ctx, session.StateAgentSpeaking)
		return nil

	case "user_transcript":
		c.Sess.Mu.Lock()
		c.Sess.Touch()
		c.Tracker.Start(session.SpeakerLearner)
		c.Tracker.AppendPartial(session.SpeakerLearner, env.Text, env.IsFinal, env.Language, env.Confidence)
		c.drainTurnEvents(ctx)
		c.Sess.Mu.Unlock()
		c.drainAssessments(ctx)
		return nil

	case "interruption":
		c.Sess.Mu.Lock()
		c.Tracker.EndCurrent()
		c.drainTurnEvents(ctx)
		c.Sess.Mu.Unlock()
		c.transition(ctx, session.StateReady)
		return nil

	case "turn_end":
		c.Sess.Mu.Lock()
		c.Tracker.EndCurrent()
		c.drainTurnEvents(ctx)
		c.Sess.Mu.Unlock()
		c.drainAssessments(ctx)
		c.transition(ctx, session.StateReady)
		return nil

	case "end":
		return c.fatal(ctx, relayerr.Newf("relaycore.upstream_end", relayerr.CodeAgentDisconnected, "upstream ended the conversation"))

	case "audio":
		// Binary audio announced via a text envelope carries no payload
		// relaycore needs to act on beyond what HandleUpstreamBinary
		// already does for the accompanying binary frame.
		return nil

	default:
		c.logf(ctx, "relaycore: unknown upstream message type, ignoring", "type", env.Type)
		return nil
	}
}

// Ready transitions the session into the ready state once the upstream
// dial succeeds, announcing "session.ready" and publishing the session
// start event. This is the first emission for a session and must precede
// every other emission, per the relay's ordering guarantee.
func (c *Core) Ready(ctx context.Context) {
	c.sendLearner(ctx, frame.SessionReady{Type: frame.TypeSessionReady, SessionID: c.Sess.SessionID})
	c.transition(ctx, session.StateReady)
	c.publish("voice.session.started", c.Sess.SessionID)
}

// End transitions the session to ending then closed, flushing the
// terminal summary to the learner, the persistence sink, and the event
// bus. End is idempotent: calling it on an already-closed session is a
// no-op.
func (c *Core) End(ctx context.Context, reason string) {
	c.Sess.Mu.Lock()
	if c.Sess.State == session.StateClosed {
		c.Sess.Mu.Unlock()
		return
	}
	c.Tracker.EndCurrent()
	c.drainTurnEvents(ctx)
	c.Sess.Transition(session.StateEnding)
	summary := c.Sess.Summarize(reason)
	c.Sess.Mu.Unlock()

	c.sendLearner(ctx, frame.SessionEnd{Type: frame.TypeSessionEnd, Summary: summary})

	if c.Persistence != nil {
		if err := c.Persistence.SaveSummary(ctx, summary); err != nil {
			c.logf(ctx, "relaycore: persistence save_summary failed", "err", err)
		}
	}
	c.publish("voice.session.ended", summary)

	c.Sess.Mu.Lock()
	c.Sess.Transition(session.StateClosed)
	c.Sess.Mu.Unlock()
}

// fatal ends the session with err's code as the reason and returns err, so
// the caller's read loop can unwind.
func (c *Core) fatal(ctx context.Context, err error) error {
	c.Sess.Mu.Lock()
	c.Sess.Metrics.RecordError(err.Error())
	c.Sess.Mu.Unlock()

	reason := "error"
	if e := relayerr.As(err); e != nil {
		reason = string(e.Code)
	}
	c.End(ctx, reason)
	return err
}

func mustEncode(v any) []byte {
	data, err := frame.Encode(v)
	if err != nil {
		return nil
	}
	return data
}

// MessageType re-exports gorilla/websocket's frame type constants so
// callers wiring real sockets don't need a second import for them.
const (
	BinaryMessage = websocket.BinaryMessage
	TextMessage   = websocket.TextMessage
)
