package relaycore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corallang/voicerelay/internal/syncutil"
	"github.com/corallang/voicerelay/pkg/relay/assessor"
	"github.com/corallang/voicerelay/pkg/relay/frame"
	"github.com/corallang/voicerelay/pkg/relay/persistence"
	"github.com/corallang/voicerelay/pkg/relay/session"
)

// fakeWriter records everything written to it for assertions, and can be
// told to fail the next write to simulate a dead socket.
type fakeWriter struct {
	mu      sync.Mutex
	binary  [][]byte
	text    []map[string]any
	failErr error
}

func (f *fakeWriter) WriteBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.binary = append(f.binary, data)
	return nil
}

func (f *fakeWriter) WriteText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	f.text = append(f.text, m)
	return nil
}

func (f *fakeWriter) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.text {
		out = append(out, m["type"].(string))
	}
	return out
}

func newTestCore() (*Core, *fakeWriter, *fakeWriter, *persistence.InMemorySink) {
	sess := session.New("sess-1", "tenant-1", "learner-1", "agent-1", session.DefaultConfiguration(), 1024)
	learner := &fakeWriter{}
	up := &fakeWriter{}
	sink := persistence.NewInMemorySink()
	core := &Core{
		Sess:        sess,
		Tracker:     session.NewTurnTracker(sess),
		Learner:     learner,
		Upstream:    up,
		Assessor:    assessor.NewStub(),
		Persistence: sink,
	}
	return core, learner, up, sink
}

func TestReadyEmitsSessionReadyFirst(t *testing.T) {
	core, learner, _, _ := newTestCore()
	core.Ready(t.Context())

	types := learner.types()
	require.NotEmpty(t, types)
	assert.Equal(t, frame.TypeSessionReady, types[0])
	assert.Equal(t, session.StateReady, core.Sess.State)
}

func TestHandleLearnerBinaryForwardsAndOpensTurn(t *testing.T) {
	core, _, up, _ := newTestCore()
	require.NoError(t, core.HandleLearnerBinary(t.Context(), []byte("audio")))

	require.Len(t, up.binary, 1)
	assert.Equal(t, "audio", string(up.binary[0]))
	assert.Equal(t, session.StateLearnerSpeaking, core.Sess.State)
	assert.NotNil(t, core.Sess.CurrentTurn)
	assert.Equal(t, session.SpeakerLearner, core.Sess.CurrentTurn.Speaker)
}

func TestHandleLearnerBinaryUpstreamWriteFailureEndsSession(t *testing.T) {
	core, _, up, _ := newTestCore()
	up.failErr = assertErr{}

	err := core.HandleLearnerBinary(t.Context(), []byte("audio"))
	require.Error(t, err)
	assert.Equal(t, session.StateClosed, core.Sess.State)
}

type assertErr struct{}

func (assertErr) Error() string { return "write failed" }

func TestHandleLearnerTextPing(t *testing.T) {
	core, learner, _, _ := newTestCore()
	ping := frame.Ping{Type: frame.TypePing, Timestamp: 1000}
	data, _ := frame.Encode(ping)

	require.NoError(t, core.HandleLearnerText(t.Context(), data))
	require.Contains(t, learner.types(), frame.TypePong)

	var pong map[string]any
	for _, m := range learner.text {
		if m["type"] == frame.TypePong {
			pong = m
		}
	}
	require.NotNil(t, pong)
	assert.Equal(t, float64(1000), pong["timestamp"], "pong.timestamp must echo ping.timestamp unchanged")
	serverTS, _ := pong["serverTimestamp"].(float64)
	assert.GreaterOrEqual(t, serverTS, float64(1000), "pong.serverTimestamp must be >= ping.timestamp")
}

func TestHandleLearnerTextUnknownTypeRecoverable(t *testing.T) {
	core, learner, _, _ := newTestCore()
	err := core.HandleLearnerText(t.Context(), []byte(`{"type":"bogus"}`))
	require.NoError(t, err)
	assert.Contains(t, learner.types(), frame.TypeError)
	assert.NotEqual(t, session.StateClosed, core.Sess.State)
}

func TestHandleLearnerTextMalformedJSONRecoverable(t *testing.T) {
	core, learner, _, _ := newTestCore()
	err := core.HandleLearnerText(t.Context(), []byte(`not json`))
	require.NoError(t, err)
	assert.Contains(t, learner.types(), frame.TypeError)
}

func TestHandleLearnerTextConfigClamped(t *testing.T) {
	core, _, _, _ := newTestCore()
	vad := 5.0
	update := frame.SessionConfigUpdate{
		Type:   frame.TypeSessionConfig,
		Config: session.ConfigPatch{VADSensitivity: &vad},
	}
	data, _ := frame.Encode(update)

	require.NoError(t, core.HandleLearnerText(t.Context(), data))
	assert.Equal(t, 1.0, core.Sess.Config.VADSensitivity)
}

func TestHandleLearnerTextConfigPronunciationFeedbackToggle(t *testing.T) {
	core, _, _, _ := newTestCore()
	off := false
	update := frame.SessionConfigUpdate{
		Type:   frame.TypeSessionConfig,
		Config: session.ConfigPatch{PronunciationFeedback: &off},
	}
	data, _ := frame.Encode(update)

	require.NoError(t, core.HandleLearnerText(t.Context(), data))
	assert.False(t, core.Sess.Config.PronunciationFeedback)
}

func TestHandleLearnerTextSessionTranscriptReplaysAsTranscriptMessages(t *testing.T) {
	core, learner, _, _ := newTestCore()
	core.Sess.Turns = []session.Turn{
		{TurnID: "t1", Speaker: session.SpeakerLearner, Sequence: 1, FinalTranscript: "hello"},
		{TurnID: "t2", Speaker: session.SpeakerAgent, Sequence: 2, FinalTranscript: "hi there"},
	}

	data, _ := frame.Encode(map[string]string{"type": frame.TypeSessionTranscript})
	require.NoError(t, core.HandleLearnerText(t.Context(), data))

	var replayed []map[string]any
	for _, m := range learner.text {
		if m["type"] == frame.TypeTranscript {
			replayed = append(replayed, m)
		}
	}
	require.Len(t, replayed, 2)
	assert.Equal(t, "hello", replayed[0]["text"])
	assert.Equal(t, true, replayed[0]["isFinal"])
	assert.Equal(t, "hi there", replayed[1]["text"])
	assert.Equal(t, true, replayed[1]["isFinal"])
}

func TestHandleLearnerTextInterruptForwardsUpstream(t *testing.T) {
	core, _, up, _ := newTestCore()
	core.Tracker.Start(session.SpeakerAgent)

	data, _ := frame.Encode(map[string]string{"type": frame.TypeSessionInterrupt})
	require.NoError(t, core.HandleLearnerText(t.Context(), data))

	require.Len(t, up.text, 1)
	assert.Equal(t, "interrupt", up.text[0]["type"])
	assert.Nil(t, core.Sess.CurrentTurn)
}

func TestHandleUpstreamBinaryForwardsAndOpensAgentTurn(t *testing.T) {
	core, learner, _, _ := newTestCore()
	require.NoError(t, core.HandleUpstreamBinary(t.Context(), []byte("speech")))

	require.Len(t, learner.binary, 1)
	assert.Equal(t, session.StateAgentSpeaking, core.Sess.State)
	assert.Equal(t, session.SpeakerAgent, core.Sess.CurrentTurn.Speaker)
}

func TestHandleUpstreamTextUserTranscriptFinalSchedulesAssessment(t *testing.T) {
	core, learner, _, sink := newTestCore()
	core.Sess.Config.PronunciationFeedback = true

	data, _ := frame.Encode(map[string]any{
		"type": "user_transcript", "text": "hello world", "is_final": true, "language": "en",
	})
	require.NoError(t, core.HandleUpstreamText(t.Context(), data))

	assert.Contains(t, learner.types(), frame.TypeAssessment)
	assert.Len(t, sink.Turns("sess-1"), 0, "turn is still open until turn_end/interruption closes it")
}

func TestHandleUpstreamTextTurnEndPersistsAndSchedulesAssessment(t *testing.T) {
	core, learner, _, sink := newTestCore()
	core.Sess.Config.PronunciationFeedback = true

	transcript, _ := frame.Encode(map[string]any{
		"type": "user_transcript", "text": "done", "is_final": true,
	})
	require.NoError(t, core.HandleUpstreamText(t.Context(), transcript))

	turnEnd, _ := frame.Encode(map[string]string{"type": "turn_end"})
	require.NoError(t, core.HandleUpstreamText(t.Context(), turnEnd))

	assert.Len(t, sink.Turns("sess-1"), 1)
	assert.Equal(t, session.StateReady, core.Sess.State)
	assert.Contains(t, learner.types(), frame.TypeTurnEnd)
}

func TestHandleUpstreamTextEndIsFatal(t *testing.T) {
	core, learner, _, _ := newTestCore()
	data, _ := frame.Encode(map[string]string{"type": "end"})

	err := core.HandleUpstreamText(t.Context(), data)
	require.Error(t, err)
	assert.Equal(t, session.StateClosed, core.Sess.State)
	assert.Contains(t, learner.types(), frame.TypeSessionEnd)
}

// flakySink fails SaveTurn's first N calls, then delegates to InMemorySink.
type flakySink struct {
	*persistence.InMemorySink
	mu        sync.Mutex
	failTimes int
}

func (f *flakySink) SaveTurn(ctx context.Context, sessionID string, turn session.Turn) error {
	f.mu.Lock()
	if f.failTimes > 0 {
		f.failTimes--
		f.mu.Unlock()
		return errors.New("transient store error")
	}
	f.mu.Unlock()
	return f.InMemorySink.SaveTurn(ctx, sessionID, turn)
}

func TestPersistTurnRetriesThroughPersistPoolAndSucceeds(t *testing.T) {
	core, _, _, _ := newTestCore()
	sink := &flakySink{InMemorySink: persistence.NewInMemorySink(), failTimes: 2}
	core.Persistence = sink
	core.PersistPool = syncutil.NewWorkerPool(2)

	transcript, _ := frame.Encode(map[string]any{"type": "user_transcript", "text": "done", "is_final": true})
	require.NoError(t, core.HandleUpstreamText(t.Context(), transcript))
	turnEnd, _ := frame.Encode(map[string]string{"type": "turn_end"})
	require.NoError(t, core.HandleUpstreamText(t.Context(), turnEnd))

	core.PersistPool.Close()
	assert.Len(t, sink.Turns("sess-1"), 1)
}

func TestPersistTurnRunsInlineWithoutPersistPool(t *testing.T) {
	core, _, _, sink := newTestCore()

	transcript, _ := frame.Encode(map[string]any{"type": "user_transcript", "text": "done", "is_final": true})
	require.NoError(t, core.HandleUpstreamText(t.Context(), transcript))
	turnEnd, _ := frame.Encode(map[string]string{"type": "turn_end"})
	require.NoError(t, core.HandleUpstreamText(t.Context(), turnEnd))

	assert.Len(t, sink.Turns("sess-1"), 1, "persistTurn must complete synchronously when no pool is configured")
}

func TestHandleUpstreamTextUnparseableIsIgnored(t *testing.T) {
	core, _, _, _ := newTestCore()
	err := core.HandleUpstreamText(t.Context(), []byte("not json"))
	require.NoError(t, err)
	assert.NotEqual(t, session.StateClosed, core.Sess.State)
}

func TestEndIsIdempotent(t *testing.T) {
	core, learner, _, sink := newTestCore()
	core.End(t.Context(), "completed")
	core.End(t.Context(), "completed")

	assert.Equal(t, session.StateClosed, core.Sess.State)
	assert.Len(t, sink.Summaries(), 1, "End must not double-publish once closed")
	endCount := 0
	for _, typ := range learner.types() {
		if typ == frame.TypeSessionEnd {
			endCount++
		}
	}
	assert.Equal(t, 1, endCount)
}
