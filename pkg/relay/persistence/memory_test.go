package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corallang/voicerelay/pkg/relay/session"
)

func TestInMemorySinkLoadSessionMissing(t *testing.T) {
	sink := NewInMemorySink()
	_, ok, err := sink.LoadSession(t.Context(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemorySinkRoundTrip(t *testing.T) {
	sink := NewInMemorySink()
	sink.Put(Record{SessionID: "s1", TenantID: "t1"})

	rec, ok, err := sink.LoadSession(t.Context(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t1", rec.TenantID)

	require.NoError(t, sink.SaveTurn(t.Context(), "s1", session.Turn{TurnID: "turn-1"}))
	assert.Len(t, sink.Turns("s1"), 1)

	require.NoError(t, sink.SaveSummary(t.Context(), session.Summary{SessionID: "s1"}))
	assert.Len(t, sink.Summaries(), 1)
}
