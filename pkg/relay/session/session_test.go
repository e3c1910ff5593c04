package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float64Ptr(v float64) *float64 { return &v }
func intPtr(v int) *int             { return &v }
func boolPtr(v bool) *bool          { return &v }

func TestConfigurationApplyClamps(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.Apply(ConfigPatch{
		VADSensitivity:        float64Ptr(1.5),
		InterruptionThreshold: float64Ptr(-0.2),
		TurnTimeoutMs:         intPtr(50),
	})
	assert.Equal(t, 1.0, cfg.VADSensitivity)
	assert.Equal(t, 0.0, cfg.InterruptionThreshold)
	assert.Equal(t, MinTurnTimeoutMs, cfg.TurnTimeoutMs)

	cfg.Apply(ConfigPatch{TurnTimeoutMs: intPtr(50_000)})
	assert.Equal(t, MaxTurnTimeoutMs, cfg.TurnTimeoutMs)
}

func TestConfigurationApplyLeavesAbsentFieldsUnchanged(t *testing.T) {
	cfg := DefaultConfiguration()
	original := cfg.MaxDurationMs
	cfg.Apply(ConfigPatch{VADSensitivity: float64Ptr(0.9)})
	assert.Equal(t, original, cfg.MaxDurationMs)
	assert.Equal(t, 0.9, cfg.VADSensitivity)
}

func TestConfigurationApplyPronunciationFeedbackToggle(t *testing.T) {
	cfg := DefaultConfiguration()
	require.True(t, cfg.PronunciationFeedback)

	cfg.Apply(ConfigPatch{PronunciationFeedback: boolPtr(false)})
	assert.False(t, cfg.PronunciationFeedback)

	cfg.Apply(ConfigPatch{})
	assert.False(t, cfg.PronunciationFeedback, "an absent field must not reset the toggle")
}

func TestSessionTransitionIdempotentOnceClosed(t *testing.T) {
	s := New("sess-1", "tenant-1", "learner-1", "agent-1", DefaultConfiguration(), 1024)
	s.Transition(StateClosed)
	s.Transition(StateReady)
	assert.Equal(t, StateClosed, s.State)
}

func TestMetricsRecordErrorBounded(t *testing.T) {
	var m Metrics
	for i := 0; i < errorLogCap+10; i++ {
		m.RecordError("err")
	}
	require.Len(t, m.Errors, errorLogCap)
}

func TestMetricsRecordRTTBounded(t *testing.T) {
	var m Metrics
	for i := 0; i < rttSampleCap+5; i++ {
		m.RecordRTT(float64(i))
	}
	require.Len(t, m.RTTSamplesMs, rttSampleCap)
}

func TestSummarizeAggregatesAssessments(t *testing.T) {
	s := New("sess-1", "tenant-1", "learner-1", "agent-1", DefaultConfiguration(), 1024)
	s.Metrics.TurnCount = 2
	s.Turns = []Turn{
		{
			TurnID: "t1", Speaker: SpeakerLearner, Sequence: 1,
			Assessment: &Assessment{
				OverallScore: 0.8,
				WordScores:   map[string]float64{"hello": 0.9, "world": 0.3},
			},
		},
		{
			TurnID: "t2", Speaker: SpeakerLearner, Sequence: 3,
			Assessment: &Assessment{
				OverallScore: 0.6,
				WordScores:   map[string]float64{"again": 0.2, "hello": 0.9},
			},
		},
	}

	sum := s.Summarize("user_ended")

	require.NotNil(t, sum.AveragePronunciation)
	assert.InDelta(t, 0.7, *sum.AveragePronunciation, 0.0001)
	assert.Nil(t, sum.AverageGrammar)
	assert.Nil(t, sum.AverageFluency)
	assert.Equal(t, []string{"again", "world"}, sum.TopIssues)
	assert.Equal(t, []string{"again", "hello", "world"}, sum.CompetenciesUpdated)
	assert.GreaterOrEqual(t, sum.DurationMs, int64(0))
	assert.Equal(t, 2, sum.TurnCount)
}

func TestSummarizeWithNoAssessmentsOmitsScores(t *testing.T) {
	s := New("sess-1", "tenant-1", "learner-1", "agent-1", DefaultConfiguration(), 1024)
	sum := s.Summarize("timeout")
	assert.Nil(t, sum.AveragePronunciation)
	assert.Nil(t, sum.TopIssues)
	assert.Nil(t, sum.CompetenciesUpdated)
}
