// Package stats aggregates live session counts for the "GET /ws/stats"
// endpoint and implements the best-effort event bus relaycore publishes
// session lifecycle events to.
package stats

import (
	"time"

	"github.com/corallang/voicerelay/pkg/relay/session"
)

// Snapshot is the JSON shape returned by "GET /ws/stats".
type Snapshot struct {
	ActiveSessions       int            `json:"active_sessions"`
	SessionsByTenant     map[string]int `json:"sessions_by_tenant"`
	SessionsByState      map[string]int `json:"sessions_by_state"`
	TotalAudioBytes      int64          `json:"total_audio_bytes"`
	AverageSessionMs     float64        `json:"average_session_duration_ms"`
	UptimeSeconds        float64        `json:"uptime_seconds"`
}

// SessionView is the minimal read-only projection of a Session that
// Aggregator needs, avoiding a dependency on the supervisor's session map
// representation.
type SessionView struct {
	TenantID      string
	State         session.State
	BytesReceived int64
	BytesSent     int64
	StartedAt     time.Time
}

// Source supplies the live set of sessions to aggregate over. The
// supervisor implements this over its active_sessions map.
type Source interface {
	Sessions() []SessionView
}

// Aggregator computes stats Snapshots on demand from a Source.
type Aggregator struct {
	source    Source
	startedAt time.Time
}

// NewAggregator creates an Aggregator reading from source, using startedAt
// as the process start time for the uptime field.
func NewAggregator(source Source, startedAt time.Time) *Aggregator {
	return &Aggregator{source: source, startedAt: startedAt}
}

// Snapshot computes the current stats snapshot.
func (a *Aggregator) Snapshot() Snapshot {
	sessions := a.source.Sessions()

	snap := Snapshot{
		SessionsByTenant: make(map[string]int),
		SessionsByState:  make(map[string]int),
		UptimeSeconds:    time.Since(a.startedAt).Seconds(),
	}

	var totalDurationMs float64
	for _, s := range sessions {
		snap.ActiveSessions++
		snap.SessionsByTenant[s.TenantID]++
		snap.SessionsByState[string(s.State)]++
		snap.TotalAudioBytes += s.BytesReceived + s.BytesSent
		totalDurationMs += float64(time.Since(s.StartedAt).Milliseconds())
	}
	if snap.ActiveSessions > 0 {
		snap.AverageSessionMs = totalDurationMs / float64(snap.ActiveSessions)
	}
	return snap
}
