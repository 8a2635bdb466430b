// Package metrics counts the failures this server absorbs silently.
// Rejected scores and dropped sends never surface to clients, so the
// counters here are the only place they remain visible.
package metrics

import "sync/atomic"

type Metrics struct {
	ScoreRejections    atomic.Int64
	ProtocolErrors     atomic.Int64
	DroppedSends       atomic.Int64
	DroppedSpectators  atomic.Int64
	SnapshotsBroadcast atomic.Int64
	MatchesFinished    atomic.Int64
}

func New() *Metrics {
	return &Metrics{}
}

// Snapshot returns the current counter values for the /metrics
// endpoint.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"score_rejections":    m.ScoreRejections.Load(),
		"protocol_errors":     m.ProtocolErrors.Load(),
		"dropped_sends":       m.DroppedSends.Load(),
		"dropped_spectators":  m.DroppedSpectators.Load(),
		"snapshots_broadcast": m.SnapshotsBroadcast.Load(),
		"matches_finished":    m.MatchesFinished.Load(),
	}
}
