package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helioplay/rooms-backend/internal/reconnect"
	"github.com/helioplay/rooms-backend/pkg/types"
)

func snap(phase string, mine, theirs types.ParticipantState) types.Snapshot {
	return types.Snapshot{
		Version:      1,
		SessionID:    "sess-1",
		GameType:     "tap_race",
		Phase:        phase,
		Participants: []types.ParticipantState{mine, theirs},
	}
}

func TestSnapshotMirrorsEverything(t *testing.T) {
	m := New("alice")
	assert.Equal(t, PhaseIdle, m.Phase())

	s := snap("playing",
		types.ParticipantState{UID: "alice", Name: "Alice", Score: 7, Lives: 2, Combo: 3, Connected: true},
		types.ParticipantState{UID: "bob", Name: "Bob", Score: 5, Lives: 3, Connected: true},
	)
	s.Seed = 42
	s.TimerRemainingMs = 25_000
	s.SpectatorCount = 4
	m.HandleSnapshot(s)

	assert.Equal(t, PhasePlaying, m.Phase())
	assert.Equal(t, 7, m.Score())
	assert.Equal(t, 2, m.Lives())
	assert.Equal(t, int64(42), m.Seed())
	assert.Equal(t, 4, m.SpectatorCount())

	opp := m.Opponent()
	assert.Equal(t, "bob", opp.UID)
	assert.Equal(t, 5, opp.Score)
	assert.True(t, opp.Connected)
}

func TestOptimisticScoreThenAuthoritative(t *testing.T) {
	m := New("alice")
	m.HandleSnapshot(snap("playing",
		types.ParticipantState{UID: "alice", Score: 10},
		types.ParticipantState{UID: "bob"},
	))

	msg := m.ReportScore(12)
	assert.Equal(t, types.MsgScoreUpdate, msg.Type)
	assert.Equal(t, 12, msg.Score)
	assert.Equal(t, 12, m.Score(), "optimistic bump shows immediately")

	// A stale report never lowers the display value.
	m.ReportScore(11)
	assert.Equal(t, 12, m.Score())

	// The server disagreed; its value wins.
	m.HandleSnapshot(snap("playing",
		types.ParticipantState{UID: "alice", Score: 10},
		types.ParticipantState{UID: "bob"},
	))
	assert.Equal(t, 10, m.Score())
}

func TestWinAttributionByUID(t *testing.T) {
	winner := snap("finished",
		types.ParticipantState{UID: "alice", Score: 30},
		types.ParticipantState{UID: "bob", Score: 12},
	)
	winner.WinnerUID = "alice"
	winner.WinReason = "finished_first"

	m := New("alice")
	m.HandleWelcome(types.ServerMessage{Type: types.MsgWelcome, SessionID: "sess-1"})
	m.HandleSnapshot(winner)
	assert.True(t, m.Won())
	assert.Equal(t, "finished_first", m.WinReason())

	// Same snapshot seen from the other seat.
	loser := New("bob")
	loser.HandleSnapshot(winner)
	assert.False(t, loser.Won())
}

func TestTransportPhases(t *testing.T) {
	m := New("alice")

	// Before any snapshot the transport coming up reads as connecting.
	m.HandleTransport(reconnect.StateConnecting)
	assert.Equal(t, PhaseConnecting, m.Phase())

	m.HandleSnapshot(snap("playing",
		types.ParticipantState{UID: "alice"},
		types.ParticipantState{UID: "bob"},
	))
	assert.Equal(t, PhasePlaying, m.Phase())

	// Losing a live connection is a reconnect, not a fresh connect.
	m.HandleTransport(reconnect.StateDisconnected)
	assert.Equal(t, PhaseReconnecting, m.Phase())
	m.HandleTransport(reconnect.StateConnecting)
	assert.Equal(t, PhaseReconnecting, m.Phase())

	// Connected alone changes nothing; the next snapshot restores phase.
	m.HandleTransport(reconnect.StateConnected)
	assert.Equal(t, PhaseReconnecting, m.Phase())
	m.HandleSnapshot(snap("playing",
		types.ParticipantState{UID: "alice"},
		types.ParticipantState{UID: "bob"},
	))
	assert.Equal(t, PhasePlaying, m.Phase())

	m.HandleTransport(reconnect.StateAbandoned)
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestRematchFlags(t *testing.T) {
	finished := snap("finished",
		types.ParticipantState{UID: "alice", Score: 3},
		types.ParticipantState{UID: "bob", Score: 9},
	)
	finished.WinnerUID = "bob"
	finished.RematchRequested = map[string]bool{"bob": true}

	m := New("alice")
	m.HandleSnapshot(finished)
	assert.True(t, m.OpponentWantsRematch())

	msg := m.AcceptRematch()
	assert.Equal(t, types.MsgRematchAccept, msg.Type)
	assert.Equal(t, PhaseWaiting, m.Phase(), "accept resets optimistically")
	assert.Equal(t, 0, m.Score())
	assert.False(t, m.OpponentWantsRematch())

	// The authoritative reset confirms it.
	m.HandleSnapshot(snap("waiting",
		types.ParticipantState{UID: "alice"},
		types.ParticipantState{UID: "bob"},
	))
	assert.Equal(t, PhaseWaiting, m.Phase())
	assert.False(t, m.Won())
}

func TestRematchFlagsClearOutsideFinished(t *testing.T) {
	m := New("alice")
	m.RequestRematch()

	// Any non-finished snapshot wipes rematch state.
	withFlag := snap("waiting",
		types.ParticipantState{UID: "alice"},
		types.ParticipantState{UID: "bob"},
	)
	withFlag.RematchRequested = map[string]bool{"bob": true}
	m.HandleSnapshot(withFlag)
	assert.False(t, m.OpponentWantsRematch())
}

func TestLifeAndComboReports(t *testing.T) {
	m := New("alice")
	m.HandleSnapshot(snap("playing",
		types.ParticipantState{UID: "alice", Lives: 2},
		types.ParticipantState{UID: "bob", Lives: 3},
	))

	msg := m.ReportLifeLost()
	assert.Equal(t, types.MsgLoseLife, msg.Type)
	assert.Equal(t, 1, m.Lives())

	m.ReportLifeLost()
	m.ReportLifeLost()
	assert.Equal(t, 0, m.Lives(), "lives never go negative")

	combo := m.ReportCombo(5)
	assert.Equal(t, types.MsgComboUpdate, combo.Type)
	assert.Equal(t, 5, combo.Combo)
}
