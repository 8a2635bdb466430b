// Package session is the client-side mirror of a room. It never
// decides phase on its own: phase, scores and the winner all arrive in
// authoritative snapshots, and the only locally inferred states are
// connecting/reconnecting, which come from the transport supervisor.
package session

import (
	"sync"

	"github.com/helioplay/rooms-backend/internal/reconnect"
	"github.com/helioplay/rooms-backend/pkg/types"
)

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseWaiting      Phase = "waiting"
	PhaseCountdown    Phase = "countdown"
	PhasePlaying      Phase = "playing"
	PhaseFinished     Phase = "finished"
	PhaseReconnecting Phase = "reconnecting"
)

// Opponent is the mirrored view of the other player.
type Opponent struct {
	UID       string
	Name      string
	AvatarURL string
	Score     int
	Lives     int
	Connected bool
}

// Machine holds one client's view of its match. Snapshots and
// transport state changes arrive on supervisor goroutines, reads come
// from the caller, so everything sits behind one mutex.
type Machine struct {
	mu sync.Mutex

	uid       string
	sessionID string

	phase     Phase
	everLive  bool // a snapshot has been seen; distinguishes connecting from reconnecting
	transport reconnect.State

	score           int // optimistic local value
	authoritative   int
	lives           int
	combo           int
	opponent        Opponent
	seed            int64
	countdown       int
	timerRemaining  int64
	spectators      int
	winnerUID       string
	winReason       string
	won             bool
	rematchMine     bool
	rematchOpponent bool
}

func New(uid string) *Machine {
	return &Machine{uid: uid, phase: PhaseIdle}
}

// HandleWelcome records the stable session id used for win
// attribution. Connection ids are not stable across reconnects; the
// session id and uid are.
func (m *Machine) HandleWelcome(msg types.ServerMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = msg.SessionID
}

// HandleSnapshot re-derives the whole mirrored view from an
// authoritative snapshot. The server value always wins, including over
// the optimistic local score.
func (m *Machine) HandleSnapshot(snap types.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.everLive = true
	m.phase = Phase(snap.Phase)
	m.seed = snap.Seed
	m.countdown = snap.Countdown
	m.timerRemaining = snap.TimerRemainingMs
	m.spectators = snap.SpectatorCount
	m.winnerUID = snap.WinnerUID
	m.winReason = snap.WinReason
	m.won = snap.WinnerUID != "" && snap.WinnerUID == m.uid

	for _, p := range snap.Participants {
		if p.UID == m.uid {
			m.authoritative = p.Score
			m.score = p.Score
			m.lives = p.Lives
			m.combo = p.Combo
			continue
		}
		m.opponent = Opponent{
			UID:       p.UID,
			Name:      p.Name,
			AvatarURL: p.AvatarURL,
			Score:     p.Score,
			Lives:     p.Lives,
			Connected: p.Connected,
		}
	}

	m.rematchOpponent = m.opponent.UID != "" && snap.RematchRequested[m.opponent.UID]
	if snap.Phase != string(PhaseFinished) {
		m.rematchMine = false
		m.rematchOpponent = false
	}
}

// HandleTransport maps supervisor state onto the locally inferred
// phases. Once a snapshot has been seen, losing the transport shows as
// reconnecting rather than connecting.
func (m *Machine) HandleTransport(st reconnect.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport = st

	switch st {
	case reconnect.StateConnecting, reconnect.StateDisconnected:
		if m.everLive {
			m.phase = PhaseReconnecting
		} else {
			m.phase = PhaseConnecting
		}
	case reconnect.StateAbandoned:
		m.phase = PhaseIdle
	}
}

// ReportScore bumps the optimistic display value and returns the
// fire-and-forget message to send. No acknowledgement is awaited; the
// next snapshot corrects any divergence.
func (m *Machine) ReportScore(score int) types.ClientMessage {
	m.mu.Lock()
	if score > m.score {
		m.score = score
	}
	m.mu.Unlock()
	return types.ClientMessage{Type: types.MsgScoreUpdate, Score: score}
}

func (m *Machine) ReportLifeLost() types.ClientMessage {
	m.mu.Lock()
	if m.lives > 0 {
		m.lives--
	}
	m.mu.Unlock()
	return types.ClientMessage{Type: types.MsgLoseLife}
}

func (m *Machine) ReportCombo(combo int) types.ClientMessage {
	m.mu.Lock()
	m.combo = combo
	m.mu.Unlock()
	return types.ClientMessage{Type: types.MsgComboUpdate, Combo: combo}
}

func (m *Machine) ReportFinished() types.ClientMessage {
	return types.ClientMessage{Type: types.MsgFinished}
}

// RequestRematch flags the local request and returns the message to
// send. Confirmation comes back in a snapshot.
func (m *Machine) RequestRematch() types.ClientMessage {
	m.mu.Lock()
	m.rematchMine = true
	m.mu.Unlock()
	return types.ClientMessage{Type: types.MsgRematch}
}

// AcceptRematch optimistically resets to waiting; the authoritative
// reset arrives in the next snapshot.
func (m *Machine) AcceptRematch() types.ClientMessage {
	m.mu.Lock()
	m.phase = PhaseWaiting
	m.score = 0
	m.authoritative = 0
	m.rematchMine = false
	m.rematchOpponent = false
	m.mu.Unlock()
	return types.ClientMessage{Type: types.MsgRematchAccept}
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) Score() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.score
}

func (m *Machine) Lives() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lives
}

func (m *Machine) Opponent() Opponent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opponent
}

func (m *Machine) Seed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seed
}

func (m *Machine) Countdown() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countdown
}

func (m *Machine) Won() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.won
}

func (m *Machine) WinReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.winReason
}

func (m *Machine) OpponentWantsRematch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rematchOpponent
}

func (m *Machine) SpectatorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spectators
}
