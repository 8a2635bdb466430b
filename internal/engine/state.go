package engine

import "fmt"

// MaxPlayers is the number of active participants in a room. Everyone
// past that joins as a spectator.
const MaxPlayers = 2

// CountdownSeconds is the pre-match countdown length, carried
// authoritatively in every snapshot so late joiners render the correct
// remaining value.
const CountdownSeconds = 3

type GameType string

const (
	GameTapRace     GameType = "tap_race"
	GameTicTacToe   GameType = "tic_tac_toe"
	GameBalloonPump GameType = "balloon_pump"
	GameBubblePop   GameType = "bubble_pop"
)

// GameSettings are the per-game-type constants a room needs to run a
// match. The table is exhaustive over the GameType constants above;
// SettingsFor fails on anything else rather than silently defaulting.
type GameSettings struct {
	InitialLives int
	MatchTimeMs  int64
}

var gameSettings = map[GameType]GameSettings{
	GameTapRace:     {InitialLives: 1, MatchTimeMs: 30_000},
	GameTicTacToe:   {InitialLives: 1, MatchTimeMs: 120_000},
	GameBalloonPump: {InitialLives: 3, MatchTimeMs: 60_000},
	GameBubblePop:   {InitialLives: 3, MatchTimeMs: 45_000},
}

// KnownGameType reports whether gt is one of the supported game types.
func KnownGameType(gt GameType) bool {
	_, ok := gameSettings[gt]
	return ok
}

func SettingsFor(gt GameType) (GameSettings, error) {
	settings, ok := gameSettings[gt]
	if !ok {
		return GameSettings{}, fmt.Errorf("%w: %q", ErrUnknownGameType, gt)
	}
	return settings, nil
}

func NewState(gt GameType, seed int64) (State, error) {
	if !KnownGameType(gt) {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownGameType, gt)
	}
	return State{
		GameType:         gt,
		Phase:            PhaseWaiting,
		Seed:             seed,
		Players:          map[string]Player{},
		Order:            []string{},
		RematchRequested: map[string]bool{},
	}, nil
}

// AddPlayer seats a new participant in the waiting room.
func AddPlayer(s State, uid, name, avatarURL string) (State, error) {
	settings, err := SettingsFor(s.GameType)
	if err != nil {
		return s, err
	}
	if _, exists := s.Players[uid]; exists {
		return s, nil
	}
	ns := s.clone()
	ns.Players[uid] = Player{
		UID:       uid,
		Name:      name,
		AvatarURL: avatarURL,
		Lives:     settings.InitialLives,
		Connected: true,
	}
	ns.Order = append(ns.Order, uid)
	return ns, nil
}

// SetConnected flips a participant's connected flag. Disconnected
// players stay seated so they can reconnect within the grace window.
func SetConnected(s State, uid string, connected bool) (State, error) {
	p, ok := s.Players[uid]
	if !ok {
		return s, ErrUnknownPlayer
	}
	ns := s.clone()
	p.Connected = connected
	ns.Players[uid] = p
	return ns, nil
}

// RemovePlayer vacates a seat entirely. Used only before a match has
// started; mid-match departures go through CmdPlayerAbandons instead.
func RemovePlayer(s State, uid string) State {
	if _, ok := s.Players[uid]; !ok {
		return s
	}
	ns := s.clone()
	delete(ns.Players, uid)
	order := ns.Order[:0]
	for _, id := range ns.Order {
		if id != uid {
			order = append(order, id)
		}
	}
	ns.Order = order
	delete(ns.RematchRequested, uid)
	return ns
}

// clone copies the state with fresh maps so Apply stays pure.
func (s State) clone() State {
	ns := s
	ns.Players = make(map[string]Player, len(s.Players))
	for uid, p := range s.Players {
		ns.Players[uid] = p
	}
	ns.Order = append([]string(nil), s.Order...)
	ns.RematchRequested = make(map[string]bool, len(s.RematchRequested))
	for uid, v := range s.RematchRequested {
		ns.RematchRequested[uid] = v
	}
	return ns
}

// reset rolls a finished state back to a fresh waiting phase for a
// rematch, keeping the seats but zeroing score, lives, winner and
// timer. The new seed comes from the caller.
func (s State) reset(seed int64) State {
	ns := s.clone()
	settings, _ := SettingsFor(ns.GameType) // validated at NewState
	for uid, p := range ns.Players {
		p.Score = 0
		p.Combo = 0
		p.Lives = settings.InitialLives
		p.Ready = false
		p.Finished = false
		ns.Players[uid] = p
	}
	ns.Phase = PhaseWaiting
	ns.Seed = seed
	ns.Countdown = 0
	ns.TimerRemainingMs = 0
	ns.WinnerUID = ""
	ns.WinReason = ""
	ns.RematchRequested = map[string]bool{}
	return ns
}
