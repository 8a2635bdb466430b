package engine

import "errors"

var ErrUnknownGameType = errors.New("unknown game type")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrWrongPhase = errors.New("command not valid in current phase")
var ErrMatchAlreadyFinished = errors.New("match already finished")
var ErrRematchNotRequested = errors.New("opponent has not requested a rematch")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhasePlaying   Phase = "playing"
	PhaseFinished  Phase = "finished"
)

type WinReason string

const (
	WinFinishedFirst     WinReason = "finished_first"
	WinOpponentOutOfLife WinReason = "opponent_out_of_lives"
	WinTimeUp            WinReason = "time_up"
	WinOpponentLeft      WinReason = "opponent_left"
)

type Player struct {
	UID       string
	Name      string
	AvatarURL string
	Score     int
	Lives     int
	Combo     int
	Ready     bool
	Finished  bool
	Connected bool
}

// State is one match's canonical data. It is a value: Apply never
// mutates its input, it returns a copy with fresh maps.
type State struct {
	GameType         GameType
	Phase            Phase
	Seed             int64
	Countdown        int
	TimerRemainingMs int64
	Players          map[string]Player
	Order            []string // uids in join order
	WinnerUID        string
	WinReason        WinReason
	RematchRequested map[string]bool
}

type CommandType string

const (
	CmdReady          CommandType = "Ready"
	CmdScoreUpdate    CommandType = "ScoreUpdate"
	CmdLoseLife       CommandType = "LoseLife"
	CmdComboUpdate    CommandType = "ComboUpdate"
	CmdFinished       CommandType = "Finished"
	CmdRematch        CommandType = "Rematch"
	CmdRematchAccept  CommandType = "RematchAccept"
	CmdCountdownTick  CommandType = "CountdownTick"
	CmdTimerTick      CommandType = "TimerTick"
	CmdPlayerAbandons CommandType = "PlayerAbandons"
)

type Command struct {
	Type  CommandType
	UID   string
	Score int
	Combo int
	Seed  int64 // RematchAccept: seed for the next match
}

type EventType string

const (
	EvtCountdownStarted EventType = "CountdownStarted"
	EvtMatchStarted     EventType = "MatchStarted"
	EvtScoreChanged     EventType = "ScoreChanged"
	EvtLifeLost         EventType = "LifeLost"
	EvtMatchFinished    EventType = "MatchFinished"
	EvtRematchRequested EventType = "RematchRequested"
	EvtRematchAccepted  EventType = "RematchAccepted"
)

type Event struct {
	Type EventType
	UID  string
}

// Apply runs one command against the state, returning the events it
// produced and the successor state. Score bounds checking happens
// before Apply is called; by the time a ScoreUpdate gets here it has
// already been accepted.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {

	case CmdReady:
		if s.Phase != PhaseWaiting {
			return nil, s, ErrWrongPhase
		}
		p, ok := s.Players[cmd.UID]
		if !ok {
			return nil, s, ErrUnknownPlayer
		}
		ns := s.clone()
		p.Ready = true
		ns.Players[cmd.UID] = p

		if len(ns.Players) == MaxPlayers && allReady(ns) {
			ns.Phase = PhaseCountdown
			ns.Countdown = CountdownSeconds
			return []Event{{Type: EvtCountdownStarted}}, ns, nil
		}
		return nil, ns, nil

	case CmdCountdownTick:
		if s.Phase != PhaseCountdown {
			return nil, s, ErrWrongPhase
		}
		ns := s.clone()
		ns.Countdown--
		if ns.Countdown <= 0 {
			ns.Countdown = 0
			ns.Phase = PhasePlaying
			settings, err := SettingsFor(ns.GameType)
			if err != nil {
				return nil, s, err
			}
			ns.TimerRemainingMs = settings.MatchTimeMs
			return []Event{{Type: EvtMatchStarted}}, ns, nil
		}
		return nil, ns, nil

	case CmdScoreUpdate:
		if s.Phase != PhasePlaying {
			return nil, s, ErrWrongPhase
		}
		p, ok := s.Players[cmd.UID]
		if !ok {
			return nil, s, ErrUnknownPlayer
		}
		ns := s.clone()
		// Canonical score never decreases.
		if cmd.Score > p.Score {
			p.Score = cmd.Score
		}
		ns.Players[cmd.UID] = p
		return []Event{{Type: EvtScoreChanged, UID: cmd.UID}}, ns, nil

	case CmdLoseLife:
		if s.Phase != PhasePlaying {
			return nil, s, ErrWrongPhase
		}
		p, ok := s.Players[cmd.UID]
		if !ok {
			return nil, s, ErrUnknownPlayer
		}
		ns := s.clone()
		if p.Lives > 0 {
			p.Lives--
		}
		ns.Players[cmd.UID] = p
		events := []Event{{Type: EvtLifeLost, UID: cmd.UID}}
		if p.Lives == 0 {
			ns.finish(opponentOf(ns, cmd.UID), WinOpponentOutOfLife)
			events = append(events, Event{Type: EvtMatchFinished, UID: ns.WinnerUID})
		}
		return events, ns, nil

	case CmdComboUpdate:
		if s.Phase != PhasePlaying {
			return nil, s, ErrWrongPhase
		}
		p, ok := s.Players[cmd.UID]
		if !ok {
			return nil, s, ErrUnknownPlayer
		}
		ns := s.clone()
		p.Combo = cmd.Combo
		ns.Players[cmd.UID] = p
		return nil, ns, nil

	case CmdFinished:
		if s.Phase != PhasePlaying {
			return nil, s, ErrWrongPhase
		}
		p, ok := s.Players[cmd.UID]
		if !ok {
			return nil, s, ErrUnknownPlayer
		}
		ns := s.clone()
		p.Finished = true
		ns.Players[cmd.UID] = p
		// First to report finished wins.
		ns.finish(cmd.UID, WinFinishedFirst)
		return []Event{{Type: EvtMatchFinished, UID: cmd.UID}}, ns, nil

	case CmdTimerTick:
		if s.Phase != PhasePlaying {
			return nil, s, ErrWrongPhase
		}
		ns := s.clone()
		ns.TimerRemainingMs -= 1000
		if ns.TimerRemainingMs <= 0 {
			ns.TimerRemainingMs = 0
			winner := leadingPlayer(ns) // "" on a tie
			ns.finish(winner, WinTimeUp)
			return []Event{{Type: EvtMatchFinished, UID: winner}}, ns, nil
		}
		return nil, ns, nil

	case CmdPlayerAbandons:
		if s.Phase == PhaseFinished {
			return nil, s, ErrMatchAlreadyFinished
		}
		if _, ok := s.Players[cmd.UID]; !ok {
			return nil, s, ErrUnknownPlayer
		}
		ns := s.clone()
		winner := opponentOf(ns, cmd.UID)
		ns.finish(winner, WinOpponentLeft)
		return []Event{{Type: EvtMatchFinished, UID: winner}}, ns, nil

	case CmdRematch:
		if s.Phase != PhaseFinished {
			return nil, s, ErrWrongPhase
		}
		if _, ok := s.Players[cmd.UID]; !ok {
			return nil, s, ErrUnknownPlayer
		}
		ns := s.clone()
		ns.RematchRequested[cmd.UID] = true
		return []Event{{Type: EvtRematchRequested, UID: cmd.UID}}, ns, nil

	case CmdRematchAccept:
		if s.Phase != PhaseFinished {
			return nil, s, ErrWrongPhase
		}
		if _, ok := s.Players[cmd.UID]; !ok {
			return nil, s, ErrUnknownPlayer
		}
		if !s.RematchRequested[opponentOf(s, cmd.UID)] {
			return nil, s, ErrRematchNotRequested
		}
		ns := s.reset(cmd.Seed)
		return []Event{{Type: EvtRematchAccepted, UID: cmd.UID}}, ns, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func allReady(s State) bool {
	for _, p := range s.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// opponentOf returns the uid of the other player, or "" when there is
// none (solo rooms, opponent never joined).
func opponentOf(s State, uid string) string {
	for _, other := range s.Order {
		if other != uid {
			return other
		}
	}
	return ""
}

// leadingPlayer returns the uid with the highest score, or "" on a tie.
func leadingPlayer(s State) string {
	best, bestScore, tied := "", -1, false
	for _, uid := range s.Order {
		score := s.Players[uid].Score
		switch {
		case score > bestScore:
			best, bestScore, tied = uid, score, false
		case score == bestScore:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return best
}

func (s *State) finish(winnerUID string, reason WinReason) {
	s.Phase = PhaseFinished
	s.WinnerUID = winnerUID
	if winnerUID == "" {
		s.WinReason = ""
		return
	}
	s.WinReason = reason
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
