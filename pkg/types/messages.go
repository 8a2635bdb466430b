package types

// Client -> Server message types.
const (
	MsgReady         = "ready"
	MsgScoreUpdate   = "score_update"
	MsgLoseLife      = "lose_life"
	MsgComboUpdate   = "combo_update"
	MsgFinished      = "finished"
	MsgRematch       = "rematch"
	MsgRematchAccept = "rematch_accept"
)

// Server -> Client message types.
const (
	MsgWelcome              = "welcome"
	MsgSnapshot             = "snapshot"
	MsgError                = "error"
	MsgOpponentReconnecting = "opponent_reconnecting"
	MsgOpponentReconnected  = "opponent_reconnected"
)

// ClientMessage is the single inbound envelope. Fields beyond Type are
// populated depending on the message type.
type ClientMessage struct {
	Type  string `json:"type"`
	Score int    `json:"score,omitempty"`
	Combo int    `json:"combo,omitempty"`
}

// ServerMessage is the single outbound envelope.
type ServerMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"` // welcome
	Snapshot  *Snapshot `json:"snapshot,omitempty"`   // snapshot
	Code      string    `json:"code,omitempty"`       // error
	Message   string    `json:"message,omitempty"`    // error
	UID       string    `json:"uid,omitempty"`        // opponent_reconnecting / _reconnected
}

// Error codes surfaced to clients. Everything else self-heals silently.
const (
	ErrCodeRoomFull       = "room_full"
	ErrCodeSpectatorsFull = "spectators_full"
	ErrCodeBadMessage     = "bad_message"
)
