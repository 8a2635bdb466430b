package types

// Snapshot is the authoritative room state pushed to every participant
// and spectator. Clients mirror it; they never self-assign phase or
// score beyond optimistic display.
type Snapshot struct {
	Version          int                  `json:"version"`
	SessionID        string               `json:"session_id"`
	GameType         string               `json:"game_type"`
	Phase            string               `json:"phase"`
	Seed             int64                `json:"seed"`
	Countdown        int                  `json:"countdown"`
	TimerRemainingMs int64                `json:"timer_remaining_ms"`
	Participants     []ParticipantState   `json:"participants"`
	SpectatorCount   int                  `json:"spectator_count"`
	WinnerUID        string               `json:"winner_uid,omitempty"`
	WinReason        string               `json:"win_reason,omitempty"`
	RematchRequested map[string]bool      `json:"rematch_requested,omitempty"`
}

// ParticipantState is the per-player slice of a snapshot.
type ParticipantState struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Score     int    `json:"score"`
	Lives     int    `json:"lives"`
	Combo     int    `json:"combo,omitempty"`
	Connected bool   `json:"connected"`
}
