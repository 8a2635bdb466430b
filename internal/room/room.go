// Package room runs one match: a single goroutine owns the canonical
// session state and everything else talks to it through a typed
// message inbox. No locks guard game state because nothing but the
// room loop ever touches it.
package room

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/helioplay/rooms-backend/internal/engine"
	"github.com/helioplay/rooms-backend/internal/metrics"
	"github.com/helioplay/rooms-backend/internal/score"
	"github.com/helioplay/rooms-backend/internal/spectator"
	"github.com/helioplay/rooms-backend/pkg/types"
)

type Msg interface{ isRoomMsg() }

// Join seats a participant, or reattaches one returning inside the
// reconnect grace window. Reply carries nil or a capacity error code.
type Join struct {
	UID       string
	Name      string
	AvatarURL string
	Outbox    chan types.ServerMessage
	Reply     chan string // "" on success, else an error code from pkg/types
}

func (Join) isRoomMsg() {}

// Leave marks a participant disconnected. The seat survives until the
// grace window expires.
type Leave struct{ UID string }

func (Leave) isRoomMsg() {}

// FromClient is one decoded wire message from a participant.
type FromClient struct {
	UID string
	Msg types.ClientMessage
}

func (FromClient) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

// GetState reflects internal state without data races, for tests and
// the HTTP state endpoint.
type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type View struct {
	Version        int
	NumClients     int
	SpectatorCount int
	State          engine.State
}

// internal timer messages

type tick struct{}

func (tick) isRoomMsg() {}

type graceExpired struct {
	uid string
	gen int
}

func (graceExpired) isRoomMsg() {}

type idleExpired struct{ gen int }

func (idleExpired) isRoomMsg() {}

type Config struct {
	MaxSpectators     int
	SpectatorThrottle time.Duration
	ReconnectGrace    time.Duration
	IdleTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxSpectators:     10,
		SpectatorThrottle: 100 * time.Millisecond,
		ReconnectGrace:    30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Recorder persists finished matches. A nil Recorder disables
// persistence.
type Recorder interface {
	SaveMatch(ctx context.Context, result MatchResult) error
}

type MatchResult struct {
	SessionID string
	Code      string
	GameType  string
	WinnerUID string
	WinReason string
	Players   []PlayerResult
	Duration  time.Duration
}

type PlayerResult struct {
	UID   string
	Name  string
	Score int
	Lives int
}

type Room struct {
	id       string
	code     string
	inbox    chan Msg
	state    engine.State
	version  int
	clients  map[string]chan types.ServerMessage
	specs    *spectator.Hub
	bounds   *score.Registry
	clock    clockwork.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	cfg      Config
	onClose  func()

	lastScoreAt map[string]time.Time
	startedAt   time.Time
	graceGen    map[string]int
	idleGen     int

	tickerStop chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// Deps carries the collaborators a room does not own.
type Deps struct {
	Bounds   *score.Registry
	Clock    clockwork.Clock
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Recorder Recorder
	OnClose  func() // invoked once when the room tears down
}

func NewRoom(parent context.Context, code string, gameType engine.GameType, cfg Config, deps Deps) (*Room, error) {
	seed := rand.Int63()
	state, err := engine.NewState(gameType, seed)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		id:          uuid.NewString(),
		code:        code,
		inbox:       make(chan Msg, 64),
		state:       state,
		clients:     make(map[string]chan types.ServerMessage),
		bounds:      deps.Bounds,
		clock:       deps.Clock,
		log:         deps.Log.With(zap.String("room", code)),
		metrics:     deps.Metrics,
		recorder:    deps.Recorder,
		cfg:         cfg,
		onClose:     deps.OnClose,
		lastScoreAt: make(map[string]time.Time),
		graceGen:    make(map[string]int),
		ctx:         ctx,
		cancel:      cancel,
	}
	r.specs = spectator.NewHub(cfg.MaxSpectators, cfg.SpectatorThrottle, deps.Clock, deps.Metrics, r.log)

	go r.specs.Run(ctx)
	go r.loop()
	r.armIdleTimer()
	return r, nil
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

// ID is the stable session identifier carried in welcome messages and
// used for win attribution.
func (r *Room) ID() string { return r.id }

func (r *Room) Code() string { return r.code }

// Spectators exposes the fan-out hub so the transport layer can seat
// observers without going through the room loop.
func (r *Room) Spectators() *spectator.Hub { return r.specs }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)
			case Leave:
				r.handleLeave(msg.UID)
			case FromClient:
				r.handleClient(msg)
			case tick:
				r.handleTick()
			case graceExpired:
				r.handleGraceExpired(msg)
			case idleExpired:
				if msg.gen != r.idleGen {
					break
				}
				if !r.anyConnected() && r.specs.Count() == 0 {
					r.log.Info("room idle, tearing down")
					r.shutdown()
					return
				}
				r.armIdleTimer() // still occupied, keep checking
			case GetState:
				msg.Reply <- View{
					Version:        r.version,
					NumClients:     len(r.clients),
					SpectatorCount: r.specs.Count(),
					State:          r.state,
				}
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(msg Join) {
	if p, ok := r.state.Players[msg.UID]; ok {
		// Returning player inside the grace window.
		r.graceGen[msg.UID]++ // invalidate any pending grace timer
		ns, err := engine.SetConnected(r.state, msg.UID, true)
		if err == nil {
			r.state = ns
		}
		r.clients[msg.UID] = msg.Outbox
		msg.Reply <- ""
		r.send(msg.UID, types.ServerMessage{Type: types.MsgWelcome, SessionID: r.id})
		r.notifyOthers(msg.UID, types.ServerMessage{Type: types.MsgOpponentReconnected, UID: msg.UID})
		r.version++
		r.broadcast()
		r.log.Info("player reconnected", zap.String("uid", p.UID))
		r.armIdleTimer()
		return
	}

	if len(r.state.Players) >= engine.MaxPlayers {
		msg.Reply <- types.ErrCodeRoomFull
		return
	}

	ns, err := engine.AddPlayer(r.state, msg.UID, msg.Name, msg.AvatarURL)
	if err != nil {
		r.log.Warn("join rejected", zap.Error(err))
		msg.Reply <- types.ErrCodeBadMessage
		return
	}
	r.state = ns
	r.clients[msg.UID] = msg.Outbox
	msg.Reply <- ""
	r.send(msg.UID, types.ServerMessage{Type: types.MsgWelcome, SessionID: r.id})
	r.version++
	r.broadcast()
	r.log.Info("player joined", zap.String("uid", msg.UID))
	r.armIdleTimer()
}

func (r *Room) handleLeave(uid string) {
	delete(r.clients, uid)

	// Keyed on the seat, not the outbox: a client evicted for a full
	// outbox still needs its disconnect bookkeeping when the transport
	// notices.
	p, ok := r.state.Players[uid]
	if !ok || !p.Connected {
		return
	}

	ns, err := engine.SetConnected(r.state, uid, false)
	if err != nil {
		return
	}
	r.state = ns
	r.notifyOthers(uid, types.ServerMessage{Type: types.MsgOpponentReconnecting, UID: uid})
	r.version++
	r.broadcast()

	// Seat survives until the grace window expires.
	r.graceGen[uid]++
	gen := r.graceGen[uid]
	r.clock.AfterFunc(r.cfg.ReconnectGrace, func() {
		select {
		case r.inbox <- graceExpired{uid: uid, gen: gen}:
		case <-r.ctx.Done():
		}
	})

	if !r.anyConnected() {
		r.armIdleTimer()
	}
	r.log.Info("player disconnected", zap.String("uid", uid))
}

func (r *Room) handleGraceExpired(msg graceExpired) {
	if msg.gen != r.graceGen[msg.uid] {
		return // reconnected since
	}
	p, ok := r.state.Players[msg.uid]
	if !ok || p.Connected {
		return
	}

	switch r.state.Phase {
	case engine.PhaseCountdown, engine.PhasePlaying:
		r.apply(engine.Command{Type: engine.CmdPlayerAbandons, UID: msg.uid})
	default:
		r.state = engine.RemovePlayer(r.state, msg.uid)
		r.version++
		r.broadcast()
	}
	r.log.Info("reconnect grace expired", zap.String("uid", msg.uid))
}

func (r *Room) handleClient(msg FromClient) {
	cmd, ok := r.toCommand(msg)
	if !ok {
		return // already counted/logged
	}
	r.apply(cmd)
}

// toCommand translates a wire message into an engine command, running
// the score bounds check on the way. Rejected scores vanish here: no
// error goes back to the client, the counter is the only trace.
func (r *Room) toCommand(msg FromClient) (engine.Command, bool) {
	switch msg.Msg.Type {
	case types.MsgReady:
		return engine.Command{Type: engine.CmdReady, UID: msg.UID}, true

	case types.MsgScoreUpdate:
		prev := r.state.Players[msg.UID].Score
		elapsed := r.elapsedSinceLastScore(msg.UID)
		if !r.bounds.Validate(r.state.GameType, msg.Msg.Score, prev, elapsed) {
			r.metrics.ScoreRejections.Add(1)
			r.log.Debug("score rejected",
				zap.String("uid", msg.UID),
				zap.Int("reported", msg.Msg.Score),
				zap.Int("previous", prev),
				zap.Int64("elapsed_ms", elapsed))
			return engine.Command{}, false
		}
		r.lastScoreAt[msg.UID] = r.clock.Now()
		return engine.Command{Type: engine.CmdScoreUpdate, UID: msg.UID, Score: msg.Msg.Score}, true

	case types.MsgLoseLife:
		return engine.Command{Type: engine.CmdLoseLife, UID: msg.UID}, true

	case types.MsgComboUpdate:
		return engine.Command{Type: engine.CmdComboUpdate, UID: msg.UID, Combo: msg.Msg.Combo}, true

	case types.MsgFinished:
		return engine.Command{Type: engine.CmdFinished, UID: msg.UID}, true

	case types.MsgRematch:
		return engine.Command{Type: engine.CmdRematch, UID: msg.UID}, true

	case types.MsgRematchAccept:
		return engine.Command{Type: engine.CmdRematchAccept, UID: msg.UID, Seed: rand.Int63()}, true

	default:
		r.metrics.ProtocolErrors.Add(1)
		r.log.Warn("unknown message type", zap.String("type", msg.Msg.Type), zap.String("uid", msg.UID))
		return engine.Command{}, false
	}
}

func (r *Room) elapsedSinceLastScore(uid string) int64 {
	last, ok := r.lastScoreAt[uid]
	if !ok {
		last = r.startedAt
	}
	if last.IsZero() {
		return 0
	}
	return r.clock.Since(last).Milliseconds()
}

// apply runs a command through the engine and reacts to its events.
// Command errors are dropped: a stale or wrong-phase message is not a
// protocol violation, just a race the authoritative state wins.
func (r *Room) apply(cmd engine.Command) {
	events, ns, err := engine.Apply(r.state, cmd)
	if err != nil {
		r.log.Debug("command ignored", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		return
	}
	r.state = ns
	r.version++
	r.broadcast()

	if engine.ContainsEvent(events, engine.EvtCountdownStarted) {
		r.startTicker()
	}
	if engine.ContainsEvent(events, engine.EvtMatchStarted) {
		r.startedAt = r.clock.Now()
		for uid := range r.state.Players {
			r.lastScoreAt[uid] = r.startedAt
		}
	}
	if engine.ContainsEvent(events, engine.EvtMatchFinished) {
		r.stopTicker()
		r.metrics.MatchesFinished.Add(1)
		r.persistResult()
	}
	if engine.ContainsEvent(events, engine.EvtRematchAccepted) {
		r.lastScoreAt = make(map[string]time.Time)
		r.startedAt = time.Time{}
	}
}

func (r *Room) handleTick() {
	switch r.state.Phase {
	case engine.PhaseCountdown:
		r.apply(engine.Command{Type: engine.CmdCountdownTick})
	case engine.PhasePlaying:
		r.apply(engine.Command{Type: engine.CmdTimerTick})
	default:
		r.stopTicker()
	}
}

func (r *Room) startTicker() {
	if r.tickerStop != nil {
		return
	}
	stop := make(chan struct{})
	r.tickerStop = stop
	ticker := r.clock.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				select {
				case r.inbox <- tick{}:
				case <-stop:
					return
				case <-r.ctx.Done():
					return
				}
			case <-stop:
				return
			case <-r.ctx.Done():
				return
			}
		}
	}()
}

func (r *Room) stopTicker() {
	if r.tickerStop != nil {
		close(r.tickerStop)
		r.tickerStop = nil
	}
}

func (r *Room) armIdleTimer() {
	r.idleGen++
	gen := r.idleGen
	r.clock.AfterFunc(r.cfg.IdleTimeout, func() {
		select {
		case r.inbox <- idleExpired{gen: gen}:
		case <-r.ctx.Done():
		}
	})
}

func (r *Room) anyConnected() bool {
	for _, p := range r.state.Players {
		if p.Connected {
			return true
		}
	}
	return false
}

// broadcast pushes the current snapshot to every participant
// immediately and hands it to the spectator hub for throttled fan-out.
// A participant whose outbox is full gets dropped; their supervisor
// reconnects them.
func (r *Room) broadcast() {
	snap := r.snapshot()
	msg := types.ServerMessage{Type: types.MsgSnapshot, Snapshot: &snap}
	for uid := range r.clients {
		r.send(uid, msg)
	}
	r.specs.Push(snap)
}

// send delivers one message to a participant without ever blocking the
// loop. A full outbox evicts the client, same as broadcast.
func (r *Room) send(uid string, msg types.ServerMessage) bool {
	ch, ok := r.clients[uid]
	if !ok {
		return false
	}
	select {
	case ch <- msg:
		return true
	default:
		r.metrics.DroppedSends.Add(1)
		r.log.Warn("participant outbox full, dropping", zap.String("uid", uid))
		close(ch)
		delete(r.clients, uid)
		return false
	}
}

func (r *Room) notifyOthers(uid string, msg types.ServerMessage) {
	for other, ch := range r.clients {
		if other == uid {
			continue
		}
		select {
		case ch <- msg:
		default:
			r.metrics.DroppedSends.Add(1)
		}
	}
}

func (r *Room) snapshot() types.Snapshot {
	parts := make([]types.ParticipantState, 0, len(r.state.Order))
	for _, uid := range r.state.Order {
		p := r.state.Players[uid]
		parts = append(parts, types.ParticipantState{
			UID:       p.UID,
			Name:      p.Name,
			AvatarURL: p.AvatarURL,
			Score:     p.Score,
			Lives:     p.Lives,
			Combo:     p.Combo,
			Connected: p.Connected,
		})
	}

	var rematch map[string]bool
	if len(r.state.RematchRequested) > 0 {
		rematch = make(map[string]bool, len(r.state.RematchRequested))
		for uid, v := range r.state.RematchRequested {
			rematch[uid] = v
		}
	}

	return types.Snapshot{
		Version:          r.version,
		SessionID:        r.id,
		GameType:         string(r.state.GameType),
		Phase:            string(r.state.Phase),
		Seed:             r.state.Seed,
		Countdown:        r.state.Countdown,
		TimerRemainingMs: r.state.TimerRemainingMs,
		Participants:     parts,
		SpectatorCount:   r.specs.Count(),
		WinnerUID:        r.state.WinnerUID,
		WinReason:        string(r.state.WinReason),
		RematchRequested: rematch,
	}
}

func (r *Room) persistResult() {
	if r.recorder == nil {
		return
	}
	result := MatchResult{
		SessionID: r.id,
		Code:      r.code,
		GameType:  string(r.state.GameType),
		WinnerUID: r.state.WinnerUID,
		WinReason: string(r.state.WinReason),
	}
	for _, uid := range r.state.Order {
		p := r.state.Players[uid]
		result.Players = append(result.Players, PlayerResult{
			UID:   p.UID,
			Name:  p.Name,
			Score: p.Score,
			Lives: p.Lives,
		})
	}
	if !r.startedAt.IsZero() {
		result.Duration = r.clock.Since(r.startedAt)
	}

	// Fire and forget off the room loop; a failed write never stalls
	// gameplay.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.recorder.SaveMatch(ctx, result); err != nil {
			r.log.Error("failed to persist match result", zap.Error(err))
		}
	}()
}

func (r *Room) shutdown() {
	r.stopTicker()
	for uid, ch := range r.clients {
		close(ch)
		delete(r.clients, uid)
	}
	r.cancel()
	if r.onClose != nil {
		r.onClose()
		r.onClose = nil
	}
}
