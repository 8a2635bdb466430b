// Package score holds the server-side bounds check applied to every
// reported score before it can touch canonical match state. Clients
// are untrusted; the only thing a forged score_update can achieve is
// being silently ignored.
package score

import (
	"fmt"

	"github.com/helioplay/rooms-backend/internal/engine"
)

// DefaultBurstBuffer is the multiplier applied to a sustained rate
// ceiling so legitimate short bursts are not rejected.
const DefaultBurstBuffer = 1.5

// minElapsedMs floors the elapsed time used in rate computation. A
// zero-duration report would otherwise imply an infinite rate, or let
// a cheater claim huge deltas over tiny windows.
const minElapsedMs = 100

// Bounds is a per-game-type score limit. MaxTotal of 0 means no total
// ceiling.
type Bounds struct {
	MaxPerSecond float64
	BurstBuffer  float64
	MaxTotal     int
}

// Registry maps game types to score bounds. Game types without an
// entry have no bound and every report is accepted; bounds are opt-in
// per game.
type Registry struct {
	bounds map[engine.GameType]Bounds
}

// NewRegistry builds a registry, failing on bounds that reference a
// game type the engine does not know.
func NewRegistry(bounds map[engine.GameType]Bounds) (*Registry, error) {
	r := &Registry{bounds: make(map[engine.GameType]Bounds, len(bounds))}
	for gt, b := range bounds {
		if !engine.KnownGameType(gt) {
			return nil, fmt.Errorf("score bounds for %w: %q", engine.ErrUnknownGameType, gt)
		}
		if b.BurstBuffer == 0 {
			b.BurstBuffer = DefaultBurstBuffer
		}
		r.bounds[gt] = b
	}
	return r, nil
}

// DefaultRegistry returns the production bounds table.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(map[engine.GameType]Bounds{
		engine.GameTapRace:     {MaxPerSecond: 15, MaxTotal: 500},
		engine.GameBalloonPump: {MaxPerSecond: 8, MaxTotal: 300},
		engine.GameBubblePop:   {MaxPerSecond: 12, MaxTotal: 400},
		// tic_tac_toe deliberately unbounded: scores there are move
		// counts, not rates.
	})
	if err != nil {
		panic(err) // table above disagrees with engine game types
	}
	return r
}

// Bounds returns the configured bounds for a game type, with ok=false
// when none are configured.
func (r *Registry) Bounds(gt engine.GameType) (Bounds, bool) {
	b, ok := r.bounds[gt]
	return b, ok
}

// Validate reports whether a score update is plausible. Scores are
// monotonically non-decreasing per session; the delta over the elapsed
// window must fit under the per-second ceiling times the burst buffer.
func (r *Registry) Validate(gt engine.GameType, reported, previous int, elapsedMs int64) bool {
	if reported < 0 || reported < previous {
		return false
	}

	b, ok := r.bounds[gt]
	if !ok {
		// No bound configured: accept. Games opt in to bounds.
		return true
	}

	if b.MaxTotal > 0 && reported > b.MaxTotal {
		return false
	}

	if elapsedMs < minElapsedMs {
		elapsedMs = minElapsedMs
	}
	rate := float64(reported-previous) / (float64(elapsedMs) / 1000.0)
	return rate <= b.MaxPerSecond*b.BurstBuffer
}
