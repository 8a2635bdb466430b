// Package spectator fans room snapshots out to passive observers at a
// bounded cadence. Spectators cost the host nothing: pushes never
// block, slow outboxes are dropped, and rapid updates are coalesced to
// the latest value per throttle window.
package spectator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/helioplay/rooms-backend/internal/metrics"
	"github.com/helioplay/rooms-backend/pkg/types"
)

var ErrHubFull = errors.New("spectator capacity reached")

// Spectator is one observer's roster entry.
type Spectator struct {
	UID       string
	Name      string
	AvatarURL string
	JoinedAt  time.Time
}

type member struct {
	spec   Spectator
	outbox chan types.ServerMessage
}

// Hub owns one room's spectator roster and the throttled snapshot
// fan-out. Join/Leave are called from connection goroutines; the
// forwarding itself runs on the hub's own loop so spectators always
// observe snapshots in the order the room produced them.
type Hub struct {
	max      int
	throttle time.Duration
	clock    clockwork.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	members map[string]member
	last    *types.Snapshot // latest forwarded snapshot, for late joiners

	pushCh chan types.Snapshot
}

func NewHub(max int, throttle time.Duration, clock clockwork.Clock, m *metrics.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		max:      max,
		throttle: throttle,
		clock:    clock,
		log:      log,
		metrics:  m,
		members:  make(map[string]member),
		pushCh:   make(chan types.Snapshot, 64),
	}
}

// Run drives the throttle loop until ctx is cancelled. Pushes arriving
// within one throttle window collapse into the single latest snapshot,
// forwarded when the window closes.
func (h *Hub) Run(ctx context.Context) {
	var pending *types.Snapshot
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case snap := <-h.pushCh:
			pending = &snap
			if timerCh == nil {
				timerCh = h.clock.NewTimer(h.throttle).Chan()
			}

		case <-timerCh:
			timerCh = nil
			if pending != nil {
				h.fanOut(*pending)
				pending = nil
			}
		}
	}
}

// Push hands the hub a new snapshot. It never blocks the caller: when
// the push channel is full the oldest queued snapshot is evicted so
// the freshest one always survives.
func (h *Hub) Push(snap types.Snapshot) {
	for {
		select {
		case h.pushCh <- snap:
			return
		default:
		}
		select {
		case <-h.pushCh:
		default:
		}
	}
}

// Join seats a spectator and immediately sends the last forwarded
// snapshot so mid-match joiners render current state.
func (h *Hub) Join(spec Spectator, outbox chan types.ServerMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if spec.JoinedAt.IsZero() {
		spec.JoinedAt = h.clock.Now()
	}

	if _, ok := h.members[spec.UID]; ok {
		h.members[spec.UID] = member{spec: spec, outbox: outbox}
		return nil
	}
	if len(h.members) >= h.max {
		return ErrHubFull
	}
	h.members[spec.UID] = member{spec: spec, outbox: outbox}

	if h.last != nil {
		snap := *h.last
		select {
		case outbox <- types.ServerMessage{Type: types.MsgSnapshot, Snapshot: &snap}:
		default:
		}
	}
	return nil
}

// Leave removes a spectator. Repeated calls for the same uid are
// no-ops.
func (h *Hub) Leave(uid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.members, uid)
}

// Count returns the current roster size.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *Hub) fanOut(snap types.Snapshot) {
	h.mu.Lock()
	h.last = &snap
	targets := make([]member, 0, len(h.members))
	for _, m := range h.members {
		targets = append(targets, m)
	}
	h.mu.Unlock()

	msg := types.ServerMessage{Type: types.MsgSnapshot, Snapshot: &snap}
	for _, m := range targets {
		select {
		case m.outbox <- msg:
		default:
			// Slow spectator: drop them rather than backpressure the
			// room. Their own supervisor will bring them back.
			h.log.Warn("dropping slow spectator", zap.String("uid", m.spec.UID))
			h.metrics.DroppedSpectators.Add(1)
			h.mu.Lock()
			delete(h.members, m.spec.UID)
			h.mu.Unlock()
			close(m.outbox)
		}
	}
	h.metrics.SnapshotsBroadcast.Add(1)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for uid, m := range h.members {
		close(m.outbox)
		delete(h.members, uid)
	}
}
