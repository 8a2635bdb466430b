package spectator

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/helioplay/rooms-backend/internal/metrics"
	"github.com/helioplay/rooms-backend/pkg/types"
)

const throttle = 100 * time.Millisecond

func newTestHub(t *testing.T, max int) (*Hub, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	h := NewHub(max, throttle, clock, metrics.New(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h, clock
}

func recvMsg(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) types.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("spectator outbox closed unexpectedly")
		}
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return types.ServerMessage{} // unreachable
	}
}

func recvNoMsg(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no message within %v, got %+v", within, msg)
	case <-time.After(within):
	}
}

// drainPushes waits for the hub loop to consume everything sent so far.
func drainPushes(t *testing.T, h *Hub) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(h.pushCh) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("hub did not drain pushes")
		}
		time.Sleep(time.Millisecond)
	}
	// One more beat so the loop finishes the in-flight receive.
	time.Sleep(5 * time.Millisecond)
}

func snap(version int) types.Snapshot {
	return types.Snapshot{Version: version, Phase: "playing"}
}

func TestHub_CoalescesBurstIntoLatest(t *testing.T) {
	h, clock := newTestHub(t, 10)

	out := make(chan types.ServerMessage, 4)
	if err := h.Join(Spectator{UID: "s1", Name: "Sam"}, out); err != nil {
		t.Fatalf("join: %v", err)
	}

	// 12 pushes in one throttle window.
	for v := 1; v <= 12; v++ {
		h.Push(snap(v))
	}
	drainPushes(t, h)

	clock.Advance(throttle)

	msg := recvMsg(t, out, time.Second)
	if msg.Type != types.MsgSnapshot || msg.Snapshot.Version != 12 {
		t.Fatalf("want single snapshot with version 12, got %+v", msg)
	}
	recvNoMsg(t, out, 50*time.Millisecond)
}

func TestHub_OrderPreservedAcrossWindows(t *testing.T) {
	h, clock := newTestHub(t, 10)

	out := make(chan types.ServerMessage, 4)
	if err := h.Join(Spectator{UID: "s1"}, out); err != nil {
		t.Fatalf("join: %v", err)
	}

	h.Push(snap(1))
	drainPushes(t, h)
	clock.Advance(throttle)
	first := recvMsg(t, out, time.Second)

	h.Push(snap(2))
	h.Push(snap(3))
	drainPushes(t, h)
	clock.Advance(throttle)
	second := recvMsg(t, out, time.Second)

	if first.Snapshot.Version != 1 || second.Snapshot.Version != 3 {
		t.Fatalf("want versions [1 3], got [%d %d]", first.Snapshot.Version, second.Snapshot.Version)
	}
}

func TestHub_JoinBeyondCapacity(t *testing.T) {
	h, _ := newTestHub(t, 2)

	if err := h.Join(Spectator{UID: "s1"}, make(chan types.ServerMessage, 1)); err != nil {
		t.Fatalf("join s1: %v", err)
	}
	if err := h.Join(Spectator{UID: "s2"}, make(chan types.ServerMessage, 1)); err != nil {
		t.Fatalf("join s2: %v", err)
	}
	if err := h.Join(Spectator{UID: "s3"}, make(chan types.ServerMessage, 1)); err != ErrHubFull {
		t.Fatalf("want ErrHubFull, got %v", err)
	}
	if h.Count() != 2 {
		t.Fatalf("count grew past capacity: %d", h.Count())
	}
}

func TestHub_PushBackpressureKeepsNewest(t *testing.T) {
	// No Run loop: the push queue backs all the way up.
	h := NewHub(10, throttle, clockwork.NewFakeClock(), metrics.New(), zap.NewNop())

	total := cap(h.pushCh) + 8
	for v := 1; v <= total; v++ {
		h.Push(snap(v))
	}

	var last int
	for len(h.pushCh) > 0 {
		last = (<-h.pushCh).Version
	}
	if last != total {
		t.Fatalf("newest snapshot lost under backpressure: last queued version %d, want %d", last, total)
	}
}

func TestHub_JoinStampsRosterTime(t *testing.T) {
	h, clock := newTestHub(t, 2)

	if err := h.Join(Spectator{UID: "s1"}, make(chan types.ServerMessage, 1)); err != nil {
		t.Fatalf("join: %v", err)
	}

	h.mu.RLock()
	joined := h.members["s1"].spec.JoinedAt
	h.mu.RUnlock()
	if !joined.Equal(clock.Now()) {
		t.Fatalf("want roster time from the injected clock, got %v", joined)
	}
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	h, _ := newTestHub(t, 2)

	if err := h.Join(Spectator{UID: "s1"}, make(chan types.ServerMessage, 1)); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.Leave("s1")
	h.Leave("s1")
	h.Leave("never-joined")
	if h.Count() != 0 {
		t.Fatalf("want empty roster, got %d", h.Count())
	}
}

func TestHub_LateJoinerGetsLastSnapshot(t *testing.T) {
	h, clock := newTestHub(t, 10)

	early := make(chan types.ServerMessage, 4)
	if err := h.Join(Spectator{UID: "s1"}, early); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.Push(snap(5))
	drainPushes(t, h)
	clock.Advance(throttle)
	_ = recvMsg(t, early, time.Second)

	late := make(chan types.ServerMessage, 4)
	if err := h.Join(Spectator{UID: "s2"}, late); err != nil {
		t.Fatalf("join: %v", err)
	}
	msg := recvMsg(t, late, time.Second)
	if msg.Snapshot == nil || msg.Snapshot.Version != 5 {
		t.Fatalf("late joiner should see last snapshot, got %+v", msg)
	}
}

func TestHub_SlowSpectatorDroppedNotBlocking(t *testing.T) {
	h, clock := newTestHub(t, 10)

	slow := make(chan types.ServerMessage) // unbuffered, never read
	fast := make(chan types.ServerMessage, 4)
	if err := h.Join(Spectator{UID: "slow"}, slow); err != nil {
		t.Fatalf("join slow: %v", err)
	}
	if err := h.Join(Spectator{UID: "fast"}, fast); err != nil {
		t.Fatalf("join fast: %v", err)
	}

	h.Push(snap(1))
	drainPushes(t, h)
	clock.Advance(throttle)

	msg := recvMsg(t, fast, time.Second)
	if msg.Snapshot.Version != 1 {
		t.Fatalf("fast spectator missed snapshot: %+v", msg)
	}

	deadline := time.Now().Add(time.Second)
	for h.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("slow spectator not dropped, count=%d", h.Count())
		}
		time.Sleep(time.Millisecond)
	}
}
