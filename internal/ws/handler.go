package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/helioplay/rooms-backend/internal/hub"
	"github.com/helioplay/rooms-backend/internal/metrics"
	"github.com/helioplay/rooms-backend/internal/room"
	"github.com/helioplay/rooms-backend/internal/spectator"
	"github.com/helioplay/rooms-backend/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 16
)

// Gate caps concurrent sockets across the process. Full capacity is a
// plain 503; clients retry through their supervisor.
type Gate struct {
	max   int64
	conns atomic.Int64
}

func NewGate(max int) *Gate {
	return &Gate{max: int64(max)}
}

func (g *Gate) tryAcquire() bool {
	if g.conns.Add(1) > g.max {
		g.conns.Add(-1)
		return false
	}
	return true
}

func (g *Gate) release() { g.conns.Add(-1) }

// Handler upgrades /ws requests and attaches them to a room, as a
// participant by default or as a spectator with role=spectator.
// Required query params: code, uid, name.
func Handler(h *hub.Hub, gate *Gate, m *metrics.Metrics, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		uid := r.URL.Query().Get("uid")
		name := r.URL.Query().Get("name")
		avatar := r.URL.Query().Get("avatar")
		role := r.URL.Query().Get("role")
		if code == "" || uid == "" || name == "" {
			http.Error(w, "missing code, uid or name", http.StatusBadRequest)
			return
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.GetRoom{Code: code, Reply: reply}
		rm := <-reply
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		if !gate.tryAcquire() {
			http.Error(w, "server at capacity", http.StatusServiceUnavailable)
			return
		}
		defer gate.release()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		if role == "spectator" {
			serveSpectator(r.Context(), conn, rm, spectator.Spectator{
				UID:       uid,
				Name:      name,
				AvatarURL: avatar,
			}, m, log)
			return
		}
		servePlayer(r.Context(), conn, rm, uid, name, avatar, m, log)
	}
}

func servePlayer(ctx context.Context, conn *websocket.Conn, rm *room.Room, uid, name, avatar string, m *metrics.Metrics, log *zap.Logger) {
	out := make(chan types.ServerMessage, outboxSize)
	reply := make(chan string, 1)
	rm.Inbox() <- room.Join{UID: uid, Name: name, AvatarURL: avatar, Outbox: out, Reply: reply}

	if errCode := <-reply; errCode != "" {
		writeMsg(ctx, conn, types.ServerMessage{Type: types.MsgError, Code: errCode, Message: "room is full"}, m)
		return
	}
	defer func() { rm.Inbox() <- room.Leave{UID: uid} }()

	writeCtx, writeCancel := context.WithCancel(ctx)
	defer writeCancel()
	go writePump(writeCtx, conn, out, m)

	// Reader loop: decode, hand to the room, never tear the connection
	// down over a malformed payload.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			m.ProtocolErrors.Add(1)
			log.Warn("malformed client message", zap.String("uid", uid), zap.Error(err))
			writeMsg(ctx, conn, types.ServerMessage{Type: types.MsgError, Code: types.ErrCodeBadMessage, Message: "bad json"}, m)
			continue
		}

		rm.Inbox() <- room.FromClient{UID: uid, Msg: cm}
	}
}

func serveSpectator(ctx context.Context, conn *websocket.Conn, rm *room.Room, spec spectator.Spectator, m *metrics.Metrics, log *zap.Logger) {
	out := make(chan types.ServerMessage, outboxSize)
	if err := rm.Spectators().Join(spec, out); err != nil {
		writeMsg(ctx, conn, types.ServerMessage{Type: types.MsgError, Code: types.ErrCodeSpectatorsFull, Message: "spectator capacity reached"}, m)
		return
	}
	defer rm.Spectators().Leave(spec.UID)

	writeMsg(ctx, conn, types.ServerMessage{Type: types.MsgWelcome, SessionID: rm.ID()}, m)

	writeCtx, writeCancel := context.WithCancel(ctx)
	defer writeCancel()
	go writePump(writeCtx, conn, out, m)

	// Spectators send nothing meaningful; the read loop only notices
	// the close.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, out <-chan types.ServerMessage, m *metrics.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-out:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "room closed")
				return
			}
			writeMsg(ctx, conn, msg, m)
		}
	}
}

func writeMsg(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage, m *metrics.Metrics) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, payload); err != nil {
		m.DroppedSends.Add(1)
	}
}
