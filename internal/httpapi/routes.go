package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/helioplay/rooms-backend/internal/hub"
	"github.com/helioplay/rooms-backend/internal/metrics"
	"github.com/helioplay/rooms-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, gate *ws.Gate, m *metrics.Metrics, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", CreateRoom(h, log))
	r.Get("/rooms/{code}", RoomState(h))
	r.Get("/ws", ws.Handler(h, gate, m, log))
	r.Get("/metrics", Metrics(m))
	r.Get("/healthz", Healthz)
	return r
}
