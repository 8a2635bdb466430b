package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/helioplay/rooms-backend/internal/config"
	"github.com/helioplay/rooms-backend/internal/httpapi"
	"github.com/helioplay/rooms-backend/internal/hub"
	"github.com/helioplay/rooms-backend/internal/metrics"
	"github.com/helioplay/rooms-backend/internal/room"
	"github.com/helioplay/rooms-backend/internal/score"
	"github.com/helioplay/rooms-backend/internal/store"
	"github.com/helioplay/rooms-backend/internal/ws"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := room.Deps{
		Bounds:  score.DefaultRegistry(),
		Clock:   clockwork.NewRealClock(),
		Log:     log,
		Metrics: metrics.New(),
	}

	if cfg.DatabaseURL != "" {
		st, err := store.Open(cfg.DatabaseURL, log)
		if err != nil {
			log.Fatal("failed to open store", zap.Error(err))
		}
		deps.Recorder = st
		log.Info("match persistence enabled")
	}

	h := hub.NewHub(ctx, cfg.Room, deps)
	gate := ws.NewGate(cfg.MaxConns)
	handler := httpapi.SetupRoutes(h, gate, deps.Metrics, log)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
