// Package config reads server settings from the environment, with the
// production constants as defaults. cmd/server loads a .env file first
// so local runs need no exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/helioplay/rooms-backend/internal/room"
)

type Config struct {
	Addr        string
	DatabaseURL string
	MaxConns    int

	Room room.Config
}

func Load() (Config, error) {
	cfg := Config{
		Addr:     getEnv("ADDR", ":8080"),
		MaxConns: 1000,
		Room:     room.DefaultConfig(),
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	var err error
	if cfg.MaxConns, err = getEnvInt("MAX_CONNS", cfg.MaxConns); err != nil {
		return Config{}, err
	}
	if cfg.Room.MaxSpectators, err = getEnvInt("MAX_SPECTATORS", cfg.Room.MaxSpectators); err != nil {
		return Config{}, err
	}
	if cfg.Room.SpectatorThrottle, err = getEnvMs("SPECTATOR_THROTTLE_MS", cfg.Room.SpectatorThrottle); err != nil {
		return Config{}, err
	}
	if cfg.Room.ReconnectGrace, err = getEnvMs("RECONNECT_GRACE_MS", cfg.Room.ReconnectGrace); err != nil {
		return Config{}, err
	}
	if cfg.Room.IdleTimeout, err = getEnvMs("ROOM_IDLE_TIMEOUT_MS", cfg.Room.IdleTimeout); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvMs(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
