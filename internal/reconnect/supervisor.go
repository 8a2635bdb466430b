// Package reconnect supervises one client connection over an
// unreliable network: bounded exponential backoff between attempts,
// buffered outbound messages while down, and a stability window that
// forgives old failures once a connection has held long enough.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrAbandoned is returned by Run after MaxRetries consecutive failed
// attempts. The supervisor never retries indefinitely.
var ErrAbandoned = errors.New("connection abandoned after max retries")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateStable       State = "stable"
	StateAbandoned    State = "abandoned"
)

// Conn is one live transport connection.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a new transport connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MinDelay      time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	MinUptime     time.Duration
	MaxEnqueued   int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:    20,
		InitialDelay:  100 * time.Millisecond,
		MinDelay:      100 * time.Millisecond,
		MaxDelay:      8 * time.Second,
		BackoffFactor: 2.0,
		MinUptime:     3 * time.Second,
		MaxEnqueued:   15,
	}
}

// Callbacks are the supervisor's only side effects besides the
// transport itself.
type Callbacks struct {
	OnStateChange func(State)
	OnMessage     func(data []byte)
	OnReconnected func()
}

type Supervisor struct {
	cfg    Config
	dialer Dialer
	clock  clockwork.Clock
	cb     Callbacks
	log    *zap.Logger

	mu       sync.Mutex
	state    State
	conn     Conn
	buffer   [][]byte
	attempts int
	delay    time.Duration
	gen      int // connection generation, invalidates stale stability timers
}

func New(dialer Dialer, cfg Config, cb Callbacks, clock clockwork.Clock, log *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		dialer: dialer,
		clock:  clock,
		cb:     cb,
		log:    log,
		state:  StateDisconnected,
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run dials and serves connections until ctx is cancelled or the retry
// budget is spent. It blocks; callers run it in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) error {
	reconnecting := false

	for {
		s.setState(StateConnecting)
		conn, err := s.dialer.Dial(ctx)
		if err == nil {
			s.serve(ctx, conn, reconnecting)
			reconnecting = true
		}
		s.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.mu.Lock()
		s.attempts++
		exhausted := s.attempts > s.cfg.MaxRetries
		s.mu.Unlock()
		if exhausted {
			s.setState(StateAbandoned)
			return ErrAbandoned
		}

		delay := s.nextDelay()
		s.log.Debug("scheduling reconnect",
			zap.Duration("delay", delay),
			zap.Int("attempt", s.attemptCount()))
		select {
		case <-s.clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send transmits data on the live connection, or buffers it while
// disconnected. The buffer is bounded; overflow drops the oldest
// entry, never the newest, because recent game state matters more than
// complete history.
func (s *Supervisor) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		if len(s.buffer) >= s.cfg.MaxEnqueued {
			s.buffer = s.buffer[1:]
		}
		s.buffer = append(s.buffer, data)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return conn.Send(ctx, data)
}

// serve owns one live connection: flush the backlog, watch for
// stability, pump inbound messages until the transport fails.
func (s *Supervisor) serve(ctx context.Context, conn Conn, reconnecting bool) {
	s.mu.Lock()
	s.gen++
	gen := s.gen

	// Buffered messages go out in original order before anything else.
	// A Send racing the flush lands in s.buffer, so re-check under the
	// lock until it is verifiably empty before publishing the
	// connection; otherwise that message is stranded behind newer live
	// sends.
	for len(s.buffer) > 0 {
		backlog := s.buffer
		s.buffer = nil
		s.mu.Unlock()
		for _, data := range backlog {
			if err := conn.Send(ctx, data); err != nil {
				s.log.Debug("flush failed, reconnecting", zap.Error(err))
				conn.Close()
				return
			}
		}
		s.mu.Lock()
	}
	s.conn = conn
	s.mu.Unlock()
	s.setState(StateConnected)

	if reconnecting && s.cb.OnReconnected != nil {
		s.cb.OnReconnected()
	}

	// A connection that survives MinUptime earns back the full retry
	// budget, so a later blip does not inherit an exhausted counter.
	stability := s.clock.AfterFunc(s.cfg.MinUptime, func() {
		s.mu.Lock()
		if s.gen != gen || s.conn == nil {
			s.mu.Unlock()
			return
		}
		s.state = StateStable
		s.attempts = 0
		s.delay = 0
		s.mu.Unlock()
		if s.cb.OnStateChange != nil {
			s.cb.OnStateChange(StateStable)
		}
	})
	defer stability.Stop()

	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			break
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(data)
		}
	}

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	conn.Close()
}

// nextDelay advances the backoff schedule: initial delay first, then
// multiplied per failure, floored at MinDelay and capped at MaxDelay.
func (s *Supervisor) nextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delay == 0 {
		s.delay = s.cfg.InitialDelay
	} else {
		s.delay = time.Duration(float64(s.delay) * s.cfg.BackoffFactor)
	}
	if s.delay < s.cfg.MinDelay {
		s.delay = s.cfg.MinDelay
	}
	if s.delay > s.cfg.MaxDelay {
		s.delay = s.cfg.MaxDelay
	}
	return s.delay
}

func (s *Supervisor) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(st)
	}
}
