// Package watchdog runs the relay's two periodic tickers: heartbeat pings
// to keep idle connections alive, and the inactivity/max-duration sweep
// that ends sessions the learner or upstream has abandoned.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/corallang/voicerelay/core"
	"github.com/corallang/voicerelay/o11y"
	"github.com/corallang/voicerelay/pkg/relay/session"
)

// Default intervals and timeouts, per the relay's external contract.
const (
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultWatchdogTick       = 10 * time.Second
	DefaultInactivityTimeout  = 120 * time.Second
	DefaultMaxSessionDuration = 1_800_000 * time.Millisecond
)

// Pinger sends a heartbeat ping to a session's learner socket.
type Pinger interface {
	Ping(sess *session.Session) error
}

// Ender ends a session for the given reason, idempotently.
type Ender interface {
	End(ctx context.Context, sess *session.Session, reason string)
}

// Registry supplies the live set of sessions to sweep. The supervisor
// implements this over its active_sessions map.
type Registry interface {
	ActiveSessions() []*session.Session
}

// Config configures a Watchdog's intervals and timeouts.
type Config struct {
	HeartbeatInterval  time.Duration
	WatchdogTick       time.Duration
	InactivityTimeout  time.Duration
	MaxSessionDuration time.Duration
}

func (c Config) normalize() Config {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.WatchdogTick == 0 {
		c.WatchdogTick = DefaultWatchdogTick
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.MaxSessionDuration == 0 {
		c.MaxSessionDuration = DefaultMaxSessionDuration
	}
	return c
}

// Watchdog runs the heartbeat and inactivity/max-duration tickers for
// every session in Registry until Stop is called. It implements
// core.Lifecycle so it can be registered alongside the rest of the
// process's managed components.
type Watchdog struct {
	cfg      Config
	registry Registry
	pinger   Pinger
	ender    Ender
	logger   *o11y.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	healthy bool
}

// New creates a Watchdog. cfg's zero fields are replaced with their
// defaults.
func New(cfg Config, registry Registry, pinger Pinger, ender Ender, logger *o11y.Logger) *Watchdog {
	return &Watchdog{cfg: cfg.normalize(), registry: registry, pinger: pinger, ender: ender, logger: logger}
}

var _ core.Lifecycle = (*Watchdog)(nil)

// Start launches the heartbeat and sweep loops in the background and
// returns immediately.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.healthy = true

	go w.run(runCtx)
	return nil
}

// Stop cancels the background loops and waits for them to exit.
func (w *Watchdog) Stop(_ context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Health reports healthy while the tickers are running.
func (w *Watchdog) Health() core.HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	state := core.HealthUnhealthy
	if w.healthy {
		state = core.HealthHealthy
	}
	return core.HealthStatus{Status: state, Timestamp: time.Now()}
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.done)

	heartbeat := time.NewTicker(w.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(w.cfg.WatchdogTick)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.healthy = false
			w.mu.Unlock()
			return
		case <-heartbeat.C:
			w.doHeartbeat()
		case <-sweep.C:
			w.doSweep(ctx)
		}
	}
}

func (w *Watchdog) doHeartbeat() {
	for _, sess := range w.registry.ActiveSessions() {
		sess.Mu.Lock()
		terminal := sess.State.IsTerminal()
		sess.Mu.Unlock()
		if terminal {
			continue
		}
		if err := w.pinger.Ping(sess); err != nil && w.logger != nil {
			w.logger.Debug(context.Background(), "watchdog: heartbeat ping failed", "session_id", sess.SessionID, "err", err)
		}
	}
}

func (w *Watchdog) doSweep(ctx context.Context) {
	now := time.Now()
	for _, sess := range w.registry.ActiveSessions() {
		sess.Mu.Lock()
		if sess.State.IsTerminal() {
			sess.Mu.Unlock()
			continue
		}
		inactiveFor := now.Sub(sess.LastActivityAt)
		maxDuration := time.Duration(sess.Config.MaxDurationMs) * time.Millisecond
		if maxDuration == 0 {
			maxDuration = w.cfg.MaxSessionDuration
		}
		ranFor := now.Sub(sess.StartedAt)
		sess.Mu.Unlock()

		switch {
		case inactiveFor >= w.cfg.InactivityTimeout:
			w.ender.End(ctx, sess, "inactivity_timeout")
		case ranFor >= maxDuration:
			w.ender.End(ctx, sess, "max_duration_exceeded")
		}
	}
}
