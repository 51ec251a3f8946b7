package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-edge/plc-link/internal/adapter/config"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/metrics"
	"github.com/rs/zerolog"
)

// MonitorState is the watchdog's view of connection health.
type MonitorState string

const (
	// StateStable: checks pass, polling at the base interval.
	StateStable MonitorState = "stable"
	// StateDegraded: the failure threshold was crossed, interval backing off.
	StateDegraded MonitorState = "degraded"
	// StateReconnecting: a background reconnection attempt is in flight.
	StateReconnecting MonitorState = "reconnecting"
)

// StateChange is one watchdog transition, delivered on the events channel
// and to the optional callback.
type StateChange struct {
	From       MonitorState           `json:"from"`
	To         MonitorState           `json:"to"`
	Connection domain.ConnectionState `json:"connection"`
	At         time.Time              `json:"at"`
}

// healthSource is the slice of the facade the monitor drives.
type healthSource interface {
	IsConnected() bool
	EnsureConnection(ctx context.Context) error
}

// ConnectionMonitor is the watchdog: a single goroutine owning a timer that
// periodically checks connection health, backs the poll interval off while
// the link stays down, and kicks off at most one background reconnection
// attempt at a time.
type ConnectionMonitor struct {
	source  healthSource
	states  domain.StateSource
	cfg     config.WatchdogConfig
	logger  zerolog.Logger
	metrics *metrics.Registry

	started      atomic.Bool
	reconnecting atomic.Bool
	stopOnce     sync.Once
	stop         chan struct{}
	done         chan struct{}

	mu       sync.Mutex
	state    MonitorState
	interval time.Duration
	failures uint
	callback func(StateChange)
	events   chan StateChange
}

// NewConnectionMonitor creates the watchdog. Start launches it.
func NewConnectionMonitor(source healthSource, states domain.StateSource, cfg config.WatchdogConfig, m *metrics.Registry, logger zerolog.Logger) *ConnectionMonitor {
	return &ConnectionMonitor{
		source:   source,
		states:   states,
		cfg:      cfg,
		logger:   logger.With().Str("component", "connection-monitor").Logger(),
		metrics:  m,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateStable,
		interval: cfg.BaseInterval,
		events:   make(chan StateChange, 16),
	}
}

// OnStateChange registers a callback invoked on every transition. Must be
// called before Start. The callback runs on the watchdog goroutine and must
// not call back into the monitor.
func (m *ConnectionMonitor) OnStateChange(fn func(StateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = fn
}

// Events returns the transition channel. Slow consumers lose events rather
// than stalling the watchdog.
func (m *ConnectionMonitor) Events() <-chan StateChange {
	return m.events
}

// State returns the current watchdog state.
func (m *ConnectionMonitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Interval returns the current poll interval after backoff.
func (m *ConnectionMonitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// ConsecutiveFailures returns the failed-check streak.
func (m *ConnectionMonitor) ConsecutiveFailures() uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Start launches the watchdog goroutine. A second call is a programming
// error: it is refused with ErrAlreadyStarted instead of spawning a twin.
func (m *ConnectionMonitor) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		m.logger.Error().Msg("Start called twice, refusing second watchdog")
		return domain.ErrAlreadyStarted
	}
	m.logger.Info().
		Dur("initial_delay", m.cfg.InitialDelay).
		Dur("base_interval", m.cfg.BaseInterval).
		Msg("Connection monitor started")
	go m.run()
	return nil
}

// Stop terminates the watchdog and waits for the goroutine to exit.
// Idempotent.
func (m *ConnectionMonitor) Stop() {
	if !m.started.Load() {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
}

func (m *ConnectionMonitor) run() {
	defer close(m.done)

	timer := time.NewTimer(m.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-m.stop:
			m.logger.Info().Msg("Connection monitor stopped")
			return
		case <-timer.C:
			m.check()
			timer.Reset(m.Interval())
		}
	}
}

// check runs one health probe and applies the state machine.
func (m *ConnectionMonitor) check() {
	connected := m.source.IsConnected()

	m.mu.Lock()
	if connected {
		m.failures = 0
		m.interval = m.cfg.BaseInterval
		m.transitionLocked(StateStable)
		failures := m.failures
		m.mu.Unlock()
		m.metrics.RecordWatchdogCheck(failures)
		m.metrics.UpdateWatchdogInterval(m.cfg.BaseInterval.Seconds())
		return
	}

	m.failures++
	failures := m.failures
	if failures >= m.cfg.FailureThreshold {
		m.transitionLocked(StateDegraded)
		// Back off while the link stays down, capped.
		next := m.interval * 2
		if next > m.cfg.MaxInterval {
			next = m.cfg.MaxInterval
		}
		m.interval = next
	}
	interval := m.interval
	m.mu.Unlock()

	m.metrics.RecordWatchdogCheck(failures)
	m.metrics.UpdateWatchdogInterval(interval.Seconds())
	m.logger.Warn().
		Uint("consecutive_failures", failures).
		Dur("interval", interval).
		Msg("Health check failed")

	m.maybeReconnect()
}

// maybeReconnect starts one background reconnection attempt if none is in
// flight. The atomic guard makes re-entry impossible regardless of how often
// the timer fires.
func (m *ConnectionMonitor) maybeReconnect() {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	m.transitionLocked(StateReconnecting)
	m.mu.Unlock()

	m.metrics.RecordReconnect()
	go func() {
		defer m.reconnecting.Store(false)

		err := m.source.EnsureConnection(context.Background())

		m.mu.Lock()
		if err == nil {
			m.failures = 0
			m.interval = m.cfg.BaseInterval
			m.transitionLocked(StateStable)
		} else if m.failures >= m.cfg.FailureThreshold {
			m.transitionLocked(StateDegraded)
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn().Err(err).Msg("Background reconnection failed")
		} else {
			m.logger.Info().Msg("Background reconnection succeeded")
		}
	}()
}

// transitionLocked applies a state change and emits it. Callers hold m.mu.
func (m *ConnectionMonitor) transitionLocked(to MonitorState) {
	if m.state == to {
		return
	}
	change := StateChange{
		From: m.state,
		To:   to,
		At:   time.Now(),
	}
	if m.states != nil {
		change.Connection = m.states.State()
	}
	m.state = to

	m.metrics.RecordWatchdogTransition(string(to))
	m.logger.Info().
		Str("from", string(change.From)).
		Str("to", string(change.To)).
		Msg("Watchdog state change")

	select {
	case m.events <- change:
	default:
		// Slow consumer, drop rather than stall the watchdog.
	}
	if m.callback != nil {
		m.callback(change)
	}
}
