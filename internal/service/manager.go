// Package service composes the transport tiers into the connection
// management layer: the canonical connection manager, the dual-tier facade,
// the watchdog monitor and the boolean channel reader.
package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nexus-edge/plc-link/internal/adapter/modbus"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/metrics"
	"github.com/rs/zerolog"
)

// Settings is the slice of the configuration store the connection layer
// reads. A fresh snapshot is taken on every (re)connect.
type Settings interface {
	ConnectionParams() domain.ConnectionParams
	AddressOffset() int
	UnitID() byte
	RetryInterval() time.Duration
	Demo() bool
}

// legacyTransport is the canonical client the manager owns: a Transport that
// must be configured before connecting.
type legacyTransport interface {
	domain.Transport
	Configure(params domain.ConnectionParams) error
}

// ConnectionManager owns the canonical legacy-tier session. All connect and
// I/O activity on that session is serialized by the manager lock, and
// connect attempts are throttled to the configured minimum interval so a
// dead PLC cannot trigger a reconnect storm.
//
// The manager itself implements domain.Transport, which lets the facade
// treat it as the second tier of its fallback list.
type ConnectionManager struct {
	settings Settings
	policy   domain.ExceptionPolicy
	logger   zerolog.Logger
	metrics  *metrics.Registry

	mu          sync.Mutex
	client      legacyTransport
	params      domain.ConnectionParams
	lastAttempt time.Time
	lastError   error

	// Injection points for tests.
	precheck  func(addr string, timeout time.Duration) error
	newClient func() legacyTransport
	now       func() time.Time
}

// NewConnectionManager creates the manager. Nothing connects until the first
// Connect or read.
func NewConnectionManager(settings Settings, policy domain.ExceptionPolicy, m *metrics.Registry, logger zerolog.Logger) *ConnectionManager {
	log := logger.With().Str("component", "connection-manager").Logger()
	return &ConnectionManager{
		settings: settings,
		policy:   policy,
		logger:   log,
		metrics:  m,
		precheck: func(addr string, timeout time.Duration) error {
			conn, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		newClient: func() legacyTransport {
			return modbus.NewLegacyClient(policy, log)
		},
		now: time.Now,
	}
}

// Name identifies the tier in logs.
func (m *ConnectionManager) Name() string { return "legacy" }

// Connected reports the cached session state without I/O. Demo mode is
// always connected.
func (m *ConnectionManager) Connected() bool {
	if m.settings.Demo() {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.client.Connected()
}

// State returns a point-in-time snapshot of the managed session.
func (m *ConnectionManager) State() domain.ConnectionState {
	demo := m.settings.Demo()
	m.mu.Lock()
	defer m.mu.Unlock()

	state := domain.ConnectionState{
		Connected:   demo || (m.client != nil && m.client.Connected()),
		LastAttempt: m.lastAttempt,
		RetryDelay:  m.settings.RetryInterval(),
	}
	if m.lastError != nil {
		state.LastError = m.lastError.Error()
	}
	return state
}

// Connect establishes the canonical session. Attempts within the minimum
// retry interval of the previous one are skipped and report
// ErrConnectThrottled; an established session short-circuits.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	if m.settings.Demo() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *ConnectionManager) connectLocked(ctx context.Context) error {
	if m.client != nil && m.client.Connected() {
		return nil
	}

	interval := m.settings.RetryInterval()
	if elapsed := m.now().Sub(m.lastAttempt); elapsed < interval {
		m.metrics.RecordThrottled()
		m.logger.Debug().
			Dur("elapsed", elapsed).
			Dur("interval", interval).
			Msg("Connect attempt throttled")
		return fmt.Errorf("%w: %v until next attempt", domain.ErrConnectThrottled, interval-elapsed)
	}
	m.lastAttempt = m.now()

	params := m.settings.ConnectionParams()
	if err := params.Validate(); err != nil {
		m.lastError = err
		return err
	}

	started := m.now()
	err := m.establishLocked(ctx, params)
	m.metrics.RecordConnection(err == nil, m.now().Sub(started).Seconds())
	if err != nil {
		m.lastError = err
		m.logger.Warn().Err(err).Str("address", params.Address()).Msg("Connection attempt failed")
		return err
	}

	m.lastError = nil
	m.params = params
	m.logger.Info().
		Str("type", string(params.Type)).
		Str("address", params.Address()).
		Msg("PLC session established")
	return nil
}

func (m *ConnectionManager) establishLocked(ctx context.Context, params domain.ConnectionParams) error {
	// Socket pre-check for TCP endpoints, capped short so a dead host does
	// not consume the whole protocol timeout.
	if params.Type == domain.ConnectionTCP {
		timeout := params.Timeout
		if timeout <= 0 || timeout > 2*time.Second {
			timeout = 2 * time.Second
		}
		if err := m.precheck(params.Address(), timeout); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		}
	}

	if m.client == nil {
		m.client = m.newClient()
	}
	if err := m.client.Configure(params); err != nil {
		return err
	}
	if err := m.client.Connect(ctx); err != nil {
		return err
	}

	// Verifying read. The client keeps the session when the device answers
	// with an exception response, so only transport failures surface here.
	if _, err := m.client.ReadHoldingRegisters(0, 1, m.settings.UnitID()); err != nil {
		if domain.IsExceptionError(err) {
			m.logger.Debug().Err(err).Msg("Verify read returned exception response, connection OK")
			return nil
		}
		_ = m.client.Disconnect()
		return fmt.Errorf("%w: verify read: %v", domain.ErrConnectionFailed, err)
	}
	return nil
}

// Disconnect closes the canonical session. Idempotent.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		if err := m.client.Disconnect(); err != nil {
			m.logger.Debug().Err(err).Msg("Error during disconnect")
		}
	}
	return nil
}

// GetClient returns the underlying transport for callers that need direct
// access, or ErrNotConnected if no session is up.
func (m *ConnectionManager) GetClient() (domain.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || !m.client.Connected() {
		return nil, domain.ErrNotConnected
	}
	return m.client, nil
}

// ensure lazily connects before an I/O operation.
func (m *ConnectionManager) ensure() (domain.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || !m.client.Connected() {
		if err := m.connectLocked(context.Background()); err != nil {
			return nil, err
		}
	}
	return m.client, nil
}

// ReadCoils reads quantity coils starting at address.
func (m *ConnectionManager) ReadCoils(address, quantity uint16, unit byte) ([]bool, error) {
	c, err := m.ensure()
	if err != nil {
		return nil, err
	}
	return c.ReadCoils(address, quantity, unit)
}

// ReadHoldingRegisters reads quantity holding registers starting at address.
func (m *ConnectionManager) ReadHoldingRegisters(address, quantity uint16, unit byte) ([]uint16, error) {
	c, err := m.ensure()
	if err != nil {
		return nil, err
	}
	return c.ReadHoldingRegisters(address, quantity, unit)
}

// ReadInputRegisters reads quantity input registers starting at address.
func (m *ConnectionManager) ReadInputRegisters(address, quantity uint16, unit byte) ([]uint16, error) {
	c, err := m.ensure()
	if err != nil {
		return nil, err
	}
	return c.ReadInputRegisters(address, quantity, unit)
}

// WriteCoil writes a single coil.
func (m *ConnectionManager) WriteCoil(address uint16, value bool, unit byte) error {
	c, err := m.ensure()
	if err != nil {
		return err
	}
	return c.WriteCoil(address, value, unit)
}

// WriteRegister writes a single holding register.
func (m *ConnectionManager) WriteRegister(address, value uint16, unit byte) error {
	c, err := m.ensure()
	if err != nil {
		return err
	}
	return c.WriteRegister(address, value, unit)
}

// WriteRegisters writes consecutive holding registers.
func (m *ConnectionManager) WriteRegisters(address uint16, values []uint16, unit byte) error {
	c, err := m.ensure()
	if err != nil {
		return err
	}
	return c.WriteRegisters(address, values, unit)
}

// TestConnection probes an arbitrary endpoint without touching the canonical
// session: socket pre-check, connect, one verify read, disconnect. Used by
// the settings dialog and the /api/test-connection handler.
func (m *ConnectionManager) TestConnection(ctx context.Context, params domain.ConnectionParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	if params.Type == domain.ConnectionTCP {
		timeout := params.Timeout
		if timeout <= 0 || timeout > 2*time.Second {
			timeout = 2 * time.Second
		}
		if err := m.precheck(params.Address(), timeout); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		}
	}

	probe := m.newClient()
	if err := probe.Configure(params); err != nil {
		return err
	}
	if err := probe.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = probe.Disconnect() }()

	if _, err := probe.ReadHoldingRegisters(0, 1, m.settings.UnitID()); err != nil {
		if domain.IsExceptionError(err) {
			return nil
		}
		return fmt.Errorf("%w: probe read: %v", domain.ErrConnectionFailed, err)
	}
	return nil
}
