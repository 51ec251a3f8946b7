package modbus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/rs/zerolog"
)

// socketPrecheckTimeout caps the raw TCP dial used to fail fast on
// unreachable hosts before the protocol handshake.
const socketPrecheckTimeout = 2 * time.Second

// ParamsSource supplies the current connection settings. The direct client
// reloads a fresh snapshot on every (re)connect so configuration changes
// take effect without a restart.
type ParamsSource interface {
	ConnectionParams() domain.ConnectionParams
}

// handle bundles an open goburrow session with its unit selector and
// close function, so tests can substitute a fake wire client.
type handle struct {
	client  gomodbus.Client
	setUnit func(unit byte)
	close   func() error
}

// DirectClient is the fastest-path Modbus TCP tier: one reconnect path,
// short timeouts, explicit connected state. Any transport failure flips
// connected to false so the next call forces a fresh session. No error
// from the underlying library escapes untranslated.
type DirectClient struct {
	source ParamsSource
	policy domain.ExceptionPolicy
	logger zerolog.Logger

	// mu spans the full request/response round trip. The goburrow client
	// is not safe for concurrent use.
	mu        sync.Mutex
	params    domain.ConnectionParams
	handle    *handle
	connected atomic.Bool
	lastError error

	// Injection points for tests.
	precheck func(addr string, timeout time.Duration) error
	open     func(p domain.ConnectionParams) (*handle, error)
}

// NewDirectClient creates the direct TCP tier.
func NewDirectClient(source ParamsSource, policy domain.ExceptionPolicy, logger zerolog.Logger) *DirectClient {
	return &DirectClient{
		source:   source,
		policy:   policy,
		logger:   logger.With().Str("component", "direct-client").Logger(),
		precheck: dialPrecheck,
		open:     openTCP,
	}
}

// Name identifies the tier in logs.
func (c *DirectClient) Name() string { return "direct" }

// Connected reports the cached session state without I/O.
func (c *DirectClient) Connected() bool { return c.connected.Load() }

// LastError returns the most recent transport failure, if any.
func (c *DirectClient) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Connect establishes the session if it is not already up.
func (c *DirectClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx, false)
}

// Reconnect tears down any existing session and builds a fresh one.
func (c *DirectClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx, true)
}

// connectLocked reloads parameters and (re)establishes the session.
// Callers hold c.mu.
func (c *DirectClient) connectLocked(ctx context.Context, force bool) error {
	params := c.source.ConnectionParams()

	if c.connected.Load() && !force && params.Equal(c.params) {
		return nil
	}

	if params.Type != domain.ConnectionTCP {
		return fmt.Errorf("%w: direct client is TCP only, got %q", domain.ErrInvalidTransport, params.Type)
	}
	if err := params.Validate(); err != nil {
		return err
	}

	c.closeLocked()
	c.params = params

	// Raw socket dial first, with a short cap, purely to fail fast on
	// unreachable hosts.
	timeout := params.Timeout
	if timeout <= 0 || timeout > socketPrecheckTimeout {
		timeout = socketPrecheckTimeout
	}
	if err := c.precheck(params.Address(), timeout); err != nil {
		c.lastError = err
		c.logger.Warn().Err(err).Str("address", params.Address()).Msg("Socket pre-check failed")
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrConnectionTimeout, ctx.Err())
	default:
	}

	h, err := c.open(params)
	if err != nil {
		c.lastError = err
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	c.handle = h

	// Verifying read. A valid Modbus exception response proves the
	// transport reachable and protocol speaking; whether it still counts
	// as connected is the exception policy's call.
	h.setUnit(1)
	if _, err := h.client.ReadHoldingRegisters(0, 1); err != nil {
		if code, ok := ExceptionCode(err); ok && c.policy.Healthy(code) {
			c.logger.Debug().Uint8("code", code).Msg("Verify read returned exception response, connection OK")
		} else {
			c.closeLocked()
			c.lastError = err
			return fmt.Errorf("%w: verify read: %v", domain.ErrConnectionFailed, err)
		}
	}

	c.connected.Store(true)
	c.lastError = nil
	c.logger.Info().Str("address", params.Address()).Msg("Direct client connected")
	return nil
}

// Disconnect closes the session. Idempotent.
func (c *DirectClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *DirectClient) closeLocked() {
	if c.handle != nil {
		if err := c.handle.close(); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing direct client handle")
		}
		c.handle = nil
	}
	c.connected.Store(false)
}

// markBrokenLocked records a transport failure so the next call forces a
// fresh reconnect.
func (c *DirectClient) markBrokenLocked(err error) {
	c.lastError = err
	c.connected.Store(false)
	c.logger.Warn().Err(err).Msg("Direct client transport failure, session marked down")
}

// request runs one Modbus operation under the client lock, lazily
// reconnecting first. Exception responses keep the session healthy.
func (c *DirectClient) request(unit byte, op func(gomodbus.Client) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		if err := c.connectLocked(context.Background(), false); err != nil {
			return nil, err
		}
	}

	c.handle.setUnit(unit)
	data, err := op(c.handle.client)
	if err != nil {
		if code, ok := ExceptionCode(err); ok {
			ev := c.logger.Warn()
			if c.policy.Quiet(code) {
				ev = c.logger.Debug()
			}
			ev.Uint8("code", code).Msg("Modbus exception response")
			return nil, domain.ModbusExceptionToError(code)
		}
		c.markBrokenLocked(err)
		return nil, translateError(err, domain.ErrReadFailed)
	}
	return data, nil
}

// ReadCoils reads quantity coils starting at address.
func (c *DirectClient) ReadCoils(address, quantity uint16, unit byte) ([]bool, error) {
	data, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.ReadCoils(address, quantity)
	})
	if err != nil {
		return nil, err
	}
	return decodeBits(data, quantity)
}

// ReadHoldingRegisters reads quantity holding registers starting at address.
func (c *DirectClient) ReadHoldingRegisters(address, quantity uint16, unit byte) ([]uint16, error) {
	data, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.ReadHoldingRegisters(address, quantity)
	})
	if err != nil {
		return nil, err
	}
	return decodeRegisters(data, quantity)
}

// ReadInputRegisters reads quantity input registers starting at address.
func (c *DirectClient) ReadInputRegisters(address, quantity uint16, unit byte) ([]uint16, error) {
	data, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.ReadInputRegisters(address, quantity)
	})
	if err != nil {
		return nil, err
	}
	return decodeRegisters(data, quantity)
}

// WriteCoil writes a single coil.
func (c *DirectClient) WriteCoil(address uint16, value bool, unit byte) error {
	_, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.WriteSingleCoil(address, coilValue(value))
	})
	return err
}

// WriteRegister writes a single holding register.
func (c *DirectClient) WriteRegister(address, value uint16, unit byte) error {
	_, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.WriteSingleRegister(address, value)
	})
	return err
}

// WriteRegisters writes consecutive holding registers.
func (c *DirectClient) WriteRegisters(address uint16, values []uint16, unit byte) error {
	_, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.WriteMultipleRegisters(address, uint16(len(values)), encodeRegisters(values))
	})
	return err
}

// dialPrecheck is the default raw socket reachability test.
func dialPrecheck(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

// openTCP builds the default goburrow TCP session.
func openTCP(p domain.ConnectionParams) (*handle, error) {
	h := gomodbus.NewTCPClientHandler(p.Address())
	h.Timeout = p.Timeout
	h.SlaveId = 1
	if err := h.Connect(); err != nil {
		return nil, err
	}
	return &handle{
		client:  gomodbus.NewClient(h),
		setUnit: func(unit byte) { h.SlaveId = unit },
		close:   h.Close,
	}, nil
}
