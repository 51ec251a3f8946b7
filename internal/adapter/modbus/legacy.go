package modbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	gomodbus "github.com/goburrow/modbus"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/rs/zerolog"
)

// LegacyClient is the transport-agnostic tier: it speaks both Modbus TCP
// and RTU and must be configured before use. Its failure policy is
// fail-hard: any I/O error, exception responses excluded, discards the
// session handle entirely so the next operation starts from a clean
// connect.
type LegacyClient struct {
	policy domain.ExceptionPolicy
	logger zerolog.Logger

	mu        sync.Mutex
	params    domain.ConnectionParams
	haveParam bool
	handle    *handle
	connected atomic.Bool

	// Injection point for tests.
	open func(p domain.ConnectionParams) (*handle, error)
}

// NewLegacyClient creates the legacy tier. Configure must be called before
// the first Connect.
func NewLegacyClient(policy domain.ExceptionPolicy, logger zerolog.Logger) *LegacyClient {
	return &LegacyClient{
		policy: policy,
		logger: logger.With().Str("component", "legacy-client").Logger(),
		open:   openSession,
	}
}

// Name identifies the tier in logs.
func (c *LegacyClient) Name() string { return "legacy" }

// Connected reports the cached session state without I/O.
func (c *LegacyClient) Connected() bool { return c.connected.Load() }

// Configure validates and stores the connection parameters. If a session
// is up and the parameters changed, it is torn down so the next Connect
// uses the new endpoint.
func (c *LegacyClient) Configure(params domain.ConnectionParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveParam && !params.Equal(c.params) {
		c.discardLocked(nil)
	}
	c.params = params
	c.haveParam = true
	return nil
}

// Connect establishes the session using the configured parameters.
func (c *LegacyClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *LegacyClient) connectLocked(ctx context.Context) error {
	if !c.haveParam {
		return domain.ErrNotConfigured
	}
	if c.connected.Load() {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrConnectionTimeout, ctx.Err())
	default:
	}

	h, err := c.open(c.params)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	c.handle = h
	c.connected.Store(true)
	c.logger.Info().
		Str("type", string(c.params.Type)).
		Str("address", c.params.Address()).
		Msg("Legacy client connected")
	return nil
}

// Disconnect closes the session. Idempotent.
func (c *LegacyClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardLocked(nil)
	return nil
}

// discardLocked drops the session handle. Failing loudly and starting over
// beats limping on a half-broken serial line.
func (c *LegacyClient) discardLocked(cause error) {
	if c.handle != nil {
		if err := c.handle.close(); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing legacy client handle")
		}
		c.handle = nil
	}
	if c.connected.Swap(false) && cause != nil {
		c.logger.Warn().Err(cause).Msg("Legacy client session discarded after I/O error")
	}
}

// request runs one Modbus operation under the client lock, lazily
// connecting first. Exception responses leave the session intact; any
// other error discards it.
func (c *LegacyClient) request(unit byte, op func(gomodbus.Client) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		if err := c.connectLocked(context.Background()); err != nil {
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
		c.discardLocked(err)
		return nil, translateError(err, domain.ErrReadFailed)
	}
	return data, nil
}

// ReadCoils reads quantity coils starting at address.
func (c *LegacyClient) ReadCoils(address, quantity uint16, unit byte) ([]bool, error) {
	data, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.ReadCoils(address, quantity)
	})
	if err != nil {
		return nil, err
	}
	return decodeBits(data, quantity)
}

// ReadHoldingRegisters reads quantity holding registers starting at address.
func (c *LegacyClient) ReadHoldingRegisters(address, quantity uint16, unit byte) ([]uint16, error) {
	data, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.ReadHoldingRegisters(address, quantity)
	})
	if err != nil {
		return nil, err
	}
	return decodeRegisters(data, quantity)
}

// ReadInputRegisters reads quantity input registers starting at address.
func (c *LegacyClient) ReadInputRegisters(address, quantity uint16, unit byte) ([]uint16, error) {
	data, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.ReadInputRegisters(address, quantity)
	})
	if err != nil {
		return nil, err
	}
	return decodeRegisters(data, quantity)
}

// WriteCoil writes a single coil.
func (c *LegacyClient) WriteCoil(address uint16, value bool, unit byte) error {
	_, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.WriteSingleCoil(address, coilValue(value))
	})
	return err
}

// WriteRegister writes a single holding register.
func (c *LegacyClient) WriteRegister(address, value uint16, unit byte) error {
	_, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.WriteSingleRegister(address, value)
	})
	return err
}

// WriteRegisters writes consecutive holding registers.
func (c *LegacyClient) WriteRegisters(address uint16, values []uint16, unit byte) error {
	_, err := c.request(unit, func(cl gomodbus.Client) ([]byte, error) {
		return cl.WriteMultipleRegisters(address, uint16(len(values)), encodeRegisters(values))
	})
	return err
}

// openSession builds a goburrow session for the configured transport.
func openSession(p domain.ConnectionParams) (*handle, error) {
	if p.Type == domain.ConnectionRTU {
		h := gomodbus.NewRTUClientHandler(p.SerialPort)
		h.BaudRate = p.BaudRate
		h.DataBits = p.DataBits
		h.Parity = serialParity(p.Parity)
		h.StopBits = p.StopBits
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
	return openTCP(p)
}

// serialParity normalizes the configured parity to the single-letter form
// the serial layer expects.
func serialParity(p string) string {
	switch p {
	case "E", "e", "even", "Even":
		return "E"
	case "O", "o", "odd", "Odd":
		return "O"
	default:
		return "N"
	}
}
