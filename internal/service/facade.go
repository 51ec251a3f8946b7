package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nexus-edge/plc-link/internal/adapter/config"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ensureAttempts is the number of connection attempts EnsureConnection makes
// before giving up.
const ensureAttempts = 3

// ensureRetryDelay separates consecutive attempts within one
// EnsureConnection call.
const ensureRetryDelay = 500 * time.Millisecond

// Facade is the single entry point the rest of the application reads and
// writes the PLC through. It composes an ordered list of transport tiers:
// the lock-free direct TCP client first, then the managed legacy client,
// serialized under the facade lock and guarded by a circuit breaker.
//
// Addresses are logical defined addresses; the facade applies the deployment
// offset translation and the configured unit ID. No method returns an error:
// failures map to the documented sentinels (nil register slice, all-false
// boolean slice sized to the request, false for writes), so display-layer
// callers never branch on error types.
type Facade struct {
	settings Settings
	logger   zerolog.Logger
	metrics  *metrics.Registry

	direct domain.Transport
	legacy domain.Transport

	// mu serializes every legacy-tier round trip.
	mu      sync.Mutex
	breaker *gobreaker.CircuitBreaker

	// sleep is an injection point so retry-delay tests run fast.
	sleep func(time.Duration)
}

// NewFacade wires the tiers together.
func NewFacade(settings Settings, direct, legacy domain.Transport, breakerCfg config.BreakerConfig, m *metrics.Registry, logger zerolog.Logger) *Facade {
	log := logger.With().Str("component", "plc-facade").Logger()
	f := &Facade{
		settings: settings,
		logger:   log,
		metrics:  m,
		direct:   direct,
		legacy:   legacy,
		sleep:    time.Sleep,
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "legacy-tier",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerCfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Legacy tier circuit breaker state change")
		},
	})
	return f
}

// IsConnected reports whether any tier has a live session. Never blocks on
// I/O, safe from event-loop callers.
func (f *Facade) IsConnected() bool {
	if f.settings.Demo() {
		return true
	}
	return f.direct.Connected() || f.legacy.Connected()
}

// CachedConnected is an alias of IsConnected kept for display-layer callers
// that must make the non-blocking intent explicit.
func (f *Facade) CachedConnected() bool { return f.IsConnected() }

// EnsureConnection blocks until a tier is connected or the attempt budget is
// exhausted. Demo mode short-circuits. Between attempts the stale sessions
// are discarded so each retry starts clean.
func (f *Facade) EnsureConnection(ctx context.Context) error {
	if f.settings.Demo() {
		return nil
	}
	if f.IsConnected() {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= ensureAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := f.direct.Connect(ctx); err == nil {
			return nil
		} else if !errors.Is(err, domain.ErrInvalidTransport) {
			lastErr = err
		}

		f.mu.Lock()
		_, err := f.breaker.Execute(func() (interface{}, error) {
			return nil, f.legacy.Connect(ctx)
		})
		f.mu.Unlock()
		if err == nil {
			return nil
		}
		if breakerRejected(err) {
			f.metrics.RecordBreakerRejected()
			lastErr = domain.ErrCircuitBreakerOpen
		} else if !errors.Is(err, domain.ErrConnectThrottled) {
			lastErr = err
		}

		f.logger.Debug().Err(err).Int("attempt", attempt).Msg("Connection attempt failed")
		if attempt < ensureAttempts {
			_ = f.direct.Disconnect()
			_ = f.legacy.Disconnect()
			f.sleep(ensureRetryDelay)
		}
	}
	if lastErr == nil {
		lastErr = domain.ErrConnectionFailed
	}
	return lastErr
}

// Disconnect closes every tier. Idempotent.
func (f *Facade) Disconnect() {
	if err := f.direct.Disconnect(); err != nil {
		f.logger.Debug().Err(err).Msg("Direct tier disconnect error")
	}
	f.mu.Lock()
	err := f.legacy.Disconnect()
	f.mu.Unlock()
	if err != nil {
		f.logger.Debug().Err(err).Msg("Legacy tier disconnect error")
	}
}

// breakerRejected reports whether the breaker refused the call outright.
func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// readKind dispatches a register read to the right Transport method.
func readKind(t domain.Transport, kind domain.RegisterKind, address, quantity uint16, unit byte) ([]uint16, error) {
	switch kind {
	case domain.KindInput:
		return t.ReadInputRegisters(address, quantity, unit)
	case domain.KindHolding:
		return t.ReadHoldingRegisters(address, quantity, unit)
	default:
		return nil, domain.ErrInvalidKind
	}
}

// readRegisters walks the tier list. The direct tier runs lock-free; a
// usable result returns immediately. The legacy tier runs under the facade
// lock behind the breaker. Exception responses mean "no data over a healthy
// session": they stop the walk without counting as a breaker failure.
func (f *Facade) readRegisters(kind domain.RegisterKind, address, count int) []uint16 {
	if count <= 0 {
		return nil
	}
	if f.settings.Demo() {
		return make([]uint16, count)
	}

	wire := domain.TranslateAddress(address, f.settings.AddressOffset())
	unit := f.settings.UnitID()

	values, err := readKind(f.direct, kind, wire, uint16(count), unit)
	if err == nil {
		f.metrics.RecordRead(string(kind), f.direct.Name(), true)
		return values
	}
	if domain.IsExceptionError(err) {
		f.metrics.RecordRead(string(kind), f.direct.Name(), false)
		return nil
	}
	f.logger.Debug().Err(err).Str("kind", string(kind)).Msg("Direct tier read failed, falling back")
	f.metrics.RecordRead(string(kind), f.direct.Name(), false)
	f.metrics.RecordFallback()

	f.mu.Lock()
	result, err := f.breaker.Execute(func() (interface{}, error) {
		vals, rerr := readKind(f.legacy, kind, wire, uint16(count), unit)
		if rerr != nil && domain.IsExceptionError(rerr) {
			// Healthy session, no data. Not a breaker failure.
			return nil, nil
		}
		return vals, rerr
	})
	f.mu.Unlock()

	if err != nil {
		if breakerRejected(err) {
			f.metrics.RecordBreakerRejected()
		} else {
			f.logger.Warn().Err(err).Str("kind", string(kind)).Int("address", address).Msg("Read failed on all tiers")
		}
		f.metrics.RecordRead(string(kind), f.legacy.Name(), false)
		return nil
	}
	values, _ = result.([]uint16)
	f.metrics.RecordRead(string(kind), f.legacy.Name(), values != nil)
	return values
}

// readBooleans is the error-reporting core used by the boolean reader;
// public callers get the sentinel wrapper.
func (f *Facade) readBooleans(address, count int) ([]bool, error) {
	if count <= 0 {
		return nil, domain.ErrInvalidKind
	}
	if f.settings.Demo() {
		return make([]bool, count), nil
	}

	wire := domain.TranslateAddress(address, f.settings.AddressOffset())
	unit := f.settings.UnitID()

	values, err := f.direct.ReadCoils(wire, uint16(count), unit)
	if err == nil {
		f.metrics.RecordRead(string(domain.KindCoil), f.direct.Name(), true)
		return values, nil
	}
	if domain.IsExceptionError(err) {
		f.metrics.RecordRead(string(domain.KindCoil), f.direct.Name(), false)
		return nil, err
	}
	f.metrics.RecordRead(string(domain.KindCoil), f.direct.Name(), false)
	f.metrics.RecordFallback()

	var refused error
	f.mu.Lock()
	result, err := f.breaker.Execute(func() (interface{}, error) {
		vals, rerr := f.legacy.ReadCoils(wire, uint16(count), unit)
		if rerr != nil && domain.IsExceptionError(rerr) {
			// Healthy session, no data. Not a breaker failure.
			refused = rerr
			return nil, nil
		}
		return vals, rerr
	})
	f.mu.Unlock()

	if err == nil && refused != nil {
		err = refused
	}
	if err != nil {
		if breakerRejected(err) {
			f.metrics.RecordBreakerRejected()
			err = domain.ErrCircuitBreakerOpen
		}
		f.metrics.RecordRead(string(domain.KindCoil), f.legacy.Name(), false)
		return nil, err
	}
	values, _ = result.([]bool)
	f.metrics.RecordRead(string(domain.KindCoil), f.legacy.Name(), true)
	return values, nil
}

// ReadHoldingRegisters reads count holding registers starting at the defined
// address. Returns nil when no tier can serve the request.
func (f *Facade) ReadHoldingRegisters(address, count int) []uint16 {
	return f.readRegisters(domain.KindHolding, address, count)
}

// ReadHoldingRegister reads one holding register at the defined address.
func (f *Facade) ReadHoldingRegister(address int) (uint16, bool) {
	values := f.readRegisters(domain.KindHolding, address, 1)
	if len(values) != 1 {
		return 0, false
	}
	return values[0], true
}

// ReadInputRegisters reads count input registers starting at the defined
// address. Returns nil when no tier can serve the request.
func (f *Facade) ReadInputRegisters(address, count int) []uint16 {
	return f.readRegisters(domain.KindInput, address, count)
}

// ReadInputRegister reads one input register at the defined address.
func (f *Facade) ReadInputRegister(address int) (uint16, bool) {
	values := f.readRegisters(domain.KindInput, address, 1)
	if len(values) != 1 {
		return 0, false
	}
	return values[0], true
}

// ReadBooleans reads count coils starting at the defined address. On failure
// the sentinel is an all-false slice sized to the request, never nil, so
// indicator widgets can index it unconditionally.
func (f *Facade) ReadBooleans(address, count int) []bool {
	if count <= 0 {
		return []bool{}
	}
	values, err := f.readBooleans(address, count)
	if err != nil || len(values) != count {
		return make([]bool, count)
	}
	return values
}

// ReadBoolean reads one coil at the defined address. The second return
// distinguishes a read false from a failed read.
func (f *Facade) ReadBoolean(address int) (bool, bool) {
	values, err := f.readBooleans(address, 1)
	if err != nil || len(values) != 1 {
		return false, false
	}
	return values[0], true
}

// ReadCoil is an alias of ReadBoolean for callers speaking Modbus terms.
func (f *Facade) ReadCoil(address int) (bool, bool) { return f.ReadBoolean(address) }

// ReadCoils is an alias of ReadBooleans for callers speaking Modbus terms.
func (f *Facade) ReadCoils(address, count int) []bool { return f.ReadBooleans(address, count) }

// WriteCoil writes one coil at the defined address, reporting success.
func (f *Facade) WriteCoil(address int, value bool) bool {
	return f.writeOp(string(domain.KindCoil), func(t domain.Transport, wire uint16, unit byte) error {
		return t.WriteCoil(wire, value, unit)
	}, address)
}

// WriteRegister writes one holding register at the defined address,
// reporting success.
func (f *Facade) WriteRegister(address int, value uint16) bool {
	return f.writeOp(string(domain.KindHolding), func(t domain.Transport, wire uint16, unit byte) error {
		return t.WriteRegister(wire, value, unit)
	}, address)
}

// WriteRegisters writes consecutive holding registers starting at the
// defined address, reporting success.
func (f *Facade) WriteRegisters(address int, values []uint16) bool {
	if len(values) == 0 {
		return false
	}
	return f.writeOp(string(domain.KindHolding), func(t domain.Transport, wire uint16, unit byte) error {
		return t.WriteRegisters(wire, values, unit)
	}, address)
}

// writeOp walks the tier list for a write. Writes follow the same ordering
// as reads: direct lock-free, then legacy under lock behind the breaker.
func (f *Facade) writeOp(kind string, op func(domain.Transport, uint16, byte) error, address int) bool {
	if f.settings.Demo() {
		return true
	}

	wire := domain.TranslateAddress(address, f.settings.AddressOffset())
	unit := f.settings.UnitID()

	err := op(f.direct, wire, unit)
	if err == nil {
		f.metrics.RecordWrite(kind, f.direct.Name(), true)
		return true
	}
	if domain.IsExceptionError(err) {
		// The device refused the write; another tier will not do better.
		f.metrics.RecordWrite(kind, f.direct.Name(), false)
		f.logger.Warn().Err(err).Int("address", address).Msg("Write rejected by device")
		return false
	}
	f.metrics.RecordWrite(kind, f.direct.Name(), false)
	f.metrics.RecordFallback()

	var refused error
	f.mu.Lock()
	_, err = f.breaker.Execute(func() (interface{}, error) {
		werr := op(f.legacy, wire, unit)
		if werr != nil && domain.IsExceptionError(werr) {
			// Device refusal over a healthy session, not a breaker failure.
			refused = werr
			return nil, nil
		}
		return nil, werr
	})
	f.mu.Unlock()

	if refused != nil {
		f.metrics.RecordWrite(kind, f.legacy.Name(), false)
		f.logger.Warn().Err(refused).Int("address", address).Msg("Write rejected by device")
		return false
	}
	if err != nil {
		if breakerRejected(err) {
			f.metrics.RecordBreakerRejected()
		} else {
			f.logger.Warn().Err(err).Int("address", address).Msg("Write failed on all tiers")
		}
		f.metrics.RecordWrite(kind, f.legacy.Name(), false)
		return false
	}
	f.metrics.RecordWrite(kind, f.legacy.Name(), true)
	return true
}
