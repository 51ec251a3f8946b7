package service

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-edge/plc-link/internal/domain"
)

// fakeSettings implements Settings with fixed values.
type fakeSettings struct {
	params        domain.ConnectionParams
	addressOffset int
	unitID        byte
	retryInterval time.Duration
	demo          bool
}

func (s *fakeSettings) ConnectionParams() domain.ConnectionParams { return s.params }
func (s *fakeSettings) AddressOffset() int                        { return s.addressOffset }
func (s *fakeSettings) UnitID() byte                              { return s.unitID }
func (s *fakeSettings) RetryInterval() time.Duration              { return s.retryInterval }
func (s *fakeSettings) Demo() bool                                { return s.demo }

func testSettings() *fakeSettings {
	return &fakeSettings{
		params: domain.ConnectionParams{
			Type:    domain.ConnectionTCP,
			Host:    "10.0.0.5",
			Port:    502,
			Timeout: time.Second,
		},
		unitID:        1,
		retryInterval: 2 * time.Second,
	}
}

// fakeTransport implements domain.Transport with overridable function fields
// and per-method call counters.
type fakeTransport struct {
	mu        sync.Mutex
	name      string
	connected bool

	connectCalls    int
	disconnectCalls int
	readCalls       int
	writeCalls      int

	connect    func(ctx context.Context) error
	readCoils  func(address, quantity uint16, unit byte) ([]bool, error)
	readHold   func(address, quantity uint16, unit byte) ([]uint16, error)
	readInput  func(address, quantity uint16, unit byte) ([]uint16, error)
	writeCoil  func(address uint16, value bool, unit byte) error
	writeReg   func(address, value uint16, unit byte) error
	writeRegs  func(address uint16, values []uint16, unit byte) error
	configure  func(params domain.ConnectionParams) error
	configured domain.ConnectionParams
}

func (t *fakeTransport) Name() string {
	if t.name == "" {
		return "fake"
	}
	return t.name
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.connectCalls++
	t.mu.Unlock()
	if t.connect != nil {
		if err := t.connect(ctx); err != nil {
			return err
		}
	}
	t.setConnected(true)
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	t.disconnectCalls++
	t.mu.Unlock()
	t.setConnected(false)
	return nil
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

func (t *fakeTransport) calls() (connects, disconnects, reads, writes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCalls, t.disconnectCalls, t.readCalls, t.writeCalls
}

func (t *fakeTransport) ReadCoils(address, quantity uint16, unit byte) ([]bool, error) {
	t.mu.Lock()
	t.readCalls++
	t.mu.Unlock()
	if t.readCoils != nil {
		return t.readCoils(address, quantity, unit)
	}
	return make([]bool, quantity), nil
}

func (t *fakeTransport) ReadHoldingRegisters(address, quantity uint16, unit byte) ([]uint16, error) {
	t.mu.Lock()
	t.readCalls++
	t.mu.Unlock()
	if t.readHold != nil {
		return t.readHold(address, quantity, unit)
	}
	return make([]uint16, quantity), nil
}

func (t *fakeTransport) ReadInputRegisters(address, quantity uint16, unit byte) ([]uint16, error) {
	t.mu.Lock()
	t.readCalls++
	t.mu.Unlock()
	if t.readInput != nil {
		return t.readInput(address, quantity, unit)
	}
	return make([]uint16, quantity), nil
}

func (t *fakeTransport) WriteCoil(address uint16, value bool, unit byte) error {
	t.mu.Lock()
	t.writeCalls++
	t.mu.Unlock()
	if t.writeCoil != nil {
		return t.writeCoil(address, value, unit)
	}
	return nil
}

func (t *fakeTransport) WriteRegister(address, value uint16, unit byte) error {
	t.mu.Lock()
	t.writeCalls++
	t.mu.Unlock()
	if t.writeReg != nil {
		return t.writeReg(address, value, unit)
	}
	return nil
}

func (t *fakeTransport) WriteRegisters(address uint16, values []uint16, unit byte) error {
	t.mu.Lock()
	t.writeCalls++
	t.mu.Unlock()
	if t.writeRegs != nil {
		return t.writeRegs(address, values, unit)
	}
	return nil
}

// Configure makes fakeTransport satisfy legacyTransport.
func (t *fakeTransport) Configure(params domain.ConnectionParams) error {
	t.mu.Lock()
	t.configured = params
	t.mu.Unlock()
	if t.configure != nil {
		return t.configure(params)
	}
	return nil
}

// fakeHealthSource drives the monitor in tests.
type fakeHealthSource struct {
	mu          sync.Mutex
	connected   bool
	ensureCalls int
	ensure      func(ctx context.Context) error
}

func (s *fakeHealthSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeHealthSource) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *fakeHealthSource) EnsureConnection(ctx context.Context) error {
	s.mu.Lock()
	s.ensureCalls++
	s.mu.Unlock()
	if s.ensure != nil {
		return s.ensure(ctx)
	}
	return nil
}

func (s *fakeHealthSource) ensureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureCalls
}

// fakeBooleanSource drives the boolean reader in tests.
type fakeBooleanSource struct {
	mu    sync.Mutex
	calls []readCall
	read  func(address, count int) ([]bool, error)
}

type readCall struct {
	address int
	count   int
}

func (s *fakeBooleanSource) readBooleans(address, count int) ([]bool, error) {
	s.mu.Lock()
	s.calls = append(s.calls, readCall{address, count})
	s.mu.Unlock()
	return s.read(address, count)
}

func (s *fakeBooleanSource) callLog() []readCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]readCall, len(s.calls))
	copy(out, s.calls)
	return out
}
