package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T, client *fakeTransport) (*ConnectionManager, *fakeSettings) {
	t.Helper()
	settings := testSettings()
	m := NewConnectionManager(settings, domain.DefaultExceptionPolicy(), nil, zerolog.Nop())
	m.precheck = func(addr string, timeout time.Duration) error { return nil }
	m.newClient = func() legacyTransport { return client }
	return m, settings
}

func TestManagerConnect(t *testing.T) {
	client := &fakeTransport{name: "legacy"}
	m, _ := newTestManager(t, client)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !m.Connected() {
		t.Error("Connected() = false after connect")
	}
	if client.configured.Host != "10.0.0.5" {
		t.Errorf("client configured with host %q, want 10.0.0.5", client.configured.Host)
	}
}

func TestManagerConnectThrottled(t *testing.T) {
	client := &fakeTransport{
		connect: func(ctx context.Context) error { return errors.New("refused") },
	}
	m, _ := newTestManager(t, client)

	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("Connect() error = nil, want failure")
	}

	// Second attempt inside the retry interval must be skipped without
	// touching the client.
	now = now.Add(500 * time.Millisecond)
	err := m.Connect(context.Background())
	if !errors.Is(err, domain.ErrConnectThrottled) {
		t.Fatalf("Connect() error = %v, want ErrConnectThrottled", err)
	}
	if connects, _, _, _ := client.calls(); connects != 1 {
		t.Errorf("client.Connect called %d times, want 1 (throttled)", connects)
	}

	// Past the interval the attempt goes through again.
	now = now.Add(2 * time.Second)
	client.connect = nil
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() after interval error = %v", err)
	}
	if connects, _, _, _ := client.calls(); connects != 2 {
		t.Errorf("client.Connect called %d times, want 2", connects)
	}
}

func TestManagerConnectShortCircuitsWhenUp(t *testing.T) {
	client := &fakeTransport{}
	m, _ := newTestManager(t, client)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if connects, _, _, _ := client.calls(); connects != 1 {
		t.Errorf("client.Connect called %d times, want 1", connects)
	}
}

func TestManagerVerifyReadExceptionIsHealthy(t *testing.T) {
	client := &fakeTransport{
		readHold: func(address, quantity uint16, unit byte) ([]uint16, error) {
			return nil, domain.ErrModbusIllegalAddress
		},
	}
	m, _ := newTestManager(t, client)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v, want nil on exception response", err)
	}
	if !m.Connected() {
		t.Error("Connected() = false, exception response must count as healthy")
	}
}

func TestManagerVerifyReadTransportFailure(t *testing.T) {
	client := &fakeTransport{
		readHold: func(address, quantity uint16, unit byte) ([]uint16, error) {
			return nil, domain.ErrReadFailed
		},
	}
	m, _ := newTestManager(t, client)

	err := m.Connect(context.Background())
	if !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if _, disconnects, _, _ := client.calls(); disconnects != 1 {
		t.Errorf("client.Disconnect called %d times after failed verify, want 1", disconnects)
	}
}

func TestManagerPrecheckFailure(t *testing.T) {
	client := &fakeTransport{}
	m, _ := newTestManager(t, client)
	m.precheck = func(addr string, timeout time.Duration) error {
		return errors.New("connection refused")
	}

	if err := m.Connect(context.Background()); !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if connects, _, _, _ := client.calls(); connects != 0 {
		t.Errorf("client.Connect called %d times despite failed pre-check, want 0", connects)
	}
}

func TestManagerDisconnectIdempotent(t *testing.T) {
	client := &fakeTransport{}
	m, _ := newTestManager(t, client)

	// Disconnect before any connect is a no-op.
	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Disconnect(); err != nil {
			t.Fatalf("Disconnect() #%d error = %v", i+1, err)
		}
	}
	if m.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
}

func TestManagerDemoMode(t *testing.T) {
	client := &fakeTransport{}
	m, settings := newTestManager(t, client)
	settings.demo = true

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v in demo mode", err)
	}
	if !m.Connected() {
		t.Error("Connected() = false in demo mode")
	}
	if connects, _, _, _ := client.calls(); connects != 0 {
		t.Errorf("client.Connect called %d times in demo mode, want 0", connects)
	}
}

func TestManagerState(t *testing.T) {
	client := &fakeTransport{
		connect: func(ctx context.Context) error { return errors.New("refused") },
	}
	m, _ := newTestManager(t, client)

	state := m.State()
	if state.Connected {
		t.Error("State().Connected = true before any connect")
	}
	if state.RetryDelay != 2*time.Second {
		t.Errorf("State().RetryDelay = %v, want 2s", state.RetryDelay)
	}

	_ = m.Connect(context.Background())
	state = m.State()
	if state.Connected {
		t.Error("State().Connected = true after failed connect")
	}
	if state.LastError == "" {
		t.Error("State().LastError empty after failed connect")
	}
	if state.LastAttempt.IsZero() {
		t.Error("State().LastAttempt zero after connect attempt")
	}
}

func TestManagerGetClient(t *testing.T) {
	client := &fakeTransport{}
	m, _ := newTestManager(t, client)

	if _, err := m.GetClient(); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("GetClient() error = %v, want ErrNotConnected", err)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	got, err := m.GetClient()
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got != domain.Transport(client) {
		t.Error("GetClient() returned a different transport")
	}
}

func TestManagerTestConnection(t *testing.T) {
	canonical := &fakeTransport{}
	m, _ := newTestManager(t, canonical)

	probes := 0
	m.newClient = func() legacyTransport {
		probes++
		return &fakeTransport{}
	}

	params := domain.ConnectionParams{Type: domain.ConnectionTCP, Host: "10.9.9.9", Port: 502}
	if err := m.TestConnection(context.Background(), params); err != nil {
		t.Fatalf("TestConnection() error = %v", err)
	}
	if probes != 1 {
		t.Errorf("TestConnection built %d probe clients, want 1", probes)
	}
	// The canonical session is untouched.
	if connects, _, _, _ := canonical.calls(); connects != 0 {
		t.Errorf("canonical client touched %d times by TestConnection, want 0", connects)
	}

	if err := m.TestConnection(context.Background(), domain.ConnectionParams{Type: domain.ConnectionTCP}); !errors.Is(err, domain.ErrHostRequired) {
		t.Errorf("TestConnection() error = %v, want ErrHostRequired", err)
	}
}

func TestManagerLazyReadConnects(t *testing.T) {
	client := &fakeTransport{}
	m, _ := newTestManager(t, client)

	values, err := m.ReadHoldingRegisters(100, 2, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters() error = %v", err)
	}
	if len(values) != 2 {
		t.Errorf("ReadHoldingRegisters() returned %d values, want 2", len(values))
	}
	if connects, _, _, _ := client.calls(); connects != 1 {
		t.Errorf("client.Connect called %d times, want 1 lazy connect", connects)
	}
}
