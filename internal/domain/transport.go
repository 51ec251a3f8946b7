package domain

import "context"

// Transport is one tier of the Modbus access path. Both the direct TCP
// client and the legacy transport-agnostic client implement it, and the
// facade composes them as an explicit ordered fallback list.
//
// Every read returns a nil slice on transport failure; writes return an
// error. Implementations never panic and never let a library error escape
// undecorated.
type Transport interface {
	// Name identifies the tier in logs.
	Name() string

	// Connect establishes (or re-establishes) the session.
	Connect(ctx context.Context) error

	// Disconnect closes the session. Idempotent.
	Disconnect() error

	// Connected reports the cached session state without I/O.
	Connected() bool

	ReadCoils(address, quantity uint16, unit byte) ([]bool, error)
	ReadHoldingRegisters(address, quantity uint16, unit byte) ([]uint16, error)
	ReadInputRegisters(address, quantity uint16, unit byte) ([]uint16, error)

	WriteCoil(address uint16, value bool, unit byte) error
	WriteRegister(address, value uint16, unit byte) error
	WriteRegisters(address uint16, values []uint16, unit byte) error
}

// StateSource exposes the connection state snapshot without giving callers
// access to the underlying client handle.
type StateSource interface {
	State() ConnectionState
}
