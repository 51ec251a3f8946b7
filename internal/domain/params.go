// Package domain contains the core business entities and interfaces.
// These are transport-agnostic and represent the core concepts of the system.
package domain

import (
	"fmt"
	"time"
)

// ConnectionType selects the wire transport used to reach the PLC.
type ConnectionType string

const (
	ConnectionTCP ConnectionType = "tcp"
	ConnectionRTU ConnectionType = "rtu"
)

// ConnectionParams is an immutable snapshot of the connection settings,
// reloaded from the configuration store on every (re)connect. The TCP and
// serial fields are populated according to Type.
type ConnectionParams struct {
	Type ConnectionType

	// TCP settings
	Host string
	Port int

	// Serial/RTU settings
	SerialPort string
	BaudRate   int
	DataBits   int
	Parity     string
	StopBits   int

	// Timeout applies to both connect and per-request response waits.
	Timeout time.Duration
}

// Validate checks that the parameters required by the selected transport
// are present.
func (p ConnectionParams) Validate() error {
	switch p.Type {
	case ConnectionTCP:
		if p.Host == "" {
			return ErrHostRequired
		}
	case ConnectionRTU:
		if p.SerialPort == "" {
			return ErrSerialPortRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, p.Type)
	}
	return nil
}

// Address returns a display string for the endpoint.
func (p ConnectionParams) Address() string {
	if p.Type == ConnectionRTU {
		return p.SerialPort
	}
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Equal reports whether two snapshots describe the same endpoint and
// settings. Used to decide whether an established session must be torn
// down after a configuration change.
func (p ConnectionParams) Equal(o ConnectionParams) bool {
	return p == o
}

// ConnectionState is a point-in-time view of the managed session. Mutated
// only by the connection manager and monitor; read by the facade and the
// status API.
type ConnectionState struct {
	Connected           bool          `json:"connected"`
	LastAttempt         time.Time     `json:"last_attempt"`
	RetryDelay          time.Duration `json:"retry_delay"`
	ConsecutiveFailures uint          `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
}

// RegisterKind identifies the Modbus table a read targets.
type RegisterKind string

const (
	KindHolding RegisterKind = "holding"
	KindInput   RegisterKind = "input"
	KindCoil    RegisterKind = "coil"
)

// BooleanChannel maps one logical boolean index to a coil address and its
// display label.
type BooleanChannel struct {
	Address int    `json:"address" yaml:"address"`
	Label   string `json:"label" yaml:"label"`
}

// MaxBooleanChannels is the number of logical boolean indices exposed to
// the display layer.
const MaxBooleanChannels = 6

// DefaultBooleanChannels returns the factory channel map used when the
// configuration store carries no boolean channel settings.
func DefaultBooleanChannels() map[int]BooleanChannel {
	channels := make(map[int]BooleanChannel, MaxBooleanChannels)
	for i := 1; i <= MaxBooleanChannels; i++ {
		channels[i] = BooleanChannel{
			Address: 463 + i,
			Label:   fmt.Sprintf("Bool %d", i),
		}
	}
	return channels
}

// ExceptionPolicy makes explicit which Modbus exception responses still
// count as a healthy session during the verifying read after connect.
//
// A nil HealthyCodes set means every valid exception response proves the
// transport reachable and protocol speaking, which matches the behavior the
// deployments rely on. QuietCodes (the gateway-path class by default) are
// logged at debug instead of error; the set affects logging only, never the
// healthy/unhealthy decision.
type ExceptionPolicy struct {
	HealthyCodes map[byte]bool
	QuietCodes   map[byte]bool
}

// DefaultExceptionPolicy treats all exception codes as healthy and keeps
// the gateway-path codes quiet in logs.
func DefaultExceptionPolicy() ExceptionPolicy {
	return ExceptionPolicy{
		HealthyCodes: nil,
		QuietCodes:   map[byte]bool{0x0A: true, 0x0B: true},
	}
}

// Healthy reports whether an exception response with the given code keeps
// the session marked connected.
func (p ExceptionPolicy) Healthy(code byte) bool {
	if p.HealthyCodes == nil {
		return true
	}
	return p.HealthyCodes[code]
}

// Quiet reports whether the code should be logged at debug level.
func (p ExceptionPolicy) Quiet(code byte) bool {
	return p.QuietCodes[code]
}
