// Package domain contains core business entities.
package domain

import "errors"

// Connection errors.
var (
	ErrConnectionFailed   = errors.New("connection failed")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrNotConnected       = errors.New("not connected")
	ErrNotConfigured      = errors.New("client not configured")
	ErrConnectThrottled   = errors.New("connect attempt throttled")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrInvalidUnitID      = errors.New("invalid unit ID")
)

// Read/Write errors.
var (
	ErrReadFailed    = errors.New("read operation failed")
	ErrWriteFailed   = errors.New("write operation failed")
	ErrInvalidKind   = errors.New("invalid register kind")
	ErrShortResponse = errors.New("short response")
)

// Configuration errors.
var (
	ErrHostRequired       = errors.New("tcp host is required")
	ErrSerialPortRequired = errors.New("serial port is required")
	ErrInvalidTransport   = errors.New("invalid connection type")
)

// Modbus exception responses. These indicate the device rejected a specific
// request over a healthy session; they are never treated as transport
// failures.
var (
	ErrModbusIllegalFunction        = errors.New("modbus: illegal function")
	ErrModbusIllegalAddress         = errors.New("modbus: illegal data address")
	ErrModbusIllegalValue           = errors.New("modbus: illegal data value")
	ErrModbusDeviceFailure          = errors.New("modbus: slave device failure")
	ErrModbusAcknowledge            = errors.New("modbus: acknowledge - long operation in progress")
	ErrModbusBusy                   = errors.New("modbus: slave device busy")
	ErrModbusMemoryParityError      = errors.New("modbus: memory parity error")
	ErrModbusGatewayPathUnavailable = errors.New("modbus: gateway path unavailable")
	ErrModbusGatewayTargetFailed    = errors.New("modbus: gateway target device failed to respond")
)

// MQTT errors.
var (
	ErrMQTTConnectionFailed = errors.New("mqtt connection failed")
	ErrMQTTNotConnected     = errors.New("mqtt not connected")
	ErrMQTTPublishFailed    = errors.New("mqtt publish failed")
)

// Service errors.
var (
	ErrServiceStopped = errors.New("service has been stopped")
	ErrAlreadyStarted = errors.New("monitor already started")
)

// IsExceptionError reports whether the error is one of the Modbus exception
// sentinels, meaning the device rejected the request over a healthy session.
func IsExceptionError(err error) bool {
	for _, sentinel := range []error{
		ErrModbusIllegalFunction,
		ErrModbusIllegalAddress,
		ErrModbusIllegalValue,
		ErrModbusDeviceFailure,
		ErrModbusAcknowledge,
		ErrModbusBusy,
		ErrModbusMemoryParityError,
		ErrModbusGatewayPathUnavailable,
		ErrModbusGatewayTargetFailed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// ModbusExceptionToError converts a Modbus exception code to a domain error.
func ModbusExceptionToError(code byte) error {
	switch code {
	case 0x01:
		return ErrModbusIllegalFunction
	case 0x02:
		return ErrModbusIllegalAddress
	case 0x03:
		return ErrModbusIllegalValue
	case 0x04:
		return ErrModbusDeviceFailure
	case 0x05:
		return ErrModbusAcknowledge
	case 0x06:
		return ErrModbusBusy
	case 0x08:
		return ErrModbusMemoryParityError
	case 0x0A:
		return ErrModbusGatewayPathUnavailable
	case 0x0B:
		return ErrModbusGatewayTargetFailed
	default:
		return ErrReadFailed
	}
}
