// Package modbus wraps the goburrow Modbus client library behind the two
// transport tiers the facade composes: a lean TCP-only direct client and a
// transport-agnostic legacy client.
package modbus

import (
	"errors"
	"net"

	gomodbus "github.com/goburrow/modbus"
	"github.com/nexus-edge/plc-link/internal/domain"
)

// ExceptionCode extracts the Modbus exception code from an error, if the
// error is a well-formed exception response rather than a transport
// failure.
func ExceptionCode(err error) (byte, bool) {
	var mbErr *gomodbus.ModbusError
	if errors.As(err, &mbErr) {
		return mbErr.ExceptionCode, true
	}
	return 0, false
}

// IsExceptionResponse reports whether the error carries a valid Modbus
// exception response. Such responses prove the device is reachable and
// speaking the protocol; only the requested register is unavailable.
func IsExceptionResponse(err error) bool {
	_, ok := ExceptionCode(err)
	return ok
}

// isTransportError reports whether the error indicates the session itself
// is broken: timeouts, resets, refused connections, truncated frames.
// Exception responses are explicitly excluded.
func isTransportError(err error) bool {
	if err == nil || IsExceptionResponse(err) {
		return false
	}
	return true
}

// isTimeout reports whether the error is a network timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// translateError converts a library error into a domain error, preserving
// exception codes.
func translateError(err error, op error) error {
	if err == nil {
		return nil
	}
	if code, ok := ExceptionCode(err); ok {
		return domain.ModbusExceptionToError(code)
	}
	if isTimeout(err) {
		return domain.ErrConnectionTimeout
	}
	return errors.Join(op, err)
}

// decodeRegisters converts a big-endian register payload to uint16 values.
func decodeRegisters(data []byte, quantity uint16) ([]uint16, error) {
	if len(data) < int(quantity)*2 {
		return nil, domain.ErrShortResponse
	}
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = uint16(data[i*2])<<8 | uint16(data[i*2+1])
	}
	return out, nil
}

// decodeBits unpacks a coil payload into booleans, LSB first.
func decodeBits(data []byte, quantity uint16) ([]bool, error) {
	if len(data) < (int(quantity)+7)/8 {
		return nil, domain.ErrShortResponse
	}
	out := make([]bool, quantity)
	for i := range out {
		out[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return out, nil
}

// encodeRegisters packs uint16 values into the big-endian wire layout.
func encodeRegisters(values []uint16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		out[i*2] = byte(v >> 8)
		out[i*2+1] = byte(v)
	}
	return out
}

// coilValue converts a boolean into the 0xFF00/0x0000 encoding of the
// write-single-coil function.
func coilValue(v bool) uint16 {
	if v {
		return 0xFF00
	}
	return 0
}
