package modbus

import (
	"errors"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"github.com/nexus-edge/plc-link/internal/domain"
)

var errNotImplemented = errors.New("not implemented in fake")

// fakeClient implements gomodbus.Client with overridable function fields.
type fakeClient struct {
	readCoils   func(address, quantity uint16) ([]byte, error)
	readHolding func(address, quantity uint16) ([]byte, error)
	readInput   func(address, quantity uint16) ([]byte, error)
	writeCoil   func(address, value uint16) ([]byte, error)
	writeReg    func(address, value uint16) ([]byte, error)
	writeRegs   func(address, quantity uint16, value []byte) ([]byte, error)
}

func (f *fakeClient) ReadCoils(address, quantity uint16) ([]byte, error) {
	if f.readCoils != nil {
		return f.readCoils(address, quantity)
	}
	return nil, errNotImplemented
}

func (f *fakeClient) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return nil, errNotImplemented
}

func (f *fakeClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	if f.readHolding != nil {
		return f.readHolding(address, quantity)
	}
	return nil, errNotImplemented
}

func (f *fakeClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	if f.readInput != nil {
		return f.readInput(address, quantity)
	}
	return nil, errNotImplemented
}

func (f *fakeClient) WriteSingleCoil(address, value uint16) ([]byte, error) {
	if f.writeCoil != nil {
		return f.writeCoil(address, value)
	}
	return nil, errNotImplemented
}

func (f *fakeClient) WriteMultipleCoils(address, quantity uint16, value []byte) ([]byte, error) {
	return nil, errNotImplemented
}

func (f *fakeClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	if f.writeReg != nil {
		return f.writeReg(address, value)
	}
	return nil, errNotImplemented
}

func (f *fakeClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	if f.writeRegs != nil {
		return f.writeRegs(address, quantity, value)
	}
	return nil, errNotImplemented
}

func (f *fakeClient) ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress, writeQuantity uint16, value []byte) ([]byte, error) {
	return nil, errNotImplemented
}

func (f *fakeClient) MaskWriteRegister(address, andMask, orMask uint16) ([]byte, error) {
	return nil, errNotImplemented
}

func (f *fakeClient) ReadFIFOQueue(address uint16) ([]byte, error) {
	return nil, errNotImplemented
}

// fakeHandle wraps a fakeClient in a session handle and records lifecycle
// calls.
func fakeHandle(c gomodbus.Client) (*handle, *fakeHandleState) {
	state := &fakeHandleState{}
	return &handle{
		client:  c,
		setUnit: func(unit byte) { state.unit = unit },
		close: func() error {
			state.closed++
			return nil
		},
	}, state
}

type fakeHandleState struct {
	unit   byte
	closed int
}

// staticSource serves a fixed parameter snapshot.
type staticSource struct {
	params domain.ConnectionParams
}

func (s *staticSource) ConnectionParams() domain.ConnectionParams {
	return s.params
}

func tcpParams() domain.ConnectionParams {
	return domain.ConnectionParams{
		Type:    domain.ConnectionTCP,
		Host:    "10.0.0.5",
		Port:    502,
		Timeout: time.Second,
	}
}

func rtuParams() domain.ConnectionParams {
	return domain.ConnectionParams{
		Type:       domain.ConnectionRTU,
		SerialPort: "/dev/ttyUSB0",
		BaudRate:   9600,
		DataBits:   8,
		Parity:     "N",
		StopBits:   1,
		Timeout:    time.Second,
	}
}

func exceptionErr(code byte) error {
	return &gomodbus.ModbusError{FunctionCode: 0x83, ExceptionCode: code}
}
