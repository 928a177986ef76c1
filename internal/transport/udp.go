// internal/transport/udp.go
package transport

import (
	"errors"
	"fmt"
	"time"

	mbudp "github.com/simonvetter/modbus"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/request"
)

// udpConn carries Modbus TCP framing over UDP datagrams.
// The response timeout is fixed when the socket is opened.
type udpConn struct {
	ep     endpoint.Endpoint
	client *mbudp.ModbusClient
}

func dialUDP(ep endpoint.Endpoint, cfg endpoint.PoolConfig) (Conn, error) {
	client, err := mbudp.NewClient(&mbudp.ClientConfiguration{
		URL:     "udp://" + ep.Address(),
		Timeout: cfg.ReceiveTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Open(); err != nil {
		return nil, err
	}
	return &udpConn{ep: ep, client: client}, nil
}

func (c *udpConn) Read(req request.Read, _ time.Duration) (request.ReadResult, error) {
	if err := c.client.SetUnitId(req.UnitID); err != nil {
		return request.ReadResult{}, c.classify(byte(req.Function), err)
	}

	var err error
	var bits []bool
	var regs []uint16
	switch req.Function {
	case request.ReadCoils:
		bits, err = c.client.ReadCoils(req.Address, req.Quantity)
	case request.ReadDiscreteInputs:
		bits, err = c.client.ReadDiscreteInputs(req.Address, req.Quantity)
	case request.ReadHoldingRegisters:
		regs, err = c.client.ReadRegisters(req.Address, req.Quantity, mbudp.HOLDING_REGISTER)
	case request.ReadInputRegisters:
		regs, err = c.client.ReadRegisters(req.Address, req.Quantity, mbudp.INPUT_REGISTER)
	default:
		return request.ReadResult{}, &request.ConfigurationError{Reason: fmt.Sprintf("%s: %v", req.Function, errUnsupportedFunction)}
	}
	if err != nil {
		return request.ReadResult{}, c.classify(byte(req.Function), err)
	}

	if req.Function.ReadsBits() {
		if len(bits) != int(req.Quantity) {
			return request.ReadResult{}, &IOError{Endpoint: c.ep, Err: fmt.Errorf("got %d bits, want %d", len(bits), req.Quantity)}
		}
		return request.ReadResult{Bits: request.NewBitArray(bits...)}, nil
	}
	if len(regs) != int(req.Quantity) {
		return request.ReadResult{}, &IOError{Endpoint: c.ep, Err: fmt.Errorf("got %d registers, want %d", len(regs), req.Quantity)}
	}
	return request.ReadResult{Registers: request.NewRegisterArray(regs...)}, nil
}

func (c *udpConn) Write(req request.Write, _ time.Duration) (request.WriteAck, error) {
	if err := c.client.SetUnitId(req.UnitID()); err != nil {
		return request.WriteAck{}, c.classify(byte(req.Function()), err)
	}

	var err error
	switch req.Function() {
	case request.WriteSingleCoil:
		err = c.client.WriteCoil(req.Address(), req.Coils()[0])
	case request.WriteMultipleCoils:
		err = c.client.WriteCoils(req.Address(), req.Coils())
	case request.WriteSingleRegister:
		err = c.client.WriteRegister(req.Address(), req.Registers()[0])
	case request.WriteMultipleRegisters:
		err = c.client.WriteRegisters(req.Address(), req.Registers())
	default:
		return request.WriteAck{}, &request.ConfigurationError{Reason: fmt.Sprintf("%s: %v", req.Function(), errUnsupportedFunction)}
	}
	if err != nil {
		return request.WriteAck{}, c.classify(byte(req.Function()), err)
	}

	return request.WriteAck{
		Function: req.Function(),
		Address:  req.Address(),
		Quantity: req.Quantity(),
	}, nil
}

func (c *udpConn) Close() error {
	return c.client.Close()
}

var udpExceptions = map[error]byte{
	mbudp.ErrIllegalFunction:         ExceptionIllegalFunction,
	mbudp.ErrIllegalDataAddress:      ExceptionIllegalDataAddress,
	mbudp.ErrIllegalDataValue:        ExceptionIllegalDataValue,
	mbudp.ErrServerDeviceFailure:     ExceptionServerDeviceFailure,
	mbudp.ErrAcknowledge:             ExceptionAcknowledge,
	mbudp.ErrServerDeviceBusy:        ExceptionServerDeviceBusy,
	mbudp.ErrMemoryParityError:       ExceptionMemoryParityError,
	mbudp.ErrGWPathUnavailable:       ExceptionGatewayPathUnavailable,
	mbudp.ErrGWTargetFailedToRespond: ExceptionGatewayTargetFailedRespond,
}

// classify maps simonvetter sentinels onto the transport taxonomy.
// A refused datagram (ICMP port unreachable) means nothing listens on the
// endpoint, which is a connection failure rather than a slow slave.
func (c *udpConn) classify(fc byte, err error) error {
	for sentinel, code := range udpExceptions {
		if errors.Is(err, sentinel) {
			return &SlaveError{Endpoint: c.ep, FunctionCode: fc, ExceptionCode: code}
		}
	}
	if isBrokenConnection(err) {
		return &ConnectionError{Endpoint: c.ep, Err: err}
	}
	return &IOError{Endpoint: c.ep, Err: err}
}
