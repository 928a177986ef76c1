// internal/transport/goburrow.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
	"go.uber.org/zap"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/request"
)

// goburrowConn wraps one goburrow handler. The handler's SlaveId is mutated
// per exchange, which is safe because the pool hands a Conn to one user at a time.
type goburrowConn struct {
	ep      endpoint.Endpoint
	closer  func() error
	client  modbus.Client
	prepare func(unitID uint8, timeout time.Duration)
}

func dialTCP(ctx context.Context, ep endpoint.Endpoint, cfg endpoint.PoolConfig, logger *zap.Logger) (Conn, error) {
	h := modbus.NewTCPClientHandler(ep.Address())
	h.Timeout = cfg.ConnectTimeout
	// The pool owns idle handling.
	h.IdleTimeout = 0
	h.Logger = wireLogger(logger, ep)

	if err := connectWithContext(ctx, h.Connect, h.Close); err != nil {
		return nil, err
	}

	return &goburrowConn{
		ep:      ep,
		closer:  h.Close,
		client:  modbus.NewClient(h),
		prepare: func(unitID uint8, timeout time.Duration) {
			h.SlaveId = unitID
			h.Timeout = timeout
		},
	}, nil
}

func dialSerial(ctx context.Context, ep endpoint.Endpoint, cfg endpoint.PoolConfig, logger *zap.Logger) (Conn, error) {
	line := serial.Config{
		Address:  ep.Serial.Port,
		BaudRate: ep.Serial.BaudRate,
		DataBits: ep.Serial.DataBits,
		StopBits: ep.Serial.StopBits,
		Parity:   ep.Serial.Parity,
		// Serial read timeout is fixed when the port opens.
		Timeout: cfg.ReceiveTimeout,
		RS485:   serial.RS485Config{Enabled: ep.Serial.RS485},
	}
	wire := wireLogger(logger, ep)

	switch ep.Serial.Encoding {
	case endpoint.EncodingASCII:
		h := modbus.NewASCIIClientHandler(ep.Serial.Port)
		h.Config = line
		h.IdleTimeout = 0
		h.Logger = wire
		if err := connectWithContext(ctx, h.Connect, h.Close); err != nil {
			return nil, err
		}
		return &goburrowConn{
			ep:      ep,
			closer:  h.Close,
			client:  modbus.NewClient(h),
			prepare: func(unitID uint8, _ time.Duration) { h.SlaveId = unitID },
		}, nil

	default:
		h := modbus.NewRTUClientHandler(ep.Serial.Port)
		h.Config = line
		h.IdleTimeout = 0
		h.Logger = wire
		if err := connectWithContext(ctx, h.Connect, h.Close); err != nil {
			return nil, err
		}
		return &goburrowConn{
			ep:      ep,
			closer:  h.Close,
			client:  modbus.NewClient(h),
			prepare: func(unitID uint8, _ time.Duration) { h.SlaveId = unitID },
		}, nil
	}
}

// wireLogger bridges goburrow's frame tracing into zap at debug level.
func wireLogger(logger *zap.Logger, ep endpoint.Endpoint) *log.Logger {
	l, err := zap.NewStdLogAt(logger.Named("wire").With(zap.Stringer("endpoint", ep)), zap.DebugLevel)
	if err != nil {
		return nil
	}
	return l
}

func (c *goburrowConn) Read(req request.Read, timeout time.Duration) (request.ReadResult, error) {
	c.prepare(req.UnitID, timeout)

	var raw []byte
	var err error
	switch req.Function {
	case request.ReadCoils:
		raw, err = c.client.ReadCoils(req.Address, req.Quantity)
	case request.ReadDiscreteInputs:
		raw, err = c.client.ReadDiscreteInputs(req.Address, req.Quantity)
	case request.ReadHoldingRegisters:
		raw, err = c.client.ReadHoldingRegisters(req.Address, req.Quantity)
	case request.ReadInputRegisters:
		raw, err = c.client.ReadInputRegisters(req.Address, req.Quantity)
	default:
		return request.ReadResult{}, &request.ConfigurationError{Reason: fmt.Sprintf("%s: %v", req.Function, errUnsupportedFunction)}
	}
	if err != nil {
		return request.ReadResult{}, classifyGoburrow(c.ep, err)
	}

	if req.Function.ReadsBits() {
		return readResultFromBits(c.ep, req, raw)
	}
	return readResultFromRegisters(c.ep, req, raw)
}

func (c *goburrowConn) Write(req request.Write, timeout time.Duration) (request.WriteAck, error) {
	c.prepare(req.UnitID(), timeout)

	var err error
	switch req.Function() {
	case request.WriteSingleCoil:
		v := uint16(0x0000)
		if req.Coils()[0] {
			v = 0xFF00
		}
		_, err = c.client.WriteSingleCoil(req.Address(), v)
	case request.WriteSingleRegister:
		_, err = c.client.WriteSingleRegister(req.Address(), req.Registers()[0])
	case request.WriteMultipleCoils:
		coils := req.Coils()
		_, err = c.client.WriteMultipleCoils(req.Address(), uint16(len(coils)), request.PackBits(coils))
	case request.WriteMultipleRegisters:
		regs := req.Registers()
		_, err = c.client.WriteMultipleRegisters(req.Address(), uint16(len(regs)), request.PackRegisters(regs))
	default:
		return request.WriteAck{}, &request.ConfigurationError{Reason: fmt.Sprintf("%s: %v", req.Function(), errUnsupportedFunction)}
	}
	if err != nil {
		return request.WriteAck{}, classifyGoburrow(c.ep, err)
	}

	return request.WriteAck{
		Function: req.Function(),
		Address:  req.Address(),
		Quantity: req.Quantity(),
	}, nil
}

func (c *goburrowConn) Close() error {
	return c.closer()
}

// classifyGoburrow maps goburrow errors onto the transport taxonomy.
// The handler is already connected, so anything that is not an exception
// response is an exchange failure.
func classifyGoburrow(ep endpoint.Endpoint, err error) error {
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return &SlaveError{
			Endpoint:      ep,
			FunctionCode:  me.FunctionCode & 0x7F,
			ExceptionCode: me.ExceptionCode,
		}
	}
	return &IOError{Endpoint: ep, Err: err}
}
