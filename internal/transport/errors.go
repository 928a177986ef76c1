// internal/transport/errors.go
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
)

var (
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("transport: pool closed")
	// ErrSlotTimeout is wrapped in a ConnectionError when no connection slot
	// became available within the connect timeout.
	ErrSlotTimeout = errors.New("transport: timed out waiting for a connection slot")
)

// Modbus exception codes.
const (
	ExceptionIllegalFunction            byte = 0x01
	ExceptionIllegalDataAddress         byte = 0x02
	ExceptionIllegalDataValue           byte = 0x03
	ExceptionServerDeviceFailure        byte = 0x04
	ExceptionAcknowledge                byte = 0x05
	ExceptionServerDeviceBusy           byte = 0x06
	ExceptionMemoryParityError          byte = 0x08
	ExceptionGatewayPathUnavailable     byte = 0x0A
	ExceptionGatewayTargetFailedRespond byte = 0x0B
)

// ConnectionError means the transport could not be established.
type ConnectionError struct {
	Endpoint endpoint.Endpoint
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("modbus connection error (%s): %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Code returns a generic non-zero status code.
func (e *ConnectionError) Code() uint16 { return 0x0100 }

// IOError means the transport was established but the exchange failed:
// response timeout, malformed or mismatched frame, connection dropped mid-exchange.
type IOError struct {
	Endpoint endpoint.Endpoint
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("modbus i/o error (%s): %v", e.Endpoint, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Code returns 0x0201 when the slave did not answer in time and 0x0200 for
// any other failed exchange.
func (e *IOError) Code() uint16 {
	if e.Timeout() {
		return 0x0201
	}
	return 0x0200
}

// Timeout reports whether the exchange failed because the slave was too slow.
func (e *IOError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// SlaveError is a well-formed exception response from the slave.
type SlaveError struct {
	Endpoint      endpoint.Endpoint
	FunctionCode  byte
	ExceptionCode byte
}

func (e *SlaveError) Error() string {
	return fmt.Sprintf("modbus slave exception (%s): fc=%d code=%d (%s)",
		e.Endpoint, e.FunctionCode, e.ExceptionCode, exceptionText(e.ExceptionCode))
}

// Code returns the raw Modbus exception code.
func (e *SlaveError) Code() uint16 { return uint16(e.ExceptionCode) }

// IsCommunicationError reports whether err is a ConnectionError or an IOError.
func IsCommunicationError(err error) bool {
	var ce *ConnectionError
	var ie *IOError
	return errors.As(err, &ce) || errors.As(err, &ie)
}

// IsSlaveError reports whether err carries a Modbus exception response.
func IsSlaveError(err error) bool {
	var se *SlaveError
	return errors.As(err, &se)
}

func exceptionText(code byte) string {
	switch code {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionServerDeviceBusy:
		return "server device busy"
	case ExceptionMemoryParityError:
		return "memory parity error"
	case ExceptionGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionGatewayTargetFailedRespond:
		return "gateway target device failed to respond"
	default:
		return "unknown"
	}
}

// isBrokenConnection reports whether err means the socket is gone.
func isBrokenConnection(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
