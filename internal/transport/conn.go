// internal/transport/conn.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/request"
)

// Conn is one open transport to a slave endpoint.
// A Conn is used by one goroutine at a time; the pool guarantees that.
// Errors returned by Read and Write are already classified
// (*IOError, *SlaveError, *ConnectionError).
type Conn interface {
	Read(req request.Read, timeout time.Duration) (request.ReadResult, error)
	Write(req request.Write, timeout time.Duration) (request.WriteAck, error)
	Close() error
}

// Dialer opens connections. Errors are wrapped into ConnectionError by the pool.
type Dialer interface {
	Dial(ctx context.Context, ep endpoint.Endpoint, cfg endpoint.PoolConfig) (Conn, error)
}

// NetDialer opens real connections: goburrow/modbus for TCP and serial lines,
// simonvetter/modbus for TCP-over-UDP.
type NetDialer struct {
	Logger *zap.Logger
}

func (d NetDialer) Dial(ctx context.Context, ep endpoint.Endpoint, cfg endpoint.PoolConfig) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch ep.Kind {
	case endpoint.KindTCP:
		return dialTCP(ctx, ep, cfg, logger)
	case endpoint.KindSerial:
		return dialSerial(ctx, ep, cfg, logger)
	case endpoint.KindUDP:
		return dialUDP(ep, cfg)
	default:
		return nil, fmt.Errorf("transport: unsupported endpoint kind %s", ep.Kind)
	}
}

// connectWithContext runs a blocking connect and gives up when ctx ends.
// A connection that completes after ctx ended is closed.
func connectWithContext(ctx context.Context, connect func() error, closeFn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- connect()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil {
				_ = closeFn()
			}
		}()
		return ctx.Err()
	}
}

func readResultFromBits(ep endpoint.Endpoint, req request.Read, raw []byte) (request.ReadResult, error) {
	if len(raw)*8 < int(req.Quantity) {
		return request.ReadResult{}, &IOError{
			Endpoint: ep,
			Err:      fmt.Errorf("short %s payload: %d bytes for %d bits", req.Function, len(raw), req.Quantity),
		}
	}
	return request.ReadResult{Bits: request.NewBitArray(request.UnpackBits(raw, int(req.Quantity))...)}, nil
}

func readResultFromRegisters(ep endpoint.Endpoint, req request.Read, raw []byte) (request.ReadResult, error) {
	if len(raw) != 2*int(req.Quantity) {
		return request.ReadResult{}, &IOError{
			Endpoint: ep,
			Err:      fmt.Errorf("%s payload is %d bytes, want %d", req.Function, len(raw), 2*int(req.Quantity)),
		}
	}
	return request.ReadResult{Registers: request.NewRegisterArray(request.UnpackRegisters(raw)...)}, nil
}

var errUnsupportedFunction = errors.New("unsupported function")
