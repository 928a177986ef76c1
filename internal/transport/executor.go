// internal/transport/executor.go
package transport

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/request"
)

// Executor runs one logical request against an endpoint with the
// blueprint's retry budget.
//
// Retry policy:
//   - ConnectionError and IOError are retried, the connection is discarded
//   - SlaveError is terminal, the connection is kept
//   - the last observed error is returned
type Executor struct {
	pool    *Pool
	configs ConfigSource
	logger  *zap.Logger
}

func NewExecutor(pool *Pool, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		pool:    pool,
		configs: pool.configs,
		logger:  logger.Named("executor"),
	}
}

func (e *Executor) Read(ctx context.Context, ep endpoint.Endpoint, req request.Read) (request.ReadResult, error) {
	if err := req.Validate(); err != nil {
		return request.ReadResult{}, err
	}

	var out request.ReadResult
	err := e.run(ctx, ep, req.Tries(), req.String(), func(c Conn, timeout time.Duration) error {
		res, err := c.Read(req, timeout)
		if err == nil {
			out = res
		}
		return err
	})
	return out, err
}

func (e *Executor) Write(ctx context.Context, ep endpoint.Endpoint, req request.Write) (request.WriteAck, error) {
	if err := req.Validate(); err != nil {
		return request.WriteAck{}, err
	}

	var out request.WriteAck
	err := e.run(ctx, ep, req.Tries(), req.String(), func(c Conn, timeout time.Duration) error {
		ack, err := c.Write(req, timeout)
		if err == nil {
			out = ack
		}
		return err
	})
	return out, err
}

func (e *Executor) run(
	ctx context.Context,
	ep endpoint.Endpoint,
	tries int,
	what string,
	exchange func(c Conn, timeout time.Duration) error,
) error {
	var last error

	for attempt := 1; attempt <= tries; attempt++ {
		// Config is read per attempt so a concurrent Set applies to the next one.
		cfg := e.configs.Get(ep)

		if attempt > 1 {
			if err := sleepContext(ctx, cfg.InterMessagePause); err != nil {
				return lastOr(last, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return lastOr(last, err)
		}

		c, err := e.pool.Acquire(ctx, ep)
		if err != nil {
			if errors.Is(err, ErrPoolClosed) || ctx.Err() != nil {
				return lastOr(last, err)
			}
			last = err
			e.logAttempt(ep, what, attempt, tries, err)
			continue
		}

		if err := e.pool.Throttle(ctx, c, cfg.InterMessagePause); err != nil {
			e.pool.Release(c, true)
			return lastOr(last, err)
		}

		err = classify(ep, exchange(c.Conn, cfg.ReceiveTimeout))
		switch {
		case err == nil:
			e.pool.Release(c, true)
			return nil

		case IsSlaveError(err), isConfigurationError(err):
			e.pool.Release(c, true)
			return err

		default:
			e.pool.Release(c, false)
			last = err
			e.logAttempt(ep, what, attempt, tries, err)
		}
	}

	return last
}

// classify wraps errors a Conn did not classify itself.
func classify(ep endpoint.Endpoint, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectionError
	var ie *IOError
	var se *SlaveError
	if errors.As(err, &ce) || errors.As(err, &ie) || errors.As(err, &se) || isConfigurationError(err) {
		return err
	}
	return &IOError{Endpoint: ep, Err: err}
}

func isConfigurationError(err error) bool {
	var ce *request.ConfigurationError
	return errors.As(err, &ce)
}

func lastOr(last, err error) error {
	if last != nil {
		return last
	}
	return err
}

func (e *Executor) logAttempt(ep endpoint.Endpoint, what string, attempt, tries int, err error) {
	e.logger.Debug("attempt failed",
		zap.Stringer("endpoint", ep),
		zap.String("request", what),
		zap.Int("attempt", attempt),
		zap.Int("max_tries", tries),
		zap.Error(err),
	)
}
