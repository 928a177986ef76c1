// internal/transport/pool.go
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
)

// ConfigSource resolves the effective pool policy of an endpoint.
// *endpoint.Store implements it.
type ConfigSource interface {
	Get(ep endpoint.Endpoint) endpoint.PoolConfig
}

// PooledConn is a connection borrowed from the pool.
// It must be handed back with Pool.Release exactly once.
type PooledConn struct {
	Conn

	owner      *endpointPool
	createdAt  time.Time
	lastUsed   time.Time
	generation uint64
	inUse      bool
}

// Endpoint returns the endpoint this connection talks to.
func (c *PooledConn) Endpoint() endpoint.Endpoint { return c.owner.ep }

// PoolStats is a point-in-time view of one endpoint pool.
type PoolStats struct {
	Live int `json:"live"`
	Idle int `json:"idle"`
}

// Pool keeps a bounded set of connections per endpoint.
// The pool mutex only guards the endpoint map; everything else is
// serialized per endpoint so unrelated endpoints never contend.
type Pool struct {
	dialer  Dialer
	configs ConfigSource
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	endpoints map[endpoint.Endpoint]*endpointPool
	closed    bool
}

type endpointPool struct {
	ep endpoint.Endpoint

	mu         sync.Mutex
	idle       []*PooledConn
	live       int
	wake       chan struct{}
	generation uint64
	closed     bool

	// lastExchange is when the endpoint's wire was last used, or the start
	// time reserved by the latest Throttle caller.
	lastExchange time.Time
}

func NewPool(dialer Dialer, configs ConfigSource, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		dialer:    dialer,
		configs:   configs,
		logger:    logger.Named("pool"),
		now:       time.Now,
		endpoints: make(map[endpoint.Endpoint]*endpointPool),
	}
}

func (p *Pool) endpointPool(ep endpoint.Endpoint) (*endpointPool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	ept, ok := p.endpoints[ep]
	if !ok {
		ept = &endpointPool{ep: ep, wake: make(chan struct{})}
		p.endpoints[ep] = ept
	}
	return ept, nil
}

// signal wakes every goroutine waiting for a slot. Caller holds ept.mu.
func (ept *endpointPool) signal() {
	close(ept.wake)
	ept.wake = make(chan struct{})
}

// Acquire returns an idle connection or opens a new one while the endpoint
// is below its connection cap. Waiting for a slot is bounded by ConnectTimeout;
// on expiry a ConnectionError wrapping ErrSlotTimeout is returned.
func (p *Pool) Acquire(ctx context.Context, ep endpoint.Endpoint) (*PooledConn, error) {
	ept, err := p.endpointPool(ep)
	if err != nil {
		return nil, err
	}

	cfg := p.configs.Get(ep)
	waitCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	for {
		cfg = p.configs.Get(ep)
		now := p.now()

		ept.mu.Lock()
		if ept.closed {
			ept.mu.Unlock()
			return nil, ErrPoolClosed
		}

		// ---- reuse (LIFO keeps the warmest connection in use) ----
		var stale []*PooledConn
		var reused *PooledConn
		for len(ept.idle) > 0 {
			last := len(ept.idle) - 1
			c := ept.idle[last]
			ept.idle[last] = nil
			ept.idle = ept.idle[:last]

			if expired(c, cfg, now) {
				ept.live--
				stale = append(stale, c)
				continue
			}
			c.inUse = true
			reused = c
			break
		}
		if reused != nil {
			ept.mu.Unlock()
			p.closeAll(stale, "expired")
			return reused, nil
		}

		// ---- grow ----
		if ept.live < cfg.EffectiveMaxConnections(ep.Kind) {
			ept.live++
			gen := ept.generation
			ept.mu.Unlock()
			p.closeAll(stale, "expired")

			conn, err := p.open(ctx, ep, cfg)
			if err != nil {
				ept.mu.Lock()
				ept.live--
				ept.signal()
				ept.mu.Unlock()
				return nil, err
			}
			return &PooledConn{
				Conn:       conn,
				owner:      ept,
				createdAt:  p.now(),
				generation: gen,
				inUse:      true,
			}, nil
		}

		// ---- wait ----
		wake := ept.wake
		ept.mu.Unlock()
		p.closeAll(stale, "expired")

		select {
		case <-wake:
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, &ConnectionError{Endpoint: ep, Err: ErrSlotTimeout}
		}
	}
}

// Throttle blocks until pause has passed since the previous exchange on the
// endpoint of c, whichever connection carried it. Concurrent callers reserve
// consecutive start times, so attempts on one endpoint are always spaced.
func (p *Pool) Throttle(ctx context.Context, c *PooledConn, pause time.Duration) error {
	if pause <= 0 {
		return ctx.Err()
	}
	ept := c.owner
	now := time.Now()

	ept.mu.Lock()
	start := now
	if !ept.lastExchange.IsZero() {
		if next := ept.lastExchange.Add(pause); next.After(start) {
			start = next
		}
	}
	ept.lastExchange = start
	ept.mu.Unlock()

	return sleepContext(ctx, start.Sub(now))
}

func expired(c *PooledConn, cfg endpoint.PoolConfig, now time.Time) bool {
	if cfg.ReconnectAfter > 0 && now.Sub(c.createdAt) >= cfg.ReconnectAfter {
		return true
	}
	return cfg.IdleTimeout > 0 && now.Sub(c.lastUsed) >= cfg.IdleTimeout
}

// open dials with up to ConnectMaxTries attempts separated by InterConnectDelay.
func (p *Pool) open(ctx context.Context, ep endpoint.Endpoint, cfg endpoint.PoolConfig) (Conn, error) {
	tries := cfg.ConnectMaxTries
	if tries < 1 {
		tries = 1
	}

	var last error
	for attempt := 1; attempt <= tries; attempt++ {
		if attempt > 1 && cfg.InterConnectDelay > 0 {
			if err := sleepContext(ctx, cfg.InterConnectDelay); err != nil {
				return nil, err
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		conn, err := p.dialer.Dial(dialCtx, ep, cfg)
		cancel()
		if err == nil {
			p.logger.Debug("connection opened",
				zap.Stringer("endpoint", ep),
				zap.Int("attempt", attempt),
			)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		last = err
		p.logger.Debug("connect failed",
			zap.Stringer("endpoint", ep),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	var ce *ConnectionError
	if errors.As(last, &ce) {
		return nil, last
	}
	return nil, &ConnectionError{Endpoint: ep, Err: last}
}

// Release hands a connection back. Healthy connections return to the idle
// set; unhealthy, outdated or over-age ones are closed and free their slot.
func (p *Pool) Release(c *PooledConn, healthy bool) {
	if c == nil {
		return
	}
	ept := c.owner
	cfg := p.configs.Get(ept.ep)
	now := p.now()

	ept.mu.Lock()
	if !c.inUse {
		ept.mu.Unlock()
		return
	}
	c.inUse = false
	c.lastUsed = now
	if wall := time.Now(); wall.After(ept.lastExchange) {
		ept.lastExchange = wall
	}

	keep := healthy &&
		!ept.closed &&
		c.generation == ept.generation &&
		!(cfg.ReconnectAfter > 0 && now.Sub(c.createdAt) >= cfg.ReconnectAfter)
	if keep {
		ept.idle = append(ept.idle, c)
	} else {
		ept.live--
	}
	ept.signal()
	ept.mu.Unlock()

	if !keep {
		reason := "unhealthy"
		if healthy {
			reason = "retired"
		}
		p.closeAll([]*PooledConn{c}, reason)
	}
}

// CloseEndpoint closes idle connections of ep; busy ones are closed on release.
// The endpoint stays usable.
func (p *Pool) CloseEndpoint(ep endpoint.Endpoint) {
	p.mu.Lock()
	ept, ok := p.endpoints[ep]
	p.mu.Unlock()
	if !ok {
		return
	}

	ept.mu.Lock()
	ept.generation++
	idle := ept.idle
	ept.idle = nil
	ept.live -= len(idle)
	ept.signal()
	ept.mu.Unlock()

	p.closeAll(idle, "endpoint reset")
}

// Close closes every idle connection and fails future and waiting Acquire
// calls with ErrPoolClosed. Busy connections are closed on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pools := make([]*endpointPool, 0, len(p.endpoints))
	for _, ept := range p.endpoints {
		pools = append(pools, ept)
	}
	p.mu.Unlock()

	var errs error
	for _, ept := range pools {
		ept.mu.Lock()
		ept.closed = true
		idle := ept.idle
		ept.idle = nil
		ept.live -= len(idle)
		ept.signal()
		ept.mu.Unlock()

		for _, c := range idle {
			errs = multierr.Append(errs, c.Conn.Close())
		}
	}
	return errs
}

// Stats reports live and idle counts for ep.
func (p *Pool) Stats(ep endpoint.Endpoint) PoolStats {
	p.mu.Lock()
	ept, ok := p.endpoints[ep]
	p.mu.Unlock()
	if !ok {
		return PoolStats{}
	}

	ept.mu.Lock()
	defer ept.mu.Unlock()
	return PoolStats{Live: ept.live, Idle: len(ept.idle)}
}

// EndpointPoolConfigChanged wakes waiters so a raised cap takes effect at once.
// A lowered cap only limits growth; open connections are left alone.
func (p *Pool) EndpointPoolConfigChanged(ep endpoint.Endpoint, _ endpoint.PoolConfig) {
	p.mu.Lock()
	ept, ok := p.endpoints[ep]
	p.mu.Unlock()
	if !ok {
		return
	}

	ept.mu.Lock()
	ept.signal()
	ept.mu.Unlock()
}

func (p *Pool) closeAll(conns []*PooledConn, reason string) {
	for _, c := range conns {
		if err := c.Conn.Close(); err != nil {
			p.logger.Debug("close connection",
				zap.Stringer("endpoint", c.owner.ep),
				zap.String("reason", reason),
				zap.Error(err),
			)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
