// internal/manager/manager.go
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/poller"
	"github.com/tamzrod/modbus-transport/internal/request"
	"github.com/tamzrod/modbus-transport/internal/transport"
)

var (
	// ErrNotActive is returned by submissions before Activate or after Deactivate.
	ErrNotActive = errors.New("manager: not active")
	// ErrAlreadyActive is returned by a second Activate.
	ErrAlreadyActive = errors.New("manager: already active")
)

// DefaultWorkers bounds concurrent task executions when Config.Workers is zero.
const DefaultWorkers = 16

// Config is the activation configuration.
type Config struct {
	Workers int
}

// Manager owns the connection pools, the poll scheduler and the shared
// workers. Pool configuration and listeners survive Deactivate; everything
// else is built on Activate and torn down on Deactivate.
type Manager struct {
	logger  *zap.Logger
	dialer  transport.Dialer
	configs *endpoint.Store

	mu sync.RWMutex
	rt *runtime
}

type runtime struct {
	ctx      context.Context
	cancel   context.CancelFunc
	pool     *transport.Pool
	exec     *transport.Executor
	sched    *poller.Scheduler[PollTask]
	dispatch *dispatcher
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithDialer replaces the network dialer (tests use fakes).
func WithDialer(d transport.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

func New(opts ...Option) *Manager {
	m := &Manager{
		logger:  zap.NewNop(),
		configs: endpoint.NewStore(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("manager")
	if m.dialer == nil {
		m.dialer = transport.NetDialer{Logger: m.logger}
	}
	return m
}

// ---- lifecycle ----

func (m *Manager) Activate(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rt != nil {
		return ErrAlreadyActive
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := transport.NewPool(m.dialer, m.configs, m.logger)
	dispatch := newDispatcher(ctx, workers)

	m.rt = &runtime{
		ctx:      ctx,
		cancel:   cancel,
		pool:     pool,
		exec:     transport.NewExecutor(pool, m.logger),
		sched:    poller.NewScheduler[PollTask](dispatch, m.logger),
		dispatch: dispatch,
	}
	m.configs.AddListener(pool)

	m.logger.Info("activated", zap.Int("workers", workers))
	return nil
}

// Deactivate cancels every poll and pending task, waits for in-flight
// exchanges to finish (their callbacks are skipped) and closes every
// connection. No manager goroutine survives it.
//
// Deactivate waits for the callback that calls it, so a callback must not
// call it directly; start it on a new goroutine instead.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	rt := m.rt
	m.rt = nil
	m.mu.Unlock()

	if rt == nil {
		return
	}

	rt.cancel()
	rt.sched.Close()
	rt.dispatch.Close()
	m.configs.RemoveListener(rt.pool)
	if err := rt.pool.Close(); err != nil {
		m.logger.Warn("closing connections", zap.Error(err))
	}

	m.logger.Info("deactivated")
}

func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rt != nil
}

func (m *Manager) runtime() (*runtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rt == nil {
		return nil, ErrNotActive
	}
	return m.rt, nil
}

// ---- one-time work ----

// SubmitOneTimePoll validates task and queues it. The callback is invoked
// exactly once unless the manager is deactivated first.
func (m *Manager) SubmitOneTimePoll(task ReadTask) error {
	if err := task.validate(); err != nil {
		return err
	}
	rt, err := m.runtime()
	if err != nil {
		return err
	}

	if !rt.dispatch.Dispatch(func() { m.executeRead(rt.ctx, rt, task) }) {
		return ErrNotActive
	}
	return nil
}

// SubmitOneTimeWrite validates task and queues it.
func (m *Manager) SubmitOneTimeWrite(task WriteTask) error {
	if err := task.validate(); err != nil {
		return err
	}
	rt, err := m.runtime()
	if err != nil {
		return err
	}

	if !rt.dispatch.Dispatch(func() { m.executeWrite(rt.ctx, rt, task) }) {
		return ErrNotActive
	}
	return nil
}

// ---- recurring polls ----

// RegisterRegularPoll fires task every period after initialDelay until it is
// unregistered. Registering an equal task again returns the existing handle.
func (m *Manager) RegisterRegularPoll(task ReadTask, period, initialDelay time.Duration) (PollHandle, error) {
	if err := task.validate(); err != nil {
		return PollHandle{}, err
	}
	if !isComparable(task.Callback) {
		return PollHandle{}, &request.ConfigurationError{
			Reason: fmt.Sprintf("poll callback %T is not comparable", task.Callback),
		}
	}

	pt := PollTask{ReadTask: task, Period: period, InitialDelay: initialDelay}
	sched := poller.Schedule{Period: period, InitialDelay: initialDelay}
	if err := sched.Validate(); err != nil {
		return PollHandle{}, &request.ConfigurationError{Reason: err.Error()}
	}

	rt, err := m.runtime()
	if err != nil {
		return PollHandle{}, err
	}

	id, added, err := rt.sched.Register(pt, sched, func(ctx context.Context) {
		m.executeRead(ctx, rt, task)
	})
	if errors.Is(err, poller.ErrSchedulerClosed) {
		return PollHandle{}, ErrNotActive
	}
	if err != nil {
		return PollHandle{}, err
	}

	if added {
		m.logger.Debug("poll registered",
			zap.String("id", id.String()),
			zap.Stringer("task", task),
			zap.Duration("period", period),
		)
	}
	return PollHandle{ID: id, Task: pt}, nil
}

// UnregisterRegularPoll stops future executions of task. An execution in
// flight finishes without invoking the callback.
func (m *Manager) UnregisterRegularPoll(task PollTask) bool {
	if !isComparable(task.Callback) {
		return false
	}
	rt, err := m.runtime()
	if err != nil {
		return false
	}
	return rt.sched.Unregister(task)
}

// RegisteredRegularPolls lists the handles of every registered poll.
func (m *Manager) RegisteredRegularPolls() []PollHandle {
	rt, err := m.runtime()
	if err != nil {
		return nil
	}

	tasks := rt.sched.Keys()
	out := make([]PollHandle, 0, len(tasks))
	for _, t := range tasks {
		id, ok := rt.sched.ID(t)
		if !ok {
			continue
		}
		out = append(out, PollHandle{ID: id, Task: t})
	}
	return out
}

// ---- endpoint configuration ----

func (m *Manager) GetEndpointPoolConfiguration(ep endpoint.Endpoint) endpoint.PoolConfig {
	return m.configs.Get(ep)
}

// SetEndpointPoolConfiguration replaces the policy of ep; nil resets it to
// the default. Listeners are notified synchronously after the change.
func (m *Manager) SetEndpointPoolConfiguration(ep endpoint.Endpoint, cfg *endpoint.PoolConfig) error {
	if err := ep.Validate(); err != nil {
		return &request.ConfigurationError{Reason: err.Error()}
	}
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return &request.ConfigurationError{Reason: err.Error()}
		}
	}
	m.configs.Set(ep, cfg)
	return nil
}

// IsEndpointConfigured reports whether ep has an explicit pool configuration.
func (m *Manager) IsEndpointConfigured(ep endpoint.Endpoint) bool {
	return m.configs.IsConfigured(ep)
}

// CloseEndpointConnections retires every connection to ep. Idle ones are
// closed now, busy ones when their exchange completes; the next request
// dials afresh. It is a no-op while inactive.
func (m *Manager) CloseEndpointConnections(ep endpoint.Endpoint) {
	rt, err := m.runtime()
	if err != nil {
		return
	}
	rt.pool.CloseEndpoint(ep)
	m.logger.Debug("endpoint connections retired", zap.Stringer("endpoint", ep))
}

// ConfiguredEndpoints lists endpoints with an explicit pool configuration.
func (m *Manager) ConfiguredEndpoints() []endpoint.Endpoint {
	return m.configs.Endpoints()
}

func (m *Manager) AddListener(l endpoint.Listener)    { m.configs.AddListener(l) }
func (m *Manager) RemoveListener(l endpoint.Listener) { m.configs.RemoveListener(l) }

// PoolStats reports connection counts of ep; zero when inactive.
func (m *Manager) PoolStats(ep endpoint.Endpoint) transport.PoolStats {
	rt, err := m.runtime()
	if err != nil {
		return transport.PoolStats{}
	}
	return rt.pool.Stats(ep)
}

// ---- execution ----

func (m *Manager) executeRead(ctx context.Context, rt *runtime, task ReadTask) {
	res, err := rt.exec.Read(ctx, task.Endpoint, task.Request)
	if ctx.Err() != nil {
		return
	}
	m.deliver(task.String(), readOutcome{task: task, result: res, err: err})
}

func (m *Manager) executeWrite(ctx context.Context, rt *runtime, task WriteTask) {
	ack, err := rt.exec.Write(ctx, task.Endpoint, task.Request)
	if ctx.Err() != nil {
		return
	}
	m.deliver(task.Endpoint.String()+" "+task.Request.String(), writeOutcome{task: task, ack: ack, err: err})
}

type outcome interface {
	deliver()
}

// deliver invokes the callback; a panicking callback is logged and does
// not take down the worker or the poll schedule.
func (m *Manager) deliver(what string, o outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("callback panicked",
				zap.String("task", what),
				zap.Any("panic", r),
			)
		}
	}()
	o.deliver()
}
