// internal/replicator/replicator.go
//
// Package replicator runs the configured units: every read block becomes a
// regular poll, successful results are copied to the targets and each
// unit's health is tracked and published to its status block.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tamzrod/modbus-transport/internal/config"
	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/manager"
	"github.com/tamzrod/modbus-transport/internal/poller"
	"github.com/tamzrod/modbus-transport/internal/request"
	"github.com/tamzrod/modbus-transport/internal/status"
	"github.com/tamzrod/modbus-transport/internal/writer"
)

// ErrRunning is returned by Start when units are already running.
var ErrRunning = errors.New("replicator: already running")

// Manager is the subset of *manager.Manager the replicator drives.
type Manager interface {
	writer.Submitter
	RegisterRegularPoll(task manager.ReadTask, period, initialDelay time.Duration) (manager.PollHandle, error)
	UnregisterRegularPoll(task manager.PollTask) bool
	SetEndpointPoolConfiguration(ep endpoint.Endpoint, cfg *endpoint.PoolConfig) error
	CloseEndpointConnections(ep endpoint.Endpoint)
}

// UnitInfo describes one running unit.
type UnitInfo struct {
	ID       string        `json:"id"`
	Source   string        `json:"source"`
	Blocks   []string      `json:"blocks"`
	Interval time.Duration `json:"interval"`
	Targets  int           `json:"targets"`
	Status   bool          `json:"status_block"`
	Writes   writer.Stats  `json:"writes"`
}

type Replicator struct {
	mgr    Manager
	board  *status.Board
	logger *zap.Logger
	tick   time.Duration

	mu        sync.Mutex
	units     map[string]*unit
	endpoints map[endpoint.Endpoint]struct{}
}

type Option func(*Replicator)

func WithLogger(l *zap.Logger) Option {
	return func(r *Replicator) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTick overrides the seconds_in_error clock (tests).
func WithTick(d time.Duration) Option {
	return func(r *Replicator) {
		if d > 0 {
			r.tick = d
		}
	}
}

func New(mgr Manager, board *status.Board, opts ...Option) *Replicator {
	r := &Replicator{
		mgr:       mgr,
		board:     board,
		logger:    zap.NewNop(),
		tick:      time.Second,
		units:     make(map[string]*unit),
		endpoints: make(map[endpoint.Endpoint]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("replicator")
	return r
}

// ApplyEndpoints pushes the pool policies of cfg to the manager. Endpoints
// dropped since the previous call are reset to their defaults and their
// connections are retired.
func (r *Replicator) ApplyEndpoints(cfg *config.Config) error {
	pools, err := cfg.PoolConfigs()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for ep := range r.endpoints {
		if _, keep := pools[ep]; keep {
			continue
		}
		if err := r.mgr.SetEndpointPoolConfiguration(ep, nil); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		r.mgr.CloseEndpointConnections(ep)
		delete(r.endpoints, ep)
		r.logger.Info("endpoint pool config reset", zap.Stringer("endpoint", ep))
	}
	for ep, pc := range pools {
		if err := r.mgr.SetEndpointPoolConfiguration(ep, &pc); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("endpoint %s: %w", ep, err))
			continue
		}
		r.endpoints[ep] = struct{}{}
		r.logger.Info("endpoint pool config applied",
			zap.Stringer("endpoint", ep),
			zap.Int("max_connections", pc.MaxConnections),
			zap.Duration("receive_timeout", pc.ReceiveTimeout),
		)
	}
	return errs
}

// Start builds and starts every unit. On error nothing is left running.
func (r *Replicator) Start(units []config.UnitConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.units) > 0 {
		return ErrRunning
	}

	for _, uc := range units {
		u, err := r.build(uc)
		if err == nil {
			err = u.start()
		}
		if err != nil {
			r.stopLocked()
			return fmt.Errorf("replicator: unit %q: %w", uc.ID, err)
		}
		r.units[uc.ID] = u
		r.logger.Info("unit started",
			zap.String("unit", uc.ID),
			zap.Stringer("source", u.poller.Source()),
			zap.Int("blocks", len(u.poller.Blocks())),
			zap.Int("targets", len(uc.Targets)),
		)
	}
	return nil
}

// Stop unregisters every poll and stops the status clocks. Writes already
// submitted are left to the manager.
func (r *Replicator) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Replicator) stopLocked() {
	for id, u := range r.units {
		u.stop()
		r.board.Remove(id)
		delete(r.units, id)
	}
}

// Units lists the running units sorted by id.
func (r *Replicator) Units() []UnitInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]UnitInfo, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Replicator) build(uc config.UnitConfig) (*unit, error) {
	p, err := poller.Build(uc)
	if err != nil {
		return nil, err
	}
	plan, err := writer.BuildPlan(uc)
	if err != nil {
		return nil, err
	}

	logger := r.logger.With(zap.String("unit", uc.ID))
	u := &unit{
		mgr:     r.mgr,
		poller:  p,
		plan:    plan,
		writer:  writer.New(plan, r.mgr, r.logger),
		tracker: r.board.Tracker(uc.ID),
		tick:    r.tick,
		logger:  logger,
	}
	if sw, ok := writer.NewDeviceStatusWriter(plan, r.mgr, r.logger); ok {
		u.status = sw
	}
	return u, nil
}

// ---- unit ----

// unit is the poll callback of all blocks of one configured device.
type unit struct {
	mgr     Manager
	poller  *poller.Poller
	plan    writer.Plan
	writer  *writer.DataWriter
	status  *writer.DeviceStatusWriter
	tracker *status.Tracker
	tick    time.Duration
	logger  *zap.Logger

	// orders tracker transitions with their status writes
	statusMu sync.Mutex

	handles []manager.PollHandle
	cancel  context.CancelFunc
	done    chan struct{}
}

func (u *unit) start() error {
	// Full block write on start (identity re-assert) if enabled.
	u.publish(u.tracker.Snapshot(), true)

	sched := u.poller.Schedule()
	for _, req := range u.poller.Requests() {
		h, err := u.mgr.RegisterRegularPoll(manager.ReadTask{
			Endpoint: u.poller.Source(),
			Request:  req,
			Callback: u,
		}, sched.Period, sched.InitialDelay)
		if err != nil {
			u.stop()
			return err
		}
		u.handles = append(u.handles, h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.done = make(chan struct{})
	go u.clock(ctx)
	return nil
}

func (u *unit) stop() {
	for _, h := range u.handles {
		u.mgr.UnregisterRegularPoll(h.Task)
	}
	u.handles = nil
	if u.cancel != nil {
		u.cancel()
		<-u.done
		u.cancel = nil
	}
}

// clock advances seconds_in_error while the device is not OK.
func (u *unit) clock(ctx context.Context) {
	defer close(u.done)

	t := time.NewTicker(u.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			u.statusMu.Lock()
			if s, changed := u.tracker.Tick(); changed {
				u.publish(s, false)
			}
			u.statusMu.Unlock()
		}
	}
}

func (u *unit) OnBits(req request.Read, bits request.BitArray) {
	u.handle(u.poller.Result(req, bits.Bits(), nil, nil))
}

func (u *unit) OnRegisters(req request.Read, regs request.RegisterArray) {
	u.handle(u.poller.Result(req, nil, regs.Registers(), nil))
}

func (u *unit) OnError(req request.Read, err error) {
	u.handle(u.poller.Result(req, nil, nil, err))
}

func (u *unit) handle(res poller.BlockResult) {
	// --- data delivery ---
	if err := u.writer.Write(res); err != nil {
		u.logger.Warn("replication submit failed", zap.Error(err))
	}

	// --- status update (device-level truth) ---
	u.statusMu.Lock()
	defer u.statusMu.Unlock()

	prev := u.tracker.Snapshot()
	s, changed := u.tracker.Observe(res.Block.Key(), res.Err, res.At)
	if !changed {
		return
	}
	if s.Health != prev.Health {
		fields := []zap.Field{
			zap.String("health", status.HealthName(s.Health)),
			zap.String("block", res.Block.Key()),
		}
		if res.Err != nil {
			fields = append(fields, zap.Error(res.Err))
			u.logger.Warn("unit health changed", fields...)
		} else {
			u.logger.Info("unit health changed", fields...)
		}
	}
	u.publish(s, false)
}

func (u *unit) publish(s status.Snapshot, initial bool) {
	if u.status == nil {
		return
	}
	if err := u.status.WriteStatus(s); err != nil {
		u.logger.Warn("status write failed", zap.Bool("initial", initial), zap.Error(err))
	}
}

func (u *unit) info() UnitInfo {
	blocks := u.poller.Blocks()
	keys := make([]string, 0, len(blocks))
	for _, b := range blocks {
		keys = append(keys, b.Key())
	}
	return UnitInfo{
		ID:       u.poller.UnitID(),
		Source:   u.poller.Source().String(),
		Blocks:   keys,
		Interval: u.poller.Schedule().Period,
		Targets:  len(u.plan.Targets),
		Status:   u.status != nil,
		Writes:   u.writer.Stats(),
	}
}
