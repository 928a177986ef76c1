// internal/poller/scheduler.go
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrSchedulerClosed = errors.New("poller: scheduler closed")

// Schedule is the timing of one recurring registration.
type Schedule struct {
	Period       time.Duration
	InitialDelay time.Duration
}

func (s Schedule) Validate() error {
	if s.Period <= 0 {
		return errors.New("poller: period must be > 0")
	}
	if s.InitialDelay < 0 {
		return errors.New("poller: initial delay must be >= 0")
	}
	return nil
}

// Tick is one execution of a registration. ctx is cancelled when the
// registration is removed; a running tick finishes but should not deliver.
type Tick func(ctx context.Context)

// Dispatcher runs ticks on shared workers. Dispatch must not block and
// returns false when the work was rejected.
type Dispatcher interface {
	Dispatch(fn func()) bool
}

// Scheduler fires registered ticks at a fixed period using runtime timers,
// not one goroutine per registration.
//
// Timing rules:
//   - first fire after InitialDelay
//   - next fire is the previous scheduled time plus Period
//   - a tick that overruns its period delays the next one; ticks never
//     overlap and missed ticks are not caught up
type Scheduler[K comparable] struct {
	dispatch Dispatcher
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[K]*entry
	closed  bool
}

type entry struct {
	id     uuid.UUID
	sched  Schedule
	tick   Tick
	ctx    context.Context
	cancel context.CancelFunc

	// guarded by Scheduler.mu
	timer   *time.Timer
	next    time.Time
	running bool
}

func NewScheduler[K comparable](dispatch Dispatcher, logger *zap.Logger) *Scheduler[K] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler[K]{
		dispatch: dispatch,
		logger:   logger.Named("scheduler"),
		entries:  make(map[K]*entry),
	}
}

// Register schedules tick under key. Registering a key that is already
// present is a no-op returning the existing id and added=false.
func (s *Scheduler[K]) Register(key K, sched Schedule, tick Tick) (id uuid.UUID, added bool, err error) {
	if err := sched.Validate(); err != nil {
		return uuid.Nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return uuid.Nil, false, ErrSchedulerClosed
	}
	if e, ok := s.entries[key]; ok {
		return e.id, false, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		id:     uuid.New(),
		sched:  sched,
		tick:   tick,
		ctx:    ctx,
		cancel: cancel,
		next:   time.Now().Add(sched.InitialDelay),
	}
	e.timer = time.AfterFunc(sched.InitialDelay, func() { s.fire(key, e) })
	s.entries[key] = e

	s.logger.Debug("registered",
		zap.String("id", e.id.String()),
		zap.Duration("period", sched.Period),
		zap.Duration("initial_delay", sched.InitialDelay),
	)
	return e.id, true, nil
}

// Unregister stops future fires of key. A tick already running is not
// interrupted but sees its context cancelled.
func (s *Scheduler[K]) Unregister(key K) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
		e.timer.Stop()
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel()
	s.logger.Debug("unregistered", zap.String("id", e.id.String()))
	return true
}

func (s *Scheduler[K]) IsRegistered(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// ID returns the id assigned to key at registration.
func (s *Scheduler[K]) ID(key K) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return uuid.Nil, false
	}
	return e.id, true
}

// Keys lists every registered key, running or waiting.
func (s *Scheduler[K]) Keys() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]K, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// Close unregisters everything and rejects further registrations.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := s.entries
	s.entries = make(map[K]*entry)
	for _, e := range entries {
		e.timer.Stop()
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}

func (s *Scheduler[K]) fire(key K, e *entry) {
	s.mu.Lock()
	if e.ctx.Err() != nil || s.entries[key] != e || e.running {
		s.mu.Unlock()
		return
	}
	e.running = true
	s.mu.Unlock()

	ok := s.dispatch.Dispatch(func() {
		defer s.done(key, e)
		if e.ctx.Err() != nil {
			return
		}
		e.tick(e.ctx)
	})
	if !ok {
		s.logger.Warn("tick rejected by dispatcher", zap.String("id", e.id.String()))
		s.done(key, e)
	}
}

func (s *Scheduler[K]) done(key K, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.running = false
	if e.ctx.Err() != nil || s.entries[key] != e {
		return
	}

	now := time.Now()
	next := e.next.Add(e.sched.Period)
	if next.Before(now) {
		next = now
	}
	e.next = next
	e.timer = time.AfterFunc(next.Sub(now), func() { s.fire(key, e) })
}
