// internal/status/tracker.go
package status

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tamzrod/modbus-transport/internal/transport"
)

// Classify maps a read outcome onto a health code.
// Exception responses mean the request does not fit the device, anything
// else that failed is a communication problem.
func Classify(err error) uint16 {
	switch {
	case err == nil:
		return HealthOK
	case transport.IsSlaveError(err):
		return HealthDataError
	default:
		return HealthCommunicationError
	}
}

// ErrorCode extracts a best-effort uint16 code from an error.
// If the error does not expose a code, returns 1 (generic error).
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	type coder interface{ Code() uint16 }

	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return 1
}

// Tracker keeps the health of one device across its read blocks.
// The device is OK only while every block's latest read succeeded.
type Tracker struct {
	unit string

	mu        sync.Mutex
	snap      Snapshot
	failing   map[string]error
	lastError error
	updatedAt time.Time
}

func NewTracker(unit string) *Tracker {
	return &Tracker{
		unit:    unit,
		snap:    Snapshot{Health: HealthUnknown},
		failing: make(map[string]error),
	}
}

// Observe records the outcome of one block read and returns the new
// snapshot and whether it changed.
func (t *Tracker) Observe(block string, err error, at time.Time) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.updatedAt = at
	if err == nil {
		delete(t.failing, block)
	} else {
		t.failing[block] = err
		t.lastError = err
	}

	next := t.snap
	if len(t.failing) == 0 {
		// Recovery resets the error state.
		next = Snapshot{Health: HealthOK}
	} else {
		worst := HealthDataError
		for _, e := range t.failing {
			if Classify(e) == HealthCommunicationError {
				worst = HealthCommunicationError
				break
			}
		}
		next.Health = worst
		if err != nil {
			next.LastErrorCode = ErrorCode(err)
		}
		// seconds_in_error only moves on Tick.
	}

	changed := next != t.snap
	t.snap = next
	return next, changed
}

// Tick advances seconds_in_error while the device is not OK. It is meant
// to be called at 1 Hz and saturates at MaxSecondsInError.
func (t *Tracker) Tick() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.Health == HealthOK || t.snap.SecondsInError >= MaxSecondsInError {
		return t.snap, false
	}
	t.snap.SecondsInError++
	return t.snap, true
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// View is the JSON form of a device status.
type View struct {
	Unit           string    `json:"unit"`
	Health         string    `json:"health"`
	HealthCode     uint16    `json:"health_code"`
	LastErrorCode  uint16    `json:"last_error_code"`
	SecondsInError uint16    `json:"seconds_in_error"`
	LastError      string    `json:"last_error,omitempty"`
	FailingBlocks  []string  `json:"failing_blocks,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := View{
		Unit:           t.unit,
		Health:         HealthName(t.snap.Health),
		HealthCode:     t.snap.Health,
		LastErrorCode:  t.snap.LastErrorCode,
		SecondsInError: t.snap.SecondsInError,
		UpdatedAt:      t.updatedAt,
	}
	if t.snap.Health != HealthOK && t.lastError != nil {
		v.LastError = t.lastError.Error()
	}
	for b := range t.failing {
		v.FailingBlocks = append(v.FailingBlocks, b)
	}
	sort.Strings(v.FailingBlocks)
	return v
}

// Board indexes trackers by unit id.
type Board struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

func NewBoard() *Board {
	return &Board{trackers: make(map[string]*Tracker)}
}

// Tracker returns the tracker of unit, creating it on first use.
func (b *Board) Tracker(unit string) *Tracker {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.trackers[unit]
	if !ok {
		t = NewTracker(unit)
		b.trackers[unit] = t
	}
	return t
}

// Remove drops the tracker of unit.
func (b *Board) Remove(unit string) {
	b.mu.Lock()
	delete(b.trackers, unit)
	b.mu.Unlock()
}

// Views lists every device status sorted by unit id.
func (b *Board) Views() []View {
	b.mu.RLock()
	trackers := make([]*Tracker, 0, len(b.trackers))
	for _, t := range b.trackers {
		trackers = append(trackers, t)
	}
	b.mu.RUnlock()

	out := make([]View, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, t.View())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out
}
