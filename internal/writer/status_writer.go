// internal/writer/status_writer.go
package writer

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tamzrod/modbus-transport/internal/manager"
	"github.com/tamzrod/modbus-transport/internal/request"
	"github.com/tamzrod/modbus-transport/internal/status"
)

// StatusWriter is the delivery-only contract for device status.
// It receives a snapshot and writes it verbatim.
// No logic, no interpretation.
type StatusWriter interface {
	WriteStatus(s status.Snapshot) error
}

// DeviceStatusWriter writes one unit's status block to every target that
// carries a status_unit_id.
type DeviceStatusWriter struct {
	sub     Submitter
	targets []*statusTarget
}

// statusTarget tracks what was last handed to one status block. It is the
// write callback of its own requests: any failed write re-arms the full
// block re-assert.
type statusTarget struct {
	plan   StatusPlan
	logger *zap.Logger

	mu       sync.Mutex
	needFull bool
	last     status.Snapshot
}

// NewDeviceStatusWriter builds a status writer if status is enabled for the unit.
// If plan.Status is empty, status is disabled.
func NewDeviceStatusWriter(plan Plan, sub Submitter, logger *zap.Logger) (*DeviceStatusWriter, bool) {
	if len(plan.Status) == 0 {
		return nil, false
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("status").With(zap.String("unit", plan.UnitID))

	sw := &DeviceStatusWriter{sub: sub}
	for _, sp := range plan.Status {
		sw.targets = append(sw.targets, &statusTarget{
			plan:     sp,
			logger:   logger.With(zap.Stringer("endpoint", sp.Endpoint)),
			needFull: true, // full re-assert on first write
			last:     status.Snapshot{Health: status.HealthUnknown},
		})
	}
	return sw, true
}

// WriteStatus delivers a device status snapshot into status memory.
// After any failure the next call re-asserts the full block.
func (sw *DeviceStatusWriter) WriteStatus(s status.Snapshot) error {
	var errs error
	for _, t := range sw.targets {
		errs = multierr.Append(errs, t.write(sw.sub, s))
	}
	return errs
}

func (t *statusTarget) write(sub Submitter, s status.Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	base := t.baseAddr()
	submit := func(req request.Write) error {
		return sub.SubmitOneTimeWrite(manager.WriteTask{
			Endpoint: t.plan.Endpoint,
			Request:  req,
			Callback: t,
		})
	}

	// ------------------------------------------------------------
	// Full block write (identity re-assert)
	// ------------------------------------------------------------
	if t.needFull {
		regs := status.Encode(s, t.plan.DeviceName)
		if err := submit(request.NewRegisterWrite(t.plan.UnitID, base, regs, true)); err != nil {
			return fmt.Errorf("status writer: full block %s: %w", t.plan.Endpoint, err)
		}
		t.needFull = false
		t.last = s
		return nil
	}

	var errs error
	slot := func(offset uint16, prev *uint16, v uint16) {
		if *prev == v {
			return
		}
		if err := submit(request.NewRegisterWrite(t.plan.UnitID, base+offset, []uint16{v}, false)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("status writer: slot %d %s: %w", offset, t.plan.Endpoint, err))
			return
		}
		*prev = v
	}

	slot(status.SlotHealthCode, &t.last.Health, s.Health)
	slot(status.SlotLastErrorCode, &t.last.LastErrorCode, s.LastErrorCode)
	slot(status.SlotSecondsInError, &t.last.SecondsInError, s.SecondsInError)

	if errs != nil {
		t.needFull = true
	}
	return errs
}

func (t *statusTarget) baseAddr() uint16 {
	// Each device owns a fixed SlotsPerDevice block.
	return t.plan.BaseSlot * status.SlotsPerDevice
}

func (t *statusTarget) OnWriteResponse(req request.Write, ack request.WriteAck) {}

func (t *statusTarget) OnError(req request.Write, err error) {
	t.mu.Lock()
	t.needFull = true
	t.mu.Unlock()

	t.logger.Warn("status write failed",
		zap.Stringer("request", req),
		zap.Error(err),
	)
}
