// internal/writer/writer.go
package writer

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tamzrod/modbus-transport/internal/manager"
	"github.com/tamzrod/modbus-transport/internal/poller"
	"github.com/tamzrod/modbus-transport/internal/request"
)

// Stats counts write outcomes reported back by the manager.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

// DataWriter fans every successful block out to each memory destination
// of each target as one-time writes.
type DataWriter struct {
	plan   Plan
	sub    Submitter
	logger *zap.Logger
	sink   *writeSink
}

// New builds the data writer of plan.
func New(plan Plan, sub Submitter, logger *zap.Logger) *DataWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("writer").With(zap.String("unit", plan.UnitID))
	return &DataWriter{
		plan:   plan,
		sub:    sub,
		logger: logger,
		sink:   &writeSink{logger: logger},
	}
}

// Write submits the writes for res. Failed reads are not replicated.
// The returned error only covers submissions rejected synchronously;
// delivery failures are logged and counted in Stats.
func (w *DataWriter) Write(res poller.BlockResult) error {
	if res.Err != nil {
		return nil
	}

	var errs error
	for _, tgt := range w.plan.Targets {
		for _, mem := range tgt.Memories {
			dst := offsetForFC(mem.Offsets, uint8(res.Block.Function)) + res.Block.Address

			for _, req := range blockWrites(tgt.UnitID, dst, res) {
				err := w.sub.SubmitOneTimeWrite(manager.WriteTask{
					Endpoint: tgt.Endpoint,
					Request:  req,
					Callback: w.sink,
				})
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf(
						"writer: ep=%s unit=%d fc=%d addr=%d: %w",
						tgt.Endpoint, tgt.UnitID, res.Block.Function, req.Address(), err,
					))
					continue
				}
				w.sink.submitted.Add(1)
			}
		}
	}
	return errs
}

// Stats returns the outcome counters.
func (w *DataWriter) Stats() Stats {
	return w.sink.stats()
}

// blockWrites maps bit reads (FC 1,2) onto coils and register reads (FC 3,4)
// onto holding registers, split to the per-request protocol limits.
func blockWrites(unitID uint8, addr uint16, res poller.BlockResult) []request.Write {
	var out []request.Write

	if res.Block.Function.ReadsBits() {
		bits := res.Bits
		for len(bits) > 0 {
			n := min(len(bits), request.MaxWriteBits)
			out = append(out, request.NewCoilWrite(unitID, addr, bits[:n], true))
			bits = bits[n:]
			addr += uint16(n)
		}
		return out
	}

	regs := res.Registers
	for len(regs) > 0 {
		n := min(len(regs), request.MaxWriteRegisters)
		out = append(out, request.NewRegisterWrite(unitID, addr, regs[:n], true))
		regs = regs[n:]
		addr += uint16(n)
	}
	return out
}

func offsetForFC(offsets map[int]uint16, fc uint8) uint16 {
	if offsets == nil {
		return 0
	}
	if v, ok := offsets[int(fc)]; ok {
		return v
	}
	return 0
}

// ---- delivery ----

type writeSink struct {
	logger    *zap.Logger
	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
}

func (s *writeSink) OnWriteResponse(req request.Write, ack request.WriteAck) {
	s.succeeded.Add(1)
}

func (s *writeSink) OnError(req request.Write, err error) {
	s.failed.Add(1)
	s.logger.Warn("replication write failed",
		zap.Stringer("request", req),
		zap.Error(err),
	)
}

func (s *writeSink) stats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
	}
}
