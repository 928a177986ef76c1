// internal/poller/poller.go
package poller

import (
	"errors"
	"fmt"
	"time"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/request"
)

// Config is the minimal runtime config of one polled unit.
type Config struct {
	UnitID       string
	Source       endpoint.Endpoint
	SlaveID      uint8
	MaxTries     int
	Interval     time.Duration
	InitialDelay time.Duration
	Reads        []ReadBlock
}

// Poller is a dumb, clock-driven reader description: it turns read
// geometry into request blueprints and raw responses into BlockResults.
// Scheduling is left to the caller.
type Poller struct {
	cfg Config
}

// New creates a poller with immutable config.
func New(cfg Config) (*Poller, error) {
	if cfg.UnitID == "" {
		return nil, errors.New("poller: unit id required")
	}
	if err := cfg.Source.Validate(); err != nil {
		return nil, fmt.Errorf("poller: unit %q: %w", cfg.UnitID, err)
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if len(cfg.Reads) == 0 {
		return nil, errors.New("poller: at least one read block required")
	}
	for _, rb := range cfg.Reads {
		if err := rb.Request(cfg.SlaveID, cfg.MaxTries).Validate(); err != nil {
			return nil, fmt.Errorf("poller: unit %q: %w", cfg.UnitID, err)
		}
	}
	return &Poller{cfg: cfg}, nil
}

func (p *Poller) UnitID() string { return p.cfg.UnitID }

// Source is the endpoint every block is read from.
func (p *Poller) Source() endpoint.Endpoint { return p.cfg.Source }

func (p *Poller) Schedule() Schedule {
	return Schedule{Period: p.cfg.Interval, InitialDelay: p.cfg.InitialDelay}
}

func (p *Poller) Blocks() []ReadBlock {
	return append([]ReadBlock(nil), p.cfg.Reads...)
}

// Requests returns one read blueprint per block, in configuration order.
func (p *Poller) Requests() []request.Read {
	out := make([]request.Read, 0, len(p.cfg.Reads))
	for _, rb := range p.cfg.Reads {
		out = append(out, rb.Request(p.cfg.SlaveID, p.cfg.MaxTries))
	}
	return out
}

// Result builds the BlockResult of one executed read.
func (p *Poller) Result(req request.Read, bits []bool, regs []uint16, err error) BlockResult {
	return BlockResult{
		UnitID:    p.cfg.UnitID,
		Block:     BlockOf(req),
		At:        time.Now(),
		Bits:      bits,
		Registers: regs,
		Err:       err,
	}
}

// BlockOf recovers the geometry of a read blueprint.
func BlockOf(req request.Read) ReadBlock {
	return ReadBlock{Function: req.Function, Address: req.Address, Quantity: req.Quantity}
}

// Key names a block for status tracking, e.g. "fc3@100+10".
func (b ReadBlock) Key() string {
	return fmt.Sprintf("fc%d@%d+%d", uint8(b.Function), b.Address, b.Quantity)
}
