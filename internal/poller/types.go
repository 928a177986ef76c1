// internal/poller/types.go
package poller

import (
	"time"

	"github.com/tamzrod/modbus-transport/internal/request"
)

// ReadBlock describes one Modbus read geometry.
// Geometry only: no semantics.
type ReadBlock struct {
	Function request.Function
	Address  uint16
	Quantity uint16
}

// Request turns the block into a read blueprint for unitID.
func (b ReadBlock) Request(unitID uint8, maxTries int) request.Read {
	return request.Read{
		UnitID:   unitID,
		Function: b.Function,
		Address:  b.Address,
		Quantity: b.Quantity,
		MaxTries: maxTries,
	}
}

// BlockResult is the raw outcome of one block read.
type BlockResult struct {
	UnitID string
	Block  ReadBlock
	At     time.Time

	// Exactly one of these is used depending on the function.
	Bits      []bool   // FC 1,2
	Registers []uint16 // FC 3,4

	Err error // non-nil means the read failed
}
