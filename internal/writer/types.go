// internal/writer/types.go
package writer

import (
	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/manager"
	"github.com/tamzrod/modbus-transport/internal/poller"
)

// MemoryDest is one destination region inside a target slave.
type MemoryDest struct {
	MemoryID uint16
	Offsets  map[int]uint16 // per-FC offset deltas; missing FC => 0
}

// TargetEndpoint is one target slave with one or more memory destinations.
type TargetEndpoint struct {
	TargetID uint32
	Endpoint endpoint.Endpoint
	UnitID   uint8
	Memories []MemoryDest
}

// StatusPlan addresses the status block of one unit on one target.
type StatusPlan struct {
	Endpoint   endpoint.Endpoint
	UnitID     uint8
	BaseSlot   uint16
	DeviceName string
}

// Plan is the fully-built write plan for one unit.
type Plan struct {
	UnitID  string
	Targets []TargetEndpoint
	// Status is empty when the unit has no status slot.
	Status []StatusPlan
}

// Writer replicates block results into targets.
type Writer interface {
	Write(res poller.BlockResult) error
}

// Submitter queues one-time writes. *manager.Manager implements it.
type Submitter interface {
	SubmitOneTimeWrite(task manager.WriteTask) error
}
