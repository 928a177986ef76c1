// internal/writer/builder.go
package writer

import (
	"errors"
	"fmt"

	cfg "github.com/tamzrod/modbus-transport/internal/config"
	"github.com/tamzrod/modbus-transport/internal/endpoint"
)

// BuildPlan converts one unit config into a Writer Plan.
// Assumes config has already passed conflict validation.
func BuildPlan(u cfg.UnitConfig) (Plan, error) {
	if u.ID == "" {
		return Plan{}, errors.New("writer: unit.id required")
	}

	plan := Plan{UnitID: u.ID}

	for _, t := range u.Targets {
		ep, err := endpoint.Parse(t.Endpoint)
		if err != nil {
			return Plan{}, fmt.Errorf("writer: unit %q target %d: %w", u.ID, t.ID, err)
		}

		te := TargetEndpoint{
			TargetID: t.ID,
			Endpoint: ep,
			UnitID:   t.UnitID,
		}
		for _, m := range t.Memories {
			te.Memories = append(te.Memories, MemoryDest{
				MemoryID: m.MemoryID,
				Offsets:  m.Offsets, // map[int]uint16 (delta map)
			})
		}
		plan.Targets = append(plan.Targets, te)

		// status is opt-in per unit, addressed per target
		if u.Source.StatusSlot != nil && t.StatusUnitID != nil {
			plan.Status = append(plan.Status, StatusPlan{
				Endpoint:   ep,
				UnitID:     *t.StatusUnitID,
				BaseSlot:   *u.Source.StatusSlot,
				DeviceName: u.Source.DeviceName,
			})
		}
	}

	return plan, nil
}
