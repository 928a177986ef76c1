// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/request"
	"github.com/tamzrod/modbus-transport/internal/status"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	type span struct {
		start uint16
		end   uint16
		unit  string
	}

	// ------------------------------------------------------------
	// ENDPOINT POOL POLICIES
	// ------------------------------------------------------------

	seenEndpoints := make(map[endpoint.Endpoint]struct{})
	for i, e := range cfg.Endpoints {
		ep, err := endpoint.Parse(e.Endpoint)
		if err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		if _, dup := seenEndpoints[ep]; dup {
			return fmt.Errorf("endpoints[%d]: %s configured twice", i, ep)
		}
		seenEndpoints[ep] = struct{}{}

		if err := e.PoolConfig(ep.Kind).Validate(); err != nil {
			return fmt.Errorf("endpoints[%d] %s: %w", i, ep, err)
		}
	}

	// ------------------------------------------------------------
	// UNIT STRUCTURE
	// ------------------------------------------------------------

	unitIDs := make(map[string]struct{})
	for _, u := range cfg.Replicator.Units {
		if u.ID == "" {
			return fmt.Errorf("unit: id required")
		}
		if _, dup := unitIDs[u.ID]; dup {
			return fmt.Errorf("unit %q: duplicate id", u.ID)
		}
		unitIDs[u.ID] = struct{}{}

		if _, err := endpoint.Parse(u.Source.Endpoint); err != nil {
			return fmt.Errorf("unit %q: source: %w", u.ID, err)
		}
		if u.Source.MaxTries < 0 {
			return fmt.Errorf("unit %q: max_tries must be >= 0", u.ID)
		}
		if u.Poll.IntervalMs <= 0 {
			return fmt.Errorf("unit %q: poll.interval_ms must be > 0", u.ID)
		}
		if u.Poll.InitialDelayMs < 0 {
			return fmt.Errorf("unit %q: poll.initial_delay_ms must be >= 0", u.ID)
		}
		if len(u.Reads) == 0 {
			return fmt.Errorf("unit %q: at least one read block required", u.ID)
		}
		for i, r := range u.Reads {
			req := request.Read{
				UnitID:   u.Source.UnitID,
				Function: request.Function(r.FC),
				Address:  r.Address,
				Quantity: r.Quantity,
			}
			if err := req.Validate(); err != nil {
				return fmt.Errorf("unit %q: reads[%d]: %w", u.ID, i, err)
			}
		}
		for i, t := range u.Targets {
			if _, err := endpoint.Parse(t.Endpoint); err != nil {
				return fmt.Errorf("unit %q: targets[%d]: %w", u.ID, i, err)
			}
		}
	}

	// ------------------------------------------------------------
	// DEVICE STATUS BLOCK VALIDATION (PER-TARGET, OPT-IN)
	// ------------------------------------------------------------

	// key = endpoint | status_unit_id | status_slot
	statusOwner := make(map[string]string)

	for _, u := range cfg.Replicator.Units {
		// device_name sanity (ASCII only)
		for i := 0; i < len(u.Source.DeviceName); i++ {
			if u.Source.DeviceName[i] > 0x7F {
				return fmt.Errorf(
					"unit %q: device_name must contain ASCII characters only",
					u.ID,
				)
			}
		}

		// status is opt-in
		if u.Source.StatusSlot == nil {
			continue
		}

		if len(u.Targets) == 0 {
			return fmt.Errorf(
				"unit %q: status_slot is set but no targets are defined",
				u.ID,
			)
		}

		slot := *u.Source.StatusSlot
		if int(slot)*status.SlotsPerDevice+status.SlotsPerDevice > 0x10000 {
			return fmt.Errorf("unit %q: status_slot %d exceeds address space", u.ID, slot)
		}

		for _, t := range u.Targets {
			if t.StatusUnitID == nil {
				return fmt.Errorf(
					"unit %q: status_slot is set but target %q has no status_unit_id",
					u.ID,
					t.Endpoint,
				)
			}

			key := fmt.Sprintf("%s|%d|%d", canonical(t.Endpoint), *t.StatusUnitID, slot)

			if prev, exists := statusOwner[key]; exists {
				return fmt.Errorf(
					"status_slot collision: endpoint=%s status_unit_id=%d slot=%d used by units %q and %q",
					t.Endpoint,
					*t.StatusUnitID,
					slot,
					prev,
					u.ID,
				)
			}

			statusOwner[key] = u.ID
		}
	}

	// ------------------------------------------------------------
	// DESTINATION MEMORY GEOMETRY VALIDATION
	// ------------------------------------------------------------

	// key = endpoint | memory_id | fc
	spans := make(map[string][]span)

	for _, u := range cfg.Replicator.Units {
		for _, t := range u.Targets {
			for _, m := range t.Memories {
				for _, r := range u.Reads {
					offset := uint16(0)
					if m.Offsets != nil {
						if v, ok := m.Offsets[int(r.FC)]; ok {
							offset = v
						}
					}

					if int(offset)+int(r.Address)+int(r.Quantity) > 0x10000 {
						return fmt.Errorf(
							"unit %q: fc=%d range %d+%d with offset %d exceeds address space",
							u.ID, r.FC, r.Address, r.Quantity, offset,
						)
					}

					start := offset + r.Address
					end := start + r.Quantity - 1

					key := fmt.Sprintf("%s|%d|%d", canonical(t.Endpoint), m.MemoryID, r.FC)

					for _, s := range spans[key] {
						// overlap check (inclusive)
						if !(end < s.start || start > s.end) {
							return fmt.Errorf(
								"memory overlap: endpoint=%s memory_id=%d fc=%d range=%d-%d overlaps with unit=%s range=%d-%d",
								t.Endpoint,
								m.MemoryID,
								r.FC,
								start,
								end,
								s.unit,
								s.start,
								s.end,
							)
						}
					}

					spans[key] = append(spans[key], span{
						start: start,
						end:   end,
						unit:  u.ID,
					})
				}
			}
		}
	}

	return nil
}

// canonical folds equivalent spellings of one endpoint (bare host:port vs tcp://).
func canonical(s string) string {
	ep, err := endpoint.Parse(s)
	if err != nil {
		return s
	}
	return ep.String()
}
