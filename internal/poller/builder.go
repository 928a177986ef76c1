// internal/poller/builder.go
package poller

import (
	"fmt"

	cfg "github.com/tamzrod/modbus-transport/internal/config"
	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/request"
)

// Build constructs the Poller of one configured unit.
// Connection handling belongs to the manager's pools; no client is opened here.
func Build(u cfg.UnitConfig) (*Poller, error) {
	src, err := endpoint.Parse(u.Source.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("poller: unit %q: source: %w", u.ID, err)
	}

	reads := make([]ReadBlock, 0, len(u.Reads))
	for _, r := range u.Reads {
		reads = append(reads, ReadBlock{
			Function: request.Function(r.FC),
			Address:  r.Address,
			Quantity: r.Quantity,
		})
	}

	return New(Config{
		UnitID:       u.ID,
		Source:       src,
		SlaveID:      u.Source.UnitID,
		MaxTries:     u.Source.MaxTries,
		Interval:     u.Poll.Interval(),
		InitialDelay: u.Poll.InitialDelay(),
		Reads:        reads,
	})
}
