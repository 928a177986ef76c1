// internal/config/normalize.go
package config

import "github.com/tamzrod/modbus-transport/internal/status"

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// Endpoint strings are rewritten to their canonical form so equal
	// endpoints compare equal everywhere downstream.
	for i := range cfg.Endpoints {
		cfg.Endpoints[i].Endpoint = canonical(cfg.Endpoints[i].Endpoint)
	}

	for ui := range cfg.Replicator.Units {
		u := &cfg.Replicator.Units[ui]

		u.Source.Endpoint = canonical(u.Source.Endpoint)
		for ti := range u.Targets {
			u.Targets[ti].Endpoint = canonical(u.Targets[ti].Endpoint)
		}

		// ------------------------------------------------------------
		// DEVICE STATUS BLOCK NORMALIZATION (OPT-IN)
		// ------------------------------------------------------------

		if u.Source.StatusSlot == nil {
			continue
		}

		// ASCII already validated; truncate to what fits in the block.
		if len(u.Source.DeviceName) > status.DeviceNameMaxChars {
			u.Source.DeviceName = u.Source.DeviceName[:status.DeviceNameMaxChars]
		}
	}
}
