// internal/config/validate_test.go
package config

import (
	"strings"
	"testing"
	"time"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
)

// helper to build a unit quickly
func unit(id string, endpoint string, memoryID uint16, fc uint8, addr, qty uint16, offset uint16) UnitConfig {
	return UnitConfig{
		ID: id,
		Source: SourceConfig{
			Endpoint: "10.0.0.1:502",
			UnitID:   1,
		},
		Poll: PollConfig{IntervalMs: 1000},
		Reads: []ReadConfig{
			{
				FC:       fc,
				Address:  addr,
				Quantity: qty,
			},
		},
		Targets: []TargetConfig{
			{
				ID:       1,
				Endpoint: endpoint,
				UnitID:   1,
				Memories: []MemoryConfig{
					{
						MemoryID: memoryID,
						Offsets: map[int]uint16{
							int(fc): offset,
						},
					},
				},
			},
		},
	}
}

func replicator(units ...UnitConfig) *Config {
	return &Config{Replicator: ReplicatorConfig{Units: units}}
}

// ---- geometry ----

func TestValidate_NoOverlapDifferentEndpoints(t *testing.T) {
	cfg := replicator(
		unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0),
		unit("u2", "192.168.1.11:502", 0, 3, 0, 10, 0),
	)

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_NoOverlapDifferentMemory(t *testing.T) {
	cfg := replicator(
		unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0),
		unit("u2", "192.168.1.10:502", 1, 3, 0, 10, 0),
	)

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_NoOverlapDifferentFC(t *testing.T) {
	cfg := replicator(
		unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0),
		unit("u2", "192.168.1.10:502", 0, 4, 0, 10, 0),
	)

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_TouchingRangesAllowed(t *testing.T) {
	cfg := replicator(
		unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0),  // 0-9
		unit("u2", "192.168.1.10:502", 0, 3, 10, 10, 0), // 10-19
	)

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_OverlapDetected(t *testing.T) {
	cfg := replicator(
		unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0), // 0-9
		unit("u2", "192.168.1.10:502", 0, 3, 5, 10, 0), // 5-14 overlap
	)

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected overlap error, got nil")
	}
}

func TestValidate_OverlapViaOffsetDetected(t *testing.T) {
	cfg := replicator(
		unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0), // 0-9
		unit("u2", "192.168.1.10:502", 0, 3, 0, 10, 5), // 5-14 overlap
	)

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected overlap error, got nil")
	}
}

func TestValidate_OverlapAcrossEndpointSpellings(t *testing.T) {
	cfg := replicator(
		unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0),
		unit("u2", "tcp://192.168.1.10:502", 0, 3, 5, 10, 0),
	)

	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "memory overlap") {
		t.Fatalf("expected overlap error, got %v", err)
	}
}

func TestValidate_OffsetOverflowRejected(t *testing.T) {
	cfg := replicator(unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0xFFF8))

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected address space error, got nil")
	}
}

// ---- structure ----

func TestValidate_UnitStructure(t *testing.T) {
	cases := map[string]func(u *UnitConfig){
		"missing id":     func(u *UnitConfig) { u.ID = "" },
		"bad source":     func(u *UnitConfig) { u.Source.Endpoint = "nowhere" },
		"zero interval":  func(u *UnitConfig) { u.Poll.IntervalMs = 0 },
		"no reads":       func(u *UnitConfig) { u.Reads = nil },
		"write fc":       func(u *UnitConfig) { u.Reads[0].FC = 16 },
		"oversized read": func(u *UnitConfig) { u.Reads[0].Quantity = 126 },
		"bad target":     func(u *UnitConfig) { u.Targets[0].Endpoint = "udp://x" },
		"negative tries": func(u *UnitConfig) { u.Source.MaxTries = -1 },
		"non-ascii name": func(u *UnitConfig) { u.Source.DeviceName = "Pumpe-Süd" },
		"negative delay": func(u *UnitConfig) { u.Poll.InitialDelayMs = -5 },
	}

	for name, mutate := range cases {
		u := unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0)
		mutate(&u)
		if err := Validate(replicator(u)); err == nil {
			t.Fatalf("%s: expected error, got nil", name)
		}
	}
}

func TestValidate_DuplicateUnitID(t *testing.T) {
	cfg := replicator(
		unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0),
		unit("u1", "192.168.1.10:502", 1, 3, 0, 10, 0),
	)

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected duplicate id error, got nil")
	}
}

// ---- status ----

func TestValidate_StatusSlotCollision(t *testing.T) {
	slot := uint16(2)
	sid := uint8(9)

	u1 := unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0)
	u1.Source.StatusSlot = &slot
	u1.Targets[0].StatusUnitID = &sid

	u2 := unit("u2", "192.168.1.10:502", 1, 3, 0, 10, 0)
	u2.Source.StatusSlot = &slot
	u2.Targets[0].StatusUnitID = &sid

	if err := Validate(replicator(u1, u2)); err == nil || !strings.Contains(err.Error(), "status_slot collision") {
		t.Fatalf("expected status collision, got %v", err)
	}
}

func TestValidate_StatusRequiresStatusUnitID(t *testing.T) {
	slot := uint16(0)
	u := unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0)
	u.Source.StatusSlot = &slot

	if err := Validate(replicator(u)); err == nil {
		t.Fatalf("expected missing status_unit_id error, got nil")
	}
}

// ---- endpoints ----

func intPtr(v int) *int                          { return &v }
func durationPtr(v time.Duration) *time.Duration { return &v }

func TestValidate_Endpoints(t *testing.T) {
	ok := &Config{Endpoints: []EndpointConfig{
		{Endpoint: "10.0.0.1:502", MaxConnections: intPtr(2), InterMessagePause: durationPtr(0)},
		{Endpoint: "serial:///dev/ttyUSB0?baud=19200"},
	}}
	if err := Validate(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dup := &Config{Endpoints: []EndpointConfig{
		{Endpoint: "10.0.0.1:502"},
		{Endpoint: "tcp://10.0.0.1:502"},
	}}
	if err := Validate(dup); err == nil {
		t.Fatalf("expected duplicate endpoint error, got nil")
	}

	bad := map[string]EndpointConfig{
		"negative connect timeout": {Endpoint: "10.0.0.1:502", ConnectTimeout: durationPtr(-1)},
		"zero receive timeout":     {Endpoint: "10.0.0.1:502", ReceiveTimeout: durationPtr(0)},
		"negative pause":           {Endpoint: "10.0.0.1:502", InterMessagePause: durationPtr(-time.Millisecond)},
		"negative idle timeout":    {Endpoint: "10.0.0.1:502", IdleTimeout: durationPtr(-time.Second)},
		"zero max connections":     {Endpoint: "10.0.0.1:502", MaxConnections: intPtr(0)},
		"negative connect tries":   {Endpoint: "10.0.0.1:502", ConnectMaxTries: intPtr(-1)},
	}
	for name, e := range bad {
		if err := Validate(&Config{Endpoints: []EndpointConfig{e}}); err == nil {
			t.Fatalf("%s: expected invalid pool config error, got nil", name)
		}
	}
}

func TestEndpointConfig_ExplicitZeroKept(t *testing.T) {
	e := EndpointConfig{
		Endpoint:          "10.0.0.1:502",
		InterMessagePause: durationPtr(0),
		IdleTimeout:       durationPtr(0),
	}

	got := e.PoolConfig(endpoint.KindTCP)
	if got.InterMessagePause != 0 || got.IdleTimeout != 0 {
		t.Fatalf("explicit zero replaced by default: %+v", got)
	}
	if got.ReceiveTimeout != endpoint.DefaultPoolConfig(endpoint.KindTCP).ReceiveTimeout {
		t.Fatalf("unset field not defaulted: %+v", got)
	}
}

func TestNormalize_CanonicalEndpointsAndName(t *testing.T) {
	slot := uint16(0)
	u := unit("u1", "192.168.1.10:502", 0, 3, 0, 10, 0)
	u.Source.StatusSlot = &slot
	u.Source.DeviceName = "ABCDEFGHIJKLMNOPQRST"

	cfg := replicator(u)
	cfg.Endpoints = []EndpointConfig{{Endpoint: "10.0.0.1:502"}}
	Normalize(cfg)

	got := cfg.Replicator.Units[0]
	if got.Source.Endpoint != "tcp://10.0.0.1:502" || got.Targets[0].Endpoint != "tcp://192.168.1.10:502" {
		t.Fatalf("endpoints not canonical: %q %q", got.Source.Endpoint, got.Targets[0].Endpoint)
	}
	if got.Source.DeviceName != "ABCDEFGHIJKLMNOP" {
		t.Fatalf("device name not truncated: %q", got.Source.DeviceName)
	}
	if cfg.Endpoints[0].Endpoint != "tcp://10.0.0.1:502" {
		t.Fatalf("pool endpoint not canonical: %q", cfg.Endpoints[0].Endpoint)
	}
}
