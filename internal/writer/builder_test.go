// internal/writer/builder_test.go
package writer

import (
	"testing"

	"github.com/tamzrod/modbus-transport/internal/config"
)

func TestBuildPlan_StatusPerTarget(t *testing.T) {
	slot := uint16(3)
	sid := uint8(200)

	u := config.UnitConfig{
		ID: "plc1",
		Source: config.SourceConfig{
			Endpoint:   "10.0.0.1:502",
			UnitID:     1,
			StatusSlot: &slot,
			DeviceName: "PLC-1",
		},
		Targets: []config.TargetConfig{
			{ID: 1, Endpoint: "10.0.0.2:502", UnitID: 5, StatusUnitID: &sid,
				Memories: []config.MemoryConfig{{MemoryID: 0, Offsets: map[int]uint16{3: 10}}}},
			{ID: 2, Endpoint: "10.0.0.3:502", UnitID: 6},
		},
	}

	plan, err := BuildPlan(u)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Targets) != 2 || plan.Targets[0].UnitID != 5 || plan.Targets[1].Endpoint.String() != "tcp://10.0.0.3:502" {
		t.Fatalf("unexpected targets: %+v", plan.Targets)
	}
	if len(plan.Status) != 1 {
		t.Fatalf("expected one status plan, got %d", len(plan.Status))
	}
	if sp := plan.Status[0]; sp.UnitID != 200 || sp.BaseSlot != 3 || sp.DeviceName != "PLC-1" {
		t.Fatalf("unexpected status plan: %+v", sp)
	}
}

func TestBuildPlan_RejectsBadTarget(t *testing.T) {
	u := config.UnitConfig{
		ID:      "plc1",
		Targets: []config.TargetConfig{{ID: 1, Endpoint: "nowhere"}},
	}
	if _, err := BuildPlan(u); err == nil {
		t.Fatalf("expected error")
	}
}
