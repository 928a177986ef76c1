// internal/replicator/replicator_test.go
package replicator

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/tamzrod/modbus-transport/internal/config"
	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/manager"
	"github.com/tamzrod/modbus-transport/internal/slavetest"
	"github.com/tamzrod/modbus-transport/internal/status"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newManager(t *testing.T) *manager.Manager {
	t.Helper()
	m := manager.New(manager.WithLogger(zaptest.NewLogger(t)))
	if err := m.Activate(manager.Config{Workers: 8}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	t.Cleanup(m.Deactivate)
	return m
}

func fastPool(t *testing.T, m *manager.Manager, ep endpoint.Endpoint) {
	t.Helper()
	cfg := endpoint.DefaultPoolConfig(ep.Kind)
	cfg.ConnectTimeout = time.Second
	cfg.ReceiveTimeout = 500 * time.Millisecond
	cfg.InterMessagePause = 0
	cfg.MaxConnections = 2
	if err := m.SetEndpointPoolConfiguration(ep, &cfg); err != nil {
		t.Fatalf("pool config: %v", err)
	}
}

func replicatedUnit(src, dst *slavetest.Slave) config.UnitConfig {
	slot := uint16(5)
	sid := dst.UnitID
	return config.UnitConfig{
		ID: "plc1",
		Source: config.SourceConfig{
			Endpoint:   src.Endpoint.String(),
			UnitID:     src.UnitID,
			StatusSlot: &slot,
			DeviceName: "PLC-1",
		},
		Reads: []config.ReadConfig{
			{FC: 3, Address: 0, Quantity: 10},
			{FC: 2, Address: 0, Quantity: 8},
		},
		Targets: []config.TargetConfig{
			{
				ID:           1,
				Endpoint:     dst.Endpoint.String(),
				UnitID:       dst.UnitID,
				StatusUnitID: &sid,
				Memories: []config.MemoryConfig{
					{MemoryID: 0, Offsets: map[int]uint16{3: 50, 2: 32}},
				},
			},
		},
		Poll: config.PollConfig{IntervalMs: 50},
	}
}

func TestReplicator_CopiesBlocksAndPublishesStatus(t *testing.T) {
	src := slavetest.Start(t, 1)
	dst := slavetest.Start(t, 2)

	m := newManager(t)
	fastPool(t, m, src.Endpoint)
	fastPool(t, m, dst.Endpoint)

	board := status.NewBoard()
	r := New(m, board, WithLogger(zaptest.NewLogger(t)))
	if err := r.Start([]config.UnitConfig{replicatedUnit(src, dst)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(r.Stop)

	// holding 0..9 -> target holding 50..59
	eventually(t, "holding registers replicated", func() bool {
		for i := 0; i < 10; i++ {
			if dst.Holding(50+i) != 0x1000+uint16(i) {
				return false
			}
		}
		return true
	})

	// discrete inputs (odd set) -> target coils 32..39
	eventually(t, "discrete inputs replicated", func() bool {
		for i := 0; i < 8; i++ {
			if dst.Coil(32+i) != (i%2 == 1) {
				return false
			}
		}
		return true
	})

	base := 5 * status.SlotsPerDevice
	eventually(t, "status block OK", func() bool {
		return dst.Holding(base+status.SlotHealthCode) == status.HealthOK
	})
	name := status.EncodeDeviceName("PLC-1")
	if got := dst.Holding(base + status.SlotDeviceNameStart); got != name[0] {
		t.Fatalf("device name not written: got=%#x want=%#x", got, name[0])
	}

	views := board.Views()
	if len(views) != 1 || views[0].Health != "ok" {
		t.Fatalf("unexpected board: %+v", views)
	}

	units := r.Units()
	if len(units) != 1 || len(units[0].Blocks) != 2 || !units[0].Status {
		t.Fatalf("unexpected units: %+v", units)
	}
	if units[0].Writes.Succeeded == 0 {
		t.Fatalf("no successful writes counted: %+v", units[0].Writes)
	}
}

func TestReplicator_UnreachableSourceCountsSecondsInError(t *testing.T) {
	dst := slavetest.Start(t, 2)
	m := newManager(t)
	fastPool(t, m, dst.Endpoint)

	src := &slavetest.Slave{Endpoint: endpoint.TCP("127.0.0.1", 1), UnitID: 1}
	u := replicatedUnit(src, dst)
	u.Source.MaxTries = 1

	board := status.NewBoard()
	r := New(m, board, WithLogger(zaptest.NewLogger(t)), WithTick(20*time.Millisecond))
	if err := r.Start([]config.UnitConfig{u}); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(r.Stop)

	tr := board.Tracker("plc1")
	eventually(t, "communication error", func() bool {
		s := tr.Snapshot()
		return s.Health == status.HealthCommunicationError && s.SecondsInError >= 3
	})

	base := 5 * status.SlotsPerDevice
	eventually(t, "status block communication error", func() bool {
		return dst.Holding(base+status.SlotHealthCode) == status.HealthCommunicationError &&
			dst.Holding(base+status.SlotSecondsInError) > 0
	})

	// nothing replicated from a dead source
	if dst.Holding(50) != 0x1000+50 {
		t.Fatalf("target data changed: %#x", dst.Holding(50))
	}
}

func TestReplicator_StartStop(t *testing.T) {
	src := slavetest.Start(t, 1)
	dst := slavetest.Start(t, 2)
	m := newManager(t)

	board := status.NewBoard()
	r := New(m, board)
	units := []config.UnitConfig{replicatedUnit(src, dst)}

	if err := r.Start(units); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := len(m.RegisteredRegularPolls()); got != 2 {
		t.Fatalf("expected 2 polls, got %d", got)
	}
	if err := r.Start(units); !errors.Is(err, ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}

	r.Stop()
	if got := len(m.RegisteredRegularPolls()); got != 0 {
		t.Fatalf("polls left after stop: %d", got)
	}
	if len(board.Views()) != 0 || len(r.Units()) != 0 {
		t.Fatalf("state left after stop")
	}

	// restart after stop
	if err := r.Start(units); err != nil {
		t.Fatalf("restart: %v", err)
	}
	r.Stop()
}

func TestReplicator_StartFailureLeavesNothingRunning(t *testing.T) {
	src := slavetest.Start(t, 1)
	dst := slavetest.Start(t, 2)

	m := manager.New() // never activated
	r := New(m, status.NewBoard())

	err := r.Start([]config.UnitConfig{replicatedUnit(src, dst)})
	if !errors.Is(err, manager.ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if len(r.Units()) != 0 {
		t.Fatalf("units left after failed start")
	}
}

func TestReplicator_ApplyEndpoints(t *testing.T) {
	m := newManager(t)
	r := New(m, status.NewBoard())

	maxConns := 4
	receive := 250 * time.Millisecond
	cfg := &config.Config{Endpoints: []config.EndpointConfig{
		{Endpoint: "10.0.0.1:502", MaxConnections: &maxConns},
		{Endpoint: "10.0.0.2:502", ReceiveTimeout: &receive},
	}}
	if err := r.ApplyEndpoints(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	ep1 := endpoint.TCP("10.0.0.1", 502)
	ep2 := endpoint.TCP("10.0.0.2", 502)
	if got := m.GetEndpointPoolConfiguration(ep1).MaxConnections; got != 4 {
		t.Fatalf("max connections: %d", got)
	}
	if len(m.ConfiguredEndpoints()) != 2 {
		t.Fatalf("configured endpoints: %v", m.ConfiguredEndpoints())
	}

	// ep2 dropped from the file: back to defaults
	cfg.Endpoints = cfg.Endpoints[:1]
	if err := r.ApplyEndpoints(cfg); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if got := m.GetEndpointPoolConfiguration(ep2); got != endpoint.DefaultPoolConfig(endpoint.KindTCP) {
		t.Fatalf("ep2 not reset: %+v", got)
	}
	if len(m.ConfiguredEndpoints()) != 1 {
		t.Fatalf("configured endpoints after reset: %v", m.ConfiguredEndpoints())
	}
}
