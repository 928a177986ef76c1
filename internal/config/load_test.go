// internal/config/load_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
)

const sampleYAML = `
manager:
  workers: 4
endpoints:
  - endpoint: 10.0.0.1:502
    max_connections: 3
    receive_timeout: 500ms
  - endpoint: 10.0.0.2:502
    inter_message_pause: 0s
    idle_timeout: 0s
replicator:
  units:
    - id: plc1
      source:
        endpoint: tcp://10.0.0.1:502
        unit_id: 1
        status_slot: 0
        device_name: PLC-1
      reads:
        - fc: 3
          address: 0
          quantity: 10
      targets:
        - id: 1
          endpoint: 127.0.0.1:1502
          unit_id: 1
          status_unit_id: 100
          memories:
            - memory_id: 0
              offsets:
                3: 100
      poll:
        interval_ms: 250
`

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DecodesAndAppliesDefaults(t *testing.T) {
	cfg, v, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v == nil {
		t.Fatalf("nil viper instance")
	}

	if cfg.Manager.Workers != 4 {
		t.Fatalf("workers: got=%d", cfg.Manager.Workers)
	}
	if !cfg.Admin.Enabled || cfg.Admin.Listen != ":8080" || cfg.Admin.ShutdownTimeout != 10*time.Second {
		t.Fatalf("admin defaults not applied: %+v", cfg.Admin)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level default: %q", cfg.Log.Level)
	}

	if len(cfg.Replicator.Units) != 1 {
		t.Fatalf("units: %d", len(cfg.Replicator.Units))
	}
	u := cfg.Replicator.Units[0]
	if u.Source.StatusSlot == nil || *u.Source.StatusSlot != 0 {
		t.Fatalf("status slot not decoded: %+v", u.Source)
	}
	if u.Targets[0].StatusUnitID == nil || *u.Targets[0].StatusUnitID != 100 {
		t.Fatalf("status unit id not decoded: %+v", u.Targets[0])
	}
	if u.Targets[0].Memories[0].Offsets[3] != 100 {
		t.Fatalf("offsets not decoded: %+v", u.Targets[0].Memories[0].Offsets)
	}
	if u.Poll.Interval() != 250*time.Millisecond {
		t.Fatalf("interval: %v", u.Poll.Interval())
	}

	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MODBUSD_ADMIN_LISTEN", "127.0.0.1:9999")

	cfg, _, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Admin.Listen != "127.0.0.1:9999" {
		t.Fatalf("env override ignored: %q", cfg.Admin.Listen)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPoolConfigs_MergeOntoDefaults(t *testing.T) {
	cfg, _, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	pools, err := cfg.PoolConfigs()
	if err != nil {
		t.Fatalf("pool configs: %v", err)
	}

	ep := endpoint.TCP("10.0.0.1", 502)
	got, ok := pools[ep]
	if !ok {
		t.Fatalf("endpoint missing: %v", pools)
	}

	want := endpoint.DefaultPoolConfig(endpoint.KindTCP)
	want.MaxConnections = 3
	want.ReceiveTimeout = 500 * time.Millisecond
	if got != want {
		t.Fatalf("merged config:\n got=%+v\nwant=%+v", got, want)
	}

	quiet, ok := pools[endpoint.TCP("10.0.0.2", 502)]
	if !ok || quiet.InterMessagePause != 0 || quiet.IdleTimeout != 0 {
		t.Fatalf("explicit zero durations not kept: %+v", quiet)
	}

	back := EndpointConfigFrom(ep, got)
	if back.Endpoint != "tcp://10.0.0.1:502" || *back.MaxConnections != 3 || *back.ReceiveTimeout != 500*time.Millisecond {
		t.Fatalf("EndpointConfigFrom: %+v", back)
	}
}

func TestMarshal_RoundTripsThroughLoad(t *testing.T) {
	cfg, _, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	Normalize(cfg)

	out, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	again, _, err := Load(writeTemp(t, string(out)))
	if err != nil {
		t.Fatalf("reload: %v\n%s", err, out)
	}
	if again.Replicator.Units[0].Source.Endpoint != "tcp://10.0.0.1:502" {
		t.Fatalf("source endpoint lost: %+v", again.Replicator.Units[0].Source)
	}
}
