// internal/config/config.go
package config

import "time"

type Config struct {
	Manager    ManagerConfig    `yaml:"manager" mapstructure:"manager"`
	Admin      AdminConfig      `yaml:"admin" mapstructure:"admin"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Endpoints  []EndpointConfig `yaml:"endpoints" mapstructure:"endpoints"`
	Replicator ReplicatorConfig `yaml:"replicator" mapstructure:"replicator"`
}

// ---- RUNTIME ----

type ManagerConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

type AdminConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Listen          string        `yaml:"listen" mapstructure:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level" mapstructure:"level"`
	Development bool   `yaml:"development" mapstructure:"development"`
}

// ---- ENDPOINT POOL POLICY ----

// EndpointConfig overrides the pool policy of one endpoint.
// Nil fields fall back to the endpoint kind's default; an explicit zero is
// kept (no pause, no idle limit) and checked by Validate.
type EndpointConfig struct {
	Endpoint          string         `yaml:"endpoint" mapstructure:"endpoint"`
	ConnectTimeout    *time.Duration `yaml:"connect_timeout,omitempty" mapstructure:"connect_timeout"`
	ReceiveTimeout    *time.Duration `yaml:"receive_timeout,omitempty" mapstructure:"receive_timeout"`
	MaxConnections    *int           `yaml:"max_connections,omitempty" mapstructure:"max_connections"`
	InterMessagePause *time.Duration `yaml:"inter_message_pause,omitempty" mapstructure:"inter_message_pause"`
	ConnectMaxTries   *int           `yaml:"connect_max_tries,omitempty" mapstructure:"connect_max_tries"`
	InterConnectDelay *time.Duration `yaml:"inter_connect_delay,omitempty" mapstructure:"inter_connect_delay"`
	ReconnectAfter    *time.Duration `yaml:"reconnect_after,omitempty" mapstructure:"reconnect_after"`
	IdleTimeout       *time.Duration `yaml:"idle_timeout,omitempty" mapstructure:"idle_timeout"`
}

type ReplicatorConfig struct {
	Units []UnitConfig `yaml:"units" mapstructure:"units"`
}

// ---- UNIT ----

type UnitConfig struct {
	ID      string         `yaml:"id" mapstructure:"id"`
	Source  SourceConfig   `yaml:"source" mapstructure:"source"`
	Reads   []ReadConfig   `yaml:"reads" mapstructure:"reads"`
	Targets []TargetConfig `yaml:"targets" mapstructure:"targets"`
	Poll    PollConfig     `yaml:"poll" mapstructure:"poll"`
}

// ---- SOURCE ----

type SourceConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	UnitID   uint8  `yaml:"unit_id" mapstructure:"unit_id"`
	// MaxTries per read; 0 uses the request default.
	MaxTries int `yaml:"max_tries,omitempty" mapstructure:"max_tries"`

	// Device status block (optional, opt-in)
	StatusSlot *uint16 `yaml:"status_slot,omitempty" mapstructure:"status_slot"`
	DeviceName string  `yaml:"device_name,omitempty" mapstructure:"device_name"`
}

// ---- READ GEOMETRY ----

type ReadConfig struct {
	FC       uint8  `yaml:"fc" mapstructure:"fc"`
	Address  uint16 `yaml:"address" mapstructure:"address"`
	Quantity uint16 `yaml:"quantity" mapstructure:"quantity"`
}

// ---- TARGET ----

type TargetConfig struct {
	ID       uint32 `yaml:"id" mapstructure:"id"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	UnitID   uint8  `yaml:"unit_id" mapstructure:"unit_id"`
	// StatusUnitID addresses the status block on this target (optional).
	StatusUnitID *uint8         `yaml:"status_unit_id,omitempty" mapstructure:"status_unit_id"`
	Memories     []MemoryConfig `yaml:"memories" mapstructure:"memories"`
}

type MemoryConfig struct {
	MemoryID uint16 `yaml:"memory_id" mapstructure:"memory_id"`
	// Offsets is a per-FC delta map; a missing FC means 0.
	Offsets map[int]uint16 `yaml:"offsets" mapstructure:"offsets"`
}

// ---- POLL ----

type PollConfig struct {
	IntervalMs     int `yaml:"interval_ms" mapstructure:"interval_ms"`
	InitialDelayMs int `yaml:"initial_delay_ms,omitempty" mapstructure:"initial_delay_ms"`
}

func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

func (p PollConfig) InitialDelay() time.Duration {
	return time.Duration(p.InitialDelayMs) * time.Millisecond
}
