// internal/endpoint/pool_config.go
package endpoint

import (
	"errors"
	"fmt"
	"time"
)

// PoolConfig holds the connection policy for one endpoint.
type PoolConfig struct {
	// ConnectTimeout bounds both a single dial and the wait for a free connection slot.
	ConnectTimeout time.Duration
	// ReceiveTimeout bounds the wait for a response.
	ReceiveTimeout time.Duration
	// MaxConnections caps live connections. Serial endpoints always use 1.
	MaxConnections int
	// InterMessagePause is the minimum gap between two exchanges on one endpoint,
	// across all of its connections, including retries of the same request.
	InterMessagePause time.Duration
	// ConnectMaxTries is the number of dial attempts per connection open.
	ConnectMaxTries int
	// InterConnectDelay separates consecutive dial attempts.
	InterConnectDelay time.Duration
	// ReconnectAfter closes connections older than this on release. Zero keeps them forever.
	ReconnectAfter time.Duration
	// IdleTimeout discards pooled connections idle longer than this. Zero keeps them forever.
	IdleTimeout time.Duration
}

// DefaultPoolConfig returns the policy applied to endpoints without explicit configuration.
func DefaultPoolConfig(kind Kind) PoolConfig {
	cfg := PoolConfig{
		ConnectTimeout:    10 * time.Second,
		ReceiveTimeout:    3 * time.Second,
		MaxConnections:    1,
		InterMessagePause: 60 * time.Millisecond,
		ConnectMaxTries:   1,
		InterConnectDelay: 0,
		ReconnectAfter:    0,
		IdleTimeout:       60 * time.Second,
	}
	if kind == KindSerial {
		cfg.InterMessagePause = 35 * time.Millisecond
		cfg.IdleTimeout = 0
	}
	return cfg
}

// EffectiveMaxConnections applies the serial single-connection rule.
func (c PoolConfig) EffectiveMaxConnections(kind Kind) int {
	if kind == KindSerial {
		return 1
	}
	if c.MaxConnections < 1 {
		return 1
	}
	return c.MaxConnections
}

// Validate rejects configurations that cannot be honored.
func (c PoolConfig) Validate() error {
	if c.ConnectTimeout <= 0 {
		return errors.New("pool config: connect timeout must be > 0")
	}
	if c.ReceiveTimeout <= 0 {
		return errors.New("pool config: receive timeout must be > 0")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("pool config: max connections %d must be >= 1", c.MaxConnections)
	}
	if c.ConnectMaxTries < 1 {
		return fmt.Errorf("pool config: connect max tries %d must be >= 1", c.ConnectMaxTries)
	}
	if c.InterMessagePause < 0 || c.InterConnectDelay < 0 || c.ReconnectAfter < 0 || c.IdleTimeout < 0 {
		return errors.New("pool config: durations must not be negative")
	}
	return nil
}
