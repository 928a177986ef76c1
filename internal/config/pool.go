// internal/config/pool.go
package config

import (
	"time"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
)

// PoolConfig merges the override onto the default policy of kind.
// Values are copied as given; PoolConfig.Validate decides what is legal.
func (e EndpointConfig) PoolConfig(kind endpoint.Kind) endpoint.PoolConfig {
	cfg := endpoint.DefaultPoolConfig(kind)

	setDuration(&cfg.ConnectTimeout, e.ConnectTimeout)
	setDuration(&cfg.ReceiveTimeout, e.ReceiveTimeout)
	setDuration(&cfg.InterMessagePause, e.InterMessagePause)
	setDuration(&cfg.InterConnectDelay, e.InterConnectDelay)
	setDuration(&cfg.ReconnectAfter, e.ReconnectAfter)
	setDuration(&cfg.IdleTimeout, e.IdleTimeout)

	if e.MaxConnections != nil {
		cfg.MaxConnections = *e.MaxConnections
	}
	if e.ConnectMaxTries != nil {
		cfg.ConnectMaxTries = *e.ConnectMaxTries
	}
	return cfg
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}

// EndpointConfigFrom is the inverse of PoolConfig, used to render the
// effective policy of an endpoint. Every field is set.
func EndpointConfigFrom(ep endpoint.Endpoint, cfg endpoint.PoolConfig) EndpointConfig {
	return EndpointConfig{
		Endpoint:          ep.String(),
		ConnectTimeout:    &cfg.ConnectTimeout,
		ReceiveTimeout:    &cfg.ReceiveTimeout,
		MaxConnections:    &cfg.MaxConnections,
		InterMessagePause: &cfg.InterMessagePause,
		ConnectMaxTries:   &cfg.ConnectMaxTries,
		InterConnectDelay: &cfg.InterConnectDelay,
		ReconnectAfter:    &cfg.ReconnectAfter,
		IdleTimeout:       &cfg.IdleTimeout,
	}
}

// PoolConfigs resolves every endpoints entry. It must be called after Validate.
func (c *Config) PoolConfigs() (map[endpoint.Endpoint]endpoint.PoolConfig, error) {
	out := make(map[endpoint.Endpoint]endpoint.PoolConfig, len(c.Endpoints))
	for _, e := range c.Endpoints {
		ep, err := endpoint.Parse(e.Endpoint)
		if err != nil {
			return nil, err
		}
		out[ep] = e.PoolConfig(ep.Kind)
	}
	return out, nil
}
