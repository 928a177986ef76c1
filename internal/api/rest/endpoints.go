// internal/api/rest/endpoints.go
package rest

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tamzrod/modbus-transport/internal/config"
	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/transport"
)

// poolConfigBody is the JSON form of a pool policy. Durations use Go
// syntax ("500ms"); omitted fields take the endpoint kind's default and
// "0s" sets an explicit zero.
type poolConfigBody struct {
	ConnectTimeout    string `json:"connect_timeout,omitempty"`
	ReceiveTimeout    string `json:"receive_timeout,omitempty"`
	MaxConnections    *int   `json:"max_connections,omitempty"`
	InterMessagePause string `json:"inter_message_pause,omitempty"`
	ConnectMaxTries   *int   `json:"connect_max_tries,omitempty"`
	InterConnectDelay string `json:"inter_connect_delay,omitempty"`
	ReconnectAfter    string `json:"reconnect_after,omitempty"`
	IdleTimeout       string `json:"idle_timeout,omitempty"`
}

type endpointConfigView struct {
	Endpoint   string              `json:"endpoint"`
	Configured bool                `json:"configured"`
	Config     poolConfigBody      `json:"config"`
	Pool       transport.PoolStats `json:"pool"`
}

func bodyFrom(cfg endpoint.PoolConfig) poolConfigBody {
	return poolConfigBody{
		ConnectTimeout:    cfg.ConnectTimeout.String(),
		ReceiveTimeout:    cfg.ReceiveTimeout.String(),
		MaxConnections:    &cfg.MaxConnections,
		InterMessagePause: cfg.InterMessagePause.String(),
		ConnectMaxTries:   &cfg.ConnectMaxTries,
		InterConnectDelay: cfg.InterConnectDelay.String(),
		ReconnectAfter:    cfg.ReconnectAfter.String(),
		IdleTimeout:       cfg.IdleTimeout.String(),
	}
}

// toConfig parses the body into a config-file entry so the same merge
// rules apply as for the endpoints: section.
func (b poolConfigBody) toConfig(ep endpoint.Endpoint) (config.EndpointConfig, error) {
	for _, n := range []*int{b.MaxConnections, b.ConnectMaxTries} {
		if n != nil && *n < 0 {
			return config.EndpointConfig{}, errors.New("counts must not be negative")
		}
	}
	out := config.EndpointConfig{
		Endpoint:        ep.String(),
		MaxConnections:  b.MaxConnections,
		ConnectMaxTries: b.ConnectMaxTries,
	}
	fields := []struct {
		raw string
		dst **time.Duration
	}{
		{b.ConnectTimeout, &out.ConnectTimeout},
		{b.ReceiveTimeout, &out.ReceiveTimeout},
		{b.InterMessagePause, &out.InterMessagePause},
		{b.InterConnectDelay, &out.InterConnectDelay},
		{b.ReconnectAfter, &out.ReconnectAfter},
		{b.IdleTimeout, &out.IdleTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return config.EndpointConfig{}, err
		}
		if d < 0 {
			return config.EndpointConfig{}, fmt.Errorf("duration %s must not be negative", f.raw)
		}
		*f.dst = &d
	}
	return out, nil
}

func (s *Server) view(ep endpoint.Endpoint, configured bool) endpointConfigView {
	return endpointConfigView{
		Endpoint:   ep.String(),
		Configured: configured,
		Config:     bodyFrom(s.mgr.GetEndpointPoolConfiguration(ep)),
		Pool:       s.mgr.PoolStats(ep),
	}
}

// queryEndpoint parses ?endpoint=; ok=false means the response was written.
func (s *Server) queryEndpoint(c *gin.Context) (endpoint.Endpoint, bool) {
	ep, err := endpoint.Parse(c.Query("endpoint"))
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("ENDPOINT_400", "Invalid endpoint", err.Error()))
		return endpoint.Endpoint{}, false
	}
	return ep, true
}

// GET /api/v1/endpoints/config[?endpoint=...]
func (s *Server) getEndpointConfig(c *gin.Context) {
	if c.Query("endpoint") == "" {
		eps := s.mgr.ConfiguredEndpoints()
		out := make([]endpointConfigView, 0, len(eps))
		for _, ep := range eps {
			out = append(out, s.view(ep, true))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
		c.JSON(http.StatusOK, gin.H{"endpoints": out})
		return
	}

	ep, ok := s.queryEndpoint(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.view(ep, s.mgr.IsEndpointConfigured(ep)))
}

// PUT /api/v1/endpoints/config?endpoint=...
func (s *Server) putEndpointConfig(c *gin.Context) {
	ep, ok := s.queryEndpoint(c)
	if !ok {
		return
	}

	var body poolConfigBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("ENDPOINT_400", "Invalid request body", err.Error()))
		return
	}
	ec, err := body.toConfig(ep)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("ENDPOINT_400", "Invalid pool configuration", err.Error()))
		return
	}

	cfg := ec.PoolConfig(ep.Kind)
	if err := s.mgr.SetEndpointPoolConfiguration(ep, &cfg); err != nil {
		c.JSON(http.StatusUnprocessableEntity, NewErrorResponse("ENDPOINT_422", "Invalid pool configuration", err.Error()))
		return
	}

	c.JSON(http.StatusOK, s.view(ep, true))
}

// DELETE /api/v1/endpoints/config?endpoint=...
// Resets the policy and retires the endpoint's connections.
func (s *Server) deleteEndpointConfig(c *gin.Context) {
	ep, ok := s.queryEndpoint(c)
	if !ok {
		return
	}
	if err := s.mgr.SetEndpointPoolConfiguration(ep, nil); err != nil {
		c.JSON(http.StatusUnprocessableEntity, NewErrorResponse("ENDPOINT_422", "Invalid endpoint", err.Error()))
		return
	}
	s.mgr.CloseEndpointConnections(ep)
	c.JSON(http.StatusOK, s.view(ep, false))
}
