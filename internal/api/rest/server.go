// internal/api/rest/server.go
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/manager"
	"github.com/tamzrod/modbus-transport/internal/replicator"
	"github.com/tamzrod/modbus-transport/internal/status"
	"github.com/tamzrod/modbus-transport/internal/transport"
)

// Manager is the part of *manager.Manager exposed over HTTP.
type Manager interface {
	IsActive() bool
	RegisteredRegularPolls() []manager.PollHandle
	GetEndpointPoolConfiguration(ep endpoint.Endpoint) endpoint.PoolConfig
	SetEndpointPoolConfiguration(ep endpoint.Endpoint, cfg *endpoint.PoolConfig) error
	ConfiguredEndpoints() []endpoint.Endpoint
	IsEndpointConfigured(ep endpoint.Endpoint) bool
	CloseEndpointConnections(ep endpoint.Endpoint)
	PoolStats(ep endpoint.Endpoint) transport.PoolStats
}

type UnitLister interface {
	Units() []replicator.UnitInfo
}

type StatusBoard interface {
	Views() []status.View
}

type Server struct {
	router *gin.Engine
	mgr    Manager
	units  UnitLister
	board  StatusBoard
	logger *zap.Logger
	server *http.Server
	ln     net.Listener
}

func NewServer(addr string, mgr Manager, units UnitLister, board StatusBoard, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router: gin.New(),
		mgr:    mgr,
		units:  units,
		board:  board,
		logger: logger.Named("rest"),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start binds the listen address and serves in the background. Bind
// errors are returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.ln = ln

	s.logger.Info("Starting REST API server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.server.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router (tests).
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))

	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/polls", s.listPolls)
		v1.GET("/status", s.listStatus)
		v1.GET("/units", s.listUnits)

		endpoints := v1.Group("/endpoints")
		{
			endpoints.GET("/config", s.getEndpointConfig)
			endpoints.PUT("/config", s.putEndpointConfig)
			endpoints.DELETE("/config", s.deleteEndpointConfig)
		}
	}
}

// LoggerMiddleware logs every request at debug level and failures at warn.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
