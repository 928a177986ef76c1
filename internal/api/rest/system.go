// internal/api/rest/system.go
package rest

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// GET /health
func (s *Server) healthCheck(c *gin.Context) {
	if !s.mgr.IsActive() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "inactive"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"polls":  len(s.mgr.RegisteredRegularPolls()),
	})
}

type pollView struct {
	ID           string `json:"id"`
	Endpoint     string `json:"endpoint"`
	UnitID       uint8  `json:"unit_id"`
	Function     string `json:"function"`
	Address      uint16 `json:"address"`
	Quantity     uint16 `json:"quantity"`
	Period       string `json:"period"`
	InitialDelay string `json:"initial_delay"`
}

// GET /api/v1/polls
func (s *Server) listPolls(c *gin.Context) {
	handles := s.mgr.RegisteredRegularPolls()

	out := make([]pollView, 0, len(handles))
	for _, h := range handles {
		req := h.Task.Request
		out = append(out, pollView{
			ID:           h.ID.String(),
			Endpoint:     h.Task.Endpoint.String(),
			UnitID:       req.UnitID,
			Function:     req.Function.String(),
			Address:      req.Address,
			Quantity:     req.Quantity,
			Period:       h.Task.Period.String(),
			InitialDelay: h.Task.InitialDelay.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Endpoint != out[j].Endpoint {
			return out[i].Endpoint < out[j].Endpoint
		}
		return out[i].Address < out[j].Address
	})

	c.JSON(http.StatusOK, gin.H{"polls": out, "count": len(out)})
}

// GET /api/v1/status
func (s *Server) listStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"devices": s.board.Views(),
		"time":    time.Now().UTC(),
	})
}

// GET /api/v1/units
func (s *Server) listUnits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"units": s.units.Units()})
}
