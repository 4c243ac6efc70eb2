package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/slots"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

// AssignRequest binds a slot to a stream address
type AssignRequest struct {
	Host  string `json:"host" binding:"required"`
	Port  int    `json:"port" binding:"required"`
	Mount string `json:"mount"`
}

// StationServer is the station's slot control API
type StationServer struct {
	manager *slots.Manager
}

// NewStationServer wires the station API over the slot manager
func NewStationServer(m *slots.Manager) *StationServer {
	return &StationServer{manager: m}
}

// Router builds the gin engine with all station routes
func (s *StationServer) Router(gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/slots", s.listSlots)
		api.GET("/slots/:index", s.getSlot)
		api.POST("/slots/:index/assign", s.assignSlot)
		api.DELETE("/slots/:index", s.releaseSlot)
	}

	return router
}

func (s *StationServer) listSlots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"slots": s.manager.Stats()})
}

func (s *StationServer) getSlot(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok {
		return
	}
	stats := s.manager.Stats()
	c.JSON(http.StatusOK, stats[index])
}

func (s *StationServer) assignSlot(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok {
		return
	}

	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	addr := stream.Address{Host: req.Host, Port: req.Port, Mount: req.Mount}
	if err := s.manager.Assign(index, addr); err != nil {
		c.JSON(slotStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"slot": index, "address": addr.URL()})
}

func (s *StationServer) releaseSlot(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok {
		return
	}
	if err := s.manager.Release(index); err != nil {
		c.JSON(slotStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// slotIndex parses and range-checks the :index parameter
func (s *StationServer) slotIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot index"})
		return 0, false
	}
	if index < 0 || index >= s.manager.Len() {
		c.JSON(http.StatusNotFound, gin.H{"error": slots.ErrNoSuchSlot.Error()})
		return 0, false
	}
	return index, true
}

func slotStatusFor(err error) int {
	switch {
	case errors.Is(err, slots.ErrNoSuchSlot):
		return http.StatusNotFound
	case errors.Is(err, slots.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
