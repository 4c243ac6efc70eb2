// Package server holds the HTTP control surfaces: the producer's
// camera/endpoint API and the station's slot API.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/endpoint"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/registry"
)

// ConfigureRequest is the camera reconfiguration payload
type ConfigureRequest struct {
	Width  int    `json:"width" binding:"required"`
	Height int    `json:"height" binding:"required"`
	FPS    int    `json:"fps" binding:"required"`
	Codec  string `json:"codec" binding:"required"`
}

// ProducerServer is the producer's control API
type ProducerServer struct {
	registry     *registry.Registry
	orchestrator *endpoint.Orchestrator
	upgrader     websocket.Upgrader
}

// NewProducerServer wires the producer API over the registry and
// endpoint orchestrator
func NewProducerServer(reg *registry.Registry, orch *endpoint.Orchestrator) *ProducerServer {
	return &ProducerServer{
		registry:     reg,
		orchestrator: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Control surface is LAN-only
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with all producer routes
func (s *ProducerServer) Router(gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"cameras":   len(s.registry.Enumerate()),
			"endpoints": len(s.orchestrator.Endpoints()),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/cameras", s.listCameras)
		api.GET("/cameras/:id", s.getCamera)
		api.POST("/cameras/:id/configure", s.configureCamera)

		api.GET("/endpoints", s.listEndpoints)
		api.POST("/endpoints/:camera_id", s.publishEndpoint)
		api.DELETE("/endpoints/:camera_id", s.retireEndpoint)

		api.GET("/events", s.streamEvents)
	}

	return router
}

func (s *ProducerServer) listCameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cameras": s.registry.Enumerate()})
}

func (s *ProducerServer) getCamera(c *gin.Context) {
	cam, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}
	c.JSON(http.StatusOK, cam)
}

func (s *ProducerServer) configureCamera(c *gin.Context) {
	var req ConfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := s.registry.Configure(id, req.Width, req.Height, req.FPS, req.Codec); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	cam, _ := s.registry.Get(id)
	c.JSON(http.StatusOK, cam)
}

func (s *ProducerServer) listEndpoints(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"endpoints": s.orchestrator.Endpoints()})
}

func (s *ProducerServer) publishEndpoint(c *gin.Context) {
	id := c.Param("camera_id")
	cam, ok := s.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}

	addr, err := s.orchestrator.Publish(endpoint.PublishSpec{
		CameraID: cam.ID,
		Device:   cam.Device,
		Width:    cam.Width,
		Height:   cam.Height,
		FPS:      cam.FPS,
		Codec:    cam.Codec,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if err := s.registry.SetStatus(cam.ID, registry.StatusStreaming); err != nil {
		slog.Warn("server: failed to update camera status", "camera", cam.ID, "error", err)
	}
	c.JSON(http.StatusCreated, gin.H{"camera_id": cam.ID, "url": addr.URL()})
}

func (s *ProducerServer) retireEndpoint(c *gin.Context) {
	id := c.Param("camera_id")
	if err := s.orchestrator.Retire(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if cam, ok := s.registry.Get(id); ok && cam.Status == registry.StatusStreaming {
		s.registry.SetStatus(id, registry.StatusDetected)
	}
	c.Status(http.StatusNoContent)
}

// streamEvents pushes registry events over a websocket until the client
// goes away
func (s *ProducerServer) streamEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("server: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	name := fmt.Sprintf("ws-%s", uuid.New().String())
	events, err := s.registry.Subscribe(name, 32)
	if err != nil {
		slog.Warn("server: event subscription failed", "error", err)
		return
	}
	defer s.registry.Unsubscribe(name)

	slog.Info("server: event subscriber connected", "subscriber", name, "remote", conn.RemoteAddr())

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			slog.Info("server: event subscriber disconnected", "subscriber", name, "error", err)
			return
		}
	}
}

// statusFor maps domain sentinels to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, endpoint.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, endpoint.ErrAlreadyPublished):
		return http.StatusConflict
	case errors.Is(err, endpoint.ErrPortExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, endpoint.ErrPipelineStart):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
