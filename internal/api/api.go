// Package api provides the HTTP API for the netmap scan service.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/henno/go-topology/internal/config"
	"github.com/henno/go-topology/internal/metrics"
	"github.com/henno/go-topology/internal/session"
	"go.uber.org/zap"
)

// ScanService is the session coordinator surface the API drives.
type ScanService interface {
	StartScan(network, coreSwitch string) (session.Snapshot, error)
	GetCurrentStatus() (session.Snapshot, error)
	GetScan(id string) (session.Snapshot, error)
	CancelScan(id string) (session.Snapshot, error)
	Running() bool
}

// Info describes the discovery backend for GET /api/status.
type Info struct {
	Discoverer string
	MockMode   bool
}

// Server represents the HTTP API server.
type Server struct {
	config  config.ServerConfig
	scans   ScanService
	info    Info
	metrics *metrics.Collector
	logger  *zap.SugaredLogger
	router  *gin.Engine
}

// New creates a new API server. collector may be nil, in which case
// /metrics is not served.
func New(cfg config.ServerConfig, scans ScanService, info Info, collector *metrics.Collector, logger *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:  cfg,
		scans:   scans,
		info:    info,
		metrics: collector,
		logger:  logger,
		router:  gin.New(),
	}

	s.setupRoutes()
	return s
}

// Router returns the gin router.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware())
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	// Health endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/ready", s.readyHandler)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.statusHandler)

		scans := api.Group("/scans")
		scans.GET("/current", s.currentScanHandler)
		scans.GET("/:id", s.getScanHandler)

		write := scans.Group("")
		if s.config.AuthSecret != "" {
			write.Use(s.authMiddleware())
		}
		write.POST("", s.startScanHandler)
		write.DELETE("/:id", s.cancelScanHandler)
	}
}

// Health check handler
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "netmap",
	})
}

// Readiness check handler
func (s *Server) readyHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"service":    "netmap",
		"discoverer": s.info.Discoverer,
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		MockMode:   s.info.MockMode,
		Discoverer: s.info.Discoverer,
		Scanning:   s.scans.Running(),
	})
}

func (s *Server) startScanHandler(c *gin.Context) {
	var req StartScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, "network and core_switch are required")
		return
	}

	snap, err := s.scans.StartScan(req.Network, req.CoreSwitch)
	if err != nil {
		s.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, snap)
}

func (s *Server) currentScanHandler(c *gin.Context) {
	snap, err := s.scans.GetCurrentStatus()
	if err != nil {
		s.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getScanHandler(c *gin.Context) {
	snap, err := s.scans.GetScan(c.Param("id"))
	if err != nil {
		s.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cancelScanHandler(c *gin.Context) {
	id := c.Param("id")
	snap, err := s.scans.CancelScan(id)
	if err != nil {
		s.writeSessionError(c, err)
		return
	}

	s.logger.Debugw("Cancel accepted", "scan_id", id, "discovered_count", snap.DiscoveredCount)
	c.JSON(http.StatusOK, snap)
}

// writeSessionError maps coordinator errors onto HTTP statuses.
func (s *Server) writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrValidation):
		s.writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrScanInProgress):
		s.writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNotFound):
		s.writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrShuttingDown):
		s.writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Errorw("Request failed", "path", c.Request.URL.Path, "error", err)
		s.writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, ErrorResponse{Error: msg})
}
