package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/fushengyk/tickflow/internal/config"
	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/fushengyk/tickflow/internal/processor"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Engine is the slice of the processor API the server queries
type Engine interface {
	GetStats() processor.Stats
	GetLatest(symbol string, kind domain.DataKind, n int) []domain.DataItem
}

// DropCounter reports events discarded by the bus
type DropCounter interface {
	Dropped() uint64
}

// Server exposes engine state over HTTP: health, stats, and buffered history.
type Server struct {
	cfg    config.APIConfig
	engine Engine
	drops  DropCounter
	logger *zap.SugaredLogger

	srv *http.Server
}

// New creates the HTTP server
func New(cfg config.APIConfig, engine Engine, drops DropCounter, logger *zap.SugaredLogger) *Server {
	return &Server{
		cfg:    cfg,
		engine: engine,
		drops:  drops,
		logger: logger,
	}
}

// Start begins serving in the background
func (s *Server) Start() error {
	s.logger.Infof("📊 Starting API server on %s...", s.cfg.Addr)

	s.srv = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router(),
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("[API] Server failed: %v", err)
		}
	}()

	s.logger.Info("✅ API server started")
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("🛑 Stopping API server...")
	if s.srv != nil {
		if err := s.srv.Shutdown(ctx); err != nil {
			s.logger.Errorf("[API] Shutdown failed: %v", err)
		}
	}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/api/v1")
	v1.GET("/stats", s.handleStats)
	v1.GET("/history", s.handleHistory)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statsResponse decorates the engine snapshot with bus-level drop accounting
type statsResponse struct {
	processor.Stats
	EventsDropped uint64 `json:"events_dropped"`
}

func (s *Server) handleStats(c *gin.Context) {
	resp := statsResponse{Stats: s.engine.GetStats()}
	if s.drops != nil {
		resp.EventsDropped = s.drops.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHistory(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	kind := domain.DataKind(c.DefaultQuery("kind", string(domain.KindTrade)))

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	items := s.engine.GetLatest(symbol, kind, limit)
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"kind":   kind,
		"count":  len(items),
		"data":   items,
	})
}
