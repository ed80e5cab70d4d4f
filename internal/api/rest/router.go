// Package rest provides the Gin-based gateway status API.
package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/node"
	"github.com/Alexey-Lukin/silken-net/internal/ota"
)

// Gateway is the part of a running gateway the API exposes.
type Gateway interface {
	Status() node.GatewayStatus
	Entries() []node.CacheEntry
	StartOTA(image []byte, singlePass bool) (ota.Progress, error)
	StopOTA()
}

// Server is the REST API server.
type Server struct {
	engine  *gin.Engine
	gateway Gateway
	logger  *zap.Logger
}

// New creates a REST Server.
func New(gw Gateway, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		gateway: gw,
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("REST API listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// registerRoutes sets up the /silken context path.
func (s *Server) registerRoutes() {
	silken := s.engine.Group("/silken")

	silken.GET("/status", s.status)
	silken.GET("/cache", s.entries)

	otaGroup := silken.Group("/ota")
	{
		otaGroup.GET("", s.otaProgress)
		otaGroup.POST("", s.startOTA)
		otaGroup.DELETE("", s.stopOTA)
	}
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.gateway.Status())
}

func (s *Server) entries(c *gin.Context) {
	c.JSON(http.StatusOK, s.gateway.Entries())
}

func (s *Server) otaProgress(c *gin.Context) {
	st := s.gateway.Status()
	if st.OTA == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no campaign"})
		return
	}
	c.JSON(http.StatusOK, st.OTA)
}

// startOTA takes the raw image as the request body. An optional checksum
// query parameter (CRC32, 8 hex digits, any case) is checked before
// broadcasting. Images that no leaf can reassemble are refused with 413.
func (s *Server) startOTA(c *gin.Context) {
	image, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	singlePass := false
	if v := c.Query("single_pass"); v != "" {
		if singlePass, err = strconv.ParseBool(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "single_pass: " + err.Error()})
			return
		}
	}

	if sum := c.Query("checksum"); sum != "" {
		if got := ota.Checksum(image); !strings.EqualFold(got, sum) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ota.ErrManifestMismatch.Error(), "checksum": got})
			return
		}
	}

	p, err := s.gateway.StartOTA(image, singlePass)
	if errors.Is(err, ota.ErrImageTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("OTA campaign started via API", zap.String("campaign", p.Campaign))
	c.JSON(http.StatusAccepted, p)
}

func (s *Server) stopOTA(c *gin.Context) {
	s.gateway.StopOTA()
	st := s.gateway.Status()
	if st.OTA == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no campaign"})
		return
	}
	c.JSON(http.StatusOK, st.OTA)
}
