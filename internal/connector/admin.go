package connector

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/connectorctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var ErrAdminAddrRequired = errors.New("connector: admin listen address required")

// StatusSource is what the admin server reports on.
type StatusSource interface {
	Status() Status
}

// AdminConfig configures the optional admin HTTP surface.
type AdminConfig struct {
	ListenAddr  string
	CORSOrigins []string
	NodeID      string
}

// AdminServer serves /health, /status and /metrics.
type AdminServer struct {
	cfg       AdminConfig
	source    StatusSource
	router    *gin.Engine
	startedAt time.Time
}

func NewAdminServer(cfg AdminConfig, source StatusSource) *AdminServer {
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = "connector"
	}
	gin.SetMode(gin.ReleaseMode)
	s := &AdminServer{
		cfg:       cfg,
		source:    source,
		router:    gin.New(),
		startedAt: time.Now(),
	}
	s.router.Use(gin.Recovery())
	s.router.Use(observability.RequestLogger(log.Logger))
	s.router.Use(observability.RequestMetricsMiddleware(cfg.NodeID))
	if len(cfg.CORSOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.registerRoutes()
	return s
}

func (s *AdminServer) Router() *gin.Engine {
	return s.router
}

func (s *AdminServer) registerRoutes() {
	observability.RegisterMetrics()
	s.router.GET("/health", func(c *gin.Context) {
		st := s.source.Status()
		code := http.StatusOK
		if st.State != StateConnected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  st.State,
			"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
			"service": s.cfg.NodeID,
		})
	})
	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Status())
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *AdminServer) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.ListenAddr)
	if addr == "" {
		return ErrAdminAddrRequired
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("connector.AdminServer listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
