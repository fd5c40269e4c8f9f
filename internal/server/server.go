// Package server exposes health, replay progress and Prometheus metrics
// over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kartikbazzad/bunbase/replicator/internal/metrics"
	"github.com/kartikbazzad/bunbase/replicator/internal/replay"
	apperrors "github.com/kartikbazzad/bunbase/replicator/pkg/errors"
)

// Reporter supplies the replay status. *replay.Driver implements it.
type Reporter interface {
	Status() replay.Status
}

// Pinger checks a dependency; nil means healthy.
type Pinger func(ctx context.Context) error

// Server is the admin HTTP server.
type Server struct {
	router   *gin.Engine
	http     *http.Server
	reporter Reporter
	pingers  map[string]Pinger
	logger   *slog.Logger
}

// New builds the router. pingers are checked by /health, keyed by name.
func New(addr string, reporter Reporter, pingers map[string]Pinger, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())

	s := &Server{
		router:   router,
		reporter: reporter,
		pingers:  pingers,
		logger:   logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	router.GET("/health", s.health)
	router.GET("/progress", s.progress)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Admin server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Admin server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for name, ping := range s.pingers {
		if err := ping(ctx); err != nil {
			s.logger.Warn("Health check failed", "dependency", name, "error", err)
			abort(c, apperrors.Unavailable(name+" unreachable"))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) progress(c *gin.Context) {
	if s.reporter == nil {
		abort(c, apperrors.NotFound("replay is not running"))
		return
	}
	st := s.reporter.Status()
	c.JSON(http.StatusOK, gin.H{
		"state": st.State,
		"watermark": gin.H{
			"seconds": st.Watermark.Seconds,
			"ordinal": st.Watermark.Ordinal,
			"time":    st.Watermark.Time().UTC().Format(time.RFC3339),
		},
		"applied": st.Applied,
		"skipped": st.Skipped,
	})
}

func abort(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.Code, err)
}
