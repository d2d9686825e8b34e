// Package server is the collector: it receives uploaded counter batches and
// serves aggregate statistics. Records are rolled up by (component, event,
// day, city); install UUIDs and request addresses are never persisted.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/usagebeacon/beacon/pkg/api"
)

type Server struct {
	e      *echo.Echo
	rollup *RollupStore
	apiKey string
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey requires uploads to carry the key in the x-api-key header.
// Stats endpoints stay open; they serve aggregates only.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

func New(rollup *RollupStore, opts ...Option) *Server {
	e := echo.New()
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())

	s := &Server{
		e:      e,
		rollup: rollup,
	}

	for _, opt := range opts {
		opt(s)
	}

	group := e.Group("/api")

	// Ingest an uploaded counter batch
	group.POST("/events", s.ingestEvents)
	// Aggregate statistics over everything collected
	group.GET("/stats", s.getStats)
	// Distinct components seen so far
	group.GET("/components", s.getComponents)

	// Health check endpoint
	group.GET("/ping", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return s
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := http.Server{
		Handler: s.e,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down collector", "error", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		slog.Error("Failed to start collector", "error", err)
		return err
	}

	return nil
}

const shutdownTimeout = 5 * time.Second

func (s *Server) ingestEvents(c echo.Context) error {
	if s.apiKey != "" && c.Request().Header.Get("x-api-key") != s.apiKey {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
	}

	var batch api.Batch
	if err := c.Bind(&batch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}
	if err := batch.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	city := cityFromRequest(c.Request())

	if err := s.rollup.Ingest(c.Request().Context(), batch.Records, city); err != nil {
		slog.Error("Failed to ingest usage batch", "error", err, "records", len(batch.Records))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store batch"})
	}

	slog.Debug("Ingested usage batch", "records", len(batch.Records), "city", city, "source", batch.Source)

	return c.JSON(http.StatusOK, api.IngestResponse{Accepted: len(batch.Records)})
}

func (s *Server) getStats(c echo.Context) error {
	report, err := s.rollup.Stats(c.Request().Context())
	if err != nil {
		slog.Error("Failed to compute usage stats", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to compute stats"})
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) getComponents(c echo.Context) error {
	components, err := s.rollup.Components(c.Request().Context())
	if err != nil {
		slog.Error("Failed to list components", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list components"})
	}
	if components == nil {
		components = []string{}
	}
	return c.JSON(http.StatusOK, components)
}
