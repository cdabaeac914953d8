// Package web exposes a read-only operational status endpoint for the
// pipeline: health, stage metrics, and circuit-breaker state.
package web

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/sonahome/sona/pkg/pipeline"
	"github.com/sonahome/sona/pkg/session"
	"github.com/sonahome/sona/pkg/tts"
)

// Server is the status HTTP server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	orchestrator *pipeline.Orchestrator
	synth        *tts.Manager
	sessions     *session.Store
}

// NewServer creates the status server.
func NewServer(addr string, orchestrator *pipeline.Orchestrator, synth *tts.Manager, sessions *session.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:         addr,
		logger:       logger.With("component", "web"),
		orchestrator: orchestrator,
		synth:        synth,
		sessions:     sessions,
	}

	app := fiber.New(fiber.Config{
		AppName:               "Sona Status",
		DisableStartupMessage: true,
	})

	app.Get("/healthz", s.handleHealth)
	app.Get("/v1/metrics", s.handleMetrics)
	app.Get("/v1/breaker", s.handleBreaker)

	s.app = app
	return s
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	return c.JSON(s.orchestrator.Metrics().Snapshot())
}

func (s *Server) handleBreaker(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"primary":   s.synth.BreakerState(),
		"artifacts": s.synth.CacheLen(),
	})
}

// Listen serves until Shutdown is called.
func (s *Server) Listen() error {
	s.logger.Info("status server listening", "addr", s.addr)
	if err := s.app.Listen(s.addr); err != nil {
		return fmt.Errorf("web: listen %s: %w", s.addr, err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
