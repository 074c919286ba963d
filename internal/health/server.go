// Package health exposes liveness and readiness endpoints for the bot process.
package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Server serves /healthz and /readyz.
type Server struct {
	echo   *echo.Echo
	port   int
	logger zerolog.Logger
}

// NewServer creates a health server. ready reports whether the bot is
// connected and serving; liveness is unconditional.
func NewServer(port int, ready func() bool, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/readyz", func(c echo.Context) error {
		if ready != nil && !ready() {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	return &Server{
		echo:   e,
		port:   port,
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Int("port", s.port).Msg("health server listening")

	err := s.echo.Start(fmt.Sprintf(":%d", s.port))
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
