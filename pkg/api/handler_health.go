package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/replyworks/sage/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Liveness only: reports that the process is serving. Dependency state
// belongs to /ready so an orchestrator does not restart the service when a
// backing store blips.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{
		Status:  healthStatusHealthy,
		Version: version.GitCommit,
	})
}

// readyHandler handles GET /ready.
// Checks the stores this replica cannot serve without.
func (s *Server) readyHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	probe := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(reqCtx); err != nil {
			status = healthStatusUnhealthy
			checks[name] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
			return
		}
		checks[name] = HealthCheck{Status: healthStatusHealthy}
	}
	probe("postgres", s.db)
	probe("redis", s.kv)

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
