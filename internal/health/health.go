// Package health implements StoryFill's liveness/readiness probes: a
// liveness endpoint that never checks dependencies and a readiness
// endpoint that aggregates a named set of checks into one pass/fail
// response. StoryFill's dependencies are the event bus's optional
// Redis mirror and the narration provider's HTTP endpoint.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by any dependency a readiness check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	bus       Pinger
	narration Pinger // nil when no narration provider is configured
}

func NewHandler(bus Pinger, narrationProvider Pinger) *Handler {
	return &Handler{bus: bus, narration: narrationProvider}
}

type livenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type readinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness reports that the process is up; it never checks dependencies.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, livenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports whether every configured dependency answered within
// a short timeout, returning 503 if any did not.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	checks["event_bus"] = h.check(ctx, h.bus)
	if checks["event_bus"] != "healthy" {
		healthy = false
	}

	if h.narration != nil {
		checks["narration_provider"] = h.check(ctx, h.narration)
		if checks["narration_provider"] != "healthy" {
			healthy = false
		}
	}

	status := "ready"
	code := http.StatusOK
	if !healthy {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, readinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) check(ctx context.Context, p Pinger) string {
	if p == nil {
		return "healthy"
	}
	if err := p.Ping(ctx); err != nil {
		return "unhealthy"
	}
	return "healthy"
}
