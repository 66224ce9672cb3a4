package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	Store      string `json:"store,omitempty"`
	LLMBreaker string `json:"llm_breaker,omitempty"`
}

// Health handles GET /healthz. Only the service's own store is checked; the
// LLM provider is reported via breaker state, not probed, so an upstream
// outage does not make this process look dead to an orchestrator.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: healthStatusHealthy}
	httpStatus := http.StatusOK

	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			resp.Status = healthStatusUnhealthy
			resp.Store = err.Error()
			httpStatus = http.StatusServiceUnavailable
		} else {
			resp.Store = "ok"
		}
	}
	if s.breaker != nil {
		resp.LLMBreaker = s.breaker.BreakerState()
	}

	c.JSON(httpStatus, resp)
}
