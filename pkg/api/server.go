// Package api exposes the HTTP surface: session intake and control over
// JSON, plus per-session event streaming over WebSocket or SSE.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/specsmith/specsmith/pkg/events"
	"github.com/specsmith/specsmith/pkg/flow"
)

// SessionService is the slice of the flow manager the handlers call.
type SessionService interface {
	Start(ctx context.Context, req flow.StartRequest) (*flow.SessionView, error)
	SubmitAnswers(ctx context.Context, sessionID string, answers map[string]string) (*flow.SessionView, error)
	Cancel(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (*flow.SessionView, error)
	Subscribe(ctx context.Context, sessionID string, fromSeq int64) (*events.Subscription, error)
}

// Pinger checks store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter exposes the LLM circuit breaker state for health reporting.
type BreakerReporter interface {
	BreakerState() string
}

// Server holds handler dependencies.
type Server struct {
	svc     SessionService
	pinger  Pinger
	breaker BreakerReporter
}

// NewServer creates the API server. pinger and breaker may be nil; the
// health endpoint then skips those checks.
func NewServer(svc SessionService, pinger Pinger, breaker BreakerReporter) *Server {
	return &Server{svc: svc, pinger: pinger, breaker: breaker}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.Health)
	r.POST("/analyze", s.Analyze)
	r.POST("/clarify", s.Clarify)
	r.GET("/session/:id", s.GetSession)
	r.GET("/session/:id/events", s.SubscribeSession)
	r.POST("/cancel/:id", s.CancelSession)
	return r
}
