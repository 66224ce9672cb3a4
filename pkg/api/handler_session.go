package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/specsmith/specsmith/pkg/flow"
	"github.com/specsmith/specsmith/pkg/models"
)

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	RequirementText string `json:"requirement_text"`
	ProjectContext  string `json:"project_context,omitempty"`
	Mode            string `json:"mode,omitempty"`
}

// AnalyzeResponse acknowledges session intake.
type AnalyzeResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// Answer is one question-answer pair in a clarify request.
type Answer struct {
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}

// ClarifyRequest is the body of POST /clarify. A single answer and a batch
// are both accepted.
type ClarifyRequest struct {
	SessionID string   `json:"session_id"`
	Answer    *Answer  `json:"answer,omitempty"`
	Answers   []Answer `json:"answers,omitempty"`
}

// ClarifyResponse acknowledges recorded answers.
type ClarifyResponse struct {
	Ack      bool         `json:"ack"`
	Phase    models.Phase `json:"phase"`
	Progress float64      `json:"progress"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	OK bool `json:"ok"`
}

// Analyze handles POST /analyze.
func (s *Server) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, flow.E(flow.KindInvalidInput, "malformed request body: %v", err))
		return
	}
	view, err := s.svc.Start(c.Request.Context(), flow.StartRequest{
		RequirementText: req.RequirementText,
		ProjectContext:  req.ProjectContext,
		Mode:            models.Mode(req.Mode),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, AnalyzeResponse{
		SessionID: view.Session.ID,
		Status:    string(view.Session.Phase),
	})
}

// Clarify handles POST /clarify.
func (s *Server) Clarify(c *gin.Context) {
	var req ClarifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, flow.E(flow.KindInvalidInput, "malformed request body: %v", err))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		abortWithError(c, flow.E(flow.KindInvalidInput, "session_id is required"))
		return
	}

	answers := make(map[string]string, len(req.Answers)+1)
	if req.Answer != nil {
		answers[req.Answer.QuestionID] = req.Answer.Text
	}
	for _, a := range req.Answers {
		answers[a.QuestionID] = a.Text
	}

	view, err := s.svc.SubmitAnswers(c.Request.Context(), req.SessionID, answers)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ClarifyResponse{
		Ack:      true,
		Phase:    view.Session.Phase,
		Progress: view.Session.Progress,
	})
}

// GetSession handles GET /session/:id.
func (s *Server) GetSession(c *gin.Context) {
	view, err := s.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CancelSession handles POST /cancel/:id.
func (s *Server) CancelSession(c *gin.Context) {
	if err := s.svc.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, CancelResponse{OK: true})
}
