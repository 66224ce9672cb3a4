package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/specsmith/specsmith/pkg/flow"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// abortWithError maps a flow error kind to an HTTP status and writes the
// error envelope.
func abortWithError(c *gin.Context, err error) {
	kind := flow.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		slog.Error("Unexpected service error", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": ErrorBody{
		Kind:    string(kind),
		Message: err.Error(),
	}})
}

func statusFor(kind flow.Kind) int {
	switch kind {
	case flow.KindInvalidInput:
		return http.StatusBadRequest
	case flow.KindUnknownSession:
		return http.StatusNotFound
	case flow.KindSessionTerminal, flow.KindNotClarifying, flow.KindCancelled:
		return http.StatusConflict
	case flow.KindBusy:
		return http.StatusTooManyRequests
	case flow.KindLLMUnavailable, flow.KindTransient:
		return http.StatusServiceUnavailable
	case flow.KindTimeout:
		return http.StatusGatewayTimeout
	case flow.KindStaleSession, flow.KindIdleTimeout, flow.KindClarificationExhausted:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
