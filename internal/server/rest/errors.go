package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error         string     `json:"error"`
	Code          string     `json:"code"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
}

// classify maps a service error to a status, a stable code and the message
// shown to the client.
func classify(err error) (int, string, string) {
	var (
		ve *common.ValidationError
		ce *common.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Code, ve.Message
	case errors.Is(err, common.ErrInvalidCredentials):
		return http.StatusBadRequest, "invalid_credentials", "Invalid identifier or password."
	case errors.Is(err, common.ErrRateLimited):
		return http.StatusConflict, "rate_limited", "Request already made recently."
	case errors.As(err, &ce):
		return http.StatusConflict, ce.Code, ce.Message
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict, "conflict", "Conflict."
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, "forbidden", "Forbidden."
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not_found", "Not found."
	case errors.Is(err, common.ErrSessionExpiredOrInvalid):
		return http.StatusUnauthorized, "session_expired", "Session expired or invalid."
	case errors.Is(err, common.ErrInvalidCode):
		return http.StatusUnauthorized, "invalid_code", "Invalid code."
	case errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired", "Token expired."
	case errors.Is(err, common.ErrInvalidSignature),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrMalformedToken):
		return http.StatusUnauthorized, "invalid_token", "Invalid token."
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "Unauthorized."
	case errors.Is(err, common.ErrDependencyUnavailable):
		return http.StatusInternalServerError, "dependency_unavailable", "Internal server error."
	default:
		return http.StatusInternalServerError, "internal", "Internal server error."
	}
}

// fail writes err as a JSON error and aborts the chain. Server errors are
// logged with the cause; the client only sees the code.
func (s *Server) fail(c *gin.Context, err error) {
	status, code, msg := classify(err)
	ctx := c.Request.Context()

	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", "path", c.Request.URL.Path, "error", err)
	}

	body := errorBody{Error: msg, Code: code, CorrelationID: logging.CorrelationID(ctx)}
	var rl *common.RateLimitError
	if errors.As(err, &rl) {
		t := rl.RetryAt.UTC()
		body.RetryAt = &t
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorBody{
		Error:         msg,
		Code:          code,
		CorrelationID: logging.CorrelationID(c.Request.Context()),
	})
}

func (s *Server) badBody(c *gin.Context) {
	s.abort(c, http.StatusBadRequest, "invalid_body", "Request body is invalid.")
}
