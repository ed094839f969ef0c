package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/dmitrijs2005/gophaccount/internal/server/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const claimsKey = "access_claims"

// maxCorrelationIDLen caps client-supplied ids before they reach the logs.
const maxCorrelationIDLen = 128

func (s *Server) correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(common.CorrelationIDHeaderName))
		if id == "" || len(id) > maxCorrelationIDLen {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logging.WithCorrelationID(c.Request.Context(), id))
		c.Header(common.CorrelationIDHeaderName, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.logger.Error(c.Request.Context(), "panic recovered", "panic", rec, "path", c.Request.URL.Path)
		s.abort(c, http.StatusInternalServerError, "internal", "Internal server error.")
	})
}

// requireAccess admits requests whose bearer token verifies and whose
// session is still in the ledger.
func (s *Server) requireAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			s.fail(c, common.ErrorUnauthorized)
			return
		}
		claims, err := s.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// requireToken only checks the signature. Logout uses it so that a session
// already gone from the ledger can still be logged out.
func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			s.fail(c, common.ErrorUnauthorized)
			return
		}
		claims, err := s.codec.VerifyAccess(token)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func currentClaims(c *gin.Context) *auth.AccessClaims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.AccessClaims)
	return claims
}

func bearerToken(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
