package rest

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/server/services"
	"github.com/gin-gonic/gin"
)

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type twoFactorLoginRequest struct {
	PendingToken string `json:"pending_token"`
	Code         string `json:"code"`
}

type refreshRequest struct {
	FreshData bool `json:"freshdata"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type sessionView struct {
	ID        int64     `json:"id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

func clientInfo(c *gin.Context) services.ClientInfo {
	return services.ClientInfo{UserAgent: c.Request.UserAgent(), IP: c.ClientIP()}
}

func (s *Server) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	sess, err := s.auth.Signup(c.Request.Context(), services.SignupRequest(req), clientInfo(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.setRefreshCookie(c, sess.RefreshToken)
	c.JSON(http.StatusCreated, gin.H{
		"message":      "User created successfully.",
		"access_token": sess.AccessToken,
	})
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	res, err := s.auth.Login(c.Request.Context(), req.Identifier, req.Password, clientInfo(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if res.Session == nil {
		c.JSON(http.StatusOK, gin.H{
			"message":        "Second factor required.",
			"twofa_required": true,
			"pending_token":  res.PendingToken,
			"methods":        res.Methods,
		})
		return
	}
	s.loggedIn(c, res.Session)
}

func (s *Server) loginTwoFactor(c *gin.Context) {
	var req twoFactorLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	sess, err := s.auth.CompleteTwoFactor(c.Request.Context(), req.PendingToken, req.Code, clientInfo(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.loggedIn(c, sess)
}

func (s *Server) loggedIn(c *gin.Context, sess *services.Session) {
	s.setRefreshCookie(c, sess.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"message":        "Login successful.",
		"access_token":   sess.AccessToken,
		"email_verified": sess.Identity.EmailVerified,
		"email":          sess.Identity.Email,
		"display_name":   sess.Identity.DisplayName,
	})
}

// refresh reads the refresh token from the cookie only. The body is optional.
func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.badBody(c)
			return
		}
	}
	if v, ok := c.GetQuery("freshdata"); ok {
		req.FreshData, _ = strconv.ParseBool(v)
	}

	sess, err := s.auth.Refresh(c.Request.Context(), refreshCookie(c), req.FreshData, clientInfo(c))
	if err != nil {
		if errors.Is(err, common.ErrSessionExpiredOrInvalid) {
			s.clearRefreshCookie(c)
		}
		s.fail(c, err)
		return
	}
	s.setRefreshCookie(c, sess.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"accessToken": sess.AccessToken})
}

func (s *Server) logout(c *gin.Context) {
	if err := s.auth.Logout(c.Request.Context(), currentClaims(c)); err != nil {
		s.fail(c, err)
		return
	}
	s.clearRefreshCookie(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) verifyEmail(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	if err := s.auth.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (s *Server) resendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	if err := s.auth.ResendVerification(c.Request.Context(), req.Email); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Verification email resent."})
}

func (s *Server) checkVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	verified, err := s.auth.VerificationStatus(c.Request.Context(), req.Email)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email_verified": verified})
}

func (s *Server) listSessions(c *gin.Context) {
	claims := currentClaims(c)
	list, err := s.auth.ListSessions(c.Request.Context(), claims.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, x := range list {
		out = append(out, sessionView{
			ID:        x.ID,
			UserAgent: x.UserAgent,
			IPAddress: x.IPAddress,
			CreatedAt: x.CreatedAt,
			UpdatedAt: x.UpdatedAt,
			ExpiresAt: x.ExpiresAt,
			Current:   x.JTI == claims.JTI,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) revokeSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(c, common.NewValidationError("invalid_id", "A valid session id is required."))
		return
	}
	if err := s.auth.RevokeSession(c.Request.Context(), currentClaims(c).UserID, id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
