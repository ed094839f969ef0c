package rest

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/gin-gonic/gin"
)

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type totpRequest struct {
	Enabled *bool  `json:"enabled"`
	Seed    string `json:"seed"`
	Code    string `json:"code"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	Password        string `json:"password"`
}

type moderateDeleteRequest struct {
	ID int64 `json:"id"`
}

var errEnabledRequired = common.NewValidationError("missing_fields", "Field enabled is required.")

func (s *Server) securityStatus(c *gin.Context) {
	st, err := s.twofactor.Status(c.Request.Context(), currentClaims(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) setEmailTwoFactor(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	if req.Enabled == nil {
		s.fail(c, errEnabledRequired)
		return
	}
	if err := s.twofactor.SetEmail(c.Request.Context(), currentClaims(c).UserID, *req.Enabled); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	if err := s.auth.ChangePassword(c.Request.Context(), currentClaims(c), req.CurrentPassword, req.Password); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setupTOTP(c *gin.Context) {
	setup, err := s.twofactor.SetupTOTP(c.Request.Context(), currentClaims(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

func (s *Server) setTOTP(c *gin.Context) {
	var req totpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	if req.Enabled == nil {
		s.fail(c, errEnabledRequired)
		return
	}
	if err := s.twofactor.SetTOTP(c.Request.Context(), currentClaims(c).UserID, *req.Enabled, req.Seed, req.Code); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// requestData accepts an export request; the export itself runs in the
// background and is announced by email.
func (s *Server) requestData(c *gin.Context) {
	if err := s.compliance.RequestExport(c.Request.Context(), currentClaims(c).UserID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteAccount(c *gin.Context) {
	if err := s.compliance.DeleteAccount(c.Request.Context(), currentClaims(c).UserID); err != nil {
		s.fail(c, err)
		return
	}
	s.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) moderateDelete(c *gin.Context) {
	var req moderateDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	if err := s.compliance.ModeratorDelete(c.Request.Context(), currentClaims(c), req.ID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// downloadExport streams the artifact named by the token as an attachment.
func (s *Server) downloadExport(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}
	a, err := s.compliance.OpenExport(c.Request.Context(), req.Token)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer a.Body.Close()

	c.DataFromReader(http.StatusOK, a.Size, "application/json", a.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, exportFilename(a.CreatedAt)),
		"Cache-Control":       "no-store",
	})
}

func exportFilename(created time.Time) string {
	return "account-export-" + created.UTC().Format("20060102-150405") + ".json"
}
