package rest

import (
	"net/http"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/gin-gonic/gin"
)

// setRefreshCookie stores the refresh token. In production the cookie is
// Secure with SameSite=None so the SPA on a sibling origin sends it.
func (s *Server) setRefreshCookie(c *gin.Context, token string) {
	s.writeCookie(c, token, int(s.cookie.MaxAge.Seconds()))
}

func (s *Server) clearRefreshCookie(c *gin.Context) {
	s.writeCookie(c, "", -1)
}

func (s *Server) writeCookie(c *gin.Context, value string, maxAge int) {
	sameSite := http.SameSiteLaxMode
	if s.cookie.Secure {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     common.RefreshTokenCookieName,
		Value:    value,
		Path:     "/",
		Domain:   s.cookie.Domain,
		MaxAge:   maxAge,
		Secure:   s.cookie.Secure,
		HttpOnly: true,
		SameSite: sameSite,
	})
}

func refreshCookie(c *gin.Context) string {
	v, err := c.Cookie(common.RefreshTokenCookieName)
	if err != nil {
		return ""
	}
	return v
}
