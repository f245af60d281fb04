package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// loginSuccessHTML is shown in the browser once the callback completes.
const loginSuccessHTML = `<!DOCTYPE html>
<html>
<head><title>Login successful</title></head>
<body>
<h2>Login successful</h2>
<p>You are signed in. You can close this window and return to your client.</p>
</body>
</html>`

// AuthLogin starts the PKCE login flow by redirecting the browser to the
// identity provider's authorization endpoint.
func (s *Server) AuthLogin(c *gin.Context) {
	redirectURI := fmt.Sprintf("http://%s/auth/callback", c.Request.Host)
	authURL, err := s.authenticator.CreateAuthorizationURL(c.Request.Context(), redirectURI)
	if err != nil {
		writeClaudeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// AuthCallback completes the login flow: it consumes the single-use PKCE
// session, exchanges the authorization code, and installs the tokens.
func (s *Server) AuthCallback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
			Type:    "invalid_request_error",
			Message: "authorization failed: " + errParam,
		}})
		return
	}

	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
			Type:    "invalid_request_error",
			Message: "missing state or code parameter",
		}})
		return
	}

	tokenResp, err := s.authenticator.ConsumeCallback(c.Request.Context(), state, code)
	if err != nil {
		writeClaudeError(c, err)
		return
	}
	if err = s.tokens.SetTokens(tokenResp); err != nil {
		writeClaudeError(c, err)
		return
	}

	log.Info("login completed, tokens stored")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(loginSuccessHTML))
}

// AuthStatus reports whether the gateway holds a refresh token.
func (s *Server) AuthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authenticated": s.tokens.IsAuthenticated()})
}

// AuthLogout clears the stored tokens.
func (s *Server) AuthLogout(c *gin.Context) {
	s.tokens.ClearAuth()
	c.JSON(http.StatusOK, gin.H{"authenticated": false})
}
