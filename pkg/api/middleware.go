package api

import (
	"github.com/gin-gonic/gin"

	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
	"github.com/forge-health/compliance-diagnostics/pkg/security/token"
)

// securityHeaders sets standard hardening response headers on every
// response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// principalKey is the gin context key the authenticate middleware
// stores the verified Principal under.
const principalKey = "principal"

// authenticate verifies the bearer token on every request and aborts
// with 401 if it is missing, malformed, expired, or revoked.
func authenticate(verifier *token.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := token.ExtractFromRequest(c.Request)
		if raw == "" {
			writeError(c, errs.AuthenticationFailed("missing bearer token", nil))
			c.Abort()
			return
		}

		principal, err := verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// currentPrincipal retrieves the Principal authenticate stored on c.
func currentPrincipal(c *gin.Context) *token.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*token.Principal)
	return p
}
