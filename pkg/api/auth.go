package api

import (
	"github.com/gin-gonic/gin"

	"github.com/forge-health/compliance-diagnostics/pkg/security/policy"
)

// requireRole aborts with 403 unless the authenticated principal holds
// role (or is an admin, who bypasses every role check).
func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := currentPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "authentication required"})
			return
		}
		if p.IsAdmin {
			c.Next()
			return
		}
		for _, r := range p.Roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(403, gin.H{"error": "requires role " + role})
	}
}

// accessDecisionKey is the gin context key requirePermission stores the
// resulting AccessDecision under, for handlers that need justification
// or audit_required downstream.
const accessDecisionKey = "access_decision"

func currentAccessDecision(c *gin.Context) *policy.AccessDecision {
	v, ok := c.Get(accessDecisionKey)
	if !ok {
		return nil
	}
	d, _ := v.(*policy.AccessDecision)
	return d
}

// requirePermission runs the full spec §4.4 RBAC/ABAC decision procedure
// through the Access Policy Engine rather than a plain role-string check,
// so any attribute policies the engine holds are consulted when no role
// grants access. The
// resulting AccessDecision is stashed on the context under
// accessDecisionKey for downstream handlers.
func requirePermission(engine *policy.Engine, permission, resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := currentPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "authentication required"})
			return
		}

		decision, err := engine.CheckAccess(c.Request.Context(), policy.Request{
			Subject:      p.Subject,
			Roles:        p.Roles,
			Permission:   permission,
			ResourceType: resourceType,
		})
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}

		c.Set(accessDecisionKey, decision)
		if !decision.Allowed {
			c.AbortWithStatusJSON(403, gin.H{"error": decision.Reason})
			return
		}
		c.Next()
	}
}
