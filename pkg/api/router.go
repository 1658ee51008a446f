// Package api exposes the compliance and diagnosis cores over HTTP
// using gin, the way the rest of this codebase's handlers are built.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/forge-health/compliance-diagnostics/pkg/security/policy"
	"github.com/forge-health/compliance-diagnostics/pkg/security/token"
)

// NewRouter builds the full gin engine: security headers on every
// route, bearer-token authentication on everything under /api, the
// login/MFA flow, and the compliance/diagnosis route groups gated
// through the Access Policy Engine.
func NewRouter(verifier *token.Verifier, engine *policy.Engine, h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(securityHeaders())

	r.GET("/healthz", func(c *gin.Context) { c.Status(200) })

	r.POST("/auth/login", h.login)
	r.POST("/auth/mfa/verify", h.verifyMFALogin)

	api := r.Group("/api", authenticate(verifier))

	api.POST("/auth/logout", h.logout)
	api.POST("/auth/password", h.changePassword)

	dsarGroup := api.Group("/dsar", requirePermission(engine, "write", "dsar"))
	dsarGroup.POST("", h.createDSAR)
	dsarGroup.POST("/:id/verify", h.verifyDSAR)
	dsarGroup.POST("/:id/complete", h.completeDSAR)

	consentGroup := api.Group("/consent")
	consentGroup.POST("/grant", h.grantConsent)
	consentGroup.POST("/revoke", h.revokeConsent)

	breachGroup := api.Group("/breach", requirePermission(engine, "write", "breach_record"))
	breachGroup.POST("", h.reportBreach)
	breachGroup.POST("/:id/assess", h.assessBreach)

	diagnosisGroup := api.Group("/diagnosis")
	diagnosisGroup.POST("/sessions", h.createDiagnosisSession)
	diagnosisGroup.POST("/sessions/:id/start", h.startDiagnosis)
	diagnosisGroup.POST("/sessions/:id/answer", h.answerDiagnosisQuestion)
	diagnosisGroup.POST("/sessions/:id/skip", h.skipDiagnosisQuestions)
	diagnosisGroup.GET("/sessions/:id/result", h.getDiagnosisResult)
	diagnosisGroup.POST("/sessions/:id/pause", h.pauseDiagnosisSession)
	diagnosisGroup.POST("/sessions/:id/resume", h.resumeDiagnosisSession)
	diagnosisGroup.DELETE("/sessions/:id", h.cancelDiagnosisSession)
	diagnosisGroup.GET("/sessions/:id/events", h.streamDiagnosisEvents)

	api.POST("/ghostcouncil/deliberate", h.deliberate)

	return r
}
