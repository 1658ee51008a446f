package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forge-health/compliance-diagnostics/pkg/breach"
	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
	"github.com/forge-health/compliance-diagnostics/pkg/consent"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/session"
	"github.com/forge-health/compliance-diagnostics/pkg/dsar"
	"github.com/forge-health/compliance-diagnostics/pkg/ghostcouncil"
	"github.com/forge-health/compliance-diagnostics/pkg/security/auth"
	"github.com/forge-health/compliance-diagnostics/pkg/security/blacklist"
	"github.com/forge-health/compliance-diagnostics/pkg/security/policy"
	"github.com/forge-health/compliance-diagnostics/pkg/security/token"
)

// Handlers groups the collaborators the route functions close over.
// Deps is intentionally a flat struct rather than an interface: every
// field is a concrete, already-constructed workflow/controller this
// process owns for its entire lifetime.
type Handlers struct {
	DSAR         *dsar.Workflow
	Consent      *consent.Registry
	Breach       *breach.Workflow
	Sessions     *session.Controller
	Council      *ghostcouncil.Deliberator
	Verifier     *token.Verifier
	Blacklist    blacklist.Store
	Directory    *auth.RoleDirectory
	Policy       *policy.Engine
	Passwords    *auth.PasswordService
	AuthSessions *auth.SessionService
	MFA          *auth.MFAService
}

func (h *Handlers) deliberate(c *gin.Context) {
	var body struct {
		Title       string `json:"title" binding:"required"`
		Description string `json:"description" binding:"required"`
		Type        string `json:"type"`
		Severity    string `json:"severity"`
		Profile     string `json:"profile"`
		SkipCache   bool   `json:"skip_cache"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ValidationFailed(err.Error(), err))
		return
	}

	proposalType := ghostcouncil.ProposalChange
	if body.Type != "" {
		proposalType = ghostcouncil.ProposalType(body.Type)
	}
	profile := ghostcouncil.ProfileStandard
	if body.Profile != "" {
		profile = ghostcouncil.Profile(body.Profile)
	}

	opinion, err := h.Council.Deliberate(c.Request.Context(), ghostcouncil.Proposal{
		Title:       body.Title,
		Description: body.Description,
		Type:        proposalType,
		Severity:    body.Severity,
	}, profile, body.SkipCache)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, opinion)
}

func (h *Handlers) createDSAR(c *gin.Context) {
	var body struct {
		RequestType  string            `json:"request_type" binding:"required"`
		Jurisdiction string            `json:"jurisdiction" binding:"required"`
		Frameworks   []string          `json:"frameworks"`
		SubjectInfo  map[string]string `json:"subject_info"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ValidationFailed(err.Error(), err))
		return
	}

	req, err := h.DSAR.Create(c.Request.Context(), dsar.RequestType(body.RequestType), dsar.Jurisdiction(body.Jurisdiction), body.Frameworks, body.SubjectInfo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handlers) verifyDSAR(c *gin.Context) {
	req, err := h.DSAR.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handlers) completeDSAR(c *gin.Context) {
	req, err := h.DSAR.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handlers) grantConsent(c *gin.Context) {
	var body struct {
		SubjectID string `json:"subject_id" binding:"required"`
		Purpose   string `json:"purpose" binding:"required"`
		Source    string `json:"source"`
		TTLHours  int    `json:"ttl_hours"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ValidationFailed(err.Error(), err))
		return
	}

	ttl := time.Duration(body.TTLHours) * time.Hour
	rec, err := h.Consent.Grant(c.Request.Context(), body.SubjectID, consent.Purpose(body.Purpose), body.Source, ttl)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handlers) revokeConsent(c *gin.Context) {
	var body struct {
		SubjectID string `json:"subject_id" binding:"required"`
		Purpose   string `json:"purpose" binding:"required"`
		Source    string `json:"source"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ValidationFailed(err.Error(), err))
		return
	}

	rec, err := h.Consent.Revoke(c.Request.Context(), body.SubjectID, consent.Purpose(body.Purpose), body.Source)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) reportBreach(c *gin.Context) {
	var body struct {
		Description        string `json:"description" binding:"required"`
		Jurisdiction        string `json:"jurisdiction" binding:"required"`
		AffectedRecords     int    `json:"affected_records"`
		DataClassification  string `json:"data_classification"`
		Encrypted           bool   `json:"encrypted"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ValidationFailed(err.Error(), err))
		return
	}

	inc, err := h.Breach.Report(c.Request.Context(), body.Description, breach.Jurisdiction(body.Jurisdiction), body.AffectedRecords, body.DataClassification, body.Encrypted)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inc)
}

func (h *Handlers) assessBreach(c *gin.Context) {
	inc, err := h.Breach.Assess(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *Handlers) createDiagnosisSession(c *gin.Context) {
	s := h.Sessions.CreateSession()
	c.JSON(http.StatusCreated, gin.H{"session_id": s.ID, "state": s.State})
}

func (h *Handlers) startDiagnosis(c *gin.Context) {
	s := h.Sessions.Get(c.Param("id"))
	if s == nil {
		writeError(c, errs.NotFound("no such session", nil))
		return
	}

	var body struct {
		Phenotypes    []string         `json:"phenotypes"`
		Variants      []models.Variant `json:"variants"`
		History       []string         `json:"history"`
		FamilyHistory []string         `json:"family_history"`
		Demographics  models.Demographics `json:"demographics"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ValidationFailed(err.Error(), err))
		return
	}

	if err := h.Sessions.StartDiagnosis(c.Request.Context(), s, body.Phenotypes, body.Variants, body.History, body.FamilyHistory, body.Demographics); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "state": s.State})
}

func (h *Handlers) answerDiagnosisQuestion(c *gin.Context) {
	s := h.Sessions.Get(c.Param("id"))
	if s == nil {
		writeError(c, errs.NotFound("no such session", nil))
		return
	}

	var body struct {
		QuestionID string `json:"question_id" binding:"required"`
		Answer     string `json:"answer" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ValidationFailed(err.Error(), err))
		return
	}

	if err := h.Sessions.AnswerQuestions(c.Request.Context(), s, []session.Answer{{QuestionID: body.QuestionID, Answer: body.Answer}}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "state": s.State})
}

func (h *Handlers) skipDiagnosisQuestions(c *gin.Context) {
	s := h.Sessions.Get(c.Param("id"))
	if s == nil {
		writeError(c, errs.NotFound("no such session", nil))
		return
	}
	if err := h.Sessions.SkipQuestions(s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "state": s.State})
}

func (h *Handlers) getDiagnosisResult(c *gin.Context) {
	s := h.Sessions.Get(c.Param("id"))
	if s == nil {
		writeError(c, errs.NotFound("no such session", nil))
		return
	}
	result, err := h.Sessions.GetResult(s)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "state": s.State, "result": result})
}

func (h *Handlers) pauseDiagnosisSession(c *gin.Context) {
	s := h.Sessions.Get(c.Param("id"))
	if s == nil {
		writeError(c, errs.NotFound("no such session", nil))
		return
	}
	if err := h.Sessions.PauseSession(s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "state": s.State})
}

func (h *Handlers) resumeDiagnosisSession(c *gin.Context) {
	s := h.Sessions.Get(c.Param("id"))
	if s == nil {
		writeError(c, errs.NotFound("no such session", nil))
		return
	}
	if err := h.Sessions.ResumeSession(s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "state": s.State})
}

func (h *Handlers) cancelDiagnosisSession(c *gin.Context) {
	s := h.Sessions.Get(c.Param("id"))
	if s == nil {
		writeError(c, errs.NotFound("no such session", nil))
		return
	}
	if !h.Sessions.DeleteSession(s) {
		writeError(c, errs.NotFound("no such session", nil))
		return
	}
	c.Status(http.StatusNoContent)
}

// streamDiagnosisEvents streams a session's event feed as newline-delimited
// JSON until the client disconnects, the session reaches a terminal state, or
// the stream has sat idle past idle_timeout_seconds (default 30m).
func (h *Handlers) streamDiagnosisEvents(c *gin.Context) {
	s := h.Sessions.Get(c.Param("id"))
	if s == nil {
		writeError(c, errs.NotFound("no such session", nil))
		return
	}

	idleTimeout := time.Duration(0)
	if secs := c.Query("idle_timeout_seconds"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			idleTimeout = time.Duration(n) * time.Second
		}
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	events := h.Sessions.StreamEvents(ctx, s, idleTimeout)

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for ev := range events {
		line, err := json.Marshal(ev)
		if err == nil {
			c.Writer.Write(line)
			c.Writer.Write([]byte("\n"))
			c.Writer.Flush()
		}
	}
}

// roleFlags reports whether any of roles is privileged or requires MFA,
// consulting the Access Policy Engine's role graph.
func (h *Handlers) roleFlags(roles []string) (privileged, mfaRequired bool) {
	for _, id := range roles {
		if r, ok := h.Policy.Role(id); ok {
			if r.IsPrivileged {
				privileged = true
			}
			if r.MFARequired {
				mfaRequired = true
			}
		}
	}
	return privileged, mfaRequired
}

// login is the password step of the login flow: verifies credentials against
// the failed-attempt lockout and password policy, then either mints a token
// directly or opens an MFA challenge for roles that require one.
func (h *Handlers) login(c *gin.Context) {
	var body struct {
		Subject  string `json:"subject" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ValidationFailed(err.Error(), err))
		return
	}

	if h.AuthSessions.IsLockedOut(body.Subject) {
		writeError(c, auth.ErrLockedOut)
		return
	}

	roles, perms, ok := h.Directory.Lookup(body.Subject)
	if !ok || !h.Passwords.Verify(c.Request.Context(), body.Subject, body.Password) {
		if err := h.AuthSessions.RecordFailedAttempt(c.Request.Context(), body.Subject); err != nil {
			writeError(c, err)
			return
		}
		writeError(c, errs.AuthenticationFailed("invalid subject or password", nil))
		return
	}

	privileged, mfaRequired := h.roleFlags(roles)

	if mfaRequired {
		code, err := auth.GenerateOTP()
		if err != nil {
			writeError(c, errs.Fatal("failed to generate mfa code", err))
			return
		}
		ch := h.MFA.CreateChallenge(body.Subject, auth.MFAEmail, code)
		// Dispatching the code to the subject's phone/inbox is outside this
		// process; logging it here stands in for that delivery.
		slog.Info("mfa challenge issued", "subject", body.Subject, "challenge_id", ch.ID)
		c.JSON(http.StatusAccepted, gin.H{"mfa_required": true, "challenge_id": ch.ID})
		return
	}

	sess := h.AuthSessions.CreateSession(body.Subject, c.ClientIP(), c.Request.UserAgent(), false, "", privileged)
	if err := h.AuthSessions.ClearFailedAttempts(c.Request.Context(), body.Subject); err != nil {
		writeError(c, err)
		return
	}

	tok, err := h.Verifier.Issue(body.Subject, roles, perms, sess.ID, sess.ExpiresAt.Sub(sess.CreatedAt))
	if err != nil {
		writeError(c, errs.Fatal("failed to issue token", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok, "session_id": sess.ID, "expires_at": sess.ExpiresAt})
}

// verifyMFALogin is the second step for subjects whose role requires MFA:
// it validates the challenge code and, on success, mints the session/token
// that login withheld.
func (h *Handlers) verifyMFALogin(c *gin.Context) {
	var body struct {
		ChallengeID string `json:"challenge_id" binding:"required"`
		Code        string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ValidationFailed(err.Error(), err))
		return
	}

	ok, err := h.MFA.VerifyMFA(body.ChallengeID, body.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, errs.AuthenticationFailed("invalid mfa code", nil))
		return
	}

	state := h.MFA.ChallengeState(body.ChallengeID)
	if state == nil {
		writeError(c, errs.NotFound("mfa challenge not found", nil))
		return
	}

	roles, perms, ok := h.Directory.Lookup(state.Subject)
	if !ok {
		writeError(c, errs.AuthenticationFailed("subject is no longer known", nil))
		return
	}
	privileged, _ := h.roleFlags(roles)

	sess := h.AuthSessions.CreateSession(state.Subject, c.ClientIP(), c.Request.UserAgent(), true, state.Method, privileged)
	if err := h.AuthSessions.ClearFailedAttempts(c.Request.Context(), state.Subject); err != nil {
		writeError(c, err)
		return
	}

	tok, err := h.Verifier.Issue(state.Subject, roles, perms, sess.ID, sess.ExpiresAt.Sub(sess.CreatedAt))
	if err != nil {
		writeError(c, errs.Fatal("failed to issue token", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok, "session_id": sess.ID, "expires_at": sess.ExpiresAt})
}

// logout revokes the bearer token's jti through the Token Blacklist and
// destroys the underlying auth session, so the same credential can't be
// replayed after the client signs out.
func (h *Handlers) logout(c *gin.Context) {
	p := currentPrincipal(c)
	if p == nil {
		writeError(c, errs.AuthenticationFailed("authentication required", nil))
		return
	}
	if p.TokenID != "" {
		if err := h.Blacklist.Add(c.Request.Context(), p.TokenID, p.ExpiresAt); err != nil {
			writeError(c, errs.Transient("failed to revoke token", err))
			return
		}
		h.AuthSessions.Logout(p.TokenID)
	}
	c.Status(http.StatusNoContent)
}

// changePassword applies the password policy (length/class/history/min-age)
// to a new password for the authenticated subject.
func (h *Handlers) changePassword(c *gin.Context) {
	p := currentPrincipal(c)
	if p == nil {
		writeError(c, errs.AuthenticationFailed("authentication required", nil))
		return
	}

	var body struct {
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ValidationFailed(err.Error(), err))
		return
	}

	if err := h.Passwords.ChangePassword(c.Request.Context(), p.Subject, body.NewPassword); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
