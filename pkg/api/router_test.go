package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/engine"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/ontology"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/scoring"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/session"
	"github.com/forge-health/compliance-diagnostics/pkg/ghostcouncil"
	"github.com/forge-health/compliance-diagnostics/pkg/llm"
	"github.com/forge-health/compliance-diagnostics/pkg/masking"
	"github.com/forge-health/compliance-diagnostics/pkg/security/auth"
	"github.com/forge-health/compliance-diagnostics/pkg/security/blacklist"
	"github.com/forge-health/compliance-diagnostics/pkg/security/policy"
	"github.com/forge-health/compliance-diagnostics/pkg/security/token"
)

// newTestPolicyEngine builds an RBAC-only engine (no ABAC evaluator) seeded
// with the default role graph, enough to exercise requirePermission without
// a live OPA/Rego runtime.
func newTestPolicyEngine() *policy.Engine {
	return policy.NewEngine(policy.ModelRBAC, policy.DefaultRoles(), nil, nil)
}

// noopGraph is a models.KnowledgeGraph that never matches anything, used
// to stand up a diagnosis engine without a database in router tests.
type noopGraph struct{}

func (noopGraph) DiseasesByPhenotypes(_ context.Context, _ []string, _ int) ([]*models.DiseaseRecord, error) {
	return nil, nil
}

func (noopGraph) DiseasesByGenes(_ context.Context, _ []string) ([]*models.DiseaseRecord, error) {
	return nil, nil
}

func (noopGraph) Disease(_ context.Context, _ string) (*models.DiseaseRecord, error) {
	return nil, nil
}

func newTestHandlers() *Handlers {
	eng := engine.New(noopGraph{}, ontology.NewService(8), scoring.NewScorer(scoring.DefaultConfig()), clock.Real{})
	sessions := session.NewController(eng, clock.Real{})

	councilCfg := ghostcouncil.Config{
		Members:       []ghostcouncil.Member{{Name: "the_architect", Persona: "x", Weight: 1.0}},
		CacheEnabled:  false,
		CacheCapacity: 10,
	}
	provider := &llm.MockProvider{Response: `{"optimistic":{"assessment":"","key_points":[],"confidence":0},` +
		`"balanced":{"assessment":"","key_points":[],"confidence":0},` +
		`"critical":{"assessment":"","key_points":[],"confidence":0},` +
		`"synthesis":{"vote":"APPROVE","reasoning":"ok","confidence":0.8,"benefits":[],"concerns":[]}}`}
	deliberator := ghostcouncil.New(councilCfg, provider, masking.NewService(64))

	return &Handlers{Sessions: sessions, Council: deliberator}
}

// newTestLoginHandlers wires the auth collaborators on top of
// newTestHandlers, for exercising the login/MFA/logout/change-password
// routes end to end.
func newTestLoginHandlers(v *token.Verifier, engine *policy.Engine) *Handlers {
	h := newTestHandlers()
	h.Verifier = v
	h.Blacklist = blacklist.NewLocal(1000, clock.Real{})
	h.Directory = auth.NewRoleDirectory()
	h.Policy = engine
	h.Passwords = auth.NewPersistedPasswordService(auth.DefaultPasswordPolicy(), clock.Real{}, nil)
	h.AuthSessions = auth.NewPersistedSessionService(clock.Real{}, time.Hour, time.Hour, time.Hour, nil)
	h.MFA = auth.NewMFAService(clock.Real{}, time.Minute, 3)
	return h
}

func TestLogin_ReadOnlySubjectSkipsMFAAndIssuesToken(t *testing.T) {
	v := newTestVerifier()
	engine := newTestPolicyEngine()
	h := newTestLoginHandlers(v, engine)
	h.Directory.Set("reader-1", []string{"read_only"}, []string{"read"})
	require.NoError(t, h.Passwords.ChangePassword(context.Background(), "reader-1", "Sup3r!Secret-Pass"))

	r := NewRouter(v, engine, h)

	body := `{"subject":"reader-1","password":"Sup3r!Secret-Pass"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "access_token")
}

func TestLogin_AdminSubjectRequiresMFABeforeToken(t *testing.T) {
	v := newTestVerifier()
	engine := newTestPolicyEngine()
	h := newTestLoginHandlers(v, engine)
	h.Directory.Set("root-1", []string{"admin"}, []string{"admin"})
	require.NoError(t, h.Passwords.ChangePassword(context.Background(), "root-1", "Sup3r!Secret-Pass"))

	r := NewRouter(v, engine, h)

	body := `{"subject":"root-1","password":"Sup3r!Secret-Pass"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "challenge_id")
	assert.NotContains(t, w.Body.String(), "access_token")
}

func TestLogin_WrongPasswordLocksOutAfterFiveAttempts(t *testing.T) {
	v := newTestVerifier()
	engine := newTestPolicyEngine()
	h := newTestLoginHandlers(v, engine)
	h.Directory.Set("reader-2", []string{"read_only"}, []string{"read"})
	require.NoError(t, h.Passwords.ChangePassword(context.Background(), "reader-2", "Sup3r!Secret-Pass"))

	r := NewRouter(v, engine, h)

	var lastCode int
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"subject":"reader-2","password":"wrong"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		lastCode = w.Code
	}
	assert.Equal(t, http.StatusUnauthorized, lastCode)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"subject":"reader-2","password":"Sup3r!Secret-Pass"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "locked")
}

func TestLogout_RevokesTokenSoItNoLongerAuthenticates(t *testing.T) {
	bl := blacklist.NewLocal(1000, clock.Real{})
	v := token.NewVerifier("test-secret", bl)
	engine := newTestPolicyEngine()
	h := newTestLoginHandlers(v, engine)
	h.Blacklist = bl
	r := NewRouter(v, engine, h)

	tok, err := v.Issue("clinician-1", []string{"clinician"}, nil, "jti-logout", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/api/diagnosis/sessions", nil)
	req2.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
}

func TestHealthz_IsUnauthenticated(t *testing.T) {
	r := NewRouter(newTestVerifier(), newTestPolicyEngine(), newTestHandlers())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRoutes_RejectUnauthenticatedRequests(t *testing.T) {
	r := NewRouter(newTestVerifier(), newTestPolicyEngine(), newTestHandlers())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/diagnosis/sessions", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDiagnosisSessionLifecycle_CreateReturnsIntakeState(t *testing.T) {
	v := newTestVerifier()
	tok, err := v.Issue("clinician-1", []string{"clinician"}, nil, "jti-session", time.Hour)
	require.NoError(t, err)
	r := NewRouter(v, newTestPolicyEngine(), newTestHandlers())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/diagnosis/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"intake"`)
}

func TestDeliberateRoute_ReturnsConsensusOpinion(t *testing.T) {
	v := newTestVerifier()
	tok, err := v.Issue("clinician-1", []string{"clinician"}, nil, "jti-council", time.Hour)
	require.NoError(t, err)
	r := NewRouter(v, newTestPolicyEngine(), newTestHandlers())

	body := `{"title":"Allow wider ontology widening","description":"Widen phenotype match radius to 2 hops"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ghostcouncil/deliberate", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ConsensusVote":"APPROVE"`)
}

func TestDSARRoute_RequiresWritePermissionOnDSAR(t *testing.T) {
	v := newTestVerifier()
	tok, err := v.Issue("clinician-1", []string{"clinician"}, nil, "jti-dsar", time.Hour)
	require.NoError(t, err)
	r := NewRouter(v, newTestPolicyEngine(), newTestHandlers())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/dsar", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
