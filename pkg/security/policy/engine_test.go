package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_CheckAccessGrantsViaMatchingRole(t *testing.T) {
	engine := NewEngine(ModelRBAC, DefaultRoles(), nil, nil)

	decision, err := engine.CheckAccess(context.Background(), Request{
		Subject:            "alice",
		Roles:              []string{"compliance_officer"},
		Permission:         "write",
		ResourceType:        "dsar",
		DataClassification: "confidential",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "compliance_officer", decision.PolicyOrRoleID)
	assert.True(t, decision.RequiresMFA)
}

func TestEngine_CheckAccessDeniesWhenNoRoleMatches(t *testing.T) {
	engine := NewEngine(ModelRBAC, DefaultRoles(), nil, nil)

	decision, err := engine.CheckAccess(context.Background(), Request{
		Subject:      "bob",
		Roles:        []string{"read_only"},
		Permission:   "write",
		ResourceType: "dsar",
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestEngine_CheckAccessDeniesSubjectWithNoRoles(t *testing.T) {
	engine := NewEngine(ModelHybrid, DefaultRoles(), nil, nil)

	decision, err := engine.CheckAccess(context.Background(), Request{
		Subject:      "ghost",
		Permission:   "read",
		ResourceType: "dsar",
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.True(t, decision.AuditRequired)
}

func TestEngine_CheckAccessFallsThroughToAttributePolicies(t *testing.T) {
	abac, err := NewABACEvaluator(context.Background())
	require.NoError(t, err)

	policies := []*AttributePolicy{
		{
			ID:            "allow-support-business-hours",
			SubjectAttrs:  map[string]string{"subject": "carol"},
			ResourceAttrs: map[string]string{"resource_type": "personal_data"},
			Effect:        "allow",
		},
	}
	engine := NewEngine(ModelHybrid, DefaultRoles(), policies, abac)

	decision, err := engine.CheckAccess(context.Background(), Request{
		Subject:      "carol",
		Roles:        []string{"support_agent"},
		Permission:   "write", // support_agent only has read, forcing the ABAC fallback
		ResourceType: "personal_data",
		Context:      map[string]string{"time_of_day": "10"},
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "allow-support-business-hours", decision.PolicyOrRoleID)
}

func TestEngine_CheckAccessDenyPolicyOverridesAllow(t *testing.T) {
	abac, err := NewABACEvaluator(context.Background())
	require.NoError(t, err)

	policies := []*AttributePolicy{
		{
			ID:            "allow-all-personal-data",
			ResourceAttrs: map[string]string{"resource_type": "personal_data"},
			Effect:        "allow",
		},
		{
			ID:               "deny-during-business-hours",
			EnvironmentAttrs: map[string]string{"time_of_day": "business_hours"},
			ResourceAttrs:    map[string]string{"resource_type": "personal_data"},
			Effect:           "deny",
		},
	}
	engine := NewEngine(ModelABAC, nil, policies, abac)

	decision, err := engine.CheckAccess(context.Background(), Request{
		Subject:      "dave",
		Roles:        []string{"data_processor"},
		Permission:   "read",
		ResourceType: "personal_data",
		Context:      map[string]string{"time_of_day": "10"}, // inside 9-17, so both policies match
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestEngine_RoleReturnsGraphEntry(t *testing.T) {
	engine := NewEngine(ModelRBAC, DefaultRoles(), nil, nil)

	role, ok := engine.Role("admin")
	require.True(t, ok)
	assert.True(t, role.IsPrivileged)
	assert.True(t, role.MFARequired)

	_, ok = engine.Role("no-such-role")
	assert.False(t, ok)
}
