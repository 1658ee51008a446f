package policy

import (
	"context"
	"strconv"
	"time"
)

// Model selects which part of the decision procedure is active.
type Model int

const (
	// ModelRBAC evaluates only the role graph.
	ModelRBAC Model = iota
	// ModelABAC evaluates only attribute policies.
	ModelABAC
	// ModelHybrid evaluates roles first, falling through to attribute policies.
	ModelHybrid
)

// AccessDecision is the spec §3 entity produced per request.
type AccessDecision struct {
	Allowed       bool
	Reason        string
	PolicyOrRoleID string
	RequiresMFA   bool
	AuditRequired bool
}

// Request describes a single access check per spec §4.4.
type Request struct {
	Subject            string
	Roles              []string
	Permission         string
	ResourceType       string
	DataClassification string // optional; empty means "not specified"
	Context            map[string]string
}

// Engine is the Access Policy Engine: RBAC role graph + ABAC attribute
// policies, producing an AccessDecision per request.
type Engine struct {
	model     Model
	roles     map[string]*Role
	policies  []*AttributePolicy
	abac      *ABACEvaluator
}

// NewEngine constructs the engine. roles and policies are loaded at startup;
// hot-reload is supported by calling SetRoles/SetPolicies later.
func NewEngine(model Model, roles map[string]*Role, policies []*AttributePolicy, abac *ABACEvaluator) *Engine {
	return &Engine{model: model, roles: roles, policies: policies, abac: abac}
}

// SetRoles hot-reloads the role graph.
func (e *Engine) SetRoles(roles map[string]*Role) { e.roles = roles }

// Role returns the role graph entry for id, for callers (the login flow)
// that need a role's mfa_required/is_privileged flags without running the
// full CheckAccess decision procedure.
func (e *Engine) Role(id string) (*Role, bool) {
	r, ok := e.roles[id]
	return r, ok
}

// SetPolicies hot-reloads the attribute policy set.
func (e *Engine) SetPolicies(policies []*AttributePolicy) { e.policies = policies }

// CheckAccess implements spec §4.4's four-step decision procedure.
func (e *Engine) CheckAccess(ctx context.Context, req Request) (*AccessDecision, error) {
	if len(req.Roles) == 0 {
		return &AccessDecision{Allowed: false, Reason: "subject has no roles", AuditRequired: true}, nil
	}

	if e.model == ModelRBAC || e.model == ModelHybrid {
		if d := e.checkRoles(req); d != nil {
			return d, nil
		}
	}

	if e.model == ModelABAC || e.model == ModelHybrid {
		d, err := e.checkAttributePolicies(ctx, req)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}

	return &AccessDecision{
		Allowed:       false,
		Reason:        "no role or policy grants required access",
		AuditRequired: true,
	}, nil
}

func (e *Engine) checkRoles(req Request) *AccessDecision {
	for _, roleID := range req.Roles {
		role, ok := e.roles[roleID]
		if !ok {
			continue
		}
		if !role.Permissions[req.Permission] {
			continue
		}
		if !role.ResourceTypes[req.ResourceType] {
			continue
		}
		if req.DataClassification != "" && !role.DataClassifications[req.DataClassification] {
			continue
		}
		return &AccessDecision{
			Allowed:        true,
			Reason:         "role " + roleID + " grants permission",
			PolicyOrRoleID: roleID,
			RequiresMFA:    role.MFARequired,
			AuditRequired:  role.IsPrivileged || sensitiveClassifications[req.DataClassification],
		}
	}
	return nil
}

func (e *Engine) checkAttributePolicies(ctx context.Context, req Request) (*AccessDecision, error) {
	if e.abac == nil || len(e.policies) == 0 {
		return nil, nil
	}
	subject := map[string]string{"subject": req.Subject}
	resource := map[string]string{"resource_type": req.ResourceType}
	if req.DataClassification != "" {
		resource["data_classification"] = req.DataClassification
	}
	environment := make(map[string]string, len(req.Context)+1)
	for k, v := range req.Context {
		environment[k] = v
	}
	if _, ok := environment["time_of_day"]; !ok {
		environment["time_of_day"] = strconv.Itoa(time.Now().Hour())
	}

	matched, err := e.abac.Evaluate(ctx, e.policies, subject, resource, environment)
	if err != nil {
		return nil, err
	}

	// First policy with effect=allow grants; any matching effect=deny overrides to deny.
	var allowDecision *AccessDecision
	for _, p := range matched {
		if p.Effect == "deny" {
			return &AccessDecision{
				Allowed:        false,
				Reason:         "attribute policy " + p.ID + " denies access",
				PolicyOrRoleID: p.ID,
				AuditRequired:  true,
			}, nil
		}
		if p.Effect == "allow" && allowDecision == nil {
			allowDecision = &AccessDecision{
				Allowed:        true,
				Reason:         "attribute policy " + p.ID + " grants access",
				PolicyOrRoleID: p.ID,
				AuditRequired:  sensitiveClassifications[req.DataClassification],
			}
		}
	}
	return allowDecision, nil
}
