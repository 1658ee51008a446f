package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// AttributePolicy is the ABAC entity from spec §3.
type AttributePolicy struct {
	ID              string
	SubjectAttrs    map[string]string
	ResourceAttrs   map[string]string
	EnvironmentAttrs map[string]string
	Effect          string // "allow" | "deny"
	Permissions     map[string]bool
}

// attributePolicyModule implements spec §4.4 step 3's match algorithm in
// Rego: a policy matches iff every key in its subject/resource/environment
// attribute maps compares equal to the supplied value, with the
// business-hours special case for time_of_day.
const attributePolicyModule = `
package forge.abac

import future.keywords.every
import future.keywords.in

business_hours(hour) {
	hour >= 9
	hour <= 17
}

matches_attr(key, want, input_attrs) {
	want == "business_hours"
	key == "time_of_day"
	hour := to_number(input_attrs[key])
	business_hours(hour)
}

matches_attr(key, want, input_attrs) {
	input_attrs[key] == want
}

attrs_match(policy_attrs, input_attrs) {
	every key, want in policy_attrs {
		matches_attr(key, want, input_attrs)
	}
}

matched_policies[result] {
	some p in input.policies
	attrs_match(p.subject_attrs, input.subject)
	attrs_match(p.resource_attrs, input.resource)
	attrs_match(p.environment_attrs, input.environment)
	result := p
}
`

// ABACEvaluator evaluates attribute policies via a prepared Rego query.
type ABACEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewABACEvaluator compiles the attribute-matching module once at startup.
func NewABACEvaluator(ctx context.Context) (*ABACEvaluator, error) {
	q, err := rego.New(
		rego.Query("data.forge.abac.matched_policies"),
		rego.Module("abac.rego", attributePolicyModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile abac module: %w", err)
	}
	return &ABACEvaluator{query: q}, nil
}

func policyToInput(p *AttributePolicy) map[string]interface{} {
	return map[string]interface{}{
		"id":                p.ID,
		"subject_attrs":     p.SubjectAttrs,
		"resource_attrs":    p.ResourceAttrs,
		"environment_attrs": p.EnvironmentAttrs,
		"effect":            p.Effect,
	}
}

// Evaluate returns the subset of policies whose attribute maps all match
// the supplied subject/resource/environment triples, in policy order.
func (e *ABACEvaluator) Evaluate(ctx context.Context, policies []*AttributePolicy, subject, resource, environment map[string]string) ([]*AttributePolicy, error) {
	inputPolicies := make([]map[string]interface{}, 0, len(policies))
	for _, p := range policies {
		inputPolicies = append(inputPolicies, policyToInput(p))
	}

	input := map[string]interface{}{
		"policies":    inputPolicies,
		"subject":     toAnyMap(subject),
		"resource":    toAnyMap(resource),
		"environment": toAnyMap(environment),
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluate abac policies: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	matched, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, nil
	}
	// The Rego result is a set, ordered by value rather than by input
	// position, so the matched ids are mapped back onto the policy slice.
	matchedIDs := make(map[string]bool, len(matched))
	for _, m := range matched {
		obj, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := obj["id"].(string); ok {
			matchedIDs[id] = true
		}
	}
	out := make([]*AttributePolicy, 0, len(matchedIDs))
	for _, p := range policies {
		if matchedIDs[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func toAnyMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
