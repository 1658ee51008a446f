package ghostcouncil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-health/compliance-diagnostics/pkg/llm"
)

func approveJSON() string {
	return `{"optimistic":{"assessment":"good idea","key_points":["a"],"confidence":0.8},` +
		`"balanced":{"assessment":"balanced take","key_points":[],"confidence":0.7},` +
		`"critical":{"assessment":"some risk","key_points":[],"confidence":0.6},` +
		`"synthesis":{"vote":"APPROVE","reasoning":"net positive","confidence":0.9,"benefits":["faster"],"concerns":["cost"]}}`
}

func rejectJSON() string {
	return `{"optimistic":{"assessment":"","key_points":[],"confidence":0},` +
		`"balanced":{"assessment":"","key_points":[],"confidence":0},` +
		`"critical":{"assessment":"too risky","key_points":[],"confidence":0.9},` +
		`"synthesis":{"vote":"REJECT","reasoning":"too risky","confidence":0.9,"benefits":[],"concerns":["breaks prod"]}}`
}

func singleMemberConfig(provider llm.Provider, response string) (Config, llm.Provider) {
	cfg := DefaultConfig()
	cfg.Members = []Member{{Name: "the_architect", Persona: "x", Weight: 1.0}}
	if provider == nil {
		provider = &llm.MockProvider{Response: response}
	}
	return cfg, provider
}

func TestDeliberate_SingleApprovingMemberYieldsApproveConsensus(t *testing.T) {
	cfg, provider := singleMemberConfig(nil, approveJSON())
	d := New(cfg, provider, nil)

	op, err := d.Deliberate(context.Background(), Proposal{Title: "t", Description: "d", Type: ProposalChange}, ProfileQuick, false)
	require.NoError(t, err)
	assert.Equal(t, VoteApprove, op.ConsensusVote)
	assert.Equal(t, 1, op.BenefitCount)
	assert.Equal(t, 1, op.ConcernCount)
}

func TestDeliberate_CachesResultAndReportsCacheHits(t *testing.T) {
	cfg, provider := singleMemberConfig(nil, approveJSON())
	d := New(cfg, provider, nil)
	proposal := Proposal{Title: "cache me", Description: "d", Type: ProposalChange}

	_, err := d.Deliberate(context.Background(), proposal, ProfileQuick, false)
	require.NoError(t, err)
	_, err = d.Deliberate(context.Background(), proposal, ProfileQuick, false)
	require.NoError(t, err)

	assert.Equal(t, 1, d.CacheHits())
}

func TestDeliberate_SkipCacheBypassesTheCache(t *testing.T) {
	cfg, provider := singleMemberConfig(nil, approveJSON())
	d := New(cfg, provider, nil)
	proposal := Proposal{Title: "skip me", Description: "d", Type: ProposalChange}

	_, err := d.Deliberate(context.Background(), proposal, ProfileQuick, false)
	require.NoError(t, err)
	_, err = d.Deliberate(context.Background(), proposal, ProfileQuick, true)
	require.NoError(t, err)

	assert.Equal(t, 0, d.CacheHits())
}

func TestDeliberate_MalformedMemberResponseBecomesAbstain(t *testing.T) {
	cfg, provider := singleMemberConfig(&llm.MockProvider{Response: "not json"}, "")
	d := New(cfg, provider, nil)

	op, err := d.Deliberate(context.Background(), Proposal{Title: "t", Description: "d", Type: ProposalChange}, ProfileQuick, true)
	require.NoError(t, err)
	require.Len(t, op.MemberOpinions, 1)
	assert.Equal(t, VoteAbstain, op.MemberOpinions[0].Synthesis.Vote)
	assert.Equal(t, VoteAbstain, op.ConsensusVote)
}

func TestDeliberate_CriticalSeriousIssueOverridesNonUnanimousReject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Members = []Member{
		{Name: "the_architect", Persona: "x", Weight: 1.2},
		{Name: "the_skeptic", Persona: "x", Weight: 1.0},
	}
	// the rejecting member carries more weight, so the raw consensus is
	// REJECT (1.2*0.9 > 1.0*0.9) but not unanimous.
	provider := &sequencedProvider{responses: []string{rejectJSON(), approveJSON()}}
	d := New(cfg, provider, nil)

	op, err := d.Deliberate(context.Background(), Proposal{
		Title:       "critical bug",
		Description: "prod is down",
		Type:        ProposalSeriousIssue,
		Severity:    "critical",
	}, ProfileComprehensive, true)

	require.NoError(t, err)
	assert.True(t, op.SeriousIssueOverride)
	assert.Equal(t, VoteApprove, op.ConsensusVote)
}

func TestDeliberate_UnanimousRejectOnCriticalIssueIsNotOverridden(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Members = []Member{
		{Name: "the_architect", Persona: "x", Weight: 1.0},
		{Name: "the_skeptic", Persona: "x", Weight: 1.0},
	}
	provider := &sequencedProvider{responses: []string{rejectJSON(), rejectJSON()}}
	d := New(cfg, provider, nil)

	op, err := d.Deliberate(context.Background(), Proposal{
		Title:       "critical bug",
		Description: "prod is down",
		Type:        ProposalSeriousIssue,
		Severity:    "critical",
	}, ProfileComprehensive, true)

	require.NoError(t, err)
	assert.False(t, op.SeriousIssueOverride)
	assert.Equal(t, VoteReject, op.ConsensusVote)
}

// sequencedProvider returns its configured responses in order, one per
// Complete call, so multi-member tests can script distinct votes.
type sequencedProvider struct {
	responses []string
	calls     int
}

func (p *sequencedProvider) Name() string { return "sequenced" }

func (p *sequencedProvider) Complete(_ context.Context, _, _ string) (string, error) {
	r := p.responses[p.calls%len(p.responses)]
	p.calls++
	return r, nil
}
