// Package ghostcouncil implements the Ghost Council Deliberator from
// spec §4.9: a panel of named LLM personas that each run the
// tri-perspective protocol (optimistic/balanced/critical analysis plus
// a synthesis vote) on a proposal, combined into a weighted consensus
// with a content-addressed opinion cache.
package ghostcouncil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/forge-health/compliance-diagnostics/pkg/llm"
	"github.com/forge-health/compliance-diagnostics/pkg/masking"
)

// Vote is a council member's synthesis decision.
type Vote string

const (
	VoteApprove Vote = "APPROVE"
	VoteReject  Vote = "REJECT"
	VoteAbstain Vote = "ABSTAIN"
)

// Analysis is one of the three tri-perspective entries.
type Analysis struct {
	Assessment string   `json:"assessment"`
	KeyPoints  []string `json:"key_points"`
	Confidence float64  `json:"confidence"`
}

// Synthesis is a member's final vote after the three analyses.
type Synthesis struct {
	Vote       Vote     `json:"vote"`
	Reasoning  string   `json:"reasoning"`
	Confidence float64  `json:"confidence"`
	Benefits   []string `json:"benefits"`
	Concerns   []string `json:"concerns"`
}

// MemberOpinion is one council member's full tri-perspective response.
type MemberOpinion struct {
	Member     string    `json:"member"`
	Optimistic Analysis  `json:"optimistic"`
	Balanced   Analysis  `json:"balanced"`
	Critical   Analysis  `json:"critical"`
	Synthesis  Synthesis `json:"synthesis"`
}

// Opinion is the aggregated council advisory returned to the caller.
type Opinion struct {
	ConsensusVote       Vote
	Strength            float64
	Recommendation      string
	MemberOpinions      []MemberOpinion
	BenefitCount        int
	ConcernCount        int
	PerspectiveSummary  map[string]string // "optimistic"/"balanced"/"critical" -> concatenated short assessments
	SeriousIssueOverride bool
}

// Member is one named persona with a consensus weight. Weight sits in
// [0.9, 1.3] per spec §4.9.
type Member struct {
	Name     string
	Persona  string // system-prompt framing injected ahead of the proposal
	Weight   float64
}

// DefaultMembers returns the ten named council members spanning the
// review lenses a production readiness/triage review needs.
func DefaultMembers() []Member {
	return []Member{
		{Name: "the_architect", Persona: "You evaluate long-term structural soundness and technical debt.", Weight: 1.2},
		{Name: "the_skeptic", Persona: "You actively look for reasons this proposal could fail.", Weight: 1.1},
		{Name: "the_security_lead", Persona: "You evaluate this from an attack-surface and data-exposure perspective.", Weight: 1.3},
		{Name: "the_product_owner", Persona: "You weigh user and business value against delivery cost.", Weight: 1.0},
		{Name: "the_operator", Persona: "You think about operability, rollback, and on-call burden.", Weight: 1.1},
		{Name: "the_compliance_officer", Persona: "You evaluate regulatory and audit exposure.", Weight: 1.2},
		{Name: "the_pragmatist", Persona: "You favor the simplest change that solves the immediate problem.", Weight: 0.9},
		{Name: "the_performance_engineer", Persona: "You evaluate latency, throughput, and resource cost implications.", Weight: 1.0},
		{Name: "the_accessibility_advocate", Persona: "You evaluate impact on the people most affected by a bad outcome.", Weight: 1.0},
		{Name: "the_historian", Persona: "You compare this proposal against how similar past decisions played out.", Weight: 0.9},
	}
}

// Profile selects how many council members deliberate.
type Profile string

const (
	ProfileQuick         Profile = "quick"
	ProfileStandard      Profile = "standard"
	ProfileComprehensive Profile = "comprehensive"
)

func membersForProfile(all []Member, profile Profile) []Member {
	switch profile {
	case ProfileQuick:
		return all[:1]
	case ProfileStandard:
		if len(all) < 4 {
			return all
		}
		return all[:4]
	default:
		return all
	}
}

// ProposalType distinguishes a forward-looking proposal from a
// serious-issue triage, which engages the override rule.
type ProposalType string

const (
	ProposalChange        ProposalType = "proposal"
	ProposalSeriousIssue  ProposalType = "serious_issue"
)

// Proposal is the content the council deliberates on.
type Proposal struct {
	Title       string
	Description string
	Type        ProposalType
	Severity    string // only meaningful for ProposalSeriousIssue; "critical" triggers the override rule
}

func (p Proposal) cacheKey() string {
	h := sha256.New()
	h.Write([]byte(p.Title))
	h.Write([]byte("\x1f"))
	h.Write([]byte(p.Description))
	h.Write([]byte("\x1f"))
	h.Write([]byte(p.Type))
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	opinion  *Opinion
	cachedAt time.Time
}

// Config holds the council's tunable knobs.
type Config struct {
	Members      []Member
	CacheEnabled bool
	CacheCapacity int
	CacheTTL     time.Duration
}

// DefaultConfig returns spec §4.9's defaults: caching on, 1000-entry
// LRU, 30-day TTL.
func DefaultConfig() Config {
	return Config{
		Members:       DefaultMembers(),
		CacheEnabled:  true,
		CacheCapacity: 1000,
		CacheTTL:      30 * 24 * time.Hour,
	}
}

// Deliberator runs council deliberations against an LLM provider.
type Deliberator struct {
	cfg       Config
	provider  llm.Provider
	sanitizer *masking.Service

	mu        sync.Mutex
	cache     *lru.Cache[string, cacheEntry]
	cacheHits int
}

// New constructs a Deliberator. sanitizer may be nil, in which case
// proposal content is passed to the LLM unsanitized — callers should
// always provide one outside of tests.
func New(cfg Config, provider llm.Provider, sanitizer *masking.Service) *Deliberator {
	capacity := cfg.CacheCapacity
	if capacity <= 0 {
		capacity = 1000
	}
	cache, _ := lru.New[string, cacheEntry](capacity)
	return &Deliberator{cfg: cfg, provider: provider, sanitizer: sanitizer, cache: cache}
}

// CacheHits returns the number of deliberations served from cache since
// construction.
func (d *Deliberator) CacheHits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cacheHits
}

// Deliberate runs (or retrieves the cached result of) a full council
// deliberation on proposal, using the named profile to select how many
// members weigh in.
func (d *Deliberator) Deliberate(ctx context.Context, proposal Proposal, profile Profile, skipCache bool) (*Opinion, error) {
	key := proposal.cacheKey()

	if d.cfg.CacheEnabled && !skipCache {
		d.mu.Lock()
		entry, ok := d.cache.Get(key)
		d.mu.Unlock()
		if ok && time.Since(entry.cachedAt) < d.cfg.CacheTTL {
			d.mu.Lock()
			d.cacheHits++
			d.mu.Unlock()
			return entry.opinion, nil
		}
	}

	members := membersForProfile(d.cfg.Members, profile)

	// Member deliberations run sequentially per spec §5's "deterministic
	// ordering matters for logs" requirement.
	opinions := make([]MemberOpinion, 0, len(members))
	for _, m := range members {
		op, err := d.deliberateOne(ctx, m, proposal)
		if err != nil {
			slog.Warn("ghost council member failed, recording abstain", "member", m.Name, "error", err)
			op = MemberOpinion{
				Member:    m.Name,
				Synthesis: Synthesis{Vote: VoteAbstain, Reasoning: "member deliberation failed: " + err.Error()},
			}
		}
		opinions = append(opinions, op)
	}

	opinion := combineConsensus(members, opinions, proposal)

	if d.cfg.CacheEnabled {
		d.mu.Lock()
		d.cache.Add(key, cacheEntry{opinion: opinion, cachedAt: time.Now()})
		d.mu.Unlock()
	}

	return opinion, nil
}

func (d *Deliberator) deliberateOne(ctx context.Context, m Member, proposal Proposal) (MemberOpinion, error) {
	systemPrompt := m.Persona + " Respond with a single JSON object matching the tri-perspective schema: " +
		`{"optimistic":{"assessment":"","key_points":[],"confidence":0},` +
		`"balanced":{...},"critical":{...},` +
		`"synthesis":{"vote":"APPROVE|REJECT|ABSTAIN","reasoning":"","confidence":0,"benefits":[],"concerns":[]}}`

	title := proposal.Title
	description := proposal.Description
	if d.sanitizer != nil {
		title = d.sanitizer.Sanitize(title)
		description = d.sanitizer.WrapForPrompt("proposal_description", description)
	}
	userPrompt := fmt.Sprintf("Proposal title: %s\n%s", title, description)

	raw, err := d.provider.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return MemberOpinion{}, err
	}

	var op MemberOpinion
	if err := json.Unmarshal([]byte(raw), &op); err != nil {
		// malformed JSON is treated as ABSTAIN with empty perspectives,
		// per spec §4's LLM contract — not an error.
		return MemberOpinion{Member: m.Name, Synthesis: Synthesis{Vote: VoteAbstain}}, nil
	}
	op.Member = m.Name
	return op, nil
}

func combineConsensus(members []Member, opinions []MemberOpinion, proposal Proposal) *Opinion {
	weightByName := make(map[string]float64, len(members))
	for _, m := range members {
		weightByName[m.Name] = m.Weight
	}

	buckets := map[Vote]float64{VoteApprove: 0, VoteReject: 0, VoteAbstain: 0}
	totalWeight := 0.0
	benefitCount, concernCount := 0, 0
	perspectiveSummary := map[string][]string{"optimistic": {}, "balanced": {}, "critical": {}}

	for _, op := range opinions {
		w := weightByName[op.Member]
		buckets[op.Synthesis.Vote] += w * op.Synthesis.Confidence
		totalWeight += w
		benefitCount += len(op.Synthesis.Benefits)
		concernCount += len(op.Synthesis.Concerns)

		if len(perspectiveSummary["optimistic"]) < 5 && op.Optimistic.Assessment != "" {
			perspectiveSummary["optimistic"] = append(perspectiveSummary["optimistic"], op.Optimistic.Assessment)
		}
		if len(perspectiveSummary["balanced"]) < 5 && op.Balanced.Assessment != "" {
			perspectiveSummary["balanced"] = append(perspectiveSummary["balanced"], op.Balanced.Assessment)
		}
		if len(perspectiveSummary["critical"]) < 5 && op.Critical.Assessment != "" {
			perspectiveSummary["critical"] = append(perspectiveSummary["critical"], op.Critical.Assessment)
		}
	}

	consensus, winningWeight := argmaxVote(buckets)
	strength := 0.0
	if totalWeight > 0 {
		strength = winningWeight / totalWeight
	}

	override := false
	if proposal.Type == ProposalSeriousIssue && proposal.Severity == "critical" && consensus == VoteReject && !unanimousReject(opinions) {
		consensus = VoteApprove
		override = true
	}

	rec := recommendationText(consensus, strength, benefitCount, concernCount, override)

	return &Opinion{
		ConsensusVote:        consensus,
		Strength:             strength,
		Recommendation:       rec,
		MemberOpinions:       opinions,
		BenefitCount:         benefitCount,
		ConcernCount:         concernCount,
		PerspectiveSummary:   joinSummaries(perspectiveSummary),
		SeriousIssueOverride: override,
	}
}

func argmaxVote(buckets map[Vote]float64) (Vote, float64) {
	best := VoteAbstain
	bestWeight := buckets[VoteAbstain]
	for _, v := range []Vote{VoteApprove, VoteReject} {
		if buckets[v] > bestWeight {
			best = v
			bestWeight = buckets[v]
		}
	}
	return best, bestWeight
}

func unanimousReject(opinions []MemberOpinion) bool {
	for _, op := range opinions {
		if op.Synthesis.Vote != VoteReject {
			return false
		}
	}
	return len(opinions) > 0
}

func joinSummaries(m map[string][]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		s := ""
		for i, part := range v {
			if i > 0 {
				s += " "
			}
			s += part
		}
		out[k] = s
	}
	return out
}

func recommendationText(vote Vote, strength float64, benefits, concerns int, override bool) string {
	var band string
	switch {
	case vote == VoteApprove && strength >= 0.85:
		band = fmt.Sprintf("STRONGLY APPROVE (strength %.2f, %d benefits noted, %d concerns noted)", strength, benefits, concerns)
	case vote == VoteApprove:
		band = fmt.Sprintf("APPROVE WITH CAUTION (strength %.2f, %d benefits noted, %d concerns noted)", strength, benefits, concerns)
	case vote == VoteReject && strength >= 0.85:
		band = fmt.Sprintf("STRONGLY REJECT (strength %.2f, %d concerns noted, %d benefits noted)", strength, concerns, benefits)
	case vote == VoteReject:
		band = fmt.Sprintf("LEAN REJECT (strength %.2f, %d concerns noted, %d benefits noted)", strength, concerns, benefits)
	default:
		band = fmt.Sprintf("NO CONSENSUS (strength %.2f, %d benefits noted, %d concerns noted)", strength, benefits, concerns)
	}
	if override {
		band += " — critical severity overrode a REJECT consensus because rejection was not unanimous"
	}
	return band
}
