// Package engine implements the Diagnosis Engine from spec §4.13: the
// operations that drive a single diagnostic session from raw intake
// text through a scored differential to a finalized result, delegating
// hypothesis generation to the specialist agents over the message bus
// and scoring to the Bayesian scorer.
package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/agent"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/ontology"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/scoring"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/specialist"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/validation"
	"github.com/google/uuid"
)

// maxDifferential is the number of ranked hypotheses finalize_session
// keeps in all: the primary diagnosis plus maxDifferential-1 others.
const maxDifferential = 5

// minInformationGain is the floor below which a candidate question is
// not worth asking — the remaining hypotheses are already close enough
// in probability mass that resolving this one phenotype would not move
// the ranking.
const minInformationGain = 0.02

// eliminationThreshold is the floor a hypothesis's combined score must
// clear after score_hypotheses re-ranks the full set to remain in
// top_hypotheses; anything below it is no longer worth asking follow-up
// questions about.
const eliminationThreshold = 0.05

// confidenceThreshold is the early-termination threshold from spec
// §4.14/§6 (default 0.9): a top hypothesis this confident short-circuits
// the remaining question-asking loop straight to completion.
const confidenceThreshold = 0.9

// GeneticQuestionSentinel is the AlreadyAsked key GenerateQuestions sets
// once it has offered the single genetic-testing question, so it is not
// offered again on a later iteration of the same session.
const GeneticQuestionSentinel = "__genetic_question__"

// Engine holds the collaborators every diagnosis operation needs. A new
// Engine's specialist agents and bus are private to that engine: two
// concurrent sessions never share bus traffic.
type Engine struct {
	bus          *agent.Bus
	graph        models.KnowledgeGraph
	phenotype    *specialist.PhenotypeAgent
	genetic      *specialist.GeneticAgent
	differential *specialist.DifferentialAgent
	ontology     *ontology.Service
	scorer       *scoring.Scorer
	clock        clock.Clock
}

// New wires the specialist agents onto a fresh bus and returns the
// engine that drives sessions through them.
func New(graph models.KnowledgeGraph, ont *ontology.Service, scorer *scoring.Scorer, c clock.Clock) *Engine {
	bus := agent.NewBus()
	return &Engine{
		bus:          bus,
		graph:        graph,
		phenotype:    specialist.NewPhenotypeAgent(bus, graph, ont, scorer),
		genetic:      specialist.NewGeneticAgent(bus, graph, scorer),
		differential: specialist.NewDifferentialAgent(bus, scorer),
		ontology:     ont,
		scorer:       scorer,
		clock:        c,
	}
}

// ProcessIntake normalizes raw intake tokens into PatientData: each
// token is checked against the negation-prefix convention, stripped,
// and resolved to an HPO code via the ontology service. Tokens that do
// not resolve to any known term are dropped rather than failing the
// whole intake — free-text symptom entry is inherently noisy.
func (e *Engine) ProcessIntake(tokens []string, variants []models.Variant, history, familyHistory []string, demo models.Demographics) *models.PatientData {
	patient := &models.PatientData{
		Variants:      variants,
		History:       history,
		FamilyHistory: familyHistory,
		Demographics:  demo,
	}

	for _, raw := range tokens {
		negated := validation.IsNegatedPhenotypeToken(raw)
		text := validation.StripNegationPrefix(raw)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		var code string
		if validation.IsHPOCode(text) {
			code = text
		} else {
			code = e.ontology.Resolve(text)
		}
		if code == "" {
			continue
		}

		if negated {
			patient.NegatedPhenotypeCodes = append(patient.NegatedPhenotypeCodes, code)
		} else {
			patient.PhenotypeCodes = append(patient.PhenotypeCodes, code)
		}
	}

	return patient
}

// GenerateHypotheses fans the patient data out to the phenotype and
// genetic specialists in parallel over the bus, then merges their
// results through the differential agent into a single ranked set.
func (e *Engine) GenerateHypotheses(ctx context.Context, patient *models.PatientData) ([]*models.Hypothesis, error) {
	phenotypeCh := make(chan specialistResult, 1)
	geneticCh := make(chan specialistResult, 1)

	go func() {
		req := agent.NewRequest(agent.MessageHypothesisRequest, "engine", e.phenotype.Name())
		req.Patient = patient
		resp, err := e.bus.Request(ctx, req)
		phenotypeCh <- toResult(resp, err)
	}()
	go func() {
		req := agent.NewRequest(agent.MessageHypothesisRequest, "engine", e.genetic.Name())
		req.Patient = patient
		resp, err := e.bus.Request(ctx, req)
		geneticCh <- toResult(resp, err)
	}()

	pr := <-phenotypeCh
	gr := <-geneticCh

	// A specialist failure is logged as a degraded differential rather
	// than aborting the session: a partial answer beats none. Both
	// failing at once is the only case treated as a hard error.
	if pr.err != nil && gr.err != nil {
		return nil, errs.Transient("all specialist agents failed to produce hypotheses", pr.err)
	}

	merged := e.differential.Merge(pr.hyps, gr.hyps)
	return merged, nil
}

type specialistResult struct {
	hyps []*models.Hypothesis
	err  *agent.AgentError
}

func toResult(resp *agent.Message, err error) specialistResult {
	if err != nil {
		return specialistResult{err: &agent.AgentError{Agent: "bus", Message: "request failed", Cause: err}}
	}
	if resp == nil {
		return specialistResult{}
	}
	if resp.Type == agent.MessageError {
		return specialistResult{err: resp.Err}
	}
	return specialistResult{hyps: resp.Hypotheses}
}

// ScoreHypotheses re-scores every hypothesis against the current patient
// data, sorts the slice by descending combined score, and assigns Rank
// in place. It returns top_hypotheses — the subset clearing
// eliminationThreshold — and whether the top-ranked hypothesis alone
// already clears confidenceThreshold, in which case the session can
// finalize without asking any further questions.
func (e *Engine) ScoreHypotheses(hypotheses []*models.Hypothesis, diseaseByID map[string]*models.DiseaseRecord, patient *models.PatientData) (top []*models.Hypothesis, complete bool) {
	for _, h := range hypotheses {
		if d, ok := diseaseByID[h.DiseaseID]; ok {
			e.scorer.Score(h, d, patient)
		}
	}
	sort.SliceStable(hypotheses, func(i, j int) bool {
		return hypotheses[i].CombinedScore > hypotheses[j].CombinedScore
	})
	for i, h := range hypotheses {
		h.Rank = i + 1
		if h.CombinedScore >= eliminationThreshold {
			top = append(top, h)
		}
	}
	complete = len(hypotheses) > 0 && hypotheses[0].CombinedScore >= confidenceThreshold
	return top, complete
}

// RescoreTopHypotheses re-fetches each hypothesis's disease record from
// the knowledge graph and re-scores the full set via ScoreHypotheses —
// the explicit score_hypotheses step spec §4.13 runs after
// generate_hypotheses, on top of whatever per-specialist scoring already
// happened while the hypotheses were first proposed.
func (e *Engine) RescoreTopHypotheses(ctx context.Context, hypotheses []*models.Hypothesis, patient *models.PatientData) (top []*models.Hypothesis, complete bool, err error) {
	diseaseByID := make(map[string]*models.DiseaseRecord, len(hypotheses))
	for _, h := range hypotheses {
		if _, ok := diseaseByID[h.DiseaseID]; ok {
			continue
		}
		d, derr := e.graph.Disease(ctx, h.DiseaseID)
		if derr != nil {
			return nil, false, errs.Transient("knowledge graph disease lookup failed", derr)
		}
		if d != nil {
			diseaseByID[h.DiseaseID] = d
		}
	}
	top, complete = e.ScoreHypotheses(hypotheses, diseaseByID, patient)
	return top, complete, nil
}

// GenerateQuestions picks up to limit candidate follow-up questions by
// information gain, one per still-unasked phenotype mentioned by any
// hypothesis's expected or missing phenotype lists, skipping any below
// minInformationGain. When none clear that floor, it falls back to the
// discriminator-suggestion formula over the top hypotheses. If the
// patient has reported no genetic variants but the hypothesis set names
// candidate genes, a single genetic-testing question is appended on top
// of the limit.
func (e *Engine) GenerateQuestions(hypotheses []*models.Hypothesis, alreadyAsked map[string]bool, limit int, patient *models.PatientData) []*models.FollowUpQuestion {
	candidates := candidatePhenotypes(hypotheses, alreadyAsked)

	type scored struct {
		phenotype string
		gain      float64
	}
	var ranked []scored
	for _, p := range candidates {
		gain := scoring.InformationGain(hypotheses, p)
		if gain >= minInformationGain {
			ranked = append(ranked, scored{phenotype: p, gain: gain})
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].gain > ranked[j].gain })

	if len(ranked) == 0 {
		for _, d := range e.phenotype.SuggestDiscriminators(hypotheses, patient) {
			if alreadyAsked[d.Phenotype] {
				continue
			}
			ranked = append(ranked, scored{phenotype: d.Phenotype, gain: d.Score})
		}
	}

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	questions := make([]*models.FollowUpQuestion, 0, len(ranked)+1)
	for i, r := range ranked {
		term := e.ontology.Lookup(r.phenotype)
		text := "Does the patient have " + r.phenotype + "?"
		if term != nil {
			text = "Does the patient have " + term.Name + "?"
		}
		questions = append(questions, &models.FollowUpQuestion{
			ID:              uuid.NewString(),
			Text:            text,
			Type:            models.QuestionBinary,
			TargetPhenotype: r.phenotype,
			Options:         []string{"yes", "no", "unknown"},
			InformationGain: r.gain,
			Priority:        i + 1,
		})
	}

	if q := e.geneticQuestion(hypotheses, alreadyAsked, patient, len(questions)+1); q != nil {
		questions = append(questions, q)
	}
	return questions
}

// geneticQuestion builds the single optional genetic-testing question
// from spec §4.13: when the patient hasn't reported any variants but
// the hypothesis set names candidate genes, ask whether genetic testing
// for those genes would help. Offered at most once per session via
// GeneticQuestionSentinel.
func (e *Engine) geneticQuestion(hypotheses []*models.Hypothesis, alreadyAsked map[string]bool, patient *models.PatientData, priority int) *models.FollowUpQuestion {
	if patient == nil || len(patient.Variants) > 0 || alreadyAsked[GeneticQuestionSentinel] {
		return nil
	}
	genes := candidateGenes(hypotheses)
	if len(genes) == 0 {
		return nil
	}
	return &models.FollowUpQuestion{
		ID:          uuid.NewString(),
		Text:        "Would genetic testing for " + strings.Join(genes, ", ") + " help confirm or rule out a diagnosis?",
		Type:        models.QuestionBinary,
		TargetGenes: genes,
		Options:     []string{"yes", "no", "unknown"},
		Priority:    priority,
	}
}

func candidateGenes(hypotheses []*models.Hypothesis) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range hypotheses {
		for _, g := range h.AssociatedGenes {
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
	}
	sort.Strings(out)
	return out
}

func candidatePhenotypes(hypotheses []*models.Hypothesis, alreadyAsked map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range hypotheses {
		for _, p := range append(append([]string{}, h.ExpectedPhenotypes...), h.MissingPhenotypes...) {
			if !seen[p] && !alreadyAsked[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// AnswerQuestion records the subject's response and, for a "yes"
// answer, folds the phenotype into the patient's observed set (or the
// negated set for "no") so the next scoring pass reflects it.
func (e *Engine) AnswerQuestion(q *models.FollowUpQuestion, answer string, patient *models.PatientData) {
	q.Answer = answer
	q.AnsweredAt = e.clock.Now()

	if q.TargetPhenotype == "" {
		return
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes":
		patient.PhenotypeCodes = append(patient.PhenotypeCodes, q.TargetPhenotype)
	case "no":
		patient.NegatedPhenotypeCodes = append(patient.NegatedPhenotypeCodes, q.TargetPhenotype)
	}
}

// FinalizeSession produces the DiagnosisResult: the top-ranked
// hypothesis as primary, the next maxDifferential-1 as differential,
// and a short evidence summary.
func (e *Engine) FinalizeSession(hypotheses []*models.Hypothesis) (*models.DiagnosisResult, error) {
	if len(hypotheses) == 0 {
		return nil, errs.ValidationFailed("cannot finalize a session with no hypotheses", nil)
	}

	sorted := make([]*models.Hypothesis, len(hypotheses))
	copy(sorted, hypotheses)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CombinedScore > sorted[j].CombinedScore })

	primary := sorted[0]
	differential := sorted[1:]
	if len(differential) > maxDifferential-1 {
		differential = differential[:maxDifferential-1]
	}

	var findings []string
	findings = append(findings, primary.SupportingEvidence...)

	var tests []string
	for _, p := range primary.MissingPhenotypes {
		tests = append(tests, "evaluate for "+p)
	}

	summary := summarizeEvidence(primary)

	return &models.DiagnosisResult{
		PrimaryDiagnosis:        primary,
		Differential:            differential,
		KeyFindings:             findings,
		RecommendedTests:        tests,
		EvidenceStrengthSummary: summary,
	}, nil
}

func summarizeEvidence(h *models.Hypothesis) string {
	switch {
	case h.Posterior >= 0.8:
		return "strong evidence"
	case h.Posterior >= 0.5:
		return "moderate evidence"
	case h.Posterior >= 0.2:
		return "weak evidence"
	default:
		return "insufficient evidence"
	}
}
