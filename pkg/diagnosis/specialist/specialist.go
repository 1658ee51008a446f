// Package specialist implements the three differential-diagnosis
// specialist agents from spec §4.11: PhenotypeAgent, GeneticAgent, and
// DifferentialAgent. Each wraps the shared knowledge graph and ontology
// lookups behind the agent.Agent message-bus interface.
package specialist

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/agent"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/ontology"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/scoring"
)

// minPhenotypeOverlap is the floor of expected-phenotype overlap a
// disease needs before the PhenotypeAgent proposes it as a hypothesis.
const minPhenotypeOverlap = 2

// PhenotypeAgent proposes hypotheses by matching the patient's observed
// phenotype codes against the knowledge graph, widened one ontology hop
// in either direction so near-miss terms still surface candidates.
type PhenotypeAgent struct {
	bus      *agent.Bus
	graph    models.KnowledgeGraph
	ontology *ontology.Service
	scorer   *scoring.Scorer
}

// NewPhenotypeAgent constructs the phenotype specialist and subscribes
// it to bus.
func NewPhenotypeAgent(bus *agent.Bus, graph models.KnowledgeGraph, ont *ontology.Service, scorer *scoring.Scorer) *PhenotypeAgent {
	a := &PhenotypeAgent{bus: bus, graph: graph, ontology: ont, scorer: scorer}
	bus.Subscribe(a)
	return a
}

func (a *PhenotypeAgent) Name() string { return "phenotype_agent" }

func (a *PhenotypeAgent) Receive(ctx context.Context, msg *agent.Message) error {
	if msg.Type != agent.MessageHypothesisRequest || msg.Patient == nil {
		return nil
	}

	expanded := a.expandPhenotypes(msg.Patient.PhenotypeCodes)
	diseases, err := a.graph.DiseasesByPhenotypes(ctx, expanded, minPhenotypeOverlap)
	if err != nil {
		return a.bus.Publish(ctx, msg.ReplyError(a.Name(), &agent.AgentError{
			Agent: a.Name(), Message: "knowledge graph lookup failed", Recoverable: true, Cause: err,
		}))
	}

	hypotheses := make([]*models.Hypothesis, 0, len(diseases))
	for _, d := range diseases {
		h := buildHypothesis(d, msg.Patient)
		a.scorer.Score(h, d, msg.Patient)
		a.applyRecallPrecisionScore(h, d, msg.Patient)
		hypotheses = append(hypotheses, h)
	}

	resp := msg.Reply(agent.MessageHypothesisResponse, a.Name())
	resp.Hypotheses = hypotheses
	return a.bus.Publish(ctx, resp)
}

// applyRecallPrecisionScore overrides h.PhenotypeScore with spec §4.11's
// literal recall/precision formula — recall against everything the
// patient reported, precision against everything the disease expects —
// then recombines CombinedScore so it stays consistent with the
// override.
func (a *PhenotypeAgent) applyRecallPrecisionScore(h *models.Hypothesis, disease *models.DiseaseRecord, patient *models.PatientData) {
	matches := float64(len(h.MatchedPhenotypes))
	patientCount := float64(len(patient.PhenotypeCodes))
	expectedCount := float64(len(disease.ExpectedPhenotypes))

	var recall, precision float64
	if patientCount > 0 {
		recall = matches / patientCount
	}
	if expectedCount > 0 {
		precision = matches / expectedCount
	}
	h.PhenotypeScore = (recall + precision) / 2
	a.scorer.Recombine(h)
}

// DiscriminatorSuggestion names a phenotype absent from the patient that
// would most sharply split the current differential if asked about,
// along with its discriminator score.
type DiscriminatorSuggestion struct {
	Phenotype string
	Score     float64
}

// SuggestDiscriminators ranks candidate discriminating phenotypes across
// the top-5 hypotheses per spec §4.11: for each phenotype the patient
// hasn't reported but at least one top hypothesis expects, the
// discriminator score is 1 - |present_fraction - 0.5| * 2, where
// present_fraction is the share of those top hypotheses that expect it.
// A phenotype that splits the field exactly in half scores highest.
func (a *PhenotypeAgent) SuggestDiscriminators(hypotheses []*models.Hypothesis, patient *models.PatientData) []DiscriminatorSuggestion {
	top := hypotheses
	if len(top) > 5 {
		top = top[:5]
	}
	if len(top) == 0 {
		return nil
	}

	reported := make(map[string]bool, len(patient.PhenotypeCodes))
	for _, p := range patient.PhenotypeCodes {
		reported[p] = true
	}

	counts := make(map[string]int)
	for _, h := range top {
		for _, p := range h.ExpectedPhenotypes {
			if !reported[p] {
				counts[p]++
			}
		}
	}

	out := make([]DiscriminatorSuggestion, 0, len(counts))
	for phenotype, n := range counts {
		presentFraction := float64(n) / float64(len(top))
		out = append(out, DiscriminatorSuggestion{
			Phenotype: phenotype,
			Score:     1 - math.Abs(presentFraction-0.5)*2,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Phenotype < out[j].Phenotype
	})
	return out
}

// expandPhenotypes widens the observed code set by one ontology hop in
// both directions, deduplicated, so a disease whose expected phenotype
// is a slightly more specific or more general term than what was
// observed is not missed.
func (a *PhenotypeAgent) expandPhenotypes(codes []string) []string {
	seen := make(map[string]bool, len(codes)*3)
	out := make([]string, 0, len(codes)*3)
	add := func(c string) {
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range codes {
		add(c)
		for _, p := range a.ontology.Ancestors(c, 1) {
			add(p)
		}
		for _, c2 := range a.ontology.Descendants(c, 1) {
			add(c2)
		}
	}
	return out
}

// GeneticAgent proposes hypotheses from the patient's reported variants,
// including compound-heterozygous detection for autosomal-recessive
// diseases with two or more distinct pathogenic/likely-pathogenic
// variants in the same gene.
type GeneticAgent struct {
	bus    *agent.Bus
	graph  models.KnowledgeGraph
	scorer *scoring.Scorer
}

// NewGeneticAgent constructs the genetic specialist and subscribes it
// to bus.
func NewGeneticAgent(bus *agent.Bus, graph models.KnowledgeGraph, scorer *scoring.Scorer) *GeneticAgent {
	a := &GeneticAgent{bus: bus, graph: graph, scorer: scorer}
	bus.Subscribe(a)
	return a
}

func (a *GeneticAgent) Name() string { return "genetic_agent" }

func (a *GeneticAgent) Receive(ctx context.Context, msg *agent.Message) error {
	if msg.Type != agent.MessageHypothesisRequest || msg.Patient == nil {
		return nil
	}

	genes := make([]string, 0, len(msg.Patient.Variants))
	for _, v := range msg.Patient.Variants {
		genes = append(genes, v.Gene)
	}
	if len(genes) == 0 {
		resp := msg.Reply(agent.MessageHypothesisResponse, a.Name())
		return a.bus.Publish(ctx, resp)
	}

	diseases, err := a.graph.DiseasesByGenes(ctx, genes)
	if err != nil {
		return a.bus.Publish(ctx, msg.ReplyError(a.Name(), &agent.AgentError{
			Agent: a.Name(), Message: "knowledge graph lookup failed", Recoverable: true, Cause: err,
		}))
	}

	hypotheses := make([]*models.Hypothesis, 0, len(diseases))
	for _, d := range diseases {
		h := buildHypothesis(d, msg.Patient)
		if isRecessiveInheritance(d.Inheritance) && hasCompoundHet(d, msg.Patient) {
			h.SupportingEvidence = append(h.SupportingEvidence, "compound heterozygous variants detected in "+diseaseGeneList(d, msg.Patient))
		}
		a.scorer.Score(h, d, msg.Patient)
		a.applyCombinedGeneticScore(h, d, msg.Patient)
		hypotheses = append(hypotheses, h)
	}

	resp := msg.Reply(agent.MessageHypothesisResponse, a.Name())
	resp.Hypotheses = hypotheses
	return a.bus.Publish(ctx, resp)
}

// isRecessiveInheritance reports whether an inheritance pattern string
// names any recessive mode (autosomal_recessive, x_linked_recessive,
// ...), not just the autosomal case, since Inheritance is free text
// rather than a closed enum.
func isRecessiveInheritance(inheritance string) bool {
	return strings.Contains(strings.ToLower(inheritance), "recessive")
}

// applyCombinedGeneticScore overrides h.GeneticScore with spec §4.11's
// literal combined genetic score: the logistic of the log of the
// product of per-variant pathogenicity likelihood ratios, scaled down
// by 3 so a single strong variant doesn't saturate the score, then
// bounded to [0.01, 0.99] since a clean logistic never reaches that
// product's true tails.
func (a *GeneticAgent) applyCombinedGeneticScore(h *models.Hypothesis, disease *models.DiseaseRecord, patient *models.PatientData) {
	lr := a.scorer.GeneticLikelihoodRatio(disease, patient)
	if lr <= 0 {
		lr = 1e-9
	}
	score := 1 / (1 + math.Exp(-math.Log(lr)/3))
	if score < 0.01 {
		score = 0.01
	}
	if score > 0.99 {
		score = 0.99
	}
	h.GeneticScore = score
	a.scorer.Recombine(h)
}

// hasCompoundHet reports whether the patient carries two or more
// distinct pathogenic-or-likely-pathogenic variants in any gene
// associated with disease.
func hasCompoundHet(disease *models.DiseaseRecord, patient *models.PatientData) bool {
	geneSet := make(map[string]bool, len(disease.AssociatedGenes))
	for _, g := range disease.AssociatedGenes {
		geneSet[g] = true
	}
	counts := make(map[string]int)
	for _, v := range patient.Variants {
		if !geneSet[v.Gene] {
			continue
		}
		if v.Pathogenicity == "pathogenic" || v.Pathogenicity == "likely_pathogenic" {
			counts[v.Gene]++
		}
	}
	for _, n := range counts {
		if n >= 2 {
			return true
		}
	}
	return false
}

func diseaseGeneList(disease *models.DiseaseRecord, patient *models.PatientData) string {
	geneSet := make(map[string]bool, len(disease.AssociatedGenes))
	for _, g := range disease.AssociatedGenes {
		geneSet[g] = true
	}
	var out string
	for _, v := range patient.Variants {
		if geneSet[v.Gene] {
			if out != "" {
				out += ", "
			}
			out += v.Gene
		}
	}
	return out
}

// DifferentialAgent aggregates the phenotype and genetic specialists'
// hypotheses, deduplicating by disease id and re-ranking by combined
// score — the final pass before the engine surfaces a differential to
// the session controller.
type DifferentialAgent struct {
	bus    *agent.Bus
	scorer *scoring.Scorer
}

// NewDifferentialAgent constructs the differential specialist and
// subscribes it to bus.
func NewDifferentialAgent(bus *agent.Bus, scorer *scoring.Scorer) *DifferentialAgent {
	a := &DifferentialAgent{bus: bus, scorer: scorer}
	bus.Subscribe(a)
	return a
}

func (a *DifferentialAgent) Name() string { return "differential_agent" }

func (a *DifferentialAgent) Receive(ctx context.Context, msg *agent.Message) error {
	return nil // the differential agent is driven directly by Merge, not via bus traffic
}

// minHypothesisScore is the default floor below which a merged
// hypothesis is dropped from the differential entirely.
const minHypothesisScore = 0.10

// Merge combines hypothesis sets from multiple specialists into a
// single ranked differential, summing evidence for hypotheses that name
// the same disease, dropping anything below minHypothesisScore, and
// classifying the survivors' confidence from the top score and its gap
// to the runner-up.
func (a *DifferentialAgent) Merge(sets ...[]*models.Hypothesis) []*models.Hypothesis {
	byDisease := make(map[string]*models.Hypothesis)
	for _, set := range sets {
		for _, h := range set {
			existing, ok := byDisease[h.DiseaseID]
			if !ok {
				byDisease[h.DiseaseID] = h
				continue
			}
			existing.SupportingEvidence = append(existing.SupportingEvidence, h.SupportingEvidence...)
			existing.RefutingEvidence = append(existing.RefutingEvidence, h.RefutingEvidence...)
			existing.MatchedPhenotypes = dedupeAppend(existing.MatchedPhenotypes, h.MatchedPhenotypes)
			if h.CombinedScore > existing.CombinedScore {
				existing.CombinedScore = h.CombinedScore
				existing.Posterior = h.Posterior
			}
		}
	}

	out := make([]*models.Hypothesis, 0, len(byDisease))
	for _, h := range byDisease {
		if h.CombinedScore < minHypothesisScore {
			continue
		}
		out = append(out, h)
	}
	rank(out)
	classifyConfidence(out)
	return out
}

// classifyConfidence labels each ranked hypothesis high/moderate/low/
// uncertain from the top score and how far it leads the runner-up: a
// wide, high-scoring lead is a confident call, a close field is not.
func classifyConfidence(hypotheses []*models.Hypothesis) {
	if len(hypotheses) == 0 {
		return
	}
	top := hypotheses[0].CombinedScore
	gap := top
	if len(hypotheses) > 1 {
		gap = top - hypotheses[1].CombinedScore
	}
	for i, h := range hypotheses {
		switch {
		case i == 0 && top >= 0.7 && gap >= 0.3:
			h.Confidence = "high"
		case i == 0 && top >= 0.5:
			h.Confidence = "moderate"
		case i == 0 && top >= minHypothesisScore:
			h.Confidence = "low"
		case h.CombinedScore >= minHypothesisScore:
			h.Confidence = "low"
		default:
			h.Confidence = "uncertain"
		}
	}
}

func dedupeAppend(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, b := range base {
		seen[b] = true
	}
	for _, e := range extra {
		if !seen[e] {
			seen[e] = true
			base = append(base, e)
		}
	}
	return base
}

func rank(hypotheses []*models.Hypothesis) {
	for i := 1; i < len(hypotheses); i++ {
		j := i
		for j > 0 && hypotheses[j-1].CombinedScore < hypotheses[j].CombinedScore {
			hypotheses[j-1], hypotheses[j] = hypotheses[j], hypotheses[j-1]
			j--
		}
	}
	for i, h := range hypotheses {
		h.Rank = i + 1
	}
}

func buildHypothesis(disease *models.DiseaseRecord, patient *models.PatientData) *models.Hypothesis {
	matched, missing := splitPhenotypes(disease, patient)
	return &models.Hypothesis{
		ID:                 uuid.NewString(),
		DiseaseID:          disease.ID,
		DiseaseName:        disease.Name,
		Prior:              disease.Prevalence,
		MatchedPhenotypes:  matched,
		ExpectedPhenotypes: disease.ExpectedPhenotypes,
		MissingPhenotypes:  missing,
		AssociatedGenes:    disease.AssociatedGenes,
		SupportingEvidence: []string{fmt.Sprintf("%d/%d expected phenotypes observed", len(matched), len(disease.ExpectedPhenotypes))},
	}
}

func splitPhenotypes(disease *models.DiseaseRecord, patient *models.PatientData) (matched, missing []string) {
	present := make(map[string]bool, len(patient.PhenotypeCodes))
	for _, p := range patient.PhenotypeCodes {
		present[p] = true
	}
	for _, expected := range disease.ExpectedPhenotypes {
		if present[expected] {
			matched = append(matched, expected)
		} else {
			missing = append(missing, expected)
		}
	}
	return matched, missing
}
