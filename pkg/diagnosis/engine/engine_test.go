package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/ontology"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/scoring"
)

type fakeGraph struct {
	diseases []*models.DiseaseRecord
}

func (g *fakeGraph) DiseasesByPhenotypes(_ context.Context, codes []string, minOverlap int) ([]*models.DiseaseRecord, error) {
	have := make(map[string]bool)
	for _, c := range codes {
		have[c] = true
	}
	var out []*models.DiseaseRecord
	for _, d := range g.diseases {
		n := 0
		for _, p := range d.ExpectedPhenotypes {
			if have[p] {
				n++
			}
		}
		if n >= minOverlap {
			out = append(out, d)
		}
	}
	return out, nil
}

func (g *fakeGraph) DiseasesByGenes(_ context.Context, genes []string) ([]*models.DiseaseRecord, error) {
	want := make(map[string]bool)
	for _, gn := range genes {
		want[gn] = true
	}
	var out []*models.DiseaseRecord
	for _, d := range g.diseases {
		for _, gn := range d.AssociatedGenes {
			if want[gn] {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

func (g *fakeGraph) Disease(_ context.Context, id string) (*models.DiseaseRecord, error) {
	for _, d := range g.diseases {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func cfDisease() *models.DiseaseRecord {
	return &models.DiseaseRecord{
		ID:                 "OMIM:219700",
		Name:                "Cystic fibrosis",
		Inheritance:         "autosomal_recessive",
		AssociatedGenes:     []string{"CFTR"},
		ExpectedPhenotypes:  []string{"HP:0002090", "HP:0002024"},
		CorePhenotypes:      []string{"HP:0002090"},
		PhenotypeFrequency: map[string]float64{"HP:0002090": 0.9, "HP:0002024": 0.85},
	}
}

func newOntologyService() *ontology.Service {
	s := ontology.NewService(64)
	s.Load(ontology.DefaultTerms())
	return s
}

func newEngine() (*Engine, *fakeGraph) {
	graph := &fakeGraph{diseases: []*models.DiseaseRecord{cfDisease()}}
	ont := newOntologyService()
	scorer := scoring.NewScorer(scoring.DefaultConfig())
	c := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	return New(graph, ont, scorer, c), graph
}

func TestProcessIntake_ResolvesKnownTermAndHonorsNegationPrefix(t *testing.T) {
	e, _ := newEngine()
	patient := e.ProcessIntake([]string{"Pulmonary disease", "NOT:Splenomegaly", "gibberish-unmatched"}, nil, nil, nil, models.Demographics{})

	assert.Contains(t, patient.PhenotypeCodes, "HP:0002090")
	assert.Contains(t, patient.NegatedPhenotypeCodes, "HP:0001744")
}

func TestGenerateHypotheses_MergesPhenotypeAndGeneticAgentResults(t *testing.T) {
	e, _ := newEngine()
	patient := &models.PatientData{
		PhenotypeCodes: []string{"HP:0002090", "HP:0002024"},
		Variants:       []models.Variant{{Gene: "CFTR", Pathogenicity: "pathogenic"}},
	}

	hyps, err := e.GenerateHypotheses(context.Background(), patient)
	require.NoError(t, err)
	require.Len(t, hyps, 1)
	assert.Equal(t, "OMIM:219700", hyps[0].DiseaseID)
}

func TestScoreHypotheses_SortsDescendingAndAssignsRank(t *testing.T) {
	e, _ := newEngine()
	byID := map[string]*models.DiseaseRecord{"OMIM:219700": cfDisease()}
	hyps := []*models.Hypothesis{
		{DiseaseID: "OMIM:219700", Prior: 0.01},
		{DiseaseID: "unknown", Prior: 0.01, CombinedScore: 0.99},
	}

	top, complete := e.ScoreHypotheses(hyps, byID, &models.PatientData{PhenotypeCodes: []string{"HP:0002090", "HP:0002024"}})

	assert.Equal(t, 1, hyps[0].Rank)
	assert.Equal(t, 2, hyps[1].Rank)
	assert.NotEmpty(t, top)
	assert.True(t, complete)
}

func TestScoreHypotheses_DeclaresCompleteAboveConfidenceThreshold(t *testing.T) {
	e, _ := newEngine()
	hyps := []*models.Hypothesis{
		{DiseaseID: "OMIM:219700", CombinedScore: 0.95, Prior: 0.01},
	}

	_, complete := e.ScoreHypotheses(hyps, map[string]*models.DiseaseRecord{}, &models.PatientData{})

	assert.True(t, complete)
}

func TestGenerateQuestions_SkipsAlreadyAskedAndRespectsLimit(t *testing.T) {
	e, _ := newEngine()
	hyps := []*models.Hypothesis{
		{ExpectedPhenotypes: []string{"HP:0002090", "HP:0002024"}, CombinedScore: 0.6},
		{MissingPhenotypes: []string{"HP:0002090"}, CombinedScore: 0.3},
	}

	questions := e.GenerateQuestions(hyps, map[string]bool{"HP:0002024": true}, 1, &models.PatientData{})

	require.Len(t, questions, 1)
	assert.Equal(t, "HP:0002090", questions[0].TargetPhenotype)
	assert.Equal(t, models.QuestionBinary, questions[0].Type)
}

func TestGenerateQuestions_AddsGeneticQuestionWhenNoVariantsKnown(t *testing.T) {
	e, _ := newEngine()
	hyps := []*models.Hypothesis{
		{AssociatedGenes: []string{"CFTR"}, CombinedScore: 0.6},
	}

	questions := e.GenerateQuestions(hyps, map[string]bool{}, 0, &models.PatientData{})

	require.Len(t, questions, 1)
	assert.Equal(t, []string{"CFTR"}, questions[0].TargetGenes)
}

func TestGenerateQuestions_OmitsGeneticQuestionWhenVariantsAlreadyKnown(t *testing.T) {
	e, _ := newEngine()
	hyps := []*models.Hypothesis{
		{AssociatedGenes: []string{"CFTR"}, CombinedScore: 0.6},
	}

	patient := &models.PatientData{Variants: []models.Variant{{Gene: "CFTR", Pathogenicity: "pathogenic"}}}
	questions := e.GenerateQuestions(hyps, map[string]bool{}, 0, patient)

	assert.Empty(t, questions)
}

func TestAnswerQuestion_YesAddsPhenotypeNoAddsNegation(t *testing.T) {
	e, _ := newEngine()
	patient := &models.PatientData{}

	yes := &models.FollowUpQuestion{TargetPhenotype: "HP:0002090"}
	e.AnswerQuestion(yes, "yes", patient)
	assert.Contains(t, patient.PhenotypeCodes, "HP:0002090")
	assert.False(t, yes.AnsweredAt.IsZero())

	no := &models.FollowUpQuestion{TargetPhenotype: "HP:0002024"}
	e.AnswerQuestion(no, "no", patient)
	assert.Contains(t, patient.NegatedPhenotypeCodes, "HP:0002024")
}

func TestFinalizeSession_EmptyHypothesesIsError(t *testing.T) {
	e, _ := newEngine()
	_, err := e.FinalizeSession(nil)
	assert.Error(t, err)
}

func TestFinalizeSession_PicksHighestScoringAsPrimary(t *testing.T) {
	e, _ := newEngine()
	hyps := []*models.Hypothesis{
		{DiseaseID: "A", CombinedScore: 0.3, Posterior: 0.3},
		{DiseaseID: "B", CombinedScore: 0.9, Posterior: 0.9, SupportingEvidence: []string{"core finding present"}},
	}

	result, err := e.FinalizeSession(hyps)
	require.NoError(t, err)
	assert.Equal(t, "B", result.PrimaryDiagnosis.DiseaseID)
	assert.Equal(t, "strong evidence", result.EvidenceStrengthSummary)
	require.Len(t, result.Differential, 1)
	assert.Equal(t, "A", result.Differential[0].DiseaseID)
}
