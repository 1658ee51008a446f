package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
)

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

func TestScore_MatchingEvidenceRaisesPosteriorAboveNeutral(t *testing.T) {
	s := NewScorer(DefaultConfig())
	disease := cfDisease()
	patient := &models.PatientData{
		PhenotypeCodes: []string{"HP:0002090", "HP:0002024"},
		Variants: []models.Variant{
			{Gene: "CFTR", Pathogenicity: "pathogenic"},
		},
	}
	h := &models.Hypothesis{Prior: 0.01}

	s.Score(h, disease, patient)

	assert.Greater(t, h.Posterior, 0.01)
	assert.Greater(t, h.PhenotypeScore, 0.5)
	assert.Greater(t, h.GeneticScore, 0.5)
	assert.Greater(t, h.CombinedScore, 0.0)
}

func TestScore_NegatedCorePhenotypeLowersPhenotypeScore(t *testing.T) {
	s := NewScorer(DefaultConfig())
	disease := cfDisease()

	withMatch := &models.Hypothesis{Prior: 0.01}
	s.Score(withMatch, disease, &models.PatientData{PhenotypeCodes: []string{"HP:0002090"}})

	withNegation := &models.Hypothesis{Prior: 0.01}
	s.Score(withNegation, disease, &models.PatientData{
		PhenotypeCodes:        []string{"HP:0002090"},
		NegatedPhenotypeCodes: []string{"HP:0002090"},
	})

	assert.Less(t, withNegation.PhenotypeScore, withMatch.PhenotypeScore)
}

func TestScore_UnrelatedGeneDoesNotContributeLikelihood(t *testing.T) {
	s := NewScorer(DefaultConfig())
	disease := cfDisease()
	patient := &models.PatientData{
		Variants: []models.Variant{{Gene: "BRCA1", Pathogenicity: "pathogenic"}},
	}
	h := &models.Hypothesis{Prior: 0.01}

	s.Score(h, disease, patient)

	assert.InDelta(t, 0.5, h.GeneticScore, 1e-9)
}

func TestScore_PosteriorStaysWithinConfiguredBounds(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg)
	disease := cfDisease()
	patient := &models.PatientData{
		PhenotypeCodes: []string{"HP:0002090", "HP:0002024"},
		Variants: []models.Variant{
			{Gene: "CFTR", Pathogenicity: "pathogenic"},
			{Gene: "CFTR", Pathogenicity: "pathogenic"},
		},
	}
	h := &models.Hypothesis{Prior: 0.99}

	s.Score(h, disease, patient)

	require.GreaterOrEqual(t, h.Posterior, cfg.MinPosterior)
	require.LessOrEqual(t, h.Posterior, cfg.MaxPosterior)
}

func TestInformationGain_ZeroForEmptyHypothesisSet(t *testing.T) {
	assert.Equal(t, 0.0, InformationGain(nil, "HP:0002090"))
}

func TestInformationGain_DiscriminatingPhenotypeScoresHigherThanUninformative(t *testing.T) {
	a := &models.Hypothesis{CombinedScore: 0.6, ExpectedPhenotypes: []string{"HP:0002090"}}
	b := &models.Hypothesis{CombinedScore: 0.4, MissingPhenotypes: []string{"HP:0002090"}}
	c := &models.Hypothesis{CombinedScore: 0.5}

	discriminating := InformationGain([]*models.Hypothesis{a, b}, "HP:0002090")
	uninformative := InformationGain([]*models.Hypothesis{a, c}, "HP:9999999")

	assert.Greater(t, discriminating, uninformative)
}

func TestInformationGain_NeverNegative(t *testing.T) {
	hyps := []*models.Hypothesis{
		{CombinedScore: 0.9, ExpectedPhenotypes: []string{"HP:0002090"}},
		{CombinedScore: 0.1, ExpectedPhenotypes: []string{"HP:0002090"}},
	}
	assert.GreaterOrEqual(t, InformationGain(hyps, "HP:0002090"), 0.0)
}
