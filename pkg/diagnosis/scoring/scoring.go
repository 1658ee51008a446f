// Package scoring implements the Bayesian Hypothesis Scorer from spec
// §4.12: per-hypothesis likelihood ratios combined by a weighted
// geometric mean into a posterior, plus the information-gain
// calculation that drives question selection.
package scoring

import (
	"math"
	"strings"

	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
)

// Weights are the component weights applied both to the geometric-mean
// likelihood-ratio combination and to the arithmetic-mean rank score.
type Weights struct {
	Phenotype float64
	Genetic   float64
	History   float64
	Wearable  float64
}

// DefaultWeights matches the Differential Agent's defaults from spec
// §4.11 so the two scoring passes stay comparable.
func DefaultWeights() Weights {
	return Weights{Phenotype: 0.40, Genetic: 0.35, History: 0.15, Wearable: 0.10}
}

// Config holds the scorer's tunable constants.
type Config struct {
	Weights              Weights
	MinPosterior         float64
	MaxPosterior         float64
	BackgroundPrevalence float64 // default prior for phenotype frequency when unknown
	PhenotypeAbsentLR    float64
	FamilyHistoryLR      float64
	NegatedHistoryLR     float64
	PathogenicLR         map[string]float64
}

// DefaultConfig returns spec §4.12's concrete constants. The 1% unknown
// background-phenotype-prevalence rate is the resolved Open Question:
// kept as a configurable default pending product validation against
// production data, not treated as a blocker.
func DefaultConfig() Config {
	return Config{
		Weights:              DefaultWeights(),
		MinPosterior:         0.001,
		MaxPosterior:         0.999,
		BackgroundPrevalence: 0.01,
		PhenotypeAbsentLR:    0.3,
		FamilyHistoryLR:      3.0,
		NegatedHistoryLR:     0.1,
		PathogenicLR: map[string]float64{
			"pathogenic":        50,
			"likely_pathogenic": 10,
			"vus":               2,
			"likely_benign":     0.2,
			"benign":            0.1,
		},
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Scorer computes posteriors and combined scores for candidate
// hypotheses given patient evidence.
type Scorer struct {
	cfg Config
}

// NewScorer constructs the scorer.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score updates h in place with fresh sub-scores, posterior, and
// combined score, given the current patient data and the disease record
// it was generated from.
func (s *Scorer) Score(h *models.Hypothesis, disease *models.DiseaseRecord, patient *models.PatientData) {
	phenotypeLR := s.phenotypeLikelihoodRatio(disease, patient)
	geneticLR := s.geneticLikelihoodRatio(disease, patient)
	historyLR := s.historyLikelihoodRatio(disease, patient)

	combinedLR := math.Pow(phenotypeLR, s.cfg.Weights.Phenotype) *
		math.Pow(geneticLR, s.cfg.Weights.Genetic) *
		math.Pow(historyLR, s.cfg.Weights.History)

	prior := clamp(h.Prior, s.cfg.MinPosterior, s.cfg.MaxPosterior)
	posteriorOdds := (prior / (1 - prior)) * combinedLR
	posterior := posteriorOdds / (1 + posteriorOdds)
	h.Posterior = clamp(posterior, s.cfg.MinPosterior, s.cfg.MaxPosterior)

	h.PhenotypeScore = normalizedLRScore(phenotypeLR)
	h.GeneticScore = normalizedLRScore(geneticLR)
	h.HistoryScore = normalizedLRScore(historyLR)

	s.Recombine(h)
}

// Recombine recomputes h.CombinedScore as the weighted arithmetic mean of
// its current sub-scores. Specialists that override a sub-score with a
// literal per-agent formula (spec §4.11) call this afterward so
// CombinedScore stays consistent with the configured weights without
// duplicating the weight-summing logic here.
func (s *Scorer) Recombine(h *models.Hypothesis) {
	w := s.cfg.Weights
	total := w.Phenotype + w.Genetic + w.History + w.Wearable
	if total == 0 {
		total = 1
	}
	h.CombinedScore = (w.Phenotype*h.PhenotypeScore + w.Genetic*h.GeneticScore +
		w.History*h.HistoryScore + w.Wearable*h.WearableScore) / total
}

// GeneticLikelihoodRatio exposes the raw product of per-variant
// pathogenicity likelihood ratios so the GeneticAgent can apply spec
// §4.11's literal combined-score formula on top of it.
func (s *Scorer) GeneticLikelihoodRatio(disease *models.DiseaseRecord, patient *models.PatientData) float64 {
	return s.geneticLikelihoodRatio(disease, patient)
}

// normalizedLRScore maps a likelihood ratio onto a 0-1 rank-score axis
// via a logistic transform of its log, so LR=1 (uninformative) sits at
// 0.5 regardless of the raw magnitude of supporting/refuting evidence.
func normalizedLRScore(lr float64) float64 {
	if lr <= 0 {
		lr = 1e-9
	}
	return 1 / (1 + math.Exp(-math.Log(lr)))
}

func (s *Scorer) phenotypeLikelihoodRatio(disease *models.DiseaseRecord, patient *models.PatientData) float64 {
	lr := 1.0
	for _, p := range patient.PhenotypeCodes {
		freq, ok := disease.PhenotypeFrequency[p]
		if !ok {
			freq = s.cfg.BackgroundPrevalence
		}
		ratio := freq / s.cfg.BackgroundPrevalence
		lr *= clamp(ratio, 0.1, 100)
	}
	core := toSet(disease.CorePhenotypes)
	for _, negated := range patient.NegatedPhenotypeCodes {
		if core[negated] {
			lr *= s.cfg.PhenotypeAbsentLR
		}
	}
	return lr
}

func (s *Scorer) geneticLikelihoodRatio(disease *models.DiseaseRecord, patient *models.PatientData) float64 {
	genes := toSet(disease.AssociatedGenes)
	lr := 1.0
	for _, v := range patient.Variants {
		if !genes[v.Gene] {
			continue
		}
		ratio, ok := s.cfg.PathogenicLR[strings.ToLower(v.Pathogenicity)]
		if !ok {
			ratio = 1.0
		}
		lr *= ratio
	}
	return lr
}

func (s *Scorer) historyLikelihoodRatio(disease *models.DiseaseRecord, patient *models.PatientData) float64 {
	lr := 1.0
	for _, h := range patient.FamilyHistory {
		lower := strings.ToLower(h)
		if strings.Contains(lower, strings.ToLower(disease.Name)) || mentionsAnyGene(lower, disease.AssociatedGenes) {
			lr *= s.cfg.FamilyHistoryLR
		}
	}
	for _, h := range patient.History {
		lower := strings.ToLower(h)
		if strings.HasPrefix(lower, "not ") || strings.HasPrefix(lower, "no ") {
			if strings.Contains(lower, strings.ToLower(disease.Name)) {
				lr *= s.cfg.NegatedHistoryLR
			}
		}
	}
	return lr
}

func mentionsAnyGene(text string, genes []string) bool {
	for _, g := range genes {
		if strings.Contains(text, strings.ToLower(g)) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

// InformationGain computes the expected reduction in entropy over the
// normalized hypothesis scores from asking about candidatePhenotype,
// per spec §4.12: P(present|h) = 0.7 if expected, 0.3 if missing, else
// 0.5; P(absent|h) = 1 - P(present|h).
func InformationGain(hypotheses []*models.Hypothesis, candidatePhenotype string) float64 {
	weights := normalizedWeights(hypotheses)
	if len(weights) == 0 {
		return 0
	}

	current := entropy(weights)

	pPresentGivenH := make([]float64, len(hypotheses))
	for i, h := range hypotheses {
		pPresentGivenH[i] = presenceProbability(h, candidatePhenotype)
	}

	pPresent := 0.0
	for i, w := range weights {
		pPresent += w * pPresentGivenH[i]
	}
	pAbsent := 1 - pPresent

	entropyIfPresent := posteriorEntropy(weights, pPresentGivenH, true, pPresent)
	entropyIfAbsent := posteriorEntropy(weights, pPresentGivenH, false, pAbsent)

	expected := pPresent*entropyIfPresent + pAbsent*entropyIfAbsent
	gain := current - expected
	if gain < 0 {
		return 0
	}
	return gain
}

func presenceProbability(h *models.Hypothesis, phenotype string) float64 {
	for _, p := range h.ExpectedPhenotypes {
		if p == phenotype {
			return 0.7
		}
	}
	for _, p := range h.MissingPhenotypes {
		if p == phenotype {
			return 0.3
		}
	}
	return 0.5
}

func normalizedWeights(hypotheses []*models.Hypothesis) []float64 {
	total := 0.0
	for _, h := range hypotheses {
		total += h.CombinedScore
	}
	if total == 0 {
		return nil
	}
	out := make([]float64, len(hypotheses))
	for i, h := range hypotheses {
		out[i] = h.CombinedScore / total
	}
	return out
}

func entropy(weights []float64) float64 {
	e := 0.0
	for _, w := range weights {
		if w <= 0 {
			continue
		}
		e -= w * math.Log2(w)
	}
	return e
}

// posteriorEntropy computes the entropy of the Bayes-updated weight
// distribution given the observation (present or absent) of the
// candidate phenotype.
func posteriorEntropy(prior []float64, pPresentGivenH []float64, observedPresent bool, marginal float64) float64 {
	if marginal <= 0 {
		return 0
	}
	posterior := make([]float64, len(prior))
	for i, w := range prior {
		likelihood := pPresentGivenH[i]
		if !observedPresent {
			likelihood = 1 - likelihood
		}
		posterior[i] = w * likelihood / marginal
	}
	return entropy(posterior)
}
