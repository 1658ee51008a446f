// Package models holds the shared tagged-variant types passed between
// the Diagnosis Engine, Bayesian Scorer, specialist agents, and Session
// Controller. Per spec §9's "dynamic payload shapes → tagged records"
// note, patient intake and evidence are represented as concrete sum
// types rather than generic maps.
package models

import "time"

// EvidenceKind enumerates the sum type EvidenceItem.Type ranges over.
type EvidenceKind string

const (
	EvidencePhenotype EvidenceKind = "phenotype"
	EvidenceGenetic   EvidenceKind = "genetic"
	EvidenceHistory   EvidenceKind = "history"
	EvidenceFamily    EvidenceKind = "family"
	EvidenceWearable  EvidenceKind = "wearable"
	EvidenceOther     EvidenceKind = "other"
)

// EvidenceItem is the spec §3 EvidenceItem entity.
type EvidenceItem struct {
	ID               string
	Type             EvidenceKind
	Value            string
	StandardizedCode string
	Negated          bool
	Severity         string
	Confidence       float64
	Confirmed        bool
	RecordedAt       time.Time
}

// Variant is a patient genetic variant observation.
type Variant struct {
	Gene          string
	Pathogenicity string // pathogenic | likely_pathogenic | VUS | likely_benign | benign
	Zygosity      string
}

// Demographics holds the coarse patient attributes the scorer and
// specialist agents may condition on.
type Demographics struct {
	AgeYears int
	Sex      string
}

// PatientData is the normalized intake payload the Diagnosis Engine and
// specialist agents operate on. PhenotypeCodes/NegatedPhenotypeCodes are
// populated by process_intake after resolving free text against the
// ontology.
type PatientData struct {
	PhenotypeCodes       []string
	NegatedPhenotypeCodes []string
	Variants              []Variant
	History               []string
	FamilyHistory         []string
	Demographics          Demographics
}

// SessionState enumerates the DiagnosisSession state machine's members.
type SessionState string

const (
	StateIntake     SessionState = "intake"
	StateAnalyzing  SessionState = "analyzing"
	StateQuestioning SessionState = "questioning"
	StateRefining   SessionState = "refining"
	StateComplete   SessionState = "complete"
	StatePaused     SessionState = "paused"
	StateExpired    SessionState = "expired"
)

// Hypothesis is the spec §3 DiagnosisHypothesis entity.
type Hypothesis struct {
	ID                 string
	DiseaseID          string
	DiseaseName         string
	Prior               float64
	Posterior           float64
	PhenotypeScore      float64
	GeneticScore        float64
	HistoryScore        float64
	WearableScore       float64
	CombinedScore       float64
	MatchedPhenotypes   []string
	ExpectedPhenotypes  []string
	MissingPhenotypes   []string
	AssociatedGenes     []string
	SupportingEvidence  []string
	RefutingEvidence    []string
	NeutralEvidence     []string
	Rank                int
	Confidence          string // high | moderate | low | uncertain, set by DifferentialAgent.Merge
}

// QuestionType enumerates FollowUpQuestion.Type.
type QuestionType string

const (
	QuestionBinary         QuestionType = "binary"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionFreeText       QuestionType = "free_text"
	QuestionNumeric        QuestionType = "numeric"
)

// FollowUpQuestion is the spec §3 FollowUpQuestion entity.
type FollowUpQuestion struct {
	ID                  string
	Text                string
	Type                QuestionType
	TargetPhenotype     string
	TargetGenes         []string
	Options             []string
	AffectedHypotheses  []string
	InformationGain     float64
	Priority            int
	Answer              string
	AnsweredAt           time.Time
}

// IsAnswered reports whether the question has recorded an answer.
func (q *FollowUpQuestion) IsAnswered() bool {
	return !q.AnsweredAt.IsZero()
}

// DiagnosisResult is the package produced by finalize_session.
type DiagnosisResult struct {
	PrimaryDiagnosis      *Hypothesis
	Differential          []*Hypothesis
	KeyFindings            []string
	RecommendedTests       []string
	EvidenceStrengthSummary string
}
