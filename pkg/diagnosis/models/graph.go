package models

import "context"

// DiseaseRecord is a disease node pulled from the external biomedical
// knowledge graph, reduced to exactly the fields the scorer and
// specialist agents condition on.
type DiseaseRecord struct {
	ID                 string
	Name               string
	ExpectedPhenotypes []string
	CorePhenotypes     []string // subset of ExpectedPhenotypes with freq > 0.5
	AssociatedGenes     []string
	Inheritance         string // e.g. "autosomal_recessive", used for compound-het detection
	Prevalence          float64
	PhenotypeFrequency  map[string]float64 // phenotype code -> freq(p|disease)
}

// KnowledgeGraph is the capability the diagnosis subsystem needs from
// an external biomedical graph store; the wire protocol behind it is
// out of scope per spec §1 and is specified only via this interface.
type KnowledgeGraph interface {
	// DiseasesByPhenotypes returns diseases whose expected-phenotype set
	// intersects phenotypeCodes in at least minOverlap positions.
	DiseasesByPhenotypes(ctx context.Context, phenotypeCodes []string, minOverlap int) ([]*DiseaseRecord, error)
	// DiseasesByGenes returns diseases associated with any of genes.
	DiseasesByGenes(ctx context.Context, genes []string) ([]*DiseaseRecord, error)
	// Disease looks up a single disease by id, or nil if unknown.
	Disease(ctx context.Context, diseaseID string) (*DiseaseRecord, error)
}
