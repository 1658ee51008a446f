// Package knowledgegraph implements models.KnowledgeGraph against the
// same PostgreSQL pool the Compliance Repository uses. The disease/
// phenotype/gene association data itself is not ingested from any
// external biomedical source here (CSV/OBO ingestion is out of scope
// per spec §1); Seed loads a small built-in catalog the way
// policy.DefaultRoles seeds its role table, and a production deployment
// would instead bulk-load a real HPO/OMIM export through the same
// tables.
package knowledgegraph

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
)

// Store implements models.KnowledgeGraph against PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store over an already-migrated pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Disease looks up a single disease by id, or nil if unknown.
func (s *Store) Disease(ctx context.Context, diseaseID string) (*models.DiseaseRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, inheritance, prevalence FROM kg_diseases WHERE id = $1`, diseaseID)
	d := &models.DiseaseRecord{}
	if err := row.Scan(&d.ID, &d.Name, &d.Inheritance, &d.Prevalence); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := s.attachAssociations(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DiseasesByPhenotypes returns diseases whose expected-phenotype set
// intersects phenotypeCodes in at least minOverlap positions.
func (s *Store) DiseasesByPhenotypes(ctx context.Context, phenotypeCodes []string, minOverlap int) ([]*models.DiseaseRecord, error) {
	if len(phenotypeCodes) == 0 {
		return nil, nil
	}
	if minOverlap < 1 {
		minOverlap = 1
	}
	rows, err := s.pool.Query(ctx, `
		SELECT disease_id, COUNT(*) AS overlap
		FROM kg_disease_phenotypes
		WHERE phenotype_code = ANY($1)
		GROUP BY disease_id
		HAVING COUNT(*) >= $2
		ORDER BY overlap DESC
	`, phenotypeCodes, minOverlap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var overlap int
		if err := rows.Scan(&id, &overlap); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.diseasesByIDs(ctx, ids)
}

// DiseasesByGenes returns diseases associated with any of genes.
func (s *Store) DiseasesByGenes(ctx context.Context, genes []string) ([]*models.DiseaseRecord, error) {
	if len(genes) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT disease_id FROM kg_disease_genes WHERE gene = ANY($1)
	`, genes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.diseasesByIDs(ctx, ids)
}

func (s *Store) diseasesByIDs(ctx context.Context, ids []string) ([]*models.DiseaseRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, inheritance, prevalence FROM kg_diseases WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DiseaseRecord
	for rows.Next() {
		d := &models.DiseaseRecord{}
		if err := rows.Scan(&d.ID, &d.Name, &d.Inheritance, &d.Prevalence); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, d := range out {
		if err := s.attachAssociations(ctx, d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) attachAssociations(ctx context.Context, d *models.DiseaseRecord) error {
	phenoRows, err := s.pool.Query(ctx, `
		SELECT phenotype_code, frequency FROM kg_disease_phenotypes WHERE disease_id = $1
	`, d.ID)
	if err != nil {
		return err
	}
	d.PhenotypeFrequency = make(map[string]float64)
	for phenoRows.Next() {
		var code string
		var freq float64
		if err := phenoRows.Scan(&code, &freq); err != nil {
			phenoRows.Close()
			return err
		}
		d.PhenotypeFrequency[code] = freq
		d.ExpectedPhenotypes = append(d.ExpectedPhenotypes, code)
		if freq > 0.5 {
			d.CorePhenotypes = append(d.CorePhenotypes, code)
		}
	}
	phenoRows.Close()
	if err := phenoRows.Err(); err != nil {
		return err
	}

	geneRows, err := s.pool.Query(ctx, `SELECT gene FROM kg_disease_genes WHERE disease_id = $1`, d.ID)
	if err != nil {
		return err
	}
	for geneRows.Next() {
		var gene string
		if err := geneRows.Scan(&gene); err != nil {
			geneRows.Close()
			return err
		}
		d.AssociatedGenes = append(d.AssociatedGenes, gene)
	}
	geneRows.Close()
	return geneRows.Err()
}
