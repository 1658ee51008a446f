package knowledgegraph

import "context"

// seedDisease is the catalog-entry shape DefaultCatalog holds; Seed
// writes each through to the kg_* tables inside one transaction.
type seedDisease struct {
	id          string
	name        string
	inheritance string
	prevalence  float64
	phenotypes  map[string]float64
	genes       []string
}

// DefaultCatalog is a small built-in set of well-characterized
// Mendelian and common-complex diseases, standing in for a real
// HPO/OMIM bulk import (out of scope, see the package doc comment).
func DefaultCatalog() []seedDisease {
	return []seedDisease{
		{
			id:          "OMIM:219700",
			name:        "Cystic fibrosis",
			inheritance: "autosomal_recessive",
			prevalence:  0.0004,
			phenotypes: map[string]float64{
				"HP:0002090": 0.9,  // pulmonary disease
				"HP:0002024": 0.85, // malabsorption
				"HP:0000952": 0.6,  // jaundice
				"HP:0001738": 0.7,  // bowel obstruction
			},
			genes: []string{"CFTR"},
		},
		{
			id:          "OMIM:143890",
			name:        "Familial hypercholesterolemia",
			inheritance: "autosomal_dominant",
			prevalence:  0.002,
			phenotypes: map[string]float64{
				"HP:0003124": 0.95, // hypercholesterolemia
				"HP:0001681": 0.4,  // angina pectoris
				"HP:0100785": 0.3,  // xanthelasma
			},
			genes: []string{"LDLR", "APOB", "PCSK9"},
		},
		{
			id:          "MONDO:0007739",
			name:        "Huntington disease",
			inheritance: "autosomal_dominant",
			prevalence:  0.00005,
			phenotypes: map[string]float64{
				"HP:0002072": 0.9, // chorea
				"HP:0000726": 0.7, // dementia
				"HP:0000716": 0.6, // depression
			},
			genes: []string{"HTT"},
		},
		{
			id:          "OMIM:601665",
			name:        "Long QT syndrome",
			inheritance: "autosomal_dominant",
			prevalence:  0.0005,
			phenotypes: map[string]float64{
				"HP:0001645": 0.6, // sudden cardiac death
				"HP:0001962": 0.7, // palpitations
				"HP:0001278": 0.5, // syncope
			},
			genes: []string{"KCNQ1", "KCNH2", "SCN5A"},
		},
		{
			id:          "ORPHA:586",
			name:        "Marfan syndrome",
			inheritance: "autosomal_dominant",
			prevalence:  0.0002,
			phenotypes: map[string]float64{
				"HP:0001166": 0.85, // arachnodactyly
				"HP:0001519": 0.8,  // disproportionate tall stature
				"HP:0002616": 0.7,  // aortic dilatation
				"HP:0000518": 0.6,  // lens subluxation
			},
			genes: []string{"FBN1"},
		},
		{
			id:          "OMIM:606463",
			name:        "Gaucher disease type 1",
			inheritance: "autosomal_recessive",
			prevalence:  0.0001,
			phenotypes: map[string]float64{
				"HP:0001744": 0.8, // splenomegaly
				"HP:0001433": 0.6, // hepatomegaly
				"HP:0001873": 0.5, // thrombocytopenia
				"HP:0000938": 0.4, // osteopenia
			},
			genes: []string{"GBA"},
		},
	}
}

// Seed writes DefaultCatalog into the store's tables, upserting so a
// repeated call at startup is idempotent.
func (s *Store) Seed(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, d := range DefaultCatalog() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO kg_diseases (id, name, inheritance, prevalence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = $2, inheritance = $3, prevalence = $4
		`, d.id, d.name, d.inheritance, d.prevalence); err != nil {
			return err
		}
		for code, freq := range d.phenotypes {
			if _, err := tx.Exec(ctx, `
				INSERT INTO kg_disease_phenotypes (disease_id, phenotype_code, frequency)
				VALUES ($1, $2, $3)
				ON CONFLICT (disease_id, phenotype_code) DO UPDATE SET frequency = $3
			`, d.id, code, freq); err != nil {
				return err
			}
		}
		for _, gene := range d.genes {
			if _, err := tx.Exec(ctx, `
				INSERT INTO kg_disease_genes (disease_id, gene) VALUES ($1, $2)
				ON CONFLICT (disease_id, gene) DO NOTHING
			`, d.id, gene); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}
