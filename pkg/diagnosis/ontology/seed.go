package ontology

// DefaultTerms is a small built-in slice of the Human Phenotype Ontology
// terms referenced by knowledgegraph.DefaultCatalog, standing in for a
// real HPO OBO/CSV import (out of scope per spec §1). CategorizeBranch
// and Ancestors/Descendants only see the parent/child edges declared
// here.
func DefaultTerms() map[string]*Term {
	terms := []*Term{
		{ID: "HP:0000118", Name: "Phenotypic abnormality"},
		{ID: "HP:0002086", Name: "Abnormality of the respiratory system", Parents: []string{"HP:0000118"}},
		{ID: "HP:0002090", Name: "Pulmonary disease", Synonyms: []string{"lung disease"}, Parents: []string{"HP:0002086"}},
		{ID: "HP:0025031", Name: "Abnormality of the digestive system", Parents: []string{"HP:0000118"}},
		{ID: "HP:0002024", Name: "Malabsorption", Parents: []string{"HP:0025031"}},
		{ID: "HP:0000952", Name: "Jaundice", Synonyms: []string{"icterus"}, Parents: []string{"HP:0025031"}},
		{ID: "HP:0001738", Name: "Bowel obstruction", Synonyms: []string{"intestinal obstruction"}, Parents: []string{"HP:0025031"}},
		{ID: "HP:0001626", Name: "Abnormality of the cardiovascular system", Parents: []string{"HP:0000118"}},
		{ID: "HP:0003124", Name: "Hypercholesterolemia", Parents: []string{"HP:0001626"}},
		{ID: "HP:0001681", Name: "Angina pectoris", Parents: []string{"HP:0001626"}},
		{ID: "HP:0100785", Name: "Xanthelasma", Parents: []string{"HP:0001626"}},
		{ID: "HP:0000707", Name: "Abnormality of the nervous system", Parents: []string{"HP:0000118"}},
		{ID: "HP:0002072", Name: "Chorea", Parents: []string{"HP:0000707"}},
		{ID: "HP:0000726", Name: "Dementia", Synonyms: []string{"cognitive decline"}, Parents: []string{"HP:0000707"}},
		{ID: "HP:0000716", Name: "Depression", Parents: []string{"HP:0000707"}},
		{ID: "HP:0001645", Name: "Sudden cardiac death", Parents: []string{"HP:0001626"}},
		{ID: "HP:0001962", Name: "Palpitations", Parents: []string{"HP:0001626"}},
		{ID: "HP:0001278", Name: "Syncope", Synonyms: []string{"fainting"}, Parents: []string{"HP:0001626"}},
		{ID: "HP:0000924", Name: "Abnormality of the skeletal system", Parents: []string{"HP:0000118"}},
		{ID: "HP:0001166", Name: "Arachnodactyly", Synonyms: []string{"spider fingers"}, Parents: []string{"HP:0000924"}},
		{ID: "HP:0001519", Name: "Disproportionate tall stature", Parents: []string{"HP:0000924"}},
		{ID: "HP:0002616", Name: "Aortic dilatation", Parents: []string{"HP:0001626"}},
		{ID: "HP:0000478", Name: "Abnormality of the eye", Parents: []string{"HP:0000118"}},
		{ID: "HP:0000518", Name: "Lens subluxation", Synonyms: []string{"ectopia lentis"}, Parents: []string{"HP:0000478"}},
		{ID: "HP:0001744", Name: "Splenomegaly", Parents: []string{"HP:0025031"}},
		{ID: "HP:0001433", Name: "Hepatomegaly", Parents: []string{"HP:0025031"}},
		{ID: "HP:0001873", Name: "Thrombocytopenia", Parents: []string{"HP:0001871"}},
		{ID: "HP:0001871", Name: "Abnormality of blood and blood-forming tissues", Parents: []string{"HP:0000118"}},
		{ID: "HP:0000938", Name: "Osteopenia", Parents: []string{"HP:0000924"}},
	}

	byID := make(map[string]*Term, len(terms))
	for _, t := range terms {
		byID[t.ID] = t
	}
	for _, t := range terms {
		for _, parentID := range t.Parents {
			if parent, ok := byID[parentID]; ok {
				parent.Children = append(parent.Children, t.ID)
			}
		}
	}
	return byID
}
