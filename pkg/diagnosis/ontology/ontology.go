// Package ontology implements the HPO Ontology Service: term lookup,
// ancestor/descendant traversal, top-level branch categorization, and
// semantic similarity over the Human Phenotype Ontology graph.
package ontology

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Term is one HPO node.
type Term struct {
	ID       string
	Name     string
	Synonyms []string
	Parents  []string
	Children []string
}

// Service holds the in-memory HPO graph and caches traversal results.
// The graph itself is loaded once at startup from an external source
// (CSV/OBO ingestion is explicitly out of scope per spec §1); Service
// only operates on whatever terms have been loaded via Load.
type Service struct {
	mu    sync.RWMutex
	terms map[string]*Term

	// branchRoots are the top-level HPO organ-system branches used by
	// CategorizeBranch; keyed by branch root id, valued by label.
	branchRoots map[string]string

	ancestorCache   *lru.Cache[string, []string]
	descendantCache *lru.Cache[string, []string]
}

// NewService constructs an empty ontology service with the given
// traversal-cache capacity.
func NewService(cacheCapacity int) *Service {
	if cacheCapacity <= 0 {
		cacheCapacity = 2048
	}
	ancestorCache, _ := lru.New[string, []string](cacheCapacity)
	descendantCache, _ := lru.New[string, []string](cacheCapacity)
	return &Service{
		terms:           make(map[string]*Term),
		branchRoots:     defaultBranchRoots(),
		ancestorCache:   ancestorCache,
		descendantCache: descendantCache,
	}
}

// defaultBranchRoots seeds the canonical top-level HPO organ-system
// branches (HP:0000118 "Phenotypic abnormality" children).
func defaultBranchRoots() map[string]string {
	return map[string]string{
		"HP:0000707": "nervous_system",
		"HP:0000478": "eye",
		"HP:0000598": "ear",
		"HP:0001626": "cardiovascular_system",
		"HP:0002086": "respiratory_system",
		"HP:0025031": "digestive_system",
		"HP:0000924": "skeletal_system",
		"HP:0001574": "integument",
		"HP:0000119": "genitourinary_system",
		"HP:0001939": "metabolism",
		"HP:0002715": "immune_system",
		"HP:0001871": "blood",
		"HP:0012823": "other",
	}
}

// Load replaces the term graph. Loading is not incremental: the whole
// graph is swapped atomically and caches are invalidated.
func (s *Service) Load(terms map[string]*Term) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms = terms
	s.ancestorCache.Purge()
	s.descendantCache.Purge()
}

// Lookup returns the term for id, or nil if unknown.
func (s *Service) Lookup(id string) *Term {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terms[id]
}

// Resolve maps free text to an HPO code: direct id match, then synonym
// match, then a best-effort case-insensitive substring search over term
// names. Returns "" if nothing matches.
func (s *Service) Resolve(text string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.terms[text]; ok {
		return t.ID
	}

	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return ""
	}

	for _, t := range s.terms {
		if strings.ToLower(t.Name) == needle {
			return t.ID
		}
		for _, syn := range t.Synonyms {
			if strings.ToLower(syn) == needle {
				return t.ID
			}
		}
	}

	for _, t := range s.terms {
		if strings.Contains(strings.ToLower(t.Name), needle) {
			return t.ID
		}
	}
	return ""
}

// Ancestors returns every ancestor of id up to maxDepth hops via BFS,
// memoized per id regardless of maxDepth — a later call with a different
// maxDepth gets the list the first call for that id computed.
func (s *Service) Ancestors(id string, maxDepth int) []string {
	if cached, ok := s.ancestorCache.Get(id); ok {
		return cached
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := map[string]bool{id: true}
	queue := []string{id}
	depth := 0
	var out []string

	for len(queue) > 0 && depth < maxDepth {
		depth++
		var next []string
		for _, curr := range queue {
			t, ok := s.terms[curr]
			if !ok {
				continue
			}
			for _, p := range t.Parents {
				if !visited[p] {
					visited[p] = true
					out = append(out, p)
					next = append(next, p)
				}
			}
		}
		queue = next
	}

	s.ancestorCache.Add(id, out)
	return out
}

// Descendants returns every descendant of id up to maxDepth hops via
// BFS, memoized per id.
func (s *Service) Descendants(id string, maxDepth int) []string {
	if cached, ok := s.descendantCache.Get(id); ok {
		return cached
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := map[string]bool{id: true}
	queue := []string{id}
	depth := 0
	var out []string

	for len(queue) > 0 && depth < maxDepth {
		depth++
		var next []string
		for _, curr := range queue {
			t, ok := s.terms[curr]
			if !ok {
				continue
			}
			for _, c := range t.Children {
				if !visited[c] {
					visited[c] = true
					out = append(out, c)
					next = append(next, c)
				}
			}
		}
		queue = next
	}

	s.descendantCache.Add(id, out)
	return out
}

// CategorizeBranch returns the top-level organ-system branch label for
// id by walking ancestors until a known branch root is hit.
func (s *Service) CategorizeBranch(id string) string {
	if label, ok := s.branchRoots[id]; ok {
		return label
	}
	for _, ancestor := range s.Ancestors(id, 32) {
		if label, ok := s.branchRoots[ancestor]; ok {
			return label
		}
	}
	return "other"
}

// JaccardSimilarity computes |A∩B| / |A∪B| over two phenotype code sets.
func JaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	intersection := 0
	for k := range setA {
		if setB[k] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[i] = true
	}
	return s
}
