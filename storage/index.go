package storage

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"paper-scout/models"
)

// indexedFields are the paper fields a keyword phrase is looked up in.
var indexedFields = []string{"title", "abstract", "authors", "keywords"}

const searchPageSize = 250

// PaperIndex is the embedded full-text index over the catalog. Document ids
// are the paper primary ids, so search hits join back to catalog rows by
// identifier, never by title.
type PaperIndex struct {
	index bleve.Index
}

// buildMapping analyzes every field with the English analyzer, so phrases
// like "graph neural network" also match "Graph Neural Networks".
func buildMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = en.AnalyzerName
	return m
}

// OpenIndex opens the index at path, creating it on first use.
func OpenIndex(path string) (*PaperIndex, error) {
	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, err
	}
	return &PaperIndex{index: index}, nil
}

// NewMemIndex builds a throwaway in-memory index.
func NewMemIndex() (*PaperIndex, error) {
	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, err
	}
	return &PaperIndex{index: index}, nil
}

func (s *PaperIndex) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}

// Index adds or replaces a paper document.
func (s *PaperIndex) Index(paper *models.Paper) error {
	data := map[string]interface{}{
		"title":    paper.Title,
		"abstract": paper.Abstract,
		"authors":  paper.Authors,
		"keywords": paper.Keywords,
	}
	return s.index.Index(paper.ID, data)
}

// Delete removes a paper document.
func (s *PaperIndex) Delete(id string) error {
	return s.index.Delete(id)
}

// Search runs a compiled filter query and returns the ids of all hits.
func (s *PaperIndex) Search(q query.Query) ([]string, error) {
	var ids []string
	for from := 0; ; from += searchPageSize {
		req := bleve.NewSearchRequestOptions(q, searchPageSize, from, false)
		req.SortBy([]string{"_id"})

		res, err := s.index.Search(req)
		if err != nil {
			return nil, err
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < searchPageSize {
			return ids, nil
		}
	}
}

// CompileFilterQuery translates a filter's keyword groups into a boolean
// index query: groups are ANDed, phrases within a group are ORed, and each
// phrase must occur verbatim in at least one indexed field. Empty groups are
// dropped. If nothing usable remains the result is nil: an empty query must
// never reach the index, it would match everything.
func CompileFilterQuery(groups [][]string) query.Query {
	conjuncts := make([]query.Query, 0, len(groups))
	for _, group := range groups {
		disjuncts := make([]query.Query, 0, len(group))
		for _, phrase := range group {
			if q := phraseQuery(phrase); q != nil {
				disjuncts = append(disjuncts, q)
			}
		}
		if len(disjuncts) > 0 {
			conjuncts = append(conjuncts, query.NewDisjunctionQuery(disjuncts))
		}
	}

	if len(conjuncts) == 0 {
		return nil
	}
	return query.NewConjunctionQuery(conjuncts)
}

// phraseQuery matches one exact phrase in any indexed field. Filter documents
// store phrases quoted (FTS atoms); the quotes are shed here.
func phraseQuery(phrase string) query.Query {
	phrase = strings.TrimSpace(strings.Trim(strings.TrimSpace(phrase), `"`))
	if phrase == "" {
		return nil
	}

	perField := make([]query.Query, len(indexedFields))
	for i, field := range indexedFields {
		q := query.NewMatchPhraseQuery(phrase)
		q.SetField(field)
		perField[i] = q
	}
	return query.NewDisjunctionQuery(perField)
}
