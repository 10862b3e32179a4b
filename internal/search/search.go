// Package search keeps a bleve full-text index over upload titles, artists
// and sections.
package search

import (
	"errors"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"mirrorsplit/internal/domain/upload"
)

var searchFields = []string{"title", "artist", "section"}

type document struct {
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	Section string `json:"section"`
}

type Index struct {
	index bleve.Index
}

// Open opens the index at path, creating it when missing. An empty path
// builds an in-memory index.
func Open(path string) (*Index, error) {
	mapping := bleve.NewIndexMapping()
	if path == "" {
		idx, err := bleve.NewMemOnly(mapping)
		if err != nil {
			return nil, err
		}
		return &Index{index: idx}, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		idx, err := bleve.New(path, mapping)
		if err != nil {
			return nil, err
		}
		return &Index{index: idx}, nil
	}
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, err
	}
	return &Index{index: idx}, nil
}

func (i *Index) Close() error {
	if i.index != nil {
		return i.index.Close()
	}
	return nil
}

func (i *Index) Index(r *upload.Record) error {
	return i.index.Index(r.ID, toDocument(r))
}

func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}

func (i *Index) Count() (int, error) {
	c, err := i.index.DocCount()
	return int(c), err
}

// Search returns matching ids by relevance. Every term must match some
// field, either as a word or as a word prefix.
func (i *Index) Search(input string, limit int) ([]string, error) {
	terms := strings.Fields(strings.ToLower(input))
	if len(terms) == 0 {
		return []string{}, nil
	}

	conjuncts := make([]bleveQuery.Query, 0, len(terms))
	for _, term := range terms {
		disjuncts := make([]bleveQuery.Query, 0, len(searchFields)*2)
		for _, field := range searchFields {
			match := bleve.NewMatchQuery(term)
			match.SetField(field)
			prefix := bleve.NewPrefixQuery(term)
			prefix.SetField(field)
			disjuncts = append(disjuncts, match, prefix)
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(disjuncts...))
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conjuncts...), limit, 0, false)
	res, err := i.index.Search(req)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Rebuild replaces the index contents with records.
func (i *Index) Rebuild(records []*upload.Record) error {
	count, err := i.index.DocCount()
	if err != nil {
		return err
	}

	batch := i.index.NewBatch()
	if count > 0 {
		req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
		req.Size = int(count)
		res, err := i.index.Search(req)
		if err != nil {
			return err
		}
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
	}
	for _, r := range records {
		if err := batch.Index(r.ID, toDocument(r)); err != nil {
			return err
		}
	}
	return i.index.Batch(batch)
}

func toDocument(r *upload.Record) document {
	return document{
		Title:   r.Title,
		Artist:  r.Artist,
		Section: strings.ReplaceAll(r.Section, "-", " "),
	}
}
