// Package search maintains the full-text task index. It is derived data:
// restores and edits reindex, so the index never needs snapshotting.
package search

import (
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"todome/internal/domain"
)

type Index struct {
	mu    sync.RWMutex
	index bleve.Index
}

type taskDocument struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	ProjectID   string `json:"projectId"`
	Status      string `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Open opens the index at path, creating it when absent.
func Open(path string) (*Index, error) {
	var idx bleve.Index
	if _, err := os.Stat(path); os.IsNotExist(err) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create search index: %w", err)
		}
	} else {
		var err error
		idx, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open search index: %w", err)
		}
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	taskMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()

	taskMapping.AddFieldMappingsAt("title", textFieldMapping)
	taskMapping.AddFieldMappingsAt("description", textFieldMapping)
	taskMapping.AddFieldMappingsAt("ownerId", keywordFieldMapping)
	taskMapping.AddFieldMappingsAt("projectId", keywordFieldMapping)
	taskMapping.AddFieldMappingsAt("status", keywordFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = taskMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// IndexTask adds or replaces the document for a task.
func (ix *Index) IndexTask(t domain.Task) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	doc := taskDocument{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Status:      t.Status,
		Title:       t.Title,
		Description: t.Description,
	}
	if t.ProjectID != nil {
		doc.ProjectID = *t.ProjectID
	}
	if err := ix.index.Index(t.ID, doc); err != nil {
		return fmt.Errorf("index task %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTask removes a task document. Missing documents are not an error.
func (ix *Index) DeleteTask(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.index.Delete(id)
}

// Search returns ranked task ids for an owner's query.
func (ix *Index) Search(ownerID, queryText string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	titleQuery := bleve.NewMatchQuery(queryText)
	titleQuery.SetField("title")
	descQuery := bleve.NewMatchQuery(queryText)
	descQuery.SetField("description")
	textQuery := bleve.NewDisjunctionQuery([]query.Query{titleQuery, descQuery}...)

	ownerQuery := bleve.NewTermQuery(ownerID)
	ownerQuery.SetField("ownerId")

	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(textQuery)
	boolQuery.AddMust(ownerQuery)

	searchReq := bleve.NewSearchRequest(boolQuery)
	searchReq.Size = limit

	result, err := ix.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.index.Close()
}
