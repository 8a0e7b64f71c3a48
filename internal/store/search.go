package store

import (
	"fmt"
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// SearchIndex provides keyword search over message text.
type SearchIndex struct {
	index bleve.Index
	path  string
}

// NewSearchIndex creates or opens the message search index.
// If the index is corrupted, it is deleted and recreated.
func NewSearchIndex(indexPath string) (*SearchIndex, error) {
	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create search index: %w", err)
		}
	} else if err != nil {
		log.Printf("search index appears corrupted (error: %v), recreating...", err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(indexPath); err != nil {
			return nil, fmt.Errorf("failed to remove corrupted index: %w", err)
		}
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate search index: %w", err)
		}
	}

	return &SearchIndex{index: index, path: indexPath}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	msgMapping := bleve.NewDocumentMapping()

	sessionField := bleve.NewTextFieldMapping()
	sessionField.Analyzer = keyword.Name
	sessionField.Store = true
	sessionField.Index = true
	msgMapping.AddFieldMappingsAt("session_id", sessionField)

	senderField := bleve.NewTextFieldMapping()
	senderField.Analyzer = keyword.Name
	senderField.Store = true
	senderField.Index = true
	msgMapping.AddFieldMappingsAt("sender", senderField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	textField.Index = true
	msgMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = msgMapping
	return indexMapping
}

// IndexMessage indexes one message for keyword search.
func (si *SearchIndex) IndexMessage(msg *Message) error {
	doc := map[string]interface{}{
		"session_id": msg.SessionID,
		"sender":     msg.Sender,
		"text":       msg.Text,
	}
	return si.index.Index(msg.MessageID, doc)
}

// Search returns the message ids of the top k text matches.
func (si *SearchIndex) Search(query string, k int) ([]string, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("text")

	req := bleve.NewSearchRequest(q)
	req.Size = k

	result, err := si.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close closes the underlying index.
func (si *SearchIndex) Close() error {
	return si.index.Close()
}
