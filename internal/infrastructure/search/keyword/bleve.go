// Package keyword provides a Bleve-backed full-text index over document chunks.
package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

const (
	fieldDocumentID = "document_id"
	fieldContent    = "content"

	deletePageSize = 500
)

type chunkDocument struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

// BleveIndex keeps its own copy of chunk text, keyed by chunk id.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex opens the index at path, creating it when missing.
// Changing the mapping requires removing the index directory.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newChunkMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryIndex builds an in-memory index.
func NewMemoryIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newChunkMapping())
	if err != nil {
		return nil, fmt.Errorf("create in-memory bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newChunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer lower-cases without stemming, so prefixes line up with stored terms.
	contentMapping := bleve.NewTextFieldMapping()
	contentMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldContent, contentMapping)

	documentIDMapping := bleve.NewKeywordFieldMapping()
	documentIDMapping.Analyzer = keywordanalyzer.Name
	docMapping.AddFieldMappingsAt(fieldDocumentID, documentIDMapping)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// Query ANDs prefix matches of every term. A nil filter searches all documents;
// an empty non-nil filter matches nothing.
func (b *BleveIndex) Query(ctx context.Context, query domain.LexicalQuery, limit int, filter domain.DocumentIDSet) ([]domain.LexicalHit, error) {
	if query.Empty() || limit <= 0 {
		return nil, nil
	}
	if filter != nil && filter.Len() == 0 {
		return nil, nil
	}

	clauses := make([]blevequery.Query, 0, len(query.Terms)+1)
	for _, term := range query.Terms {
		pq := bleve.NewPrefixQuery(term)
		pq.SetField(fieldContent)
		clauses = append(clauses, pq)
	}
	if filter != nil {
		clauses = append(clauses, documentFilter(filter))
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(clauses...), limit, 0, false)
	req.Fields = []string{fieldDocumentID, fieldContent}
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	out := make([]domain.LexicalHit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		out = append(out, domain.LexicalHit{
			ChunkID:    hit.ID,
			DocumentID: stringField(hit.Fields, fieldDocumentID),
			Content:    stringField(hit.Fields, fieldContent),
			Rank:       hit.Score,
		})
	}
	return out, nil
}

// IndexChunks replaces every chunk of the document in a single batch.
func (b *BleveIndex) IndexChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	stale, err := b.documentChunkIDs(ctx, documentID)
	if err != nil {
		return err
	}

	batch := b.index.NewBatch()
	keep := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		keep[chunk.ID] = struct{}{}
		if err := batch.Index(chunk.ID, chunkDocument{DocumentID: documentID, Content: chunk.Content}); err != nil {
			return fmt.Errorf("bleve batch index %s: %w", chunk.ID, err)
		}
	}
	for _, id := range stale {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("bleve batch: %w", err)
	}
	return nil
}

func (b *BleveIndex) DeleteDocument(ctx context.Context, documentID string) error {
	stale, err := b.documentChunkIDs(ctx, documentID)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, id := range stale {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("bleve delete batch: %w", err)
	}
	return nil
}

func (b *BleveIndex) Close() error {
	return b.index.Close()
}

func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

func (b *BleveIndex) documentChunkIDs(ctx context.Context, documentID string) ([]string, error) {
	tq := bleve.NewTermQuery(documentID)
	tq.SetField(fieldDocumentID)

	var ids []string
	for from := 0; ; from += deletePageSize {
		req := bleve.NewSearchRequestOptions(tq, deletePageSize, from, false)
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("bleve list chunks of %s: %w", documentID, err)
		}
		for _, hit := range results.Hits {
			ids = append(ids, hit.ID)
		}
		if len(results.Hits) < deletePageSize {
			return ids, nil
		}
	}
}

func documentFilter(filter domain.DocumentIDSet) blevequery.Query {
	ids := filter.IDs()
	terms := make([]blevequery.Query, 0, len(ids))
	for _, id := range ids {
		tq := bleve.NewTermQuery(id)
		tq.SetField(fieldDocumentID)
		terms = append(terms, tq)
	}
	return bleve.NewDisjunctionQuery(terms...)
}

func stringField(fields map[string]interface{}, name string) string {
	v, ok := fields[name]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
