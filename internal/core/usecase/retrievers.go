package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/folder-rag/internal/core/domain"
	"github.com/kirillkom/folder-rag/internal/core/ports"
)

const defaultLexicalLimit = 10

// DenseSearcher returns chunks ranked by vector similarity to the query.
type DenseSearcher interface {
	Search(ctx context.Context, query string, k int, filter domain.DocumentIDSet) ([]domain.RankedChunk, error)
}

// LexicalSearcher returns chunks ranked by full-text relevance.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, limit int, filter domain.DocumentIDSet) ([]domain.LexicalHit, error)
}

// DenseRetriever embeds the query and searches the vector index.
// Embedding is never cached: a failed embed call fails the search.
type DenseRetriever struct {
	embedder ports.Embedder
	index    ports.VectorIndex
}

func NewDenseRetriever(embedder ports.Embedder, index ports.VectorIndex) *DenseRetriever {
	return &DenseRetriever{embedder: embedder, index: index}
}

// Search returns at most k chunks sorted by score descending.
// A non-nil filter restricts results to its documents; an empty filter matches nothing.
func (r *DenseRetriever) Search(ctx context.Context, query string, k int, filter domain.DocumentIDSet) ([]domain.RankedChunk, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}
	if filter != nil && filter.Len() == 0 {
		return nil, nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "dense search", err)
	}

	hits, err := r.index.Search(ctx, vector, k, filter)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieverUnavailable, "dense search", fmt.Errorf("vector index: %w", err))
	}

	out := make([]domain.RankedChunk, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		if _, dup := seen[hit.ChunkID]; dup {
			continue
		}
		seen[hit.ChunkID] = struct{}{}
		out = append(out, hit)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return trimRanked(out, k), nil
}

// LexicalRetriever runs prefix-matching full-text queries.
type LexicalRetriever struct {
	index ports.FullTextIndex
}

func NewLexicalRetriever(index ports.FullTextIndex) *LexicalRetriever {
	return &LexicalRetriever{index: index}
}

// Search returns at most limit hits sorted by rank descending. Blank or
// punctuation-only queries return no hits and no error. The filter behaves as in DenseRetriever.
func (r *LexicalRetriever) Search(ctx context.Context, query string, limit int, filter domain.DocumentIDSet) ([]domain.LexicalHit, error) {
	parsed := ParseLexicalQuery(query)
	if parsed.Empty() {
		return nil, nil
	}
	if filter != nil && filter.Len() == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLexicalLimit
	}

	hits, err := r.index.Query(ctx, parsed, limit, filter)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieverUnavailable, "lexical search", fmt.Errorf("full-text index: %w", err))
	}

	out := make([]domain.LexicalHit, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		if filter != nil && !filter.Has(hit.DocumentID) {
			continue
		}
		if _, dup := seen[hit.ChunkID]; dup {
			continue
		}
		seen[hit.ChunkID] = struct{}{}
		out = append(out, hit)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rank > out[j].Rank
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
