package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/folder-rag/internal/core/domain"
	"github.com/kirillkom/folder-rag/internal/core/ports"
)

// ChunkIndexUseCase rebuilds the derived search indexes of one document from its chunk records.
type ChunkIndexUseCase struct {
	documents ports.DocumentStore
	embedder  ports.Embedder
	vectors   ports.VectorIndex
	lexical   ports.LexicalIndexWriter
	logger    *slog.Logger
}

// NewChunkIndexUseCase wires the indexer. lexical may be nil when the full-text
// index is maintained by the database itself; vectors may be nil for a process
// that only keeps a local full-text index in sync.
func NewChunkIndexUseCase(
	documents ports.DocumentStore,
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	lexical ports.LexicalIndexWriter,
	logger *slog.Logger,
) *ChunkIndexUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkIndexUseCase{
		documents: documents,
		embedder:  embedder,
		vectors:   vectors,
		lexical:   lexical,
		logger:    logger,
	}
}

func (uc *ChunkIndexUseCase) ReindexDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "reindex document", errors.New("document id is required"))
	}

	chunks, err := uc.documents.ListChunksByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}

	if uc.vectors != nil {
		if err := uc.replaceVectors(ctx, documentID, chunks); err != nil {
			return err
		}
	}

	if uc.lexical != nil {
		if len(chunks) == 0 {
			err = uc.lexical.DeleteDocument(ctx, documentID)
		} else {
			err = uc.lexical.IndexChunks(ctx, documentID, chunks)
		}
		if err != nil {
			return fmt.Errorf("update lexical index: %w", err)
		}
	}

	uc.logger.Info("document_reindexed", "document_id", documentID, "chunks", len(chunks))
	return nil
}

func (uc *ChunkIndexUseCase) replaceVectors(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			texts = append(texts, chunk.Content)
		}
		var err error
		vectors, err = uc.embedder.Embed(ctx, texts)
		if err != nil {
			return domain.WrapError(domain.ErrEmbeddingUnavailable, "embed chunks", err)
		}
		if len(vectors) != len(chunks) {
			return fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
		}
	}

	if err := uc.vectors.ReplaceDocumentChunks(ctx, documentID, chunks, vectors); err != nil {
		return fmt.Errorf("replace vector points: %w", err)
	}
	return nil
}
