package ports

import (
	"context"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

// Retriever is the inbound contract used by the chat request handler.
type Retriever interface {
	RetrieveForQuestion(ctx context.Context, userID, question string) (*domain.RetrievalResult, error)
}

// AccessResolver answers which documents and folders a user may read.
type AccessResolver interface {
	AccessibleDocumentIDs(ctx context.Context, userID string) (domain.DocumentIDSet, error)
	FolderAccess(ctx context.Context, userID, folderID string) (domain.AccessDecision, error)
}

// ChunkIndexer keeps derived search indexes in sync with chunk content.
type ChunkIndexer interface {
	ReindexDocument(ctx context.Context, documentID string) error
}
