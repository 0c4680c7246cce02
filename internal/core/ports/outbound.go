package ports

import (
	"context"
	"time"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

// FolderStore reads the folder tree and its group grants.
type FolderStore interface {
	// FindFolder returns domain.ErrNotFound when the folder does not exist.
	FindFolder(ctx context.Context, id string) (domain.Folder, error)
	ListFolderIDs(ctx context.Context) ([]string, error)
	FindGroupPermissions(ctx context.Context, folderID string, groupIDs []string) ([]domain.GroupPermission, error)
}

// UserDirectory resolves group membership and the admin flag.
type UserDirectory interface {
	UserGroupIDs(ctx context.Context, userID string) ([]string, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// DocumentStore reads documents and chunk records.
type DocumentStore interface {
	DocumentIDsByFolders(ctx context.Context, folderIDs []string) ([]string, error)
	AllDocumentIDs(ctx context.Context) ([]string, error)
	// FindChunksByIDs silently omits ids that no longer exist.
	FindChunksByIDs(ctx context.Context, ids []string) ([]domain.Chunk, error)
	ListChunksByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores chunk embeddings keyed by chunk id.
// A nil filter searches everything; a non-nil filter restricts to its documents.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, limit int, filter domain.DocumentIDSet) ([]domain.RankedChunk, error)
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []domain.Chunk, vectors [][]float32) error
}

// FullTextIndex ranks chunks by lexical relevance, descending.
type FullTextIndex interface {
	Query(ctx context.Context, query domain.LexicalQuery, limit int, filter domain.DocumentIDSet) ([]domain.LexicalHit, error)
}

// LexicalIndexWriter is implemented by full-text backends that keep their own copy of chunk text.
type LexicalIndexWriter interface {
	IndexChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// ChunkEventQueue carries chunk change notifications to the indexing worker.
type ChunkEventQueue interface {
	PublishChunksChanged(ctx context.Context, documentID string) error
	SubscribeChunksChanged(ctx context.Context, handler func(context.Context, string) error) error
}

// RetrievalObserver receives retrieval telemetry.
type RetrievalObserver interface {
	ObserveAccessDecision(decision domain.AccessDecision)
	ObserveAccessScope(admin bool, documents int)
	ObserveRetriever(source string, duration time.Duration, hits int, err error)
	ObserveRetrieval(outcome string, relevant, supplementary int, duration time.Duration)
}
