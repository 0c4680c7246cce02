package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) DocumentIDsByFolders(ctx context.Context, folderIDs []string) ([]string, error) {
	if len(folderIDs) == 0 {
		return nil, nil
	}
	ids, err := queryStrings(ctx, r.db, `SELECT id FROM documents WHERE folder_id = ANY($1)`, folderIDs)
	if err != nil {
		return nil, fmt.Errorf("list documents by folders: %w", err)
	}
	return ids, nil
}

func (r *DocumentRepository) AllDocumentIDs(ctx context.Context) ([]string, error) {
	ids, err := queryStrings(ctx, r.db, `SELECT id FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return ids, nil
}

func (r *DocumentRepository) FindChunksByIDs(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryChunks(ctx, `
SELECT id, document_id, content, page_number, chunk_order
FROM document_chunks
WHERE id = ANY($1)
`, ids)
}

func (r *DocumentRepository) ListChunksByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	return r.queryChunks(ctx, `
SELECT id, document_id, content, page_number, chunk_order
FROM document_chunks
WHERE document_id = $1
ORDER BY chunk_order, id
`, documentID)
}

func (r *DocumentRepository) queryChunks(ctx context.Context, query string, args ...any) ([]domain.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var chunk domain.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Content, &chunk.PageNumber, &chunk.ChunkOrder); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
