package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

// FullTextIndex ranks chunks with ts_rank over the generated search_vector column.
type FullTextIndex struct {
	db       *sql.DB
	language string
}

func NewFullTextIndex(db *sql.DB, language string) *FullTextIndex {
	if strings.TrimSpace(language) == "" {
		language = "simple"
	}
	return &FullTextIndex{db: db, language: language}
}

// Query ANDs prefix matches of every term. A nil filter searches all documents;
// an empty non-nil filter matches nothing.
func (i *FullTextIndex) Query(ctx context.Context, query domain.LexicalQuery, limit int, filter domain.DocumentIDSet) ([]domain.LexicalHit, error) {
	if query.Empty() || limit <= 0 {
		return nil, nil
	}
	if filter != nil && filter.Len() == 0 {
		return nil, nil
	}

	args := []any{i.language, PrefixTSQuery(query), limit}
	stmt := `
SELECT c.id, c.document_id, c.content, ts_rank(c.search_vector, q) AS rank
FROM document_chunks c, to_tsquery($1::regconfig, $2) q
WHERE c.search_vector @@ q
ORDER BY rank DESC, c.id
LIMIT $3
`
	if filter != nil {
		args = append(args, filter.IDs())
		stmt = `
SELECT c.id, c.document_id, c.content, ts_rank(c.search_vector, q) AS rank
FROM document_chunks c, to_tsquery($1::regconfig, $2) q
WHERE c.search_vector @@ q AND c.document_id = ANY($4)
ORDER BY rank DESC, c.id
LIMIT $3
`
	}

	rows, err := i.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("full-text query: %w", err)
	}
	defer rows.Close()

	var out []domain.LexicalHit
	for rows.Next() {
		var hit domain.LexicalHit
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.Content, &hit.Rank); err != nil {
			return nil, fmt.Errorf("scan full-text hit: %w", err)
		}
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate full-text hits: %w", err)
	}
	return out, nil
}

// PrefixTSQuery renders terms as "a:* & b:*". Terms hold letters, digits and marks
// only, so no tsquery operator can reach the database.
func PrefixTSQuery(query domain.LexicalQuery) string {
	parts := make([]string, 0, len(query.Terms))
	for _, term := range query.Terms {
		parts = append(parts, term+":*")
	}
	return strings.Join(parts, " & ")
}
