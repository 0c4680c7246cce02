package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

type FolderRepository struct {
	db *sql.DB
}

func NewFolderRepository(db *sql.DB) *FolderRepository {
	return &FolderRepository{db: db}
}

func (r *FolderRepository) FindFolder(ctx context.Context, id string) (domain.Folder, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, COALESCE(parent_id, ''), is_root, is_permission_inherited
FROM folders
WHERE id = $1
`, id)

	var folder domain.Folder
	err := row.Scan(&folder.ID, &folder.Name, &folder.ParentID, &folder.IsRoot, &folder.IsPermissionInherited)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Folder{}, domain.WrapError(domain.ErrNotFound, "find folder", fmt.Errorf("folder %s", id))
		}
		return domain.Folder{}, fmt.Errorf("scan folder: %w", err)
	}
	return folder, nil
}

func (r *FolderRepository) ListFolderIDs(ctx context.Context) ([]string, error) {
	ids, err := queryStrings(ctx, r.db, `SELECT id FROM folders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list folder ids: %w", err)
	}
	return ids, nil
}

func (r *FolderRepository) FindGroupPermissions(ctx context.Context, folderID string, groupIDs []string) ([]domain.GroupPermission, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT folder_id, group_id, permission
FROM folder_group_permissions
WHERE folder_id = $1 AND group_id = ANY($2)
`, folderID, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("query group permissions: %w", err)
	}
	defer rows.Close()

	var out []domain.GroupPermission
	for rows.Next() {
		var perm domain.GroupPermission
		var level string
		if err := rows.Scan(&perm.FolderID, &perm.GroupID, &level); err != nil {
			return nil, fmt.Errorf("scan group permission: %w", err)
		}
		perm.Level = domain.ParseAccessLevel(level)
		out = append(out, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group permissions: %w", err)
	}
	return out, nil
}
