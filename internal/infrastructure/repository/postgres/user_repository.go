package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) UserGroupIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := queryStrings(ctx, r.db, `SELECT group_id FROM group_members WHERE user_id = $1 ORDER BY group_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	return ids, nil
}

func (r *UserRepository) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var admin bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM app_admins WHERE user_id = $1)`, userID).Scan(&admin)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return admin, nil
}
