package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

var _ repository.UserRepository = (*Repository)(nil)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, first_name, last_name, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.FirstName, user.LastName, user.CreatedAt)
	return mapError(err)
}

// ListUsers returns users newest first.
func (r *Repository) ListUsers(ctx context.Context, limit int) ([]domain.User, error) {
	const query = `SELECT id, first_name, last_name, created_at FROM users ORDER BY created_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, repository.NormalizeLimit(limit))
	if err != nil {
		return nil, mapError(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.User, error) {
		var u domain.User
		err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.CreatedAt)
		return u, err
	})
}
