package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/pkg/database"
)

const userColumns = `id, email, display_name, role, reviews_count, created_at, updated_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert creates the profile or refreshes its identity fields.
func (r *UserRepository) Upsert(ctx context.Context, u *domain.User) (_ *domain.User, err error) {
	query := `
		INSERT INTO users (id, email, display_name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + userColumns

	ctx, end := database.TraceQuery(ctx, "users.Upsert", query)
	defer func() { end(err) }()

	out, err := scanUser(r.db.QueryRow(ctx, query, u.ID, u.Email, u.DisplayName, u.Role, u.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return out, nil
}

// GetByID retrieves a profile.
func (r *UserRepository) GetByID(ctx context.Context, id string) (_ *domain.User, err error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "users.GetByID", query)
	defer func() { end(err) }()

	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.UserNotFound(id)
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// IncrementReviewsCount adds one, inserting a bare profile when needed.
func (r *UserRepository) IncrementReviewsCount(ctx context.Context, id string) (err error) {
	query := `
		INSERT INTO users (id, reviews_count) VALUES ($1, 1)
		ON CONFLICT (id) DO UPDATE SET
			reviews_count = users.reviews_count + 1,
			updated_at = NOW()`

	ctx, end := database.TraceQuery(ctx, "users.IncrementReviewsCount", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("increment reviews count for %s: %w", id, err)
	}
	return nil
}

// DecrementReviewsCount subtracts one from a positive count.
func (r *UserRepository) DecrementReviewsCount(ctx context.Context, id string) (_ bool, err error) {
	query := `
		UPDATE users SET reviews_count = reviews_count - 1, updated_at = NOW()
		WHERE id = $1 AND reviews_count > 0`

	ctx, end := database.TraceQuery(ctx, "users.DecrementReviewsCount", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("decrement reviews count for %s: %w", id, err)
	}
	return ct.RowsAffected() == 0, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.ReviewsCount, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
