package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/pkg/database"
)

const reviewColumns = `id, user_id, book_id, rating, title, content, contains_spoilers,
	helpful_voters, like_voters, is_active, created_at, updated_at`

// voterColumns maps an interaction kind to its array column. Only these
// names are ever interpolated into SQL.
var voterColumns = map[domain.InteractionKind]string{
	domain.InteractionHelpful: "helpful_voters",
	domain.InteractionLike:    "like_voters",
}

var reviewOrderings = map[string]string{
	domain.SortNewest:      "created_at DESC, id",
	domain.SortOldest:      "created_at ASC, id",
	domain.SortHighest:     "rating DESC, created_at DESC, id",
	domain.SortLowest:      "rating ASC, created_at DESC, id",
	domain.SortMostHelpful: "cardinality(helpful_voters) DESC, created_at DESC, id",
}

// ReviewRepository implements repository.ReviewRepository using PostgreSQL.
type ReviewRepository struct {
	db database.DBTX
}

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(db database.DBTX) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create inserts a new review. The (user_id, book_id) unique constraint
// rejects a second review of the same book.
func (r *ReviewRepository) Create(ctx context.Context, rv *domain.Review) (err error) {
	query := `
		INSERT INTO reviews (id, user_id, book_id, rating, title, content, contains_spoilers,
			helpful_voters, like_voters, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	ctx, end := database.TraceQuery(ctx, "reviews.Create", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		rv.ID,
		rv.UserID,
		rv.BookID,
		rv.Rating,
		rv.Title,
		rv.Content,
		rv.ContainsSpoilers,
		voterArray(rv.Helpful),
		voterArray(rv.Likes),
		rv.IsActive,
		rv.CreatedAt,
		rv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.DuplicateReview(rv.UserID, rv.BookID)
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// GetByID retrieves a review in any state.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (_ *domain.Review, err error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "reviews.GetByID", query)
	defer func() { end(err) }()

	rv, err := scanReview(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ReviewNotFound(id)
		}
		return nil, fmt.Errorf("get review %s: %w", id, err)
	}
	return rv, nil
}

// FindByUserAndBook returns the user's review of the book in any state.
func (r *ReviewRepository) FindByUserAndBook(ctx context.Context, userID, bookID string) (_ *domain.Review, err error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE user_id = $1 AND book_id = $2`

	ctx, end := database.TraceQuery(ctx, "reviews.FindByUserAndBook", query)
	defer func() { end(err) }()

	rv, err := scanReview(r.db.QueryRow(ctx, query, userID, bookID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ReviewNotFound(userID + "/" + bookID)
		}
		return nil, fmt.Errorf("find review by user %s and book %s: %w", userID, bookID, err)
	}
	return rv, nil
}

// List returns active reviews of a book or by a user.
func (r *ReviewRepository) List(ctx context.Context, filter domain.ReviewFilter) (_ []domain.Review, _ int, err error) {
	conditions := []string{"is_active"}
	var args []any
	argIndex := 1

	if filter.BookID != "" {
		conditions = append(conditions, fmt.Sprintf("book_id = $%d", argIndex))
		args = append(args, filter.BookID)
		argIndex++
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, filter.UserID)
		argIndex++
	}

	orderBy, ok := reviewOrderings[filter.Sort]
	if !ok {
		orderBy = reviewOrderings[domain.SortNewest]
	}

	query := fmt.Sprintf(`
		SELECT %s,
			   count(*) OVER() AS total_count
		FROM reviews
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`,
		reviewColumns, strings.Join(conditions, " AND "), orderBy, argIndex, argIndex+1,
	)

	limit, offset := limitOffset(filter.Page, filter.PerPage)
	args = append(args, limit, offset)

	ctx, end := database.TraceQuery(ctx, "reviews.List", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var (
		reviews    []domain.Review
		totalCount int
	)
	for rows.Next() {
		var (
			rv             domain.Review
			helpful, likes []string
		)
		if err := rows.Scan(append(reviewFields(&rv, &helpful, &likes), &totalCount)...); err != nil {
			return nil, 0, fmt.Errorf("scan review row: %w", err)
		}
		rv.Helpful = domain.NewVoterSet(helpful...)
		rv.Likes = domain.NewVoterSet(likes...)
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate review rows: %w", err)
	}
	return reviews, totalCount, nil
}

// Update applies the present fields to an active review.
func (r *ReviewRepository) Update(ctx context.Context, id string, u domain.ReviewUpdate) (_ *domain.Review, err error) {
	var (
		sets     []string
		args     []any
		argIndex = 1
	)
	set := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argIndex))
		args = append(args, v)
		argIndex++
	}

	if u.Rating != nil {
		set("rating", *u.Rating)
	}
	if u.Title != nil {
		set("title", *u.Title)
	}
	if u.Content != nil {
		set("content", *u.Content)
	}
	if u.ContainsSpoilers != nil {
		set("contains_spoilers", *u.ContainsSpoilers)
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE reviews SET %s
		WHERE id = $%d AND is_active
		RETURNING %s`,
		strings.Join(sets, ", "), argIndex, reviewColumns,
	)
	args = append(args, id)

	ctx, end := database.TraceQuery(ctx, "reviews.Update", query)
	defer func() { end(err) }()

	rv, err := scanReview(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ReviewNotFound(id)
		}
		return nil, fmt.Errorf("update review %s: %w", id, err)
	}
	return rv, nil
}

// Deactivate flips an active review to inactive and returns it.
func (r *ReviewRepository) Deactivate(ctx context.Context, id string) (_ *domain.Review, err error) {
	query := `
		UPDATE reviews SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING ` + reviewColumns

	ctx, end := database.TraceQuery(ctx, "reviews.Deactivate", query)
	defer func() { end(err) }()

	rv, err := scanReview(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ReviewNotFound(id)
		}
		return nil, fmt.Errorf("deactivate review %s: %w", id, err)
	}
	return rv, nil
}

// RatingStats sums the ratings of the book's active reviews.
func (r *ReviewRepository) RatingStats(ctx context.Context, bookID string) (_ domain.RatingStats, err error) {
	query := `
		SELECT COALESCE(SUM(rating), 0), COUNT(*)
		FROM reviews
		WHERE book_id = $1 AND is_active`

	ctx, end := database.TraceQuery(ctx, "reviews.RatingStats", query)
	defer func() { end(err) }()

	var s domain.RatingStats
	if err = r.db.QueryRow(ctx, query, bookID).Scan(&s.Sum, &s.Count); err != nil {
		return domain.RatingStats{}, fmt.Errorf("rating stats for book %s: %w", bookID, err)
	}
	return s, nil
}

// ToggleVoter flips userID's membership in one UPDATE. Concurrent toggles on
// the same row serialize on the row lock and each re-evaluates the CASE
// against the committed array.
func (r *ReviewRepository) ToggleVoter(ctx context.Context, reviewID, userID string, kind domain.InteractionKind) (_ domain.ToggleResult, err error) {
	col, ok := voterColumns[kind]
	if !ok {
		return domain.ToggleResult{}, fmt.Errorf("unknown interaction kind %q", kind)
	}

	query := fmt.Sprintf(`
		UPDATE reviews
		SET %[1]s = CASE
			WHEN $2::text = ANY(%[1]s) THEN array_remove(%[1]s, $2::text)
			ELSE array_append(%[1]s, $2::text)
		END
		WHERE id = $1 AND is_active
		RETURNING cardinality(%[1]s), $2::text = ANY(%[1]s)`, col)

	ctx, end := database.TraceQuery(ctx, "reviews.ToggleVoter", query)
	defer func() { end(err) }()

	var res domain.ToggleResult
	if err = r.db.QueryRow(ctx, query, reviewID, userID).Scan(&res.Count, &res.IsSetByUser); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ToggleResult{}, domain.ReviewNotFound(reviewID)
		}
		return domain.ToggleResult{}, fmt.Errorf("toggle %s on review %s: %w", kind, reviewID, err)
	}
	return res, nil
}

// voterArray never returns nil, which pgx would encode as NULL.
func voterArray(v domain.VoterSet) []string {
	if ids := v.Voters(); ids != nil {
		return ids
	}
	return []string{}
}

func reviewFields(rv *domain.Review, helpful, likes *[]string) []any {
	return []any{
		&rv.ID,
		&rv.UserID,
		&rv.BookID,
		&rv.Rating,
		&rv.Title,
		&rv.Content,
		&rv.ContainsSpoilers,
		helpful,
		likes,
		&rv.IsActive,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	}
}

func scanReview(row rowScanner) (*domain.Review, error) {
	var (
		rv             domain.Review
		helpful, likes []string
	)
	if err := row.Scan(reviewFields(&rv, &helpful, &likes)...); err != nil {
		return nil, err
	}
	rv.Helpful = domain.NewVoterSet(helpful...)
	rv.Likes = domain.NewVoterSet(likes...)
	return &rv, nil
}
