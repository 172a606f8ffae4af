package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/pkg/database"
	apperrors "github.com/utafrali/bookshelf/pkg/errors"
)

const bookColumns = `id, title, slug, author, isbn, description, genres, published_year, cover_url,
	average_rating, total_ratings, is_active, created_by, created_at, updated_at`

// BookRepository implements repository.BookRepository using PostgreSQL.
type BookRepository struct {
	db database.DBTX
}

// NewBookRepository creates a new PostgreSQL-backed book repository.
func NewBookRepository(db database.DBTX) *BookRepository {
	return &BookRepository{db: db}
}

// Create inserts a new book.
func (r *BookRepository) Create(ctx context.Context, b *domain.Book) (err error) {
	query := `
		INSERT INTO books (id, title, slug, author, isbn, description, genres, published_year, cover_url,
			average_rating, total_ratings, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	ctx, end := database.TraceQuery(ctx, "books.Create", query)
	defer func() { end(err) }()

	genres := b.Genres
	if genres == nil {
		genres = []string{}
	}

	_, err = r.db.Exec(ctx, query,
		b.ID,
		b.Title,
		b.Slug,
		b.Author,
		b.ISBN,
		b.Description,
		genres,
		b.PublishedYear,
		b.CoverURL,
		b.AverageRating,
		b.TotalRatings,
		b.IsActive,
		b.CreatedBy,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("book", "slug", b.Slug)
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// GetByID retrieves a book by its ID.
func (r *BookRepository) GetByID(ctx context.Context, id string) (_ *domain.Book, err error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "books.GetByID", query)
	defer func() { end(err) }()

	b, err := scanBook(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.BookNotFound(id)
		}
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}
	return b, nil
}

// GetBySlug retrieves a book by its slug.
func (r *BookRepository) GetBySlug(ctx context.Context, slug string) (_ *domain.Book, err error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE slug = $1`

	ctx, end := database.TraceQuery(ctx, "books.GetBySlug", query)
	defer func() { end(err) }()

	b, err := scanBook(r.db.QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.BookNotFound(slug)
		}
		return nil, fmt.Errorf("get book by slug %s: %w", slug, err)
	}
	return b, nil
}

// List returns active books matching the filter, newest first.
func (r *BookRepository) List(ctx context.Context, filter domain.BookFilter) (_ []domain.Book, _ int, err error) {
	conditions := []string{"is_active"}
	var args []any
	argIndex := 1

	if q := strings.TrimSpace(filter.Query); q != "" {
		conditions = append(conditions, fmt.Sprintf("search @@ plainto_tsquery('simple', $%d)", argIndex))
		args = append(args, q)
		argIndex++
	}
	if g := strings.TrimSpace(filter.Genre); g != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(genres)", argIndex))
		args = append(args, g)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT %s,
			   count(*) OVER() AS total_count
		FROM books
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`,
		bookColumns, strings.Join(conditions, " AND "), argIndex, argIndex+1,
	)

	limit, offset := limitOffset(filter.Page, filter.PerPage)
	args = append(args, limit, offset)

	ctx, end := database.TraceQuery(ctx, "books.List", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var (
		books      []domain.Book
		totalCount int
	)
	for rows.Next() {
		var b domain.Book
		if err := rows.Scan(append(bookFields(&b), &totalCount)...); err != nil {
			return nil, 0, fmt.Errorf("scan book row: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate book rows: %w", err)
	}
	return books, totalCount, nil
}

// Update applies a catalog edit to an active book.
func (r *BookRepository) Update(ctx context.Context, id string, u domain.BookUpdate, slug string) (_ *domain.Book, err error) {
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

	if u.Title != nil {
		set("title", *u.Title)
	}
	if slug != "" {
		set("slug", slug)
	}
	if u.Author != nil {
		set("author", *u.Author)
	}
	if u.ISBN != nil {
		set("isbn", *u.ISBN)
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.Genres != nil {
		genres := *u.Genres
		if genres == nil {
			genres = []string{}
		}
		set("genres", genres)
	}
	if u.PublishedYear != nil {
		set("published_year", *u.PublishedYear)
	}
	if u.CoverURL != nil {
		set("cover_url", *u.CoverURL)
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE books SET %s
		WHERE id = $%d AND is_active
		RETURNING %s`,
		strings.Join(sets, ", "), argIndex, bookColumns,
	)
	args = append(args, id)

	ctx, end := database.TraceQuery(ctx, "books.Update", query)
	defer func() { end(err) }()

	b, err := scanBook(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.BookNotFound(id)
		}
		if isUniqueViolation(err) {
			return nil, apperrors.AlreadyExists("book", "slug", slug)
		}
		return nil, fmt.Errorf("update book %s: %w", id, err)
	}
	return b, nil
}

// Deactivate soft-deletes an active book.
func (r *BookRepository) Deactivate(ctx context.Context, id string) (err error) {
	query := `UPDATE books SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`

	ctx, end := database.TraceQuery(ctx, "books.Deactivate", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate book %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return domain.BookNotFound(id)
	}
	return nil
}

// SetRating writes the derived rating fields.
func (r *BookRepository) SetRating(ctx context.Context, id string, s domain.RatingSummary) (err error) {
	query := `UPDATE books SET average_rating = $2, total_ratings = $3, updated_at = NOW() WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "books.SetRating", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id, s.AverageRating, s.TotalRatings)
	if err != nil {
		return fmt.Errorf("set rating for book %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return domain.BookNotFound(id)
	}
	return nil
}

func bookFields(b *domain.Book) []any {
	return []any{
		&b.ID,
		&b.Title,
		&b.Slug,
		&b.Author,
		&b.ISBN,
		&b.Description,
		&b.Genres,
		&b.PublishedYear,
		&b.CoverURL,
		&b.AverageRating,
		&b.TotalRatings,
		&b.IsActive,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
	}
}

func scanBook(row rowScanner) (*domain.Book, error) {
	var b domain.Book
	if err := row.Scan(bookFields(&b)...); err != nil {
		return nil, err
	}
	return &b, nil
}
