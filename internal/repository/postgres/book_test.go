package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/bookshelf/internal/domain"
	apperrors "github.com/utafrali/bookshelf/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

var now = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

var bookCols = []string{
	"id", "title", "slug", "author", "isbn", "description", "genres", "published_year", "cover_url",
	"average_rating", "total_ratings", "is_active", "created_by", "created_at", "updated_at",
}

func sampleBook() domain.Book {
	return domain.Book{
		ID:            "5d2b1c9e-7a7e-4b55-9a53-6f0f2f0b8a11",
		Title:         "The Left Hand of Darkness",
		Slug:          "the-left-hand-of-darkness",
		Author:        "Ursula K. Le Guin",
		ISBN:          "9780441478125",
		Genres:        []string{"science-fiction"},
		PublishedYear: 1969,
		AverageRating: 4.5,
		TotalRatings:  2,
		IsActive:      true,
		CreatedBy:     "admin-1",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func bookRow(b domain.Book) []any {
	return []any{
		b.ID, b.Title, b.Slug, b.Author, b.ISBN, b.Description, b.Genres, b.PublishedYear, b.CoverURL,
		b.AverageRating, b.TotalRatings, b.IsActive, b.CreatedBy, b.CreatedAt, b.UpdatedAt,
	}
}

// ─── Create ─────────────────────────────────────────────────────────────────

func TestBookRepository_Create(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)
	b := sampleBook()

	mock.ExpectExec("INSERT INTO books").
		WithArgs(bookRow(b)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), &b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepository_Create_DuplicateSlug(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)
	b := sampleBook()

	mock.ExpectExec("INSERT INTO books").
		WithArgs(bookRow(b)...).
		WillReturnError(errors.New("ERROR: duplicate key value violates unique constraint \"books_slug_key\" (SQLSTATE 23505)"))

	err := repo.Create(context.Background(), &b)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── Get ────────────────────────────────────────────────────────────────────

func TestBookRepository_GetByID(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)
	b := sampleBook()

	mock.ExpectQuery("SELECT .+ FROM books WHERE id").
		WithArgs(b.ID).
		WillReturnRows(pgxmock.NewRows(bookCols).AddRow(bookRow(b)...))

	got, err := repo.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, &b, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepository_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM books WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepository_GetBySlug(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)
	b := sampleBook()

	mock.ExpectQuery("SELECT .+ FROM books WHERE slug").
		WithArgs(b.Slug).
		WillReturnRows(pgxmock.NewRows(bookCols).AddRow(bookRow(b)...))

	got, err := repo.GetBySlug(context.Background(), b.Slug)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── List ───────────────────────────────────────────────────────────────────

func TestBookRepository_List_WithFilters(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)
	b := sampleBook()

	mock.ExpectQuery(`SELECT .+ FROM books WHERE is_active AND search @@ plainto_tsquery\('simple', \$1\) AND \$2 = ANY\(genres\)`).
		WithArgs("darkness", "science-fiction", 10, 10).
		WillReturnRows(pgxmock.NewRows(append(bookCols, "total_count")).AddRow(append(bookRow(b), 11)...))

	books, total, err := repo.List(context.Background(), domain.BookFilter{
		Query: "darkness", Genre: "science-fiction", Page: 2, PerPage: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, books, 1)
	assert.Equal(t, b.Slug, books[0].Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepository_List_DefaultsToActiveOnly(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)

	mock.ExpectQuery(`SELECT .+ FROM books WHERE is_active ORDER BY`).
		WithArgs(defaultPerPage, 0).
		WillReturnRows(pgxmock.NewRows(append(bookCols, "total_count")))

	books, total, err := repo.List(context.Background(), domain.BookFilter{})
	require.NoError(t, err)
	assert.Empty(t, books)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── Update / Deactivate ────────────────────────────────────────────────────

func TestBookRepository_Update(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)
	b := sampleBook()
	b.Title = "The Dispossessed"
	b.Slug = "the-dispossessed"

	mock.ExpectQuery(`UPDATE books SET title = \$1, slug = \$2, published_year = \$3, updated_at = NOW\(\) WHERE id = \$4 AND is_active RETURNING`).
		WithArgs("The Dispossessed", "the-dispossessed", 1974, b.ID).
		WillReturnRows(pgxmock.NewRows(bookCols).AddRow(bookRow(b)...))

	got, err := repo.Update(context.Background(), b.ID, domain.BookUpdate{
		Title:         strPtr("The Dispossessed"),
		PublishedYear: intPtr(1974),
	}, "the-dispossessed")
	require.NoError(t, err)
	assert.Equal(t, "the-dispossessed", got.Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepository_Update_Inactive(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)

	mock.ExpectQuery("UPDATE books SET").
		WithArgs("Dune", "b1").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Update(context.Background(), "b1", domain.BookUpdate{Title: strPtr("Dune")}, "")
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepository_Deactivate(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)

	mock.ExpectExec("UPDATE books SET is_active = FALSE").
		WithArgs("b1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE books SET is_active = FALSE").
		WithArgs("b1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.Deactivate(context.Background(), "b1"))
	assert.ErrorIs(t, repo.Deactivate(context.Background(), "b1"), domain.ErrBookNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepository_SetRating(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)

	mock.ExpectExec("UPDATE books SET average_rating").
		WithArgs("b1", 3.5, 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.SetRating(context.Background(), "b1", domain.RatingSummary{AverageRating: 3.5, TotalRatings: 2})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepository_SetRating_Missing(t *testing.T) {
	mock := newMock(t)
	repo := NewBookRepository(mock)

	mock.ExpectExec("UPDATE books SET average_rating").
		WithArgs("gone", 0.0, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SetRating(context.Background(), "gone", domain.RatingSummary{})
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
