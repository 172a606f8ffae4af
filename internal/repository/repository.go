package repository

import (
	"context"

	"github.com/utafrali/bookshelf/internal/domain"
)

// Implementations return errors wrapping apperrors.ErrNotFound for missing
// rows and apperrors.ErrAlreadyExists for unique-index violations.

// BookRepository defines book persistence.
type BookRepository interface {
	// Create inserts a book. A taken slug yields ErrAlreadyExists.
	Create(ctx context.Context, book *domain.Book) error

	// GetByID returns a book in any state.
	GetByID(ctx context.Context, id string) (*domain.Book, error)

	// GetBySlug returns a book in any state.
	GetBySlug(ctx context.Context, slug string) (*domain.Book, error)

	// List returns active books matching the filter and the total match count.
	List(ctx context.Context, filter domain.BookFilter) ([]domain.Book, int, error)

	// Update applies a catalog edit to an active book. slug, when non-empty,
	// replaces the stored slug.
	Update(ctx context.Context, id string, update domain.BookUpdate, slug string) (*domain.Book, error)

	// Deactivate soft-deletes an active book.
	Deactivate(ctx context.Context, id string) error

	// SetRating writes the derived rating fields. It is the only writer of
	// those fields and does not look at the book's activity.
	SetRating(ctx context.Context, id string, summary domain.RatingSummary) error
}

// ReviewRepository defines review persistence and the interaction ledger.
type ReviewRepository interface {
	// Create inserts a review. A second review for the same (user, book)
	// yields ErrAlreadyExists.
	Create(ctx context.Context, review *domain.Review) error

	// GetByID returns a review in any state.
	GetByID(ctx context.Context, id string) (*domain.Review, error)

	// FindByUserAndBook returns the user's review of the book in any state.
	FindByUserAndBook(ctx context.Context, userID, bookID string) (*domain.Review, error)

	// List returns active reviews selected by filter and the total count.
	List(ctx context.Context, filter domain.ReviewFilter) ([]domain.Review, int, error)

	// Update applies the present fields with a write conditional on the
	// review being active, and returns the updated review.
	Update(ctx context.Context, id string, update domain.ReviewUpdate) (*domain.Review, error)

	// Deactivate flips an active review to inactive and returns it. A review
	// already inactive yields ErrNotFound.
	Deactivate(ctx context.Context, id string) (*domain.Review, error)

	// RatingStats groups the book's active reviews into an integer sum and
	// count.
	RatingStats(ctx context.Context, bookID string) (domain.RatingStats, error)

	// ToggleVoter adds userID to, or removes it from, the kind voter set of an
	// active review in one atomic store operation.
	ToggleVoter(ctx context.Context, reviewID, userID string, kind domain.InteractionKind) (domain.ToggleResult, error)
}

// UserRepository defines profile persistence.
type UserRepository interface {
	// Upsert creates or updates the profile's email, display name and role.
	// It never writes ReviewsCount.
	Upsert(ctx context.Context, user *domain.User) (*domain.User, error)

	// GetByID returns a profile.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// IncrementReviewsCount adds one to the user's count, creating a bare
	// profile when none exists yet.
	IncrementReviewsCount(ctx context.Context, id string) error

	// DecrementReviewsCount subtracts one unless the count is already zero or
	// the profile is missing, in which case it reports clamped.
	DecrementReviewsCount(ctx context.Context, id string) (clamped bool, err error)
}
