package domain

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/bookshelf/pkg/errors"
)

// Domain sentinels. Each wraps the shared sentinel its HTTP mapping uses.
var (
	ErrBookNotFound      = fmt.Errorf("book %w", apperrors.ErrNotFound)
	ErrReviewNotFound    = fmt.Errorf("review %w", apperrors.ErrNotFound)
	ErrUserNotFound      = fmt.Errorf("user %w", apperrors.ErrNotFound)
	ErrDuplicateReview   = fmt.Errorf("duplicate review: %w", apperrors.ErrAlreadyExists)
	ErrAggregationFailed = errors.New("rating aggregation failed")
)

func notFound(resource, id string, sentinel error) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     sentinel,
	}
}

// BookNotFound is returned for missing or inactive books.
func BookNotFound(id string) *apperrors.AppError {
	return notFound("book", id, ErrBookNotFound)
}

// ReviewNotFound is returned for missing or inactive reviews.
func ReviewNotFound(id string) *apperrors.AppError {
	return notFound("review", id, ErrReviewNotFound)
}

// UserNotFound is returned for unknown profiles.
func UserNotFound(id string) *apperrors.AppError {
	return notFound("user", id, ErrUserNotFound)
}

// DuplicateReview is returned when the user already reviewed the book.
func DuplicateReview(userID, bookID string) *apperrors.AppError {
	return apperrors.Conflict("DUPLICATE_REVIEW",
		fmt.Sprintf("user %s has already reviewed book %s", userID, bookID),
		ErrDuplicateReview)
}

// AggregationFailed wraps a failed rating recomputation as an internal error.
func AggregationFailed(bookID string, cause error) *apperrors.AppError {
	return apperrors.Internal(fmt.Errorf("%w for book %s: %w", ErrAggregationFailed, bookID, cause))
}
