// Package service holds the bookshelf business logic: the rating aggregator,
// the review interaction ledger and the review lifecycle.
package service

import (
	"context"

	"github.com/utafrali/bookshelf/internal/domain"
)

// EventPublisher publishes domain events after confirmed writes. Failures are
// logged by callers and never fail the operation that triggered them.
type EventPublisher interface {
	PublishReviewCreated(ctx context.Context, review *domain.Review) error
	PublishReviewUpdated(ctx context.Context, review *domain.Review) error
	PublishReviewDeleted(ctx context.Context, review *domain.Review) error
	PublishRatingUpdated(ctx context.Context, bookID string, summary domain.RatingSummary) error
	PublishRecomputeRequested(ctx context.Context, bookID, reason string) error
}

// BookSearcher is a full-text index over the active catalog. Search returns
// book ids, best match first, and the total number of matches.
type BookSearcher interface {
	Index(ctx context.Context, book *domain.Book) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, filter domain.BookFilter) ([]string, int, error)
}

// Requester identifies the caller of an ownership-checked operation.
type Requester struct {
	UserID  string
	IsAdmin bool
}

// canModify reports whether the requester may edit or delete a review
// authored by authorID.
func (r Requester) canModify(authorID string) bool {
	return r.IsAdmin || (r.UserID != "" && r.UserID == authorID)
}
