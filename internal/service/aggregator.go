package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/internal/repository"
)

// RatingAggregator recomputes a book's averageRating and totalRatings from its
// active reviews. It is the only writer of those fields.
type RatingAggregator struct {
	books   repository.BookRepository
	reviews repository.ReviewRepository
	events  EventPublisher
	logger  *slog.Logger
}

// NewRatingAggregator creates a new rating aggregator.
func NewRatingAggregator(books repository.BookRepository, reviews repository.ReviewRepository, events EventPublisher, logger *slog.Logger) *RatingAggregator {
	return &RatingAggregator{
		books:   books,
		reviews: reviews,
		events:  events,
		logger:  logger,
	}
}

// Recompute derives the rating summary of bookID and persists it. A missing
// book yields BookNotFound and nothing is written; any other failure yields
// AggregationFailed.
func (a *RatingAggregator) Recompute(ctx context.Context, bookID string) (domain.RatingSummary, error) {
	stats, err := a.reviews.RatingStats(ctx, bookID)
	if err != nil {
		RatingRecomputations.WithLabelValues("error").Inc()
		return domain.RatingSummary{}, domain.AggregationFailed(bookID, err)
	}

	summary := stats.Summary()
	if err := a.books.SetRating(ctx, bookID, summary); err != nil {
		if errors.Is(err, domain.ErrBookNotFound) {
			RatingRecomputations.WithLabelValues("book_not_found").Inc()
			return domain.RatingSummary{}, domain.BookNotFound(bookID)
		}
		RatingRecomputations.WithLabelValues("error").Inc()
		return domain.RatingSummary{}, domain.AggregationFailed(bookID, err)
	}
	RatingRecomputations.WithLabelValues("ok").Inc()

	if err := a.events.PublishRatingUpdated(ctx, bookID, summary); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish book.rating_updated event",
			slog.String("book_id", bookID),
			slog.String("error", err.Error()),
		)
	}

	a.logger.InfoContext(ctx, "book rating recomputed",
		slog.String("book_id", bookID),
		slog.Float64("average_rating", summary.AverageRating),
		slog.Int("total_ratings", summary.TotalRatings),
	)
	return summary, nil
}
