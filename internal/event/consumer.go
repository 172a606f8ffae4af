package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/bookshelf/internal/domain"
	pkgkafka "github.com/utafrali/bookshelf/pkg/kafka"
)

// RatingRecomputer is the dependency of the recompute consumer.
type RatingRecomputer interface {
	Recompute(ctx context.Context, bookID string) (domain.RatingSummary, error)
}

// Consumer processes rating.recompute_requested events.
type Consumer struct {
	aggregator RatingRecomputer
	logger     *slog.Logger
}

// NewConsumer creates a new recompute consumer.
func NewConsumer(aggregator RatingRecomputer, logger *slog.Logger) *Consumer {
	return &Consumer{
		aggregator: aggregator,
		logger:     logger,
	}
}

// HandleRecomputeRequested reruns the aggregation for the event's book. A
// book that no longer exists is acknowledged; any other failure is returned
// so the message is retried and eventually dead-lettered.
func (c *Consumer) HandleRecomputeRequested(ctx context.Context, event *pkgkafka.Event) error {
	var data RecomputeRequestedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal rating.recompute_requested data: %w", err)
	}
	if data.BookID == "" {
		data.BookID = event.AggregateID
	}

	c.logger.InfoContext(ctx, "processing rating.recompute_requested event",
		slog.String("book_id", data.BookID),
		slog.String("reason", data.Reason),
	)

	summary, err := c.aggregator.Recompute(ctx, data.BookID)
	if errors.Is(err, domain.ErrBookNotFound) {
		c.logger.WarnContext(ctx, "recompute requested for missing book, skipping",
			slog.String("book_id", data.BookID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recompute rating for book %s: %w", data.BookID, err)
	}

	c.logger.InfoContext(ctx, "rating recomputed from event",
		slog.String("book_id", data.BookID),
		slog.Float64("average_rating", summary.AverageRating),
		slog.Int("total_ratings", summary.TotalRatings),
	)
	return nil
}
