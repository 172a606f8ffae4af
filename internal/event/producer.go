package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/bookshelf/internal/domain"
	pkgkafka "github.com/utafrali/bookshelf/pkg/kafka"
)

// Kafka topics for bookshelf domain events.
var (
	TopicReviewCreated      = pkgkafka.Topic("review", "created")
	TopicReviewUpdated      = pkgkafka.Topic("review", "updated")
	TopicReviewDeleted      = pkgkafka.Topic("review", "deleted")
	TopicBookRatingUpdated  = pkgkafka.Topic("book", "rating_updated")
	TopicRecomputeRequested = pkgkafka.Topic("rating", "recompute_requested")
)

// Aggregate type constants.
const (
	AggregateTypeReview = "review"
	AggregateTypeBook   = "book"
)

// SourceBookshelf identifies events emitted by this service.
const SourceBookshelf = "bookshelf-service"

// ReviewData is the payload of the review.* events.
type ReviewData struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	BookID           string    `json:"book_id"`
	Rating           int       `json:"rating"`
	ContainsSpoilers bool      `json:"contains_spoilers"`
	IsActive         bool      `json:"is_active"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RatingUpdatedData is the payload of a book.rating_updated event.
type RatingUpdatedData struct {
	BookID        string  `json:"book_id"`
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int     `json:"total_ratings"`
}

// RecomputeRequestedData is the payload of a rating.recompute_requested event.
type RecomputeRequestedData struct {
	BookID string `json:"book_id"`
	Reason string `json:"reason"`
}

// Publisher is the subset of *pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes bookshelf domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishReviewCreated publishes a review.created event.
func (p *Producer) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	return p.publishReview(ctx, TopicReviewCreated, "review.created", review)
}

// PublishReviewUpdated publishes a review.updated event.
func (p *Producer) PublishReviewUpdated(ctx context.Context, review *domain.Review) error {
	return p.publishReview(ctx, TopicReviewUpdated, "review.updated", review)
}

// PublishReviewDeleted publishes a review.deleted event.
func (p *Producer) PublishReviewDeleted(ctx context.Context, review *domain.Review) error {
	return p.publishReview(ctx, TopicReviewDeleted, "review.deleted", review)
}

func (p *Producer) publishReview(ctx context.Context, topic, eventType string, review *domain.Review) error {
	data := ReviewData{
		ID:               review.ID,
		UserID:           review.UserID,
		BookID:           review.BookID,
		Rating:           review.Rating,
		ContainsSpoilers: review.ContainsSpoilers,
		IsActive:         review.IsActive,
		UpdatedAt:        review.UpdatedAt,
	}

	event, err := pkgkafka.NewEvent(ctx, eventType, review.ID, AggregateTypeReview, SourceBookshelf, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	event.WithMetadata("book_id", review.BookID)

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published "+eventType+" event",
		slog.String("review_id", review.ID),
		slog.String("book_id", review.BookID),
	)
	return nil
}

// PublishRatingUpdated publishes a book.rating_updated event.
func (p *Producer) PublishRatingUpdated(ctx context.Context, bookID string, summary domain.RatingSummary) error {
	data := RatingUpdatedData{
		BookID:        bookID,
		AverageRating: summary.AverageRating,
		TotalRatings:  summary.TotalRatings,
	}

	event, err := pkgkafka.NewEvent(ctx, "book.rating_updated", bookID, AggregateTypeBook, SourceBookshelf, data)
	if err != nil {
		return fmt.Errorf("create book.rating_updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicBookRatingUpdated, event); err != nil {
		return fmt.Errorf("publish book.rating_updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published book.rating_updated event",
		slog.String("book_id", bookID),
		slog.Float64("average_rating", summary.AverageRating),
		slog.Int("total_ratings", summary.TotalRatings),
	)
	return nil
}

// PublishRecomputeRequested asks the recompute consumer to retry the rating
// aggregation of bookID.
func (p *Producer) PublishRecomputeRequested(ctx context.Context, bookID, reason string) error {
	data := RecomputeRequestedData{BookID: bookID, Reason: reason}

	event, err := pkgkafka.NewEvent(ctx, "rating.recompute_requested", bookID, AggregateTypeBook, SourceBookshelf, data)
	if err != nil {
		return fmt.Errorf("create rating.recompute_requested event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicRecomputeRequested, event); err != nil {
		return fmt.Errorf("publish rating.recompute_requested event: %w", err)
	}

	p.logger.DebugContext(ctx, "published rating.recompute_requested event",
		slog.String("book_id", bookID),
		slog.String("reason", reason),
	)
	return nil
}

// NopPublisher discards every event. It is used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishReviewCreated(context.Context, *domain.Review) error { return nil }
func (NopPublisher) PublishReviewUpdated(context.Context, *domain.Review) error { return nil }
func (NopPublisher) PublishReviewDeleted(context.Context, *domain.Review) error { return nil }

func (NopPublisher) PublishRatingUpdated(context.Context, string, domain.RatingSummary) error {
	return nil
}

func (NopPublisher) PublishRecomputeRequested(context.Context, string, string) error { return nil }
