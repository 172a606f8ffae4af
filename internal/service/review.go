package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/internal/repository"
	apperrors "github.com/utafrali/bookshelf/pkg/errors"
)

// Review text limits.
const (
	MaxReviewTitleLength   = 200
	MaxReviewContentLength = 10000
)

// CreateReviewInput holds the parameters for creating a review.
type CreateReviewInput struct {
	UserID           string
	BookID           string
	Rating           int
	Title            string
	Content          string
	ContainsSpoilers bool
}

// ReviewService implements the review lifecycle. Every confirmed write is
// followed, in order, by the rating recompute and the author's reviewsCount
// bookkeeping.
type ReviewService struct {
	reviews    repository.ReviewRepository
	books      repository.BookRepository
	users      repository.UserRepository
	aggregator *RatingAggregator
	events     EventPublisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewReviewService creates a new review service.
func NewReviewService(
	reviews repository.ReviewRepository,
	books repository.BookRepository,
	users repository.UserRepository,
	aggregator *RatingAggregator,
	events EventPublisher,
	logger *slog.Logger,
) *ReviewService {
	return &ReviewService{
		reviews:    reviews,
		books:      books,
		users:      users,
		aggregator: aggregator,
		events:     events,
		logger:     logger,
		now:        time.Now,
	}
}

// Create persists a new review, recomputes the book's rating and increments
// the author's reviewsCount.
func (s *ReviewService) Create(ctx context.Context, input *CreateReviewInput) (*domain.Review, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Content = strings.TrimSpace(input.Content)
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	book, err := s.books.GetByID(ctx, input.BookID)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if !book.IsActive {
		return nil, domain.BookNotFound(input.BookID)
	}

	// The unique index is the real guard; this only gives the common case a
	// clean error without a failed insert.
	existing, err := s.reviews.FindByUserAndBook(ctx, input.UserID, input.BookID)
	switch {
	case err == nil && existing != nil:
		return nil, domain.DuplicateReview(input.UserID, input.BookID)
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("check existing review: %w", err)
	}

	now := s.now().UTC()
	review := &domain.Review{
		ID:               uuid.New().String(),
		UserID:           input.UserID,
		BookID:           input.BookID,
		Rating:           input.Rating,
		Title:            input.Title,
		Content:          input.Content,
		ContainsSpoilers: input.ContainsSpoilers,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.reviews.Create(ctx, review); err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}

	aggErr := s.recompute(ctx, review.BookID, "review.created")
	if err := s.users.IncrementReviewsCount(ctx, review.UserID); err != nil {
		return nil, errors.Join(aggErr, apperrors.Internal(fmt.Errorf("increment reviews count for %s: %w", review.UserID, err)))
	}
	if aggErr != nil {
		return nil, aggErr
	}

	if err := s.events.PublishReviewCreated(ctx, review); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review.created event",
			slog.String("review_id", review.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "review created",
		slog.String("review_id", review.ID),
		slog.String("book_id", review.BookID),
		slog.String("user_id", review.UserID),
		slog.Int("rating", review.Rating),
	)
	return review, nil
}

// Update applies a partial edit to an active review. Only the author or an
// admin may edit; the rating is recomputed when the rating changes.
func (s *ReviewService) Update(ctx context.Context, reviewID string, requester Requester, update domain.ReviewUpdate) (*domain.Review, error) {
	if err := validateUpdate(&update); err != nil {
		return nil, err
	}

	if _, err := s.authorize(ctx, reviewID, requester); err != nil {
		return nil, err
	}

	updated, err := s.reviews.Update(ctx, reviewID, update)
	if err != nil {
		return nil, fmt.Errorf("update review: %w", err)
	}

	if update.Rating != nil {
		if err := s.recompute(ctx, updated.BookID, "review.updated"); err != nil {
			return nil, err
		}
	}

	if err := s.events.PublishReviewUpdated(ctx, updated); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review.updated event",
			slog.String("review_id", updated.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "review updated",
		slog.String("review_id", updated.ID),
		slog.String("requester_id", requester.UserID),
		slog.Bool("rating_changed", update.Rating != nil),
	)
	return updated, nil
}

// Delete soft-deletes an active review, recomputes the rating and decrements
// the author's reviewsCount. Of two concurrent deletes only one passes the
// conditional write, so the count is decremented once.
func (s *ReviewService) Delete(ctx context.Context, reviewID string, requester Requester) error {
	if _, err := s.authorize(ctx, reviewID, requester); err != nil {
		return err
	}

	review, err := s.reviews.Deactivate(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("deactivate review: %w", err)
	}

	aggErr := s.recompute(ctx, review.BookID, "review.deleted")

	clamped, err := s.users.DecrementReviewsCount(ctx, review.UserID)
	if err != nil {
		return errors.Join(aggErr, apperrors.Internal(fmt.Errorf("decrement reviews count for %s: %w", review.UserID, err)))
	}
	if clamped {
		ReviewsCountClamped.Inc()
		s.logger.WarnContext(ctx, "reviews count already zero, decrement clamped",
			slog.String("user_id", review.UserID),
			slog.String("review_id", review.ID),
		)
	}
	if aggErr != nil {
		return aggErr
	}

	if err := s.events.PublishReviewDeleted(ctx, review); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review.deleted event",
			slog.String("review_id", review.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "review deleted",
		slog.String("review_id", review.ID),
		slog.String("book_id", review.BookID),
		slog.String("requester_id", requester.UserID),
	)
	return nil
}

// Get returns an active review. Admins may also read inactive ones.
func (s *ReviewService) Get(ctx context.Context, reviewID string, requester Requester) (*domain.Review, error) {
	review, err := s.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	if !review.IsActive && !requester.IsAdmin {
		return nil, domain.ReviewNotFound(reviewID)
	}
	return review, nil
}

// ListByBook returns a page of the book's active reviews and the total count.
func (s *ReviewService) ListByBook(ctx context.Context, bookID string, filter domain.ReviewFilter) ([]domain.Review, int, error) {
	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		return nil, 0, fmt.Errorf("get book: %w", err)
	}

	filter.BookID = bookID
	filter.UserID = ""
	reviews, total, err := s.reviews.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list book reviews: %w", err)
	}
	return reviews, total, nil
}

// ListByUser returns a page of the user's active reviews and the total count.
func (s *ReviewService) ListByUser(ctx context.Context, userID string, filter domain.ReviewFilter) ([]domain.Review, int, error) {
	filter.UserID = userID
	filter.BookID = ""
	reviews, total, err := s.reviews.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list user reviews: %w", err)
	}
	return reviews, total, nil
}

// authorize loads an active review and checks that requester may modify it.
func (s *ReviewService) authorize(ctx context.Context, reviewID string, requester Requester) (*domain.Review, error) {
	review, err := s.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	if !review.IsActive {
		return nil, domain.ReviewNotFound(reviewID)
	}
	if !requester.canModify(review.UserID) {
		return nil, apperrors.Forbidden("only the author or an admin may modify this review")
	}
	return review, nil
}

// recompute runs the aggregator for bookID. On failure it asks the recompute
// consumer to retry and returns the error unchanged.
func (s *ReviewService) recompute(ctx context.Context, bookID, reason string) error {
	_, err := s.aggregator.Recompute(ctx, bookID)
	if err == nil {
		return nil
	}

	s.logger.ErrorContext(ctx, "rating recompute failed",
		slog.String("book_id", bookID),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	if pubErr := s.events.PublishRecomputeRequested(ctx, bookID, reason); pubErr != nil {
		s.logger.ErrorContext(ctx, "failed to publish rating.recompute_requested event",
			slog.String("book_id", bookID),
			slog.String("error", pubErr.Error()),
		)
	}
	return err
}

func validateCreate(in *CreateReviewInput) error {
	switch {
	case in.UserID == "":
		return apperrors.Unauthorized("authentication required")
	case in.BookID == "":
		return apperrors.InvalidInput("bookId is required")
	case !domain.IsValidRating(in.Rating):
		return apperrors.InvalidInput(fmt.Sprintf("rating must be between %d and %d", domain.MinRating, domain.MaxRating))
	}
	if err := validateText("title", in.Title, MaxReviewTitleLength); err != nil {
		return err
	}
	return validateText("content", in.Content, MaxReviewContentLength)
}

func validateUpdate(u *domain.ReviewUpdate) error {
	if u.IsEmpty() {
		return apperrors.InvalidInput("at least one field must be provided")
	}
	if u.Rating != nil && !domain.IsValidRating(*u.Rating) {
		return apperrors.InvalidInput(fmt.Sprintf("rating must be between %d and %d", domain.MinRating, domain.MaxRating))
	}
	if u.Title != nil {
		t := strings.TrimSpace(*u.Title)
		if err := validateText("title", t, MaxReviewTitleLength); err != nil {
			return err
		}
		u.Title = &t
	}
	if u.Content != nil {
		c := strings.TrimSpace(*u.Content)
		if err := validateText("content", c, MaxReviewContentLength); err != nil {
			return err
		}
		u.Content = &c
	}
	return nil
}

func validateText(field, v string, maxLen int) error {
	if v == "" {
		return apperrors.InvalidInput(field + " is required")
	}
	if utf8.RuneCountInString(v) > maxLen {
		return apperrors.InvalidInput(fmt.Sprintf("%s must be at most %d characters", field, maxLen))
	}
	return nil
}
