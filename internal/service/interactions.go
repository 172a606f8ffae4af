package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/internal/repository"
	apperrors "github.com/utafrali/bookshelf/pkg/errors"
)

// InteractionLedger maintains the helpful and like voter sets of reviews.
// A retried toggle may apply twice; callers that need exactly-once must not
// retry blindly.
type InteractionLedger struct {
	reviews repository.ReviewRepository
	logger  *slog.Logger
}

// NewInteractionLedger creates a new interaction ledger.
func NewInteractionLedger(reviews repository.ReviewRepository, logger *slog.Logger) *InteractionLedger {
	return &InteractionLedger{reviews: reviews, logger: logger}
}

// ToggleHelpful flips userID's helpful vote on an active review.
func (l *InteractionLedger) ToggleHelpful(ctx context.Context, reviewID, userID string) (domain.ToggleResult, error) {
	return l.Toggle(ctx, reviewID, userID, domain.InteractionHelpful)
}

// ToggleLike flips userID's like on an active review.
func (l *InteractionLedger) ToggleLike(ctx context.Context, reviewID, userID string) (domain.ToggleResult, error) {
	return l.Toggle(ctx, reviewID, userID, domain.InteractionLike)
}

// Toggle flips userID's membership in the kind voter set in one store
// operation. Authors may vote on their own reviews.
func (l *InteractionLedger) Toggle(ctx context.Context, reviewID, userID string, kind domain.InteractionKind) (domain.ToggleResult, error) {
	if userID == "" {
		return domain.ToggleResult{}, apperrors.Unauthorized("authentication required")
	}
	if !kind.IsValid() {
		return domain.ToggleResult{}, apperrors.InvalidInput(fmt.Sprintf("unknown interaction %q", kind))
	}

	res, err := l.reviews.ToggleVoter(ctx, reviewID, userID, kind)
	if err != nil {
		return domain.ToggleResult{}, fmt.Errorf("toggle %s: %w", kind, err)
	}

	direction := "off"
	if res.IsSetByUser {
		direction = "on"
	}
	InteractionToggles.WithLabelValues(string(kind), direction).Inc()

	l.logger.DebugContext(ctx, "review interaction toggled",
		slog.String("review_id", reviewID),
		slog.String("user_id", userID),
		slog.String("kind", string(kind)),
		slog.Bool("is_set", res.IsSetByUser),
		slog.Int("count", res.Count),
	)
	return res, nil
}
