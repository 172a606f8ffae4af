package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/utafrali/bookshelf/internal/domain"
	apperrors "github.com/utafrali/bookshelf/pkg/errors"
)

func TestReviewService_RatingLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")

	a := seedReview(t, f, "A", "b1", 4)
	assert.Equal(t, 4.0, f.store.book("b1").AverageRating)
	assert.Equal(t, 1, f.store.book("b1").TotalRatings)

	seedReview(t, f, "B", "b1", 2)
	assert.Equal(t, 3.0, f.store.book("b1").AverageRating)
	assert.Equal(t, 2, f.store.book("b1").TotalRatings)

	_, err := f.reviews.Update(ctx, a.ID, Requester{UserID: "A"}, domain.ReviewUpdate{Rating: intPtr(5)})
	require.NoError(t, err)
	assert.Equal(t, 3.5, f.store.book("b1").AverageRating)
	assert.Equal(t, 2, f.store.book("b1").TotalRatings)

	require.NoError(t, f.reviews.Delete(ctx, a.ID, Requester{UserID: "A"}))
	assert.Equal(t, 2.0, f.store.book("b1").AverageRating)
	assert.Equal(t, 1, f.store.book("b1").TotalRatings)
	assert.Equal(t, 0, f.store.user("A").ReviewsCount)
	assert.Equal(t, 1, f.store.user("B").ReviewsCount)

	assert.Equal(t, []string{
		"book.rating_updated", "review.created",
		"book.rating_updated", "review.created",
		"book.rating_updated", "review.updated",
		"book.rating_updated", "review.deleted",
	}, f.events.kinds())
}

func TestReviewService_Create_Duplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")
	rv := seedReview(t, f, "A", "b1", 4)

	_, err := f.reviews.Create(ctx, &CreateReviewInput{UserID: "A", BookID: "b1", Rating: 1, Title: "again", Content: "again"})
	assert.ErrorIs(t, err, domain.ErrDuplicateReview)
	assert.Equal(t, 1, f.store.reviewCount())

	// A soft-deleted review still blocks a second one.
	require.NoError(t, f.reviews.Delete(ctx, rv.ID, Requester{UserID: "A"}))
	_, err = f.reviews.Create(ctx, &CreateReviewInput{UserID: "A", BookID: "b1", Rating: 1, Title: "again", Content: "again"})
	assert.ErrorIs(t, err, domain.ErrDuplicateReview)
	assert.Equal(t, 1, f.store.reviewCount())
	assert.Equal(t, 0, f.store.user("A").ReviewsCount)
}

func TestReviewService_Create_Validation(t *testing.T) {
	f := newFixture()
	f.store.addBook("b1")

	tests := []struct {
		name  string
		input CreateReviewInput
		want  error
	}{
		{"no user", CreateReviewInput{BookID: "b1", Rating: 3, Title: "t", Content: "c"}, apperrors.ErrUnauthorized},
		{"no book", CreateReviewInput{UserID: "A", Rating: 3, Title: "t", Content: "c"}, apperrors.ErrInvalidInput},
		{"rating low", CreateReviewInput{UserID: "A", BookID: "b1", Rating: 0, Title: "t", Content: "c"}, apperrors.ErrInvalidInput},
		{"rating high", CreateReviewInput{UserID: "A", BookID: "b1", Rating: 6, Title: "t", Content: "c"}, apperrors.ErrInvalidInput},
		{"blank title", CreateReviewInput{UserID: "A", BookID: "b1", Rating: 3, Title: "   ", Content: "c"}, apperrors.ErrInvalidInput},
		{"blank content", CreateReviewInput{UserID: "A", BookID: "b1", Rating: 3, Title: "t"}, apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.input
			_, err := f.reviews.Create(context.Background(), &in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, f.store.reviewCount())
}

func TestReviewService_Create_BookMissingOrInactive(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")
	require.NoError(t, f.books.Delete(ctx, "b1"))

	_, err := f.reviews.Create(ctx, &CreateReviewInput{UserID: "A", BookID: "b1", Rating: 3, Title: "t", Content: "c"})
	assert.ErrorIs(t, err, domain.ErrBookNotFound)

	_, err = f.reviews.Create(ctx, &CreateReviewInput{UserID: "A", BookID: "nope", Rating: 3, Title: "t", Content: "c"})
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
	assert.Zero(t, f.store.reviewCount())
}

func TestReviewService_Forbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")
	rv := seedReview(t, f, "A", "b1", 4)

	_, err := f.reviews.Update(ctx, rv.ID, Requester{UserID: "B"}, domain.ReviewUpdate{Rating: intPtr(1)})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	err = f.reviews.Delete(ctx, rv.ID, Requester{UserID: "B"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	got, err := f.reviews.Get(ctx, rv.ID, Requester{})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Rating)
	assert.True(t, got.IsActive)
	assert.Equal(t, 4.0, f.store.book("b1").AverageRating)
	assert.Equal(t, 1, f.store.user("A").ReviewsCount)
}

func TestReviewService_AdminMayModify(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")
	rv := seedReview(t, f, "A", "b1", 4)
	admin := Requester{UserID: "mod", IsAdmin: true}

	updated, err := f.reviews.Update(ctx, rv.ID, admin, domain.ReviewUpdate{Title: strPtr("  edited  ")})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Title)

	require.NoError(t, f.reviews.Delete(ctx, rv.ID, admin))
	assert.Equal(t, 0, f.store.book("b1").TotalRatings)
	assert.Equal(t, 0, f.store.user("A").ReviewsCount)
}

func TestReviewService_Update_TextOnlyDoesNotRecompute(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")
	rv := seedReview(t, f, "A", "b1", 4)

	_, err := f.reviews.Update(ctx, rv.ID, Requester{UserID: "A"}, domain.ReviewUpdate{Content: strPtr("longer")})
	require.NoError(t, err)
	assert.Equal(t, []string{"book.rating_updated", "review.created", "review.updated"}, f.events.kinds())

	_, err = f.reviews.Update(ctx, rv.ID, Requester{UserID: "A"}, domain.ReviewUpdate{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.reviews.Update(ctx, rv.ID, Requester{UserID: "A"}, domain.ReviewUpdate{Rating: intPtr(9)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestReviewService_DeleteTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")
	f.store.addBook("b2")
	rv := seedReview(t, f, "A", "b1", 4)
	seedReview(t, f, "A", "b2", 3)
	require.Equal(t, 2, f.store.user("A").ReviewsCount)

	require.NoError(t, f.reviews.Delete(ctx, rv.ID, Requester{UserID: "A"}))
	err := f.reviews.Delete(ctx, rv.ID, Requester{UserID: "A"})
	assert.ErrorIs(t, err, domain.ErrReviewNotFound)
	assert.Equal(t, 1, f.store.user("A").ReviewsCount)

	_, err = f.reviews.Update(ctx, rv.ID, Requester{UserID: "A"}, domain.ReviewUpdate{Rating: intPtr(2)})
	assert.ErrorIs(t, err, domain.ErrReviewNotFound)
}

func TestReviewService_Delete_ClampsReviewsCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")
	rv := seedReview(t, f, "A", "b1", 4)

	// Simulate drift: the counter was reset out of band.
	f.store.mu.Lock()
	u := f.store.users["A"]
	u.ReviewsCount = 0
	f.store.users["A"] = u
	f.store.mu.Unlock()

	before := testutil.ToFloat64(ReviewsCountClamped)
	require.NoError(t, f.reviews.Delete(ctx, rv.ID, Requester{UserID: "A"}))
	assert.Equal(t, 0, f.store.user("A").ReviewsCount)
	assert.Equal(t, before+1, testutil.ToFloat64(ReviewsCountClamped))
}

func TestReviewService_PublishFailureDoesNotFailRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")
	f.events.err = errors.New("broker down")

	rv, err := f.reviews.Create(ctx, &CreateReviewInput{UserID: "A", BookID: "b1", Rating: 5, Title: "t", Content: "c"})
	require.NoError(t, err)
	_, err = f.reviews.Update(ctx, rv.ID, Requester{UserID: "A"}, domain.ReviewUpdate{Rating: intPtr(3)})
	require.NoError(t, err)
	require.NoError(t, f.reviews.Delete(ctx, rv.ID, Requester{UserID: "A"}))
	assert.Equal(t, 0, f.store.book("b1").TotalRatings)
}

func TestReviewService_Get(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")
	rv := seedReview(t, f, "A", "b1", 4)
	require.NoError(t, f.reviews.Delete(ctx, rv.ID, Requester{UserID: "A"}))

	_, err := f.reviews.Get(ctx, rv.ID, Requester{UserID: "A"})
	assert.ErrorIs(t, err, domain.ErrReviewNotFound)

	got, err := f.reviews.Get(ctx, rv.ID, Requester{UserID: "mod", IsAdmin: true})
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestReviewService_ListByBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")
	seedReview(t, f, "A", "b1", 4)
	b := seedReview(t, f, "B", "b1", 2)
	require.NoError(t, f.reviews.Delete(ctx, b.ID, Requester{UserID: "B"}))

	reviews, total, err := f.reviews.ListByBook(ctx, "b1", domain.ReviewFilter{UserID: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, reviews, 1)
	assert.Equal(t, "A", reviews[0].UserID)

	_, _, err = f.reviews.ListByBook(ctx, "missing", domain.ReviewFilter{})
	assert.ErrorIs(t, err, domain.ErrBookNotFound)

	mine, total, err := f.reviews.ListByUser(ctx, "B", domain.ReviewFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, mine)
}

func TestReviewService_Create_RecomputeFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addBook("b1")
	events := &recordingPublisher{}

	reviews := new(mockReviewRepository)
	reviews.On("FindByUserAndBook", mock.Anything, "A", "b1").Return(nil, domain.ReviewNotFound("A/b1"))
	reviews.On("Create", mock.Anything, mock.AnythingOfType("*domain.Review")).Return(nil)
	reviews.On("RatingStats", mock.Anything, "b1").Return(domain.RatingStats{}, errors.New("connection reset"))

	logger := newTestLogger()
	agg := NewRatingAggregator(store.bookRepo(), reviews, events, logger)
	svc := NewReviewService(reviews, store.bookRepo(), store.userRepo(), agg, events, logger)

	_, err := svc.Create(ctx, &CreateReviewInput{UserID: "A", BookID: "b1", Rating: 4, Title: "t", Content: "c"})
	assert.ErrorIs(t, err, domain.ErrAggregationFailed)
	assert.Equal(t, 1, store.user("A").ReviewsCount)
	assert.Equal(t, []string{"rating.recompute_requested"}, events.kinds())
	reviews.AssertExpectations(t)
}

func TestReviewService_Create_IncrementFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addBook("b1")
	events := &recordingPublisher{}
	logger := newTestLogger()

	users := new(mockUserRepository)
	users.On("IncrementReviewsCount", mock.Anything, "A").Return(errors.New("deadlock detected"))

	agg := NewRatingAggregator(store.bookRepo(), store.reviewRepo(), events, logger)
	svc := NewReviewService(store.reviewRepo(), store.bookRepo(), users, agg, events, logger)

	_, err := svc.Create(ctx, &CreateReviewInput{UserID: "A", BookID: "b1", Rating: 4, Title: "t", Content: "c"})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.Equal(t, 1, store.book("b1").TotalRatings)
	users.AssertExpectations(t)
}

// TestReviewService_RatingMatchesActiveReviews drives random sequences of
// review writes and checks every book's rating fields and every author's
// reviewsCount against a recount of the active reviews.
func TestReviewService_RatingMatchesActiveReviews(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		f := newFixture()
		books := []string{"b1", "b2"}
		users := []string{"u1", "u2", "u3"}
		for _, b := range books {
			f.store.addBook(b)
		}
		ids := map[string]string{}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for range steps {
			userID := rapid.SampledFrom(users).Draw(rt, "user")
			bookID := rapid.SampledFrom(books).Draw(rt, "book")
			key := userID + "/" + bookID
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				rv, err := f.reviews.Create(ctx, &CreateReviewInput{
					UserID: userID, BookID: bookID,
					Rating: rapid.IntRange(1, 5).Draw(rt, "rating"),
					Title:  "t", Content: "c",
				})
				if _, seen := ids[key]; seen {
					if !errors.Is(err, domain.ErrDuplicateReview) {
						rt.Fatalf("second review by %s: got %v", key, err)
					}
					continue
				}
				if err != nil {
					rt.Fatalf("create %s: %v", key, err)
				}
				ids[key] = rv.ID
			case 1:
				id, ok := ids[key]
				if !ok {
					continue
				}
				_, err := f.reviews.Update(ctx, id, Requester{UserID: userID}, domain.ReviewUpdate{
					Rating: intPtr(rapid.IntRange(1, 5).Draw(rt, "rating")),
				})
				if err != nil && !errors.Is(err, domain.ErrReviewNotFound) {
					rt.Fatalf("update %s: %v", key, err)
				}
			case 2:
				id, ok := ids[key]
				if !ok {
					continue
				}
				err := f.reviews.Delete(ctx, id, Requester{UserID: userID})
				if err != nil && !errors.Is(err, domain.ErrReviewNotFound) {
					rt.Fatalf("delete %s: %v", key, err)
				}
			}
		}

		active := map[string][]int{}
		perUser := map[string]int{}
		f.store.mu.Lock()
		for _, rv := range f.store.reviews {
			if rv.IsActive {
				active[rv.BookID] = append(active[rv.BookID], rv.Rating)
				perUser[rv.UserID]++
			}
		}
		f.store.mu.Unlock()

		for _, b := range books {
			var st domain.RatingStats
			for _, r := range active[b] {
				st.Sum += int64(r)
				st.Count++
			}
			want := st.Summary()
			got := f.store.book(b)
			if got.AverageRating != want.AverageRating || got.TotalRatings != want.TotalRatings {
				rt.Fatalf("book %s: got %.1f/%d, want %.1f/%d", b, got.AverageRating, got.TotalRatings, want.AverageRating, want.TotalRatings)
			}
		}
		for _, u := range users {
			if got := f.store.user(u).ReviewsCount; got != perUser[u] {
				rt.Fatalf("user %s: reviewsCount %d, want %d", u, got, perUser[u])
			}
		}
	})
}

func TestReviewService_ConcurrentCreatesSameBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addBook("b1")

	const n = 20
	errs := make(chan error, n)
	for i := range n {
		go func(i int) {
			_, err := f.reviews.Create(ctx, &CreateReviewInput{
				UserID: fmt.Sprintf("user-%d", i), BookID: "b1", Rating: i%5 + 1, Title: "t", Content: "c",
			})
			errs <- err
		}(i)
	}
	for range n {
		require.NoError(t, <-errs)
	}

	// The last recompute may have read stats before the last insert, so
	// settle with one more recompute before checking.
	_, err := f.aggregate.Recompute(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, n, f.store.book("b1").TotalRatings)
	assert.Equal(t, 3.0, f.store.book("b1").AverageRating)
}
