package service

import (
	"cmp"
	"context"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/utafrali/bookshelf/internal/domain"
)

// memStore is an in-memory store implementing the three repositories with the
// same conditional-write semantics as the real backends.
type memStore struct {
	mu      sync.Mutex
	books   map[string]domain.Book
	reviews map[string]domain.Review
	users   map[string]domain.User
}

func newMemStore() *memStore {
	return &memStore{
		books:   make(map[string]domain.Book),
		reviews: make(map[string]domain.Review),
		users:   make(map[string]domain.User),
	}
}

func (s *memStore) bookRepo() *memBooks     { return &memBooks{s} }
func (s *memStore) reviewRepo() *memReviews { return &memReviews{s} }
func (s *memStore) userRepo() *memUsers     { return &memUsers{s} }

func (s *memStore) addBook(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[id] = domain.Book{ID: id, Title: id, Slug: id, Author: "anon", IsActive: true}
}

func (s *memStore) book(id string) domain.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.books[id]
}

func (s *memStore) user(id string) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memStore) reviewCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reviews)
}

// --- books ---

type memBooks struct{ s *memStore }

func (r *memBooks) Create(_ context.Context, b *domain.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.books[b.ID] = *b
	return nil
}

func (r *memBooks) GetByID(_ context.Context, id string) (*domain.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.books[id]
	if !ok {
		return nil, domain.BookNotFound(id)
	}
	return &b, nil
}

func (r *memBooks) GetBySlug(ctx context.Context, slug string) (*domain.Book, error) {
	return r.GetByID(ctx, slug)
}

func (r *memBooks) List(context.Context, domain.BookFilter) ([]domain.Book, int, error) {
	return nil, 0, nil
}

func (r *memBooks) Update(ctx context.Context, id string, _ domain.BookUpdate, _ string) (*domain.Book, error) {
	return r.GetByID(ctx, id)
}

func (r *memBooks) Deactivate(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.books[id]
	if !ok || !b.IsActive {
		return domain.BookNotFound(id)
	}
	b.IsActive = false
	r.s.books[id] = b
	return nil
}

func (r *memBooks) SetRating(_ context.Context, id string, sum domain.RatingSummary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.books[id]
	if !ok {
		return domain.BookNotFound(id)
	}
	b.AverageRating, b.TotalRatings = sum.AverageRating, sum.TotalRatings
	r.s.books[id] = b
	return nil
}

// --- reviews ---

type memReviews struct{ s *memStore }

func (r *memReviews) Create(_ context.Context, rv *domain.Review) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.reviews {
		if other.UserID == rv.UserID && other.BookID == rv.BookID {
			return domain.DuplicateReview(rv.UserID, rv.BookID)
		}
	}
	r.s.reviews[rv.ID] = *rv
	return nil
}

func (r *memReviews) GetByID(_ context.Context, id string) (*domain.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rv, ok := r.s.reviews[id]
	if !ok {
		return nil, domain.ReviewNotFound(id)
	}
	return &rv, nil
}

func (r *memReviews) FindByUserAndBook(_ context.Context, userID, bookID string) (*domain.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rv := range r.s.reviews {
		if rv.UserID == userID && rv.BookID == bookID {
			return &rv, nil
		}
	}
	return nil, domain.ReviewNotFound(userID + "/" + bookID)
}

func (r *memReviews) List(_ context.Context, f domain.ReviewFilter) ([]domain.Review, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Review
	for _, rv := range r.s.reviews {
		if !rv.IsActive || (f.BookID != "" && rv.BookID != f.BookID) || (f.UserID != "" && rv.UserID != f.UserID) {
			continue
		}
		out = append(out, rv)
	}
	slices.SortFunc(out, func(a, b domain.Review) int { return cmp.Compare(a.ID, b.ID) })
	return out, len(out), nil
}

func (r *memReviews) Update(_ context.Context, id string, u domain.ReviewUpdate) (*domain.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rv, ok := r.s.reviews[id]
	if !ok || !rv.IsActive {
		return nil, domain.ReviewNotFound(id)
	}
	if u.Rating != nil {
		rv.Rating = *u.Rating
	}
	if u.Title != nil {
		rv.Title = *u.Title
	}
	if u.Content != nil {
		rv.Content = *u.Content
	}
	if u.ContainsSpoilers != nil {
		rv.ContainsSpoilers = *u.ContainsSpoilers
	}
	r.s.reviews[id] = rv
	return &rv, nil
}

func (r *memReviews) Deactivate(_ context.Context, id string) (*domain.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rv, ok := r.s.reviews[id]
	if !ok || !rv.IsActive {
		return nil, domain.ReviewNotFound(id)
	}
	rv.IsActive = false
	r.s.reviews[id] = rv
	return &rv, nil
}

func (r *memReviews) RatingStats(_ context.Context, bookID string) (domain.RatingStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var st domain.RatingStats
	for _, rv := range r.s.reviews {
		if rv.BookID == bookID && rv.IsActive {
			st.Sum += int64(rv.Rating)
			st.Count++
		}
	}
	return st, nil
}

func (r *memReviews) ToggleVoter(_ context.Context, reviewID, userID string, kind domain.InteractionKind) (domain.ToggleResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rv, ok := r.s.reviews[reviewID]
	if !ok || !rv.IsActive {
		return domain.ToggleResult{}, domain.ReviewNotFound(reviewID)
	}
	set := &rv.Helpful
	if kind == domain.InteractionLike {
		set = &rv.Likes
	}
	ids := set.Voters()
	on := !set.Has(userID)
	if on {
		ids = append(ids, userID)
	} else {
		ids = slices.DeleteFunc(ids, func(id string) bool { return id == userID })
	}
	*set = domain.NewVoterSet(ids...)
	r.s.reviews[reviewID] = rv
	return domain.ToggleResult{Count: set.Count(), IsSetByUser: on}, nil
}

// --- users ---

type memUsers struct{ s *memStore }

func (r *memUsers) Upsert(_ context.Context, u *domain.User) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur := r.s.users[u.ID]
	cur.ID, cur.Email, cur.DisplayName, cur.Role = u.ID, u.Email, u.DisplayName, u.Role
	r.s.users[u.ID] = cur
	return &cur, nil
}

func (r *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.UserNotFound(id)
	}
	return &u, nil
}

func (r *memUsers) IncrementReviewsCount(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		u = domain.User{ID: id, Role: domain.RoleUser}
	}
	u.ReviewsCount++
	r.s.users[id] = u
	return nil
}

func (r *memUsers) DecrementReviewsCount(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok || u.ReviewsCount <= 0 {
		return true, nil
	}
	u.ReviewsCount--
	r.s.users[id] = u
	return false, nil
}

// --- events ---

type recordedEvent struct {
	kind string
	id   string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *recordingPublisher) record(kind, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{kind, id})
	return p.err
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.kind)
	}
	return out
}

func (p *recordingPublisher) PublishReviewCreated(_ context.Context, rv *domain.Review) error {
	return p.record("review.created", rv.ID)
}

func (p *recordingPublisher) PublishReviewUpdated(_ context.Context, rv *domain.Review) error {
	return p.record("review.updated", rv.ID)
}

func (p *recordingPublisher) PublishReviewDeleted(_ context.Context, rv *domain.Review) error {
	return p.record("review.deleted", rv.ID)
}

func (p *recordingPublisher) PublishRatingUpdated(_ context.Context, bookID string, _ domain.RatingSummary) error {
	return p.record("book.rating_updated", bookID)
}

func (p *recordingPublisher) PublishRecomputeRequested(_ context.Context, bookID, _ string) error {
	return p.record("rating.recompute_requested", bookID)
}

// --- helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	store     *memStore
	events    *recordingPublisher
	reviews   *ReviewService
	ledger    *InteractionLedger
	books     *BookService
	aggregate *RatingAggregator
}

func newFixture() *fixture {
	store := newMemStore()
	events := &recordingPublisher{}
	logger := newTestLogger()
	agg := NewRatingAggregator(store.bookRepo(), store.reviewRepo(), events, logger)
	return &fixture{
		store:     store,
		events:    events,
		reviews:   NewReviewService(store.reviewRepo(), store.bookRepo(), store.userRepo(), agg, events, logger),
		ledger:    NewInteractionLedger(store.reviewRepo(), logger),
		books:     NewBookService(store.bookRepo(), nil, agg, logger),
		aggregate: agg,
	}
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
