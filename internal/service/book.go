package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/internal/repository"
	apperrors "github.com/utafrali/bookshelf/pkg/errors"
	"github.com/utafrali/bookshelf/pkg/slug"
)

// CreateBookInput holds the parameters for creating a book.
type CreateBookInput struct {
	Title         string
	Author        string
	ISBN          string
	Description   string
	Genres        []string
	PublishedYear int
	CoverURL      string
	CreatedBy     string
}

// BookService implements the catalog operations.
type BookService struct {
	books      repository.BookRepository
	searcher   BookSearcher
	aggregator *RatingAggregator
	logger     *slog.Logger
	now        func() time.Time
}

// NewBookService creates a new book service. A nil searcher leaves text
// queries to the store.
func NewBookService(books repository.BookRepository, searcher BookSearcher, aggregator *RatingAggregator, logger *slog.Logger) *BookService {
	return &BookService{
		books:      books,
		searcher:   searcher,
		aggregator: aggregator,
		logger:     logger,
		now:        time.Now,
	}
}

// Create adds a book with empty rating fields. The slug is built from title
// and author; a taken slug gets a short random suffix.
func (s *BookService) Create(ctx context.Context, input *CreateBookInput) (*domain.Book, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Author = strings.TrimSpace(input.Author)
	if input.Title == "" {
		return nil, apperrors.InvalidInput("title is required")
	}
	if input.Author == "" {
		return nil, apperrors.InvalidInput("author is required")
	}

	base := slug.Join(input.Title, input.Author)
	if base == "" {
		base = "book"
	}

	now := s.now().UTC()
	book := &domain.Book{
		ID:            uuid.New().String(),
		Title:         input.Title,
		Slug:          base,
		Author:        input.Author,
		ISBN:          strings.TrimSpace(input.ISBN),
		Description:   input.Description,
		Genres:        normalizeGenres(input.Genres),
		PublishedYear: input.PublishedYear,
		CoverURL:      input.CoverURL,
		IsActive:      true,
		CreatedBy:     input.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.books.Create(ctx, book)
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		book.Slug = base + "-" + uuid.New().String()[:8]
		err = s.books.Create(ctx, book)
	}
	if err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}
	s.index(ctx, book)

	s.logger.InfoContext(ctx, "book created",
		slog.String("book_id", book.ID),
		slog.String("slug", book.Slug),
		slog.String("created_by", book.CreatedBy),
	)
	return book, nil
}

// Get returns an active book by UUID or slug. includeInactive lets admins see
// soft-deleted books.
func (s *BookService) Get(ctx context.Context, idOrSlug string, includeInactive bool) (*domain.Book, error) {
	var (
		book *domain.Book
		err  error
	)
	if _, parseErr := uuid.Parse(idOrSlug); parseErr == nil {
		book, err = s.books.GetByID(ctx, idOrSlug)
	} else {
		book, err = s.books.GetBySlug(ctx, strings.ToLower(idOrSlug))
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if !book.IsActive && !includeInactive {
		return nil, domain.BookNotFound(idOrSlug)
	}
	return book, nil
}

// List returns a page of active books and the total count. Text queries go
// to the searcher when one is configured, falling back to the store when it
// fails.
func (s *BookService) List(ctx context.Context, filter domain.BookFilter) ([]domain.Book, int, error) {
	if filter.Query != "" && s.searcher != nil {
		books, total, err := s.search(ctx, filter)
		if err == nil {
			return books, total, nil
		}
		s.logger.WarnContext(ctx, "book search failed, querying store",
			slog.String("query", filter.Query),
			slog.String("error", err.Error()),
		)
	}

	books, total, err := s.books.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	return books, total, nil
}

// Update applies a catalog edit. Rating fields cannot be changed here. A new
// title or author regenerates the slug.
func (s *BookService) Update(ctx context.Context, id string, update domain.BookUpdate) (*domain.Book, error) {
	if update.IsEmpty() {
		return nil, apperrors.InvalidInput("at least one field must be provided")
	}
	if update.Title != nil {
		t := strings.TrimSpace(*update.Title)
		if t == "" {
			return nil, apperrors.InvalidInput("title must not be empty")
		}
		update.Title = &t
	}
	if update.Author != nil {
		a := strings.TrimSpace(*update.Author)
		if a == "" {
			return nil, apperrors.InvalidInput("author must not be empty")
		}
		update.Author = &a
	}
	if update.Genres != nil {
		g := normalizeGenres(*update.Genres)
		update.Genres = &g
	}

	var newSlug string
	if update.Title != nil || update.Author != nil {
		current, err := s.books.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get book: %w", err)
		}
		if !current.IsActive {
			return nil, domain.BookNotFound(id)
		}
		title, author := current.Title, current.Author
		if update.Title != nil {
			title = *update.Title
		}
		if update.Author != nil {
			author = *update.Author
		}
		if candidate := slug.Join(title, author); candidate != current.Slug {
			newSlug = candidate
		}
	}

	book, err := s.books.Update(ctx, id, update, newSlug)
	if errors.Is(err, apperrors.ErrAlreadyExists) && newSlug != "" {
		book, err = s.books.Update(ctx, id, update, newSlug+"-"+uuid.New().String()[:8])
	}
	if err != nil {
		return nil, fmt.Errorf("update book: %w", err)
	}
	s.index(ctx, book)

	s.logger.InfoContext(ctx, "book updated",
		slog.String("book_id", book.ID),
		slog.String("slug", book.Slug),
	)
	return book, nil
}

// Delete soft-deletes a book. Its reviews are left untouched.
func (s *BookService) Delete(ctx context.Context, id string) error {
	if err := s.books.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if s.searcher != nil {
		if err := s.searcher.Delete(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "failed to remove book from search index",
				slog.String("book_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.InfoContext(ctx, "book deactivated", slog.String("book_id", id))
	return nil
}

// RecomputeRating runs the aggregator for a book on demand.
func (s *BookService) RecomputeRating(ctx context.Context, id string) (domain.RatingSummary, error) {
	return s.aggregator.Recompute(ctx, id)
}

// search resolves the searcher's ids against the store, so rating fields and
// activity always come from the store. Ids the store no longer serves as
// active are skipped.
func (s *BookService) search(ctx context.Context, filter domain.BookFilter) ([]domain.Book, int, error) {
	ids, total, err := s.searcher.Search(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("search books: %w", err)
	}

	books := make([]domain.Book, 0, len(ids))
	for _, id := range ids {
		book, err := s.books.GetByID(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("get book: %w", err)
		}
		if book.IsActive {
			books = append(books, *book)
		}
	}
	return books, total, nil
}

// index writes book to the searcher. The store is the source of truth, so a
// failure is logged and the write stands.
func (s *BookService) index(ctx context.Context, book *domain.Book) {
	if s.searcher == nil {
		return
	}
	if err := s.searcher.Index(ctx, book); err != nil {
		s.logger.WarnContext(ctx, "failed to index book",
			slog.String("book_id", book.ID),
			slog.String("error", err.Error()),
		)
	}
}

func normalizeGenres(genres []string) []string {
	out := make([]string, 0, len(genres))
	seen := make(map[string]struct{}, len(genres))
	for _, g := range genres {
		g = slug.Generate(g)
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
