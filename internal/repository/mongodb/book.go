package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/pkg/database"
	apperrors "github.com/utafrali/bookshelf/pkg/errors"
)

type bookDoc struct {
	ID            string    `bson:"_id"`
	Title         string    `bson:"title"`
	Slug          string    `bson:"slug"`
	Author        string    `bson:"author"`
	ISBN          string    `bson:"isbn"`
	Description   string    `bson:"description"`
	Genres        []string  `bson:"genres"`
	PublishedYear int       `bson:"publishedYear"`
	CoverURL      string    `bson:"coverUrl"`
	AverageRating float64   `bson:"averageRating"`
	TotalRatings  int       `bson:"totalRatings"`
	IsActive      bool      `bson:"isActive"`
	CreatedBy     string    `bson:"createdBy"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

func newBookDoc(b *domain.Book) bookDoc {
	genres := b.Genres
	if genres == nil {
		genres = []string{}
	}
	return bookDoc{
		ID:            b.ID,
		Title:         b.Title,
		Slug:          b.Slug,
		Author:        b.Author,
		ISBN:          b.ISBN,
		Description:   b.Description,
		Genres:        genres,
		PublishedYear: b.PublishedYear,
		CoverURL:      b.CoverURL,
		AverageRating: b.AverageRating,
		TotalRatings:  b.TotalRatings,
		IsActive:      b.IsActive,
		CreatedBy:     b.CreatedBy,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func (d bookDoc) toDomain() *domain.Book {
	return &domain.Book{
		ID:            d.ID,
		Title:         d.Title,
		Slug:          d.Slug,
		Author:        d.Author,
		ISBN:          d.ISBN,
		Description:   d.Description,
		Genres:        d.Genres,
		PublishedYear: d.PublishedYear,
		CoverURL:      d.CoverURL,
		AverageRating: d.AverageRating,
		TotalRatings:  d.TotalRatings,
		IsActive:      d.IsActive,
		CreatedBy:     d.CreatedBy,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
}

// BookRepository implements repository.BookRepository using MongoDB.
type BookRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewBookRepository creates a new MongoDB-backed book repository.
func NewBookRepository(db *mongo.Database) *BookRepository {
	return &BookRepository{coll: db.Collection(BooksCollection), now: time.Now}
}

// Create inserts a new book.
func (r *BookRepository) Create(ctx context.Context, b *domain.Book) (err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "books.Create", "insertOne books")
	defer func() { end(err) }()

	if _, err = r.coll.InsertOne(ctx, newBookDoc(b)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.AlreadyExists("book", "slug", b.Slug)
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// GetByID retrieves a book in any state.
func (r *BookRepository) GetByID(ctx context.Context, id string) (_ *domain.Book, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "books.GetByID", "findOne books {_id}")
	defer func() { end(err) }()

	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}}, id)
}

// GetBySlug retrieves a book in any state.
func (r *BookRepository) GetBySlug(ctx context.Context, slug string) (_ *domain.Book, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "books.GetBySlug", "findOne books {slug}")
	defer func() { end(err) }()

	return r.findOne(ctx, bson.D{{Key: "slug", Value: slug}}, slug)
}

func (r *BookRepository) findOne(ctx context.Context, filter bson.D, key string) (*domain.Book, error) {
	var doc bookDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.BookNotFound(key)
		}
		return nil, fmt.Errorf("find book %s: %w", key, err)
	}
	return doc.toDomain(), nil
}

// List returns active books matching the filter, newest first.
func (r *BookRepository) List(ctx context.Context, f domain.BookFilter) (_ []domain.Book, _ int, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "books.List", "find books")
	defer func() { end(err) }()

	filter := bson.D{{Key: "isActive", Value: true}}
	if q := strings.TrimSpace(f.Query); q != "" {
		filter = append(filter, bson.E{Key: "$text", Value: bson.D{{Key: "$search", Value: q}}})
	}
	if g := strings.TrimSpace(f.Genre); g != "" {
		filter = append(filter, bson.E{Key: "genres", Value: g})
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	skip, limit := pageOptions(f.Page, f.PerPage)
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(skip).
		SetLimit(limit)

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	var docs []bookDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode books: %w", err)
	}

	books := make([]domain.Book, 0, len(docs))
	for _, d := range docs {
		books = append(books, *d.toDomain())
	}
	return books, int(total), nil
}

// Update applies a catalog edit to an active book.
func (r *BookRepository) Update(ctx context.Context, id string, u domain.BookUpdate, slug string) (_ *domain.Book, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "books.Update", "findOneAndUpdate books {_id, isActive}")
	defer func() { end(err) }()

	set := bson.D{{Key: "updatedAt", Value: r.now().UTC()}}
	if u.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *u.Title})
	}
	if slug != "" {
		set = append(set, bson.E{Key: "slug", Value: slug})
	}
	if u.Author != nil {
		set = append(set, bson.E{Key: "author", Value: *u.Author})
	}
	if u.ISBN != nil {
		set = append(set, bson.E{Key: "isbn", Value: *u.ISBN})
	}
	if u.Description != nil {
		set = append(set, bson.E{Key: "description", Value: *u.Description})
	}
	if u.Genres != nil {
		genres := *u.Genres
		if genres == nil {
			genres = []string{}
		}
		set = append(set, bson.E{Key: "genres", Value: genres})
	}
	if u.PublishedYear != nil {
		set = append(set, bson.E{Key: "publishedYear", Value: *u.PublishedYear})
	}
	if u.CoverURL != nil {
		set = append(set, bson.E{Key: "coverUrl", Value: *u.CoverURL})
	}

	var doc bookDoc
	err = r.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "isActive", Value: true}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.BookNotFound(id)
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.AlreadyExists("book", "slug", slug)
		}
		return nil, fmt.Errorf("update book %s: %w", id, err)
	}
	return doc.toDomain(), nil
}

// Deactivate soft-deletes an active book.
func (r *BookRepository) Deactivate(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "books.Deactivate", "updateOne books {_id, isActive}")
	defer func() { end(err) }()

	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "isActive", Value: true}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "isActive", Value: false},
			{Key: "updatedAt", Value: r.now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("deactivate book %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return domain.BookNotFound(id)
	}
	return nil
}

// SetRating writes the derived rating fields.
func (r *BookRepository) SetRating(ctx context.Context, id string, s domain.RatingSummary) (err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "books.SetRating", "updateOne books {_id}")
	defer func() { end(err) }()

	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "averageRating", Value: s.AverageRating},
			{Key: "totalRatings", Value: s.TotalRatings},
			{Key: "updatedAt", Value: r.now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("set rating for book %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return domain.BookNotFound(id)
	}
	return nil
}
