package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/pkg/database"
)

type reviewDoc struct {
	ID               string    `bson:"_id"`
	UserID           string    `bson:"userId"`
	BookID           string    `bson:"bookId"`
	Rating           int       `bson:"rating"`
	Title            string    `bson:"title"`
	Content          string    `bson:"content"`
	ContainsSpoilers bool      `bson:"containsSpoilers"`
	Helpful          []string  `bson:"helpful"`
	Likes            []string  `bson:"likes"`
	IsActive         bool      `bson:"isActive"`
	CreatedAt        time.Time `bson:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt"`
}

func newReviewDoc(rv *domain.Review) reviewDoc {
	return reviewDoc{
		ID:               rv.ID,
		UserID:           rv.UserID,
		BookID:           rv.BookID,
		Rating:           rv.Rating,
		Title:            rv.Title,
		Content:          rv.Content,
		ContainsSpoilers: rv.ContainsSpoilers,
		Helpful:          voterArray(rv.Helpful),
		Likes:            voterArray(rv.Likes),
		IsActive:         rv.IsActive,
		CreatedAt:        rv.CreatedAt,
		UpdatedAt:        rv.UpdatedAt,
	}
}

func (d reviewDoc) toDomain() *domain.Review {
	return &domain.Review{
		ID:               d.ID,
		UserID:           d.UserID,
		BookID:           d.BookID,
		Rating:           d.Rating,
		Title:            d.Title,
		Content:          d.Content,
		ContainsSpoilers: d.ContainsSpoilers,
		Helpful:          domain.NewVoterSet(d.Helpful...),
		Likes:            domain.NewVoterSet(d.Likes...),
		IsActive:         d.IsActive,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

func voterArray(v domain.VoterSet) []string {
	if ids := v.Voters(); ids != nil {
		return ids
	}
	return []string{}
}

// voterFields maps an interaction kind to its document field.
var voterFields = map[domain.InteractionKind]string{
	domain.InteractionHelpful: "helpful",
	domain.InteractionLike:    "likes",
}

var reviewSorts = map[string]bson.D{
	domain.SortNewest:      {{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}},
	domain.SortOldest:      {{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}},
	domain.SortHighest:     {{Key: "rating", Value: -1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}},
	domain.SortLowest:      {{Key: "rating", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}},
	domain.SortMostHelpful: {{Key: "helpfulCount", Value: -1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}},
}

// ReviewRepository implements repository.ReviewRepository using MongoDB.
type ReviewRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewReviewRepository creates a new MongoDB-backed review repository.
func NewReviewRepository(db *mongo.Database) *ReviewRepository {
	return &ReviewRepository{coll: db.Collection(ReviewsCollection), now: time.Now}
}

// Create inserts a new review. The unique {userId, bookId} index rejects a
// second review of the same book.
func (r *ReviewRepository) Create(ctx context.Context, rv *domain.Review) (err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "reviews.Create", "insertOne reviews")
	defer func() { end(err) }()

	if _, err = r.coll.InsertOne(ctx, newReviewDoc(rv)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.DuplicateReview(rv.UserID, rv.BookID)
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// GetByID retrieves a review in any state.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (_ *domain.Review, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "reviews.GetByID", "findOne reviews {_id}")
	defer func() { end(err) }()

	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}}, id)
}

// FindByUserAndBook returns the user's review of the book in any state.
func (r *ReviewRepository) FindByUserAndBook(ctx context.Context, userID, bookID string) (_ *domain.Review, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "reviews.FindByUserAndBook", "findOne reviews {userId, bookId}")
	defer func() { end(err) }()

	return r.findOne(ctx, bson.D{{Key: "userId", Value: userID}, {Key: "bookId", Value: bookID}}, userID+"/"+bookID)
}

func (r *ReviewRepository) findOne(ctx context.Context, filter bson.D, key string) (*domain.Review, error) {
	var doc reviewDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ReviewNotFound(key)
		}
		return nil, fmt.Errorf("find review %s: %w", key, err)
	}
	return doc.toDomain(), nil
}

// List returns active reviews of a book or by a user.
func (r *ReviewRepository) List(ctx context.Context, f domain.ReviewFilter) (_ []domain.Review, _ int, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "reviews.List", "aggregate reviews")
	defer func() { end(err) }()

	match := bson.D{{Key: "isActive", Value: true}}
	if f.BookID != "" {
		match = append(match, bson.E{Key: "bookId", Value: f.BookID})
	}
	if f.UserID != "" {
		match = append(match, bson.E{Key: "userId", Value: f.UserID})
	}

	total, err := r.coll.CountDocuments(ctx, match)
	if err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}

	sort, ok := reviewSorts[f.Sort]
	if !ok {
		sort = reviewSorts[domain.SortNewest]
	}
	skip, limit := pageOptions(f.Page, f.PerPage)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$addFields", Value: bson.D{{Key: "helpfulCount", Value: bson.D{{Key: "$size", Value: "$helpful"}}}}}},
		{{Key: "$sort", Value: sort}},
		{{Key: "$skip", Value: skip}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.D{{Key: "helpfulCount", Value: 0}}}},
	}

	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	var docs []reviewDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode reviews: %w", err)
	}

	reviews := make([]domain.Review, 0, len(docs))
	for _, d := range docs {
		reviews = append(reviews, *d.toDomain())
	}
	return reviews, int(total), nil
}

// Update applies the present fields to an active review.
func (r *ReviewRepository) Update(ctx context.Context, id string, u domain.ReviewUpdate) (_ *domain.Review, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "reviews.Update", "findOneAndUpdate reviews {_id, isActive}")
	defer func() { end(err) }()

	set := bson.D{{Key: "updatedAt", Value: r.now().UTC()}}
	if u.Rating != nil {
		set = append(set, bson.E{Key: "rating", Value: *u.Rating})
	}
	if u.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *u.Title})
	}
	if u.Content != nil {
		set = append(set, bson.E{Key: "content", Value: *u.Content})
	}
	if u.ContainsSpoilers != nil {
		set = append(set, bson.E{Key: "containsSpoilers", Value: *u.ContainsSpoilers})
	}

	return r.findOneAndSet(ctx, id, set)
}

// Deactivate flips an active review to inactive and returns it.
func (r *ReviewRepository) Deactivate(ctx context.Context, id string) (_ *domain.Review, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "reviews.Deactivate", "findOneAndUpdate reviews {_id, isActive}")
	defer func() { end(err) }()

	return r.findOneAndSet(ctx, id, bson.D{
		{Key: "isActive", Value: false},
		{Key: "updatedAt", Value: r.now().UTC()},
	})
}

func (r *ReviewRepository) findOneAndSet(ctx context.Context, id string, set bson.D) (*domain.Review, error) {
	var doc reviewDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "isActive", Value: true}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ReviewNotFound(id)
		}
		return nil, fmt.Errorf("update review %s: %w", id, err)
	}
	return doc.toDomain(), nil
}

type ratingGroup struct {
	Sum   int64 `bson:"sum"`
	Count int64 `bson:"count"`
}

// RatingStats groups the book's active reviews into a sum and count.
func (r *ReviewRepository) RatingStats(ctx context.Context, bookID string) (_ domain.RatingStats, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "reviews.RatingStats", "aggregate reviews $group")
	defer func() { end(err) }()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "bookId", Value: bookID}, {Key: "isActive", Value: true}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "sum", Value: bson.D{{Key: "$sum", Value: "$rating"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return domain.RatingStats{}, fmt.Errorf("rating stats for book %s: %w", bookID, err)
	}
	var groups []ratingGroup
	if err = cur.All(ctx, &groups); err != nil {
		return domain.RatingStats{}, fmt.Errorf("decode rating stats for book %s: %w", bookID, err)
	}
	if len(groups) == 0 {
		return domain.RatingStats{}, nil
	}
	return domain.RatingStats{Sum: groups[0].Sum, Count: groups[0].Count}, nil
}

// ToggleVoter flips userID's membership with a pipeline update, so the
// membership test and the write happen in one document operation.
func (r *ReviewRepository) ToggleVoter(ctx context.Context, reviewID, userID string, kind domain.InteractionKind) (_ domain.ToggleResult, err error) {
	field, ok := voterFields[kind]
	if !ok {
		return domain.ToggleResult{}, fmt.Errorf("unknown interaction kind %q", kind)
	}

	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "reviews.ToggleVoter", "findOneAndUpdate reviews pipeline "+field)
	defer func() { end(err) }()

	current := bson.D{{Key: "$ifNull", Value: bson.A{"$" + field, bson.A{}}}}
	// $literal keeps an id starting with "$" from being read as a field path.
	user := bson.D{{Key: "$literal", Value: userID}}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: field, Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$in", Value: bson.A{user, current}}},
			bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: current},
				{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$this", user}}}},
			}}},
			bson.D{{Key: "$concatArrays", Value: bson.A{current, bson.A{user}}}},
		}}}}}}},
	}

	var doc reviewDoc
	err = r.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: reviewID}, {Key: "isActive", Value: true}},
		update,
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.D{{Key: field, Value: 1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ToggleResult{}, domain.ReviewNotFound(reviewID)
		}
		return domain.ToggleResult{}, fmt.Errorf("toggle %s on review %s: %w", kind, reviewID, err)
	}

	voters := doc.Helpful
	if kind == domain.InteractionLike {
		voters = doc.Likes
	}
	set := domain.NewVoterSet(voters...)
	return domain.ToggleResult{Count: set.Count(), IsSetByUser: set.Has(userID)}, nil
}
