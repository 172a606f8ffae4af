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

type userDoc struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	DisplayName  string    `bson:"displayName"`
	Role         string    `bson:"role"`
	ReviewsCount int       `bson:"reviewsCount"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (d userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:           d.ID,
		Email:        d.Email,
		DisplayName:  d.DisplayName,
		Role:         d.Role,
		ReviewsCount: d.ReviewsCount,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

// UserRepository implements repository.UserRepository using MongoDB.
type UserRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewUserRepository creates a new MongoDB-backed user repository.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection(UsersCollection), now: time.Now}
}

// Upsert creates the profile or refreshes its identity fields.
func (r *UserRepository) Upsert(ctx context.Context, u *domain.User) (_ *domain.User, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "users.Upsert", "findOneAndUpdate users {_id} upsert")
	defer func() { end(err) }()

	now := r.now().UTC()
	var doc userDoc
	err = r.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: u.ID}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "email", Value: u.Email},
				{Key: "displayName", Value: u.DisplayName},
				{Key: "role", Value: u.Role},
				{Key: "updatedAt", Value: now},
			}},
			{Key: "$setOnInsert", Value: bson.D{
				{Key: "reviewsCount", Value: 0},
				{Key: "createdAt", Value: now},
			}},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return doc.toDomain(), nil
}

// GetByID retrieves a profile.
func (r *UserRepository) GetByID(ctx context.Context, id string) (_ *domain.User, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "users.GetByID", "findOne users {_id}")
	defer func() { end(err) }()

	var doc userDoc
	if err = r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.UserNotFound(id)
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return doc.toDomain(), nil
}

// IncrementReviewsCount adds one, inserting a bare profile when needed.
func (r *UserRepository) IncrementReviewsCount(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "users.IncrementReviewsCount", "updateOne users {_id} $inc upsert")
	defer func() { end(err) }()

	now := r.now().UTC()
	_, err = r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "reviewsCount", Value: 1}}},
			{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: now}}},
			{Key: "$setOnInsert", Value: bson.D{
				{Key: "email", Value: ""},
				{Key: "displayName", Value: ""},
				{Key: "role", Value: domain.RoleUser},
				{Key: "createdAt", Value: now},
			}},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("increment reviews count for %s: %w", id, err)
	}
	return nil
}

// DecrementReviewsCount subtracts one from a positive count.
func (r *UserRepository) DecrementReviewsCount(ctx context.Context, id string) (_ bool, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemMongo, "users.DecrementReviewsCount", "updateOne users {_id, reviewsCount>0} $inc")
	defer func() { end(err) }()

	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "reviewsCount", Value: bson.D{{Key: "$gt", Value: 0}}}},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "reviewsCount", Value: -1}}},
			{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: r.now().UTC()}}},
		},
	)
	if err != nil {
		return false, fmt.Errorf("decrement reviews count for %s: %w", id, err)
	}
	return res.MatchedCount == 0, nil
}
