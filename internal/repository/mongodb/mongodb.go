// Package mongodb implements the repository interfaces on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	BooksCollection   = "books"
	ReviewsCollection = "reviews"
	UsersCollection   = "users"
)

const (
	defaultPerPage      = 20
	codeNamespaceExists = 48
)

// EnsureSchema creates the collections with their $jsonSchema validators and
// indexes. Existing collections get their validator replaced with collMod.
func EnsureSchema(ctx context.Context, db *mongo.Database) error {
	for _, c := range collectionSpecs() {
		if err := ensureCollection(ctx, db, c.name, c.validator); err != nil {
			return err
		}
		if len(c.indexes) == 0 {
			continue
		}
		if _, err := db.Collection(c.name).Indexes().CreateMany(ctx, c.indexes); err != nil {
			return fmt.Errorf("create %s indexes: %w", c.name, err)
		}
	}
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	err := db.CreateCollection(ctx, name, options.CreateCollection().
		SetValidator(validator).
		SetValidationLevel("strict"))
	if err == nil {
		return nil
	}

	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Code != codeNamespaceExists {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "strict"},
	}
	if err := db.RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("update validator on %s: %w", name, err)
	}
	return nil
}

type collectionSpec struct {
	name      string
	validator bson.M
	indexes   []mongo.IndexModel
}

func collectionSpecs() []collectionSpec {
	voters := bson.M{
		"bsonType":    "array",
		"uniqueItems": true,
		"items":       bson.M{"bsonType": "string"},
	}

	return []collectionSpec{
		{
			name: BooksCollection,
			validator: bson.M{"$jsonSchema": bson.M{
				"bsonType": "object",
				"required": bson.A{"_id", "title", "slug", "author", "averageRating", "totalRatings", "isActive", "createdAt", "updatedAt"},
				"properties": bson.M{
					"title":         bson.M{"bsonType": "string", "minLength": 1},
					"slug":          bson.M{"bsonType": "string", "minLength": 1},
					"author":        bson.M{"bsonType": "string", "minLength": 1},
					"genres":        bson.M{"bsonType": "array", "items": bson.M{"bsonType": "string"}},
					"averageRating": bson.M{"bsonType": "number", "minimum": 0, "maximum": 5},
					"totalRatings":  bson.M{"bsonType": "number", "minimum": 0},
					"isActive":      bson.M{"bsonType": "bool"},
				},
			}},
			indexes: []mongo.IndexModel{
				{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true).SetName("slug_unique")},
				{Keys: bson.D{{Key: "title", Value: "text"}, {Key: "author", Value: "text"}}, Options: options.Index().SetName("title_author_text")},
				{Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("active_created")},
			},
		},
		{
			name: ReviewsCollection,
			validator: bson.M{"$jsonSchema": bson.M{
				"bsonType": "object",
				"required": bson.A{"_id", "userId", "bookId", "rating", "title", "content", "helpful", "likes", "isActive", "createdAt", "updatedAt"},
				"properties": bson.M{
					"userId":  bson.M{"bsonType": "string", "minLength": 1},
					"bookId":  bson.M{"bsonType": "string", "minLength": 1},
					"rating":  bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 1, "maximum": 5},
					"title":   bson.M{"bsonType": "string", "minLength": 1},
					"content": bson.M{"bsonType": "string", "minLength": 1},
					"helpful": voters,
					"likes":   voters,
				},
			}},
			indexes: []mongo.IndexModel{
				{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "bookId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("user_book_unique")},
				{Keys: bson.D{{Key: "bookId", Value: 1}, {Key: "isActive", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("book_active_created")},
				{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isActive", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("user_active_created")},
			},
		},
		{
			name: UsersCollection,
			validator: bson.M{"$jsonSchema": bson.M{
				"bsonType": "object",
				"required": bson.A{"_id", "role", "reviewsCount"},
				"properties": bson.M{
					"role":         bson.M{"enum": bson.A{"user", "admin"}},
					"reviewsCount": bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
				},
			}},
		},
	}
}

func pageOptions(page, perPage int) (skip, limit int64) {
	limit = int64(perPage)
	if limit <= 0 {
		limit = defaultPerPage
	}
	if page > 1 {
		skip = int64(page-1) * limit
	}
	return skip, limit
}
