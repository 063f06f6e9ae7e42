package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/repositories"
)

// UserRepository reads accounts from the "users" collection owned by the identity service.
type UserRepository struct {
	users *mongo.Collection
}

func NewUserRepository(store *Store) (*UserRepository, error) {
	if store == nil {
		return nil, errors.New("user repository requires mongo store")
	}
	return &UserRepository{users: store.collection(usersCollection)}, nil
}

// FindByID accepts either an ObjectID hex string or a plain string key.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Account{}, notFound("users.get", "user id is required")
	}
	var doc repositories.AccountRecord
	if err := r.users.FindOne(ctx, bson.D{{Key: "_id", Value: userKey(userID)}}).Decode(&doc); err != nil {
		return domain.Account{}, wrapError("users.get", err)
	}
	return doc.Account(userID), nil
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	count, err := r.users.CountDocuments(ctx, bson.D{})
	return count, wrapError("users.count", err)
}

func userKey(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}
