package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/naturevibes/api/internal/domain"
	pfirestore "github.com/naturevibes/api/internal/platform/firestore"
	"github.com/naturevibes/api/internal/repositories"
)

const usersCollection = "users"

// UserRepository reads accounts owned by the identity service from the "users" collection.
type UserRepository struct {
	users *pfirestore.Collection[repositories.AccountRecord]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{users: pfirestore.NewCollection[repositories.AccountRecord](provider, usersCollection)}, nil
}

// FindByID loads the account by id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Account{}, pfirestore.NotFound("users.get", "user id is required")
	}
	doc, err := r.users.Get(ctx, userID)
	if err != nil {
		return domain.Account{}, err
	}
	return doc.Data.Account(doc.ID), nil
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	return r.users.Count(ctx, nil)
}
