package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/naturevibes/api/internal/repositories"
)

// ProductRepository reads catalog aggregates from the "products" collection.
type ProductRepository struct {
	products *mongo.Collection
}

func NewProductRepository(store *Store) (*ProductRepository, error) {
	if store == nil {
		return nil, errors.New("product repository requires mongo store")
	}
	return &ProductRepository{products: store.collection(productsCollection)}, nil
}

// CountActive counts products not flagged as deleted. Documents without the flag count as active.
func (r *ProductRepository) CountActive(ctx context.Context) (int64, error) {
	count, err := r.products.CountDocuments(ctx, bson.D{{Key: repositories.FieldProductDeleted, Value: bson.D{{Key: "$ne", Value: true}}}})
	return count, wrapError("products.count", err)
}
