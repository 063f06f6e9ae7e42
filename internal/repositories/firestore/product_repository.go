package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/naturevibes/api/internal/platform/firestore"
	"github.com/naturevibes/api/internal/repositories"
)

const productsCollection = "products"

// productDocument is never decoded; the catalog is only counted.
type productDocument struct{}

// ProductRepository reads catalog aggregates from the "products" collection.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{products: pfirestore.NewCollection[productDocument](provider, productsCollection)}, nil
}

// CountActive counts products that are not soft-deleted.
func (r *ProductRepository) CountActive(ctx context.Context) (int64, error) {
	return r.products.Count(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(repositories.FieldProductDeleted, "==", false)
	})
}
