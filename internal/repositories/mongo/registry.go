package mongo

import (
	"context"
	"errors"

	"github.com/naturevibes/api/internal/repositories"
)

// Registry exposes the MongoDB-backed repositories sharing one Store.
type Registry struct {
	store    *Store
	orders   *OrderRepository
	users    *UserRepository
	products *ProductRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on store.
func NewRegistry(store *Store) (*Registry, error) {
	if store == nil {
		return nil, errors.New("mongo registry: store is required")
	}
	orders, err := NewOrderRepository(store)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(store)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(store)
	if err != nil {
		return nil, err
	}
	return &Registry{store: store, orders: orders, users: users, products: products}, nil
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Users() repositories.UserRepository       { return r.users }
func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *Registry) Close(ctx context.Context) error {
	return r.store.Close(ctx)
}
