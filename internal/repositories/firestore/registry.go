package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/naturevibes/api/internal/platform/firestore"
	"github.com/naturevibes/api/internal/repositories"
)

// Registry exposes the Firestore-backed repositories sharing one provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	users    *UserRepository
	products *ProductRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, users: users, products: products}, nil
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Users() repositories.UserRepository       { return r.users }
func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Ping(ctx context.Context) error {
	return r.provider.Ping(ctx)
}

func (r *Registry) Close(context.Context) error {
	return r.provider.Close()
}
