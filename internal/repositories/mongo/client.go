package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/naturevibes/api/internal/platform/config"
	"github.com/naturevibes/api/internal/repositories"
)

const (
	ordersCollection   = "orders"
	usersCollection    = "users"
	productsCollection = "products"
)

// Store owns the MongoDB client and database handle shared by the repositories.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and verifies the primary is reachable.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("mongo: uri is required")
	}
	database := strings.TrimSpace(cfg.Database)
	if database == "" {
		return nil, errors.New("mongo: database is required")
	}

	opts := options.Client().ApplyURI(uri)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout).SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, wrapError("mongo.connect", err)
	}
	store := &Store{client: client, db: client.Database(database)}
	if err := store.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// Ping checks the primary.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("mongo: store is nil")
	}
	return wrapError("mongo.ping", s.client.Ping(ctx, readpref.Primary()))
}

func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes order queries rely on. The unique orderNumber index is
// what turns a number collision into a conflict.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(ordersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: repositories.FieldOrderNumber, Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: repositories.FieldCreatedAt, Value: -1}}},
		{Keys: bson.D{{Key: repositories.FieldStatus, Value: 1}, {Key: repositories.FieldCreatedAt, Value: -1}}},
		{Keys: bson.D{{Key: repositories.FieldPaymentStatus, Value: 1}}},
		{Keys: bson.D{{Key: repositories.FieldUser, Value: 1}}},
		{Keys: bson.D{{Key: repositories.FieldCustomerEmail, Value: 1}}},
		{Keys: bson.D{{Key: repositories.FieldSessionRef, Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	return wrapError("orders.ensureIndexes", err)
}

// Database exposes the handle for collections owned outside this package, such as idempotency keys.
func (s *Store) Database() *mongo.Database {
	return s.db
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}
