package idempotency

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps keys in a MongoDB collection. A TTL index on expiresAt lets the server
// drop stale keys; Purge covers deployments where that index is missing.
type MongoStore struct {
	coll *mongo.Collection
}

type mongoRecord struct {
	ID     string `bson:"_id"`
	Record `bson:",inline"`
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &MongoStore{coll: db.Collection(collection)}
}

// EnsureIndexes creates the TTL index on expiresAt.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expiresAt_ttl"),
	})
	return err
}

func (s *MongoStore) Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, error) {
	id := documentID(key)
	fresh := mongoRecord{ID: id, Record: pending(fingerprint, now, ttl)}

	_, err := s.coll.InsertOne(ctx, fresh)
	if err == nil {
		return Entry{State: StateNew}, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return Entry{}, err
	}

	// Take over an expired key atomically; only one caller can match the expiry filter.
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id, "expiresAt": bson.M{"$lte": now}}, fresh)
	if err != nil {
		return Entry{}, err
	}
	if res.MatchedCount == 1 {
		return Entry{State: StateNew}, nil
	}

	var existing mongoRecord
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&existing); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return s.Begin(ctx, key, fingerprint, now, ttl)
		}
		return Entry{}, err
	}
	if existing.Fingerprint != fingerprint {
		return Entry{}, ErrKeyReused
	}
	return existing.entry(), nil
}

func (s *MongoStore) Complete(ctx context.Context, key string, resp Response, now time.Time, ttl time.Duration) error {
	var rec Record
	rec.complete(resp, now, ttl)
	_, err := s.coll.UpdateByID(ctx, documentID(key), bson.M{
		"$set": bson.M{
			"completed": true,
			"status":    rec.Status,
			"headers":   rec.Headers,
			"body":      rec.Body,
			"expiresAt": rec.ExpiresAt,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) Abandon(ctx context.Context, key string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": documentID(key)})
	return err
}

func (s *MongoStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	filter := bson.M{"expiresAt": bson.M{"$lte": now}}
	if limit > 0 {
		cursor, err := s.coll.Find(ctx, filter, options.Find().SetLimit(int64(limit)).SetProjection(bson.M{"_id": 1}))
		if err != nil {
			return 0, err
		}
		var ids []struct {
			ID string `bson:"_id"`
		}
		if err := cursor.All(ctx, &ids); err != nil {
			return 0, err
		}
		if len(ids) == 0 {
			return 0, nil
		}
		in := make([]string, 0, len(ids))
		for _, doc := range ids {
			in = append(in, doc.ID)
		}
		filter = bson.M{"_id": bson.M{"$in": in}}
	}
	res, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}
