package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/naturevibes/api/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore keeps keys in a Firestore collection keyed by the hashed scoped key.
type FirestoreStore struct {
	provider *pfirestore.Provider
	keys     *pfirestore.Collection[Record]
}

func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, keys: pfirestore.NewCollection[Record](provider, collection)}
}

func (s *FirestoreStore) Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, error) {
	ref, err := s.keys.Doc(ctx, documentID(key))
	if err != nil {
		return Entry{}, err
	}
	var out Entry
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil {
			doc, err := pfirestore.Decode[Record](snap)
			if err != nil {
				return err
			}
			if !doc.Data.expired(now) {
				if doc.Data.Fingerprint != fingerprint {
					return ErrKeyReused
				}
				out = doc.Data.entry()
				return nil
			}
		}
		out = Entry{State: StateNew}
		return tx.Set(ref, pending(fingerprint, now, ttl))
	}, pfirestore.WithTxOp("idempotency.begin"))
	if errors.Is(err, ErrKeyReused) {
		return Entry{}, ErrKeyReused
	}
	return out, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.keys.Doc(ctx, documentID(key))
	if err != nil {
		return err
	}
	var rec Record
	if snap, err := ref.Get(ctx); err == nil {
		if doc, err := pfirestore.Decode[Record](snap); err == nil {
			rec = doc.Data
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.complete(resp, now, ttl)
	_, err = ref.Set(ctx, rec)
	return pfirestore.WrapError("idempotency.complete", err)
}

func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	ref, err := s.keys.Doc(ctx, documentID(key))
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	if isNotFound(err) {
		return nil
	}
	return pfirestore.WrapError("idempotency.abandon", err)
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.keys.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now).Limit(limit)
	})
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	bw := client.BulkWriter(ctx)
	for _, doc := range docs {
		ref, err := s.keys.Doc(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		if _, err := bw.Delete(ref); err != nil {
			return 0, pfirestore.WrapError("idempotency.purge", err)
		}
	}
	bw.End()
	return len(docs), nil
}

func isNotFound(err error) bool {
	var fsErr *pfirestore.Error
	if errors.As(pfirestore.WrapError("idempotency", err), &fsErr) {
		return fsErr.IsNotFound()
	}
	return false
}
