package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// State is the outcome of Begin.
type State int

const (
	// StateNew means the caller owns the key and must Complete or Abandon it.
	StateNew State = iota
	// StateReplay means a completed response exists and should be written back verbatim.
	StateReplay
	// StateInFlight means another request holds the key.
	StateInFlight
)

// ErrKeyReused is returned when a key is presented with a different request body or route.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Response is the captured HTTP response stored for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Entry is the stored state for a key.
type Entry struct {
	State    State
	Response Response
}

// Store persists idempotency keys. Keys passed to Store methods are already scoped to the caller.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, error)
	Complete(ctx context.Context, key string, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// Record is the persisted shape shared by the Firestore and Mongo stores.
type Record struct {
	Fingerprint string              `firestore:"fingerprint" bson:"fingerprint"`
	Completed   bool                `firestore:"completed" bson:"completed"`
	Status      int                 `firestore:"status" bson:"status"`
	Headers     map[string][]string `firestore:"headers" bson:"headers"`
	Body        []byte              `firestore:"body" bson:"body"`
	CreatedAt   time.Time           `firestore:"createdAt" bson:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt" bson:"expiresAt"`
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func (r Record) entry() Entry {
	if !r.Completed {
		return Entry{State: StateInFlight}
	}
	return Entry{State: StateReplay, Response: Response{Status: r.Status, Headers: http.Header(cloneHeaders(r.Headers)), Body: r.Body}}
}

func pending(fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

func (r *Record) complete(resp Response, now time.Time, ttl time.Duration) {
	r.Completed = true
	r.Status = resp.Status
	r.Headers = storableHeaders(resp.Headers)
	r.Body = append([]byte(nil), resp.Body...)
	r.ExpiresAt = now.Add(ttl)
}

// documentID hashes the scoped key so arbitrary client input is a safe document id.
func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

var hopHeaders = map[string]struct{}{
	"Content-Length":    {},
	"Date":              {},
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Set-Cookie":        {},
}

func storableHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[name]; skip || strings.TrimSpace(name) == "" {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func cloneHeaders(src map[string][]string) map[string][]string {
	out := make(map[string][]string, len(src))
	for k, v := range src {
		out[k] = append([]string(nil), v...)
	}
	return out
}
