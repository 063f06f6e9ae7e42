package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

type errorKind int

const (
	kindUnknown errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error implements repositories.RepositoryError for MongoDB backed repositories.
type Error struct {
	Op   string
	Err  error
	kind errorKind
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// wrapError classifies driver errors. Context cancellations pass through untouched.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	kind := kindUnknown
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		kind = kindNotFound
	case mongo.IsDuplicateKeyError(err):
		kind = kindConflict
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		kind = kindUnavailable
	}
	return &Error{Op: op, Err: err, kind: kind}
}

func notFound(op, message string) error {
	return &Error{Op: op, Err: errors.New(message), kind: kindNotFound}
}

func conflict(op, message string) error {
	return &Error{Op: op, Err: errors.New(message), kind: kindConflict}
}
