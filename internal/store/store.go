// Package store defines the remote record store consumed by the chain
// engine: create/read/update by identifier plus a composable query facility.
// Implementations live in subpackages; the chain algorithms only see this
// interface.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/advatar/carechain/internal/domain"
)

var (
	// ErrNotFound is returned when no record exists for an identifier.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write loses a concurrency check, e.g.
	// updating a record that was never created.
	ErrConflict = errors.New("conflicting write")
)

// ValidationError reports a record the store refuses to persist.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid record: %s", e.Reason)
	}
	return fmt.Sprintf("invalid record: %s: %s", e.Field, e.Reason)
}

// TransportError wraps a network or server failure from the store backend.
// It is surfaced verbatim to the caller of the primary operation and never
// retried inside this module.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Store is the remote record store the chain engine coordinates through.
// Every read and write is a suspension point; the store is the only shared
// mutable resource and writes are last-write-wins at the record level.
type Store interface {
	FetchByID(ctx context.Context, id uuid.UUID) (domain.Record, error)
	FetchByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error)
	Create(ctx context.Context, rec domain.Record) (domain.Record, error)
	Update(ctx context.Context, rec domain.Record) (domain.Record, error)
	Find(ctx context.Context, q Query) ([]domain.Record, error)
}
