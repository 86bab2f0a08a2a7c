// Package versionloader batches version lookups by identifier so that
// neighbor hydration across many records in one request collapses into a
// single FetchByIDs round trip.
package versionloader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/advatar/carechain/internal/domain"
	"github.com/advatar/carechain/internal/store"
)

// Loader wraps a batched dataloader over store.FetchByIDs.
type Loader struct {
	loader *dataloader.Loader
}

// New creates a loader bound to the given store.
func New(st store.Store) *Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return []*dataloader.Result{{Error: fmt.Errorf("invalid version ID: %w", err)}}
			}
			ids[i] = id
		}

		records, err := st.FetchByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		byID := make(map[uuid.UUID]domain.Record, len(records))
		for _, rec := range records {
			byID[rec.ID] = rec
		}

		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if rec, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: rec}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	return &Loader{
		loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond)),
	}
}

// Load fetches one version through the batcher. The second return is false
// when the version does not exist.
func (l *Loader) Load(ctx context.Context, id uuid.UUID) (domain.Record, bool, error) {
	value, err := l.loader.Load(ctx, dataloader.StringKey(id.String()))()
	if err != nil {
		return domain.Record{}, false, err
	}
	rec, ok := value.(domain.Record)
	if !ok {
		return domain.Record{}, false, nil
	}
	return rec, true, nil
}

type ctxKey string

const loaderKey ctxKey = "versionLoader"

// NewContext returns a context carrying the loader.
func NewContext(ctx context.Context, l *Loader) context.Context {
	return context.WithValue(ctx, loaderKey, l)
}

// FromContext retrieves the request-scoped loader, if any.
func FromContext(ctx context.Context) *Loader {
	if l, ok := ctx.Value(loaderKey).(*Loader); ok {
		return l
	}
	return nil
}
