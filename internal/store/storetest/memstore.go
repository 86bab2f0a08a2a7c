// Package storetest provides an in-memory store.Store used by tests. It
// evaluates the same predicate tree the production store compiles to SQL and
// exposes hooks for injecting delays and write failures.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advatar/carechain/internal/domain"
	"github.com/advatar/carechain/internal/store"
)

// MemStore is a thread-safe in-memory record store.
type MemStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.Record
	writes  map[uuid.UUID]int
	now     func() time.Time

	// FetchGate, when non-nil, blocks every FetchByID until the channel is
	// closed or the context is cancelled. Lets tests hold neighbor lookups
	// open while asserting that Save already returned.
	FetchGate chan struct{}

	// FailUpdates injects an error for updates of specific records.
	FailUpdates map[uuid.UUID]error
}

// New creates an empty in-memory store.
func New() *MemStore {
	return &MemStore{
		records: make(map[uuid.UUID]domain.Record),
		writes:  make(map[uuid.UUID]int),
		now:     time.Now,
	}
}

// Seed inserts records directly, bypassing bookkeeping. Records without an ID
// get one assigned.
func (m *MemStore) Seed(recs ...domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = m.now()
		}
		m.records[rec.ID] = rec.Clone()
	}
}

// Record returns the current stored state of a record.
func (m *MemStore) Record(id uuid.UUID) (domain.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.Record{}, false
	}
	return rec.Clone(), true
}

// WriteCount reports how many times a record has been written through
// Create or Update. Seeding does not count.
func (m *MemStore) WriteCount(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[id]
}

// Len reports the number of stored records.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// FetchByID implements store.Store.
func (m *MemStore) FetchByID(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	if gate := m.gate(); gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Record{}, &store.TransportError{Op: "fetch", Err: ctx.Err()}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.Record{}, fmt.Errorf("fetch %s: %w", id, store.ErrNotFound)
	}
	return rec.Clone(), nil
}

// FetchByIDs implements store.Store. Missing IDs are skipped, not errors.
func (m *MemStore) FetchByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := m.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Create implements store.Store.
func (m *MemStore) Create(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := rec.Validate(); err != nil {
		return domain.Record{}, &store.ValidationError{Reason: err.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, exists := m.records[rec.ID]; exists {
		return domain.Record{}, fmt.Errorf("create %s: %w", rec.ID, store.ErrConflict)
	}
	now := m.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.records[rec.ID] = rec.Clone()
	m.writes[rec.ID]++
	return rec.Clone(), nil
}

// Update implements store.Store.
func (m *MemStore) Update(ctx context.Context, rec domain.Record) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailUpdates[rec.ID]; ok && err != nil {
		return domain.Record{}, err
	}
	existing, ok := m.records[rec.ID]
	if !ok {
		return domain.Record{}, fmt.Errorf("update %s: %w", rec.ID, store.ErrNotFound)
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = m.now()
	m.records[rec.ID] = rec.Clone()
	m.writes[rec.ID]++
	return rec.Clone(), nil
}

// Find implements store.Store.
func (m *MemStore) Find(ctx context.Context, q store.Query) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches := make([]domain.Record, 0)
	for _, rec := range m.records {
		if q.EntityType != "" && rec.EntityType != q.EntityType {
			continue
		}
		ok, err := Matches(q.Where, rec)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, rec.Clone())
		}
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = store.FieldCreatedAt
	}
	sort.SliceStable(matches, func(i, j int) bool {
		less := lessByField(matches[i], matches[j], orderBy)
		if q.Descending {
			return !less
		}
		return less
	})

	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

func (m *MemStore) gate() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FetchGate
}

// Matches evaluates a predicate tree against one record.
func Matches(p store.Predicate, rec domain.Record) (bool, error) {
	if p == nil {
		return true, nil
	}
	switch pred := p.(type) {
	case store.And:
		for _, sub := range pred.Predicates {
			ok, err := Matches(sub, rec)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case store.Or:
		for _, sub := range pred.Predicates {
			ok, err := Matches(sub, rec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case store.Exists:
		_, ok := fieldValue(rec, pred.Field)
		return ok, nil
	case store.NotExists:
		_, ok := fieldValue(rec, pred.Field)
		return !ok, nil
	case store.EqualTo:
		value, ok := fieldValue(rec, pred.Field)
		if !ok {
			return false, nil
		}
		return compare(value, pred.Value) == 0, nil
	case store.LessThan:
		value, ok := fieldValue(rec, pred.Field)
		if !ok {
			return false, nil
		}
		return compare(value, pred.Value) < 0, nil
	case store.AtLeast:
		value, ok := fieldValue(rec, pred.Field)
		if !ok {
			return false, nil
		}
		return compare(value, pred.Value) >= 0, nil
	default:
		return false, fmt.Errorf("unsupported predicate %T", p)
	}
}

func fieldValue(rec domain.Record, field string) (any, bool) {
	switch field {
	case store.FieldLogicalID:
		return rec.LogicalID, true
	case store.FieldEffectiveDate:
		return rec.EffectiveDate, true
	case store.FieldCreatedAt:
		return rec.CreatedAt, true
	case store.FieldUpdatedAt:
		return rec.UpdatedAt, true
	case store.FieldDeletedDate:
		if rec.DeletedDate == nil {
			return nil, false
		}
		return *rec.DeletedDate, true
	case store.FieldPreviousVersionID:
		if rec.PreviousVersionID == nil {
			return nil, false
		}
		return *rec.PreviousVersionID, true
	case store.FieldNextVersionID:
		if rec.NextVersionID == nil {
			return nil, false
		}
		return *rec.NextVersionID, true
	case store.FieldNextVersionEffective:
		if rec.NextVersionEffective == nil {
			return nil, false
		}
		return *rec.NextVersionEffective, true
	default:
		value, ok := rec.Payload[field]
		return value, ok
	}
}

func compare(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			default:
				return 0
			}
		}
	case uuid.UUID:
		if bv, ok := b.(uuid.UUID); ok {
			return compareStrings(av.String(), bv.String())
		}
		if bv, ok := b.(string); ok {
			return compareStrings(av.String(), bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return compareStrings(av, bv)
		}
	case float64:
		if bv, ok := toFloat(b); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	case int:
		if bv, ok := toFloat(b); ok {
			return compare(float64(av), bv)
		}
	}
	return compareStrings(fmt.Sprint(a), fmt.Sprint(b))
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	}
	return 0, false
}

func lessByField(a, b domain.Record, field string) bool {
	av, aok := fieldValue(a, field)
	bv, bok := fieldValue(b, field)
	if !aok || !bok {
		return bok
	}
	if c := compare(av, bv); c != 0 {
		return c < 0
	}
	return a.ID.String() < b.ID.String()
}
