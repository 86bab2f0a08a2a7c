// Package chain keeps the versioned doubly-linked chain of snapshots for
// each logical entity reciprocal under concurrent, partially-failing writes.
// It owns the save orchestration, the active-at query builder and the
// self-healing repair walk; the remote store is the only shared state.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/advatar/carechain/internal/domain"
	"github.com/advatar/carechain/internal/metrics"
	"github.com/advatar/carechain/internal/store"
)

// ErrAlreadyDeleted is returned when tombstoning a version twice.
var ErrAlreadyDeleted = errors.New("version already deleted")

const defaultMaxRepairHops = 64

// Service coordinates version-chain reads and writes against a record store.
type Service struct {
	store   store.Store
	log     zerolog.Logger
	metrics *metrics.Metrics

	granularity Granularity
	maxHops     int
	now         func() time.Time

	repairs sync.WaitGroup
}

// Option customises a Service.
type Option func(*Service)

// WithGranularity sets the active-window granularity (default: day).
func WithGranularity(g Granularity) Option {
	return func(s *Service) { s.granularity = g }
}

// WithMaxRepairHops caps how many seams one repair walk may fix.
func WithMaxRepairHops(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxHops = n
		}
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a chain service over the given store.
func New(st store.Store, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       st,
		log:         log.With().Str("component", "chain").Logger(),
		granularity: GranularityDay,
		maxHops:     defaultMaxRepairHops,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Drain blocks until all in-flight repair walks have finished or the context
// expires. Used by tests and by graceful shutdown.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.repairs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tombstone marks a version logically deleted. The deletion only affects
// query visibility; links stay in place and the version remains traversable
// for repair. Deleting twice is rejected.
func (s *Service) Tombstone(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	rec, err := s.store.FetchByID(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if rec.IsDeleted() {
		return domain.Record{}, fmt.Errorf("version %s: %w", id, ErrAlreadyDeleted)
	}
	now := s.now()
	rec.DeletedDate = &now
	deleted, err := s.store.Update(ctx, rec)
	if err != nil {
		return domain.Record{}, err
	}
	return deleted, nil
}

// Chain walks the full version chain containing id, oldest first. Tombstoned
// versions are included. A dangling link ends the walk on that side; a cycle
// ends it with the versions collected so far.
func (s *Service) Chain(ctx context.Context, id uuid.UUID) ([]domain.Record, error) {
	anchor, err := s.store.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	visited := map[uuid.UUID]struct{}{anchor.ID: {}}

	var older []domain.Record
	cur := anchor
	for cur.PreviousVersionID != nil {
		prev, err := s.store.FetchByID(ctx, *cur.PreviousVersionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			return nil, err
		}
		if _, seen := visited[prev.ID]; seen {
			s.log.Warn().Stringer("version", prev.ID).Msg("cycle detected while walking chain")
			break
		}
		visited[prev.ID] = struct{}{}
		older = append(older, prev)
		cur = prev
	}

	// older was collected newest-to-oldest; reverse into chain order.
	out := make([]domain.Record, 0, len(older)+1)
	for i := len(older) - 1; i >= 0; i-- {
		out = append(out, older[i])
	}
	out = append(out, anchor)

	cur = anchor
	for cur.NextVersionID != nil {
		next, err := s.store.FetchByID(ctx, *cur.NextVersionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			return nil, err
		}
		if _, seen := visited[next.ID]; seen {
			s.log.Warn().Stringer("version", next.ID).Msg("cycle detected while walking chain")
			break
		}
		visited[next.ID] = struct{}{}
		out = append(out, next)
		cur = next
	}

	return out, nil
}
