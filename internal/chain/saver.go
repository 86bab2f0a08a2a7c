package chain

import (
	"context"
	"fmt"

	"github.com/advatar/carechain/internal/domain"
	"github.com/advatar/carechain/internal/store"
)

// Save stamps and persists one version, then triggers self-healing of the
// chain around it. The caller gets the saved record back as soon as the
// primary write succeeds; the neighbor checks and repair walks run on
// background goroutines and are never awaited by the caller. Callers must not
// assume the chain is fully reciprocal when Save returns.
func (s *Service) Save(ctx context.Context, v domain.Versioned) (domain.Record, error) {
	rec, err := domain.NewRecord(v)
	if err != nil {
		return domain.Record{}, err
	}
	return s.SaveRecord(ctx, rec)
}

// SaveRecord is Save for callers that already hold the record shape.
func (s *Service) SaveRecord(ctx context.Context, rec domain.Record) (domain.Record, error) {
	stamped := rec.Stamped(s.now())
	if err := stamped.Validate(); err != nil {
		s.metrics.SavesTotal.WithLabelValues(stamped.EntityType, "invalid").Inc()
		return domain.Record{}, &store.ValidationError{Reason: err.Error()}
	}

	var (
		saved domain.Record
		err   error
	)
	if stamped.CreatedAt.IsZero() {
		saved, err = s.store.Create(ctx, stamped)
	} else {
		saved, err = s.store.Update(ctx, stamped)
	}
	if err != nil {
		s.metrics.SavesTotal.WithLabelValues(stamped.EntityType, "error").Inc()
		// Store errors surface to the caller unchanged; retry policy belongs
		// to the transport layer.
		return domain.Record{}, fmt.Errorf("save %s/%s: %w", stamped.EntityType, stamped.LogicalID, err)
	}

	s.metrics.SavesTotal.WithLabelValues(saved.EntityType, "ok").Inc()
	s.spawnRepairs(ctx, saved)
	return saved, nil
}

// spawnRepairs kicks off the neighbor linking for each set link. The walks
// get a context detached from the caller's cancellation: the primary result
// has already been returned and an abandoned repair would leave the seam
// broken until an arbitrary later save.
func (s *Service) spawnRepairs(ctx context.Context, saved domain.Record) {
	bg := context.WithoutCancel(ctx)

	if saved.PreviousVersionID != nil {
		s.repairs.Add(1)
		go func() {
			defer s.repairs.Done()
			s.Repair(bg, saved, Backward)
		}()
	}
	if saved.NextVersionID != nil {
		s.repairs.Add(1)
		go func() {
			defer s.repairs.Done()
			s.Repair(bg, saved, Forward)
		}()
	}
}
