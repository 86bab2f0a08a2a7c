package chain

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/advatar/carechain/internal/domain"
	"github.com/advatar/carechain/internal/store"
)

// Direction selects which link the repair walk follows outward.
type Direction int

const (
	// Backward walks via previousVersionID, restoring next links.
	Backward Direction = iota
	// Forward walks via nextVersionID, restoring previous links.
	Forward
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// Repair restores reciprocity outward from anchor, one seam at a time. The
// walk stops at the chain end, at the first seam whose reciprocal link is
// already set, on any fetch or persist failure, or when the visited-set or
// hop guard trips. Errors are absorbed here: repair is best-effort
// self-healing and the next save touching a broken seam retries it.
func (s *Service) Repair(ctx context.Context, anchor domain.Record, dir Direction) {
	log := s.log.With().
		Str("direction", dir.String()).
		Str("entity_type", anchor.EntityType).
		Str("logical_id", anchor.LogicalID).
		Logger()

	visited := map[uuid.UUID]struct{}{anchor.ID: {}}
	hops := 0
	defer func() {
		s.metrics.RepairHops.Observe(float64(hops))
	}()

	for {
		if hops >= s.maxHops {
			s.metrics.RepairAbortsTotal.WithLabelValues("max_hops").Inc()
			log.Warn().Int("hops", hops).Msg("repair walk exceeded hop limit")
			return
		}

		linkID := walkLink(anchor, dir)
		if linkID == nil {
			// Reached the chain end on this side.
			return
		}

		neighbor, err := s.store.FetchByID(ctx, *linkID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Dangling link; nothing repairable with current information.
				return
			}
			s.metrics.RepairAbortsTotal.WithLabelValues("fetch_error").Inc()
			log.Error().Err(err).Stringer("neighbor", *linkID).Msg("repair fetch failed")
			return
		}

		if _, seen := visited[neighbor.ID]; seen {
			s.metrics.RepairAbortsTotal.WithLabelValues("cycle").Inc()
			log.Error().Stringer("neighbor", neighbor.ID).Msg("cycle detected during repair walk")
			return
		}
		visited[neighbor.ID] = struct{}{}

		// Walking forward, the anchor already names its successor but may not
		// yet mirror the successor's effective date; without the mirror the
		// anchor never matches an active-at query. Settle it before looking at
		// the neighbor's own link.
		if dir == Forward && !mirrorsEffective(anchor, neighbor) {
			eff := neighbor.EffectiveDate
			anchor.NextVersionEffective = &eff
			updated, err := s.store.Update(ctx, anchor)
			if err != nil {
				s.metrics.RepairAbortsTotal.WithLabelValues("write_error").Inc()
				log.Error().Err(err).Stringer("anchor", anchor.ID).Msg("repair write failed")
				return
			}
			s.metrics.RepairWritesTotal.WithLabelValues(dir.String()).Inc()
			anchor = updated
		}

		if reciprocalLink(neighbor, dir) != nil {
			// Seam already settled; further breaks on this side are found by
			// whichever save next touches them.
			return
		}

		setReciprocal(&neighbor, dir, anchor)
		persisted, err := s.store.Update(ctx, neighbor)
		if err != nil {
			s.metrics.RepairAbortsTotal.WithLabelValues("write_error").Inc()
			log.Error().Err(err).Stringer("neighbor", neighbor.ID).Msg("repair write failed")
			return
		}

		s.metrics.RepairWritesTotal.WithLabelValues(dir.String()).Inc()
		log.Debug().
			Stringer("neighbor", persisted.ID).
			Stringer("anchor", anchor.ID).
			Msg("restored reciprocal link")

		hops++
		anchor = persisted
	}
}

// walkLink returns the link the walk follows outward from rec.
func walkLink(rec domain.Record, dir Direction) *uuid.UUID {
	if dir == Backward {
		return rec.PreviousVersionID
	}
	return rec.NextVersionID
}

// mirrorsEffective reports whether rec already mirrors its successor's
// effective date.
func mirrorsEffective(rec, next domain.Record) bool {
	return rec.NextVersionEffective != nil && rec.NextVersionEffective.Equal(next.EffectiveDate)
}

// reciprocalLink returns the neighbor's link that should point back at the
// anchor.
func reciprocalLink(rec domain.Record, dir Direction) *uuid.UUID {
	if dir == Backward {
		return rec.NextVersionID
	}
	return rec.PreviousVersionID
}

// setReciprocal points the neighbor's reciprocal link back at anchor. On the
// backward walk this also mirrors the anchor's effective date so active-at
// queries can range over it without a join.
func setReciprocal(neighbor *domain.Record, dir Direction, anchor domain.Record) {
	id := anchor.ID
	if dir == Backward {
		neighbor.NextVersionID = &id
		eff := anchor.EffectiveDate
		neighbor.NextVersionEffective = &eff
		return
	}
	neighbor.PreviousVersionID = &id
}
