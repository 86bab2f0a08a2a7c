package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/advatar/carechain/internal/domain"
	"github.com/advatar/carechain/internal/store"
)

// Granularity is the width of the active window used when resolving which
// version is authoritative at an instant.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
	GranularityWeek Granularity = "week"
)

// ParseGranularity maps a config string to a Granularity, defaulting to day.
func ParseGranularity(s string) Granularity {
	switch Granularity(s) {
	case GranularityHour, GranularityDay, GranularityWeek:
		return Granularity(s)
	default:
		return GranularityDay
	}
}

// Interval returns the half-open window [start, end) containing t, in t's
// location.
func (g Granularity) Interval(t time.Time) (time.Time, time.Time) {
	switch g {
	case GranularityHour:
		start := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
		return start, start.Add(time.Hour)
	case GranularityWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		// Monday-based week.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	default:
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		return start, start.AddDate(0, 0, 1)
	}
}

// ActiveQuery builds the store query selecting the version of the logical
// entity that is active at instant at: effective before the window's end,
// not tombstoned, and either without a successor or with a successor that
// only takes over at or after the window's end.
func (s *Service) ActiveQuery(entityType, logicalID string, at time.Time) store.Query {
	_, end := s.granularity.Interval(at)
	return store.Query{
		EntityType: entityType,
		Where: store.AllOf(
			store.EqualTo{Field: store.FieldLogicalID, Value: logicalID},
			store.LessThan{Field: store.FieldEffectiveDate, Value: end},
			store.NotExists{Field: store.FieldDeletedDate},
			store.AnyOf(
				store.NotExists{Field: store.FieldNextVersionID},
				store.AtLeast{Field: store.FieldNextVersionEffective, Value: end},
			),
		),
	}
}

// FindActive executes ActiveQuery. A chain still waiting on repair can match
// more than one version; that is logged as an anomaly and the results come
// back most-recently-created first so callers wanting strictness take the
// head.
func (s *Service) FindActive(ctx context.Context, entityType, logicalID string, at time.Time) ([]domain.Record, error) {
	s.metrics.ActiveQueriesTotal.Inc()

	q := s.ActiveQuery(entityType, logicalID, at).OrderedBy(store.FieldCreatedAt, true)
	records, err := s.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find active %s/%s: %w", entityType, logicalID, err)
	}

	if len(records) > 1 {
		s.metrics.ActiveQueryAnomalies.Inc()
		s.log.Warn().
			Str("entity_type", entityType).
			Str("logical_id", logicalID).
			Time("at", at).
			Int("matches", len(records)).
			Msg("multiple active versions matched; chain not yet reciprocal")
	}

	return records, nil
}
