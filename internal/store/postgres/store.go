// Package postgres implements store.Store over a PostgreSQL record table,
// with the version payload kept as JSONB and the chain metadata in indexed
// columns so the active-at predicates stay sargable.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/advatar/carechain/internal/domain"
	"github.com/advatar/carechain/internal/store"
)

const uniqueViolation = "23505"

// Store is the pgx-backed record store.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Minute * 30
	poolConfig.MaxConnIdleTime = time.Minute * 5
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  log.With().Str("component", "postgres").Logger(),
	}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const recordColumns = `id, entity_type, logical_id, previous_version_id, next_version_id,
	next_version_effective, effective_date, deleted_date, payload, created_at, updated_at`

// FetchByID implements store.Store.
func (s *Store) FetchByID(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM record_versions WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, fmt.Errorf("fetch %s: %w", id, store.ErrNotFound)
		}
		return domain.Record{}, &store.TransportError{Op: "fetch", Err: err}
	}
	return rec, nil
}

// FetchByIDs implements store.Store. Missing IDs are skipped.
func (s *Store) FetchByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error) {
	if len(ids) == 0 {
		return []domain.Record{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM record_versions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, &store.TransportError{Op: "fetch batch", Err: err}
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := rec.Validate(); err != nil {
		return domain.Record{}, &store.ValidationError{Reason: err.Error()}
	}
	payloadJSON, err := marshalPayload(rec.Payload)
	if err != nil {
		return domain.Record{}, &store.ValidationError{Field: "payload", Reason: err.Error()}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO record_versions (
			id, entity_type, logical_id, previous_version_id, next_version_id,
			next_version_effective, effective_date, deleted_date, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+recordColumns,
		rec.ID, rec.EntityType, rec.LogicalID, rec.PreviousVersionID, rec.NextVersionID,
		rec.NextVersionEffective, rec.EffectiveDate, rec.DeletedDate, payloadJSON)

	saved, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Record{}, fmt.Errorf("create %s: %w", rec.ID, store.ErrConflict)
		}
		return domain.Record{}, &store.TransportError{Op: "create", Err: err}
	}
	return saved, nil
}

// Update implements store.Store. Only the mutable chain fields, the
// tombstone and the payload are written; identity and created_at are fixed.
func (s *Store) Update(ctx context.Context, rec domain.Record) (domain.Record, error) {
	payloadJSON, err := marshalPayload(rec.Payload)
	if err != nil {
		return domain.Record{}, &store.ValidationError{Field: "payload", Reason: err.Error()}
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE record_versions SET
			previous_version_id = $2,
			next_version_id = $3,
			next_version_effective = $4,
			effective_date = $5,
			deleted_date = $6,
			payload = $7,
			updated_at = now()
		WHERE id = $1
		RETURNING `+recordColumns,
		rec.ID, rec.PreviousVersionID, rec.NextVersionID,
		rec.NextVersionEffective, rec.EffectiveDate, rec.DeletedDate, payloadJSON)

	saved, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, fmt.Errorf("update %s: %w", rec.ID, store.ErrNotFound)
		}
		return domain.Record{}, &store.TransportError{Op: "update", Err: err}
	}
	return saved, nil
}

// Find implements store.Store by compiling the predicate tree to SQL.
func (s *Store) Find(ctx context.Context, q store.Query) ([]domain.Record, error) {
	sql, args, err := compileQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &store.TransportError{Op: "find", Err: err}
	}
	defer rows.Close()
	return collectRecords(rows)
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

func collectRecords(rows pgx.Rows) ([]domain.Record, error) {
	records := make([]domain.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &store.TransportError{Op: "scan", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.TransportError{Op: "find", Err: err}
	}
	return records, nil
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		rec         domain.Record
		payloadJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.EntityType, &rec.LogicalID,
		&rec.PreviousVersionID, &rec.NextVersionID, &rec.NextVersionEffective,
		&rec.EffectiveDate, &rec.DeletedDate, &payloadJSON,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.Record{}, err
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
			return domain.Record{}, fmt.Errorf("failed to decode payload for record %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}
