package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VersionMeta carries the chain bookkeeping fields shared by every versioned
// record: identity, the previous/next links, the effective window anchor and
// the tombstone marker. Concrete entity types embed it and expose it through
// the Versioned interface.
type VersionMeta struct {
	ID        uuid.UUID `json:"id"`
	LogicalID string    `json:"logicalId"`

	PreviousVersionID *uuid.UUID `json:"previousVersionId,omitempty"`
	NextVersionID     *uuid.UUID `json:"nextVersionId,omitempty"`

	// NextVersionEffective mirrors the successor's effective date on this
	// record. The store's query surface has no joins, so the active-at
	// predicate ranges over this field instead of the successor row. It is
	// maintained together with NextVersionID by the save and repair paths.
	NextVersionEffective *time.Time `json:"nextVersionEffective,omitempty"`

	EffectiveDate time.Time  `json:"effectiveDate"`
	DeletedDate   *time.Time `json:"deletedDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Versioned is implemented by every entity that participates in a version
// chain. The chain algorithms are written once against this interface.
type Versioned interface {
	Meta() *VersionMeta
	EntityType() string
	Payload() (map[string]any, error)
}

// Record is the persisted shape of one version: the chain metadata plus the
// entity payload the store keeps as an opaque document.
type Record struct {
	VersionMeta
	EntityType string         `json:"entityType"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewRecord builds the persistable record for a Versioned entity. The result
// is a copy; mutating it never touches the caller's entity.
func NewRecord(v Versioned) (Record, error) {
	meta := v.Meta()
	if meta == nil {
		return Record{}, fmt.Errorf("entity %T has no version metadata", v)
	}

	payload, err := v.Payload()
	if err != nil {
		return Record{}, fmt.Errorf("failed to build payload for %s: %w", v.EntityType(), err)
	}

	rec := Record{
		VersionMeta: *meta,
		EntityType:  v.EntityType(),
		Payload:     copyPayload(payload),
	}
	rec.PreviousVersionID = copyUUID(meta.PreviousVersionID)
	rec.NextVersionID = copyUUID(meta.NextVersionID)
	rec.NextVersionEffective = copyTime(meta.NextVersionEffective)
	rec.DeletedDate = copyTime(meta.DeletedDate)
	return rec, nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.PreviousVersionID = copyUUID(r.PreviousVersionID)
	out.NextVersionID = copyUUID(r.NextVersionID)
	out.NextVersionEffective = copyTime(r.NextVersionEffective)
	out.DeletedDate = copyTime(r.DeletedDate)
	out.Payload = copyPayload(r.Payload)
	return out
}

// Stamped returns a copy with identity and bookkeeping fields filled in ahead
// of a save. Idempotent: already-assigned fields are left alone.
func (r Record) Stamped(now time.Time) Record {
	out := r.Clone()
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	out.UpdatedAt = now
	return out
}

// Validate checks the fields every committed version must carry.
func (r Record) Validate() error {
	if r.EntityType == "" {
		return fmt.Errorf("entity type is required")
	}
	if r.LogicalID == "" {
		return fmt.Errorf("logical ID is required")
	}
	if r.EffectiveDate.IsZero() {
		return fmt.Errorf("effective date is required")
	}
	if r.PreviousVersionID != nil && r.ID != uuid.Nil && *r.PreviousVersionID == r.ID {
		return fmt.Errorf("version %s links to itself", r.ID)
	}
	if r.NextVersionID != nil && r.ID != uuid.Nil && *r.NextVersionID == r.ID {
		return fmt.Errorf("version %s links to itself", r.ID)
	}
	return nil
}

// IsDeleted reports whether the version is tombstoned. Tombstoned versions
// keep their links and stay traversable; they are only hidden from
// active-at queries.
func (r Record) IsDeleted() bool {
	return r.DeletedDate != nil
}

// IsTail reports whether this version is an open chain tail, i.e. the
// current version of its logical entity once the chain has settled.
func (r Record) IsTail() bool {
	return r.NextVersionID == nil && r.DeletedDate == nil
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	out := *id
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

func copyPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
