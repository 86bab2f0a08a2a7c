package store

// Well-known record fields addressable by query predicates. Any other field
// name refers to a key inside the record payload.
const (
	FieldLogicalID            = "logicalId"
	FieldEffectiveDate        = "effectiveDate"
	FieldDeletedDate          = "deletedDate"
	FieldPreviousVersionID    = "previousVersionId"
	FieldNextVersionID        = "nextVersionId"
	FieldNextVersionEffective = "nextVersionEffective"
	FieldCreatedAt            = "createdAt"
	FieldUpdatedAt            = "updatedAt"
)

// Predicate is one node of a query filter tree. The supported shapes mirror
// the remote store's query surface: equality, field existence, open ranges
// and AND/OR composition.
type Predicate interface {
	predicate()
}

// EqualTo matches records whose field equals the value.
type EqualTo struct {
	Field string
	Value any
}

// Exists matches records that carry a value for the field.
type Exists struct {
	Field string
}

// NotExists matches records with no value for the field.
type NotExists struct {
	Field string
}

// LessThan matches records whose field is strictly below the value.
type LessThan struct {
	Field string
	Value any
}

// AtLeast matches records whose field is at or above the value.
type AtLeast struct {
	Field string
	Value any
}

// And matches records satisfying every sub-predicate.
type And struct {
	Predicates []Predicate
}

// Or matches records satisfying at least one sub-predicate.
type Or struct {
	Predicates []Predicate
}

func (EqualTo) predicate()   {}
func (Exists) predicate()    {}
func (NotExists) predicate() {}
func (LessThan) predicate()  {}
func (AtLeast) predicate()   {}
func (And) predicate()       {}
func (Or) predicate()        {}

// AllOf combines predicates with logical AND, flattening nested Ands.
func AllOf(preds ...Predicate) Predicate {
	flat := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p == nil {
			continue
		}
		if and, ok := p.(And); ok {
			flat = append(flat, and.Predicates...)
			continue
		}
		flat = append(flat, p)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return And{Predicates: flat}
}

// AnyOf combines predicates with logical OR.
func AnyOf(preds ...Predicate) Predicate {
	flat := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			flat = append(flat, p)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return Or{Predicates: flat}
}

// Query is a composable description of a record lookup. Callers may refine a
// query returned by the builders before handing it to Store.Find.
type Query struct {
	EntityType string
	Where      Predicate

	// Include lists link fields (previousVersionId, nextVersionId) whose
	// referenced records the caller wants hydrated eagerly.
	Include []string

	OrderBy    string
	Descending bool
	Limit      int
}

// Refine returns a copy of the query with the predicate ANDed in.
func (q Query) Refine(p Predicate) Query {
	out := q
	if q.Where == nil {
		out.Where = p
		return out
	}
	out.Where = AllOf(q.Where, p)
	return out
}

// WithInclude returns a copy requesting eager hydration of link fields.
func (q Query) WithInclude(fields ...string) Query {
	out := q
	out.Include = append(append([]string(nil), q.Include...), fields...)
	return out
}

// WithLimit returns a copy capped at n results.
func (q Query) WithLimit(n int) Query {
	out := q
	out.Limit = n
	return out
}

// OrderedBy returns a copy sorted by the given field.
func (q Query) OrderedBy(field string, descending bool) Query {
	out := q
	out.OrderBy = field
	out.Descending = descending
	return out
}
