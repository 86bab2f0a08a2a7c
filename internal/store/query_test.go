package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllOfFlattensNestedAnds(t *testing.T) {
	p := AllOf(
		EqualTo{Field: FieldLogicalID, Value: "task-1"},
		AllOf(
			NotExists{Field: FieldDeletedDate},
			Exists{Field: FieldNextVersionID},
		),
	)

	and, ok := p.(And)
	assert.True(t, ok, "expected And, got %T", p)
	assert.Len(t, and.Predicates, 3)
}

func TestAllOfSinglePredicateUnwrapped(t *testing.T) {
	p := AllOf(Exists{Field: FieldNextVersionID})
	_, ok := p.(Exists)
	assert.True(t, ok, "expected bare Exists, got %T", p)
}

func TestAnyOfDropsNils(t *testing.T) {
	p := AnyOf(nil, NotExists{Field: FieldNextVersionID})
	_, ok := p.(NotExists)
	assert.True(t, ok, "expected bare NotExists, got %T", p)
}

func TestQueryRefineIsCopyOnWrite(t *testing.T) {
	base := Query{EntityType: "task", Where: Exists{Field: FieldNextVersionID}}
	refined := base.Refine(NotExists{Field: FieldDeletedDate})

	_, baseIsExists := base.Where.(Exists)
	assert.True(t, baseIsExists, "refining must not mutate the original query")

	and, ok := refined.Where.(And)
	assert.True(t, ok)
	assert.Len(t, and.Predicates, 2)
}

func TestQueryWithIncludeAppends(t *testing.T) {
	base := Query{EntityType: "task"}
	q := base.WithInclude(FieldPreviousVersionID).WithInclude(FieldNextVersionID)
	assert.Empty(t, base.Include)
	assert.Equal(t, []string{FieldPreviousVersionID, FieldNextVersionID}, q.Include)
}
