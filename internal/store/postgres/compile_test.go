package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advatar/carechain/internal/store"
)

func TestCompileActiveAtShape(t *testing.T) {
	end := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	q := store.Query{
		EntityType: "task",
		Where: store.AllOf(
			store.EqualTo{Field: store.FieldLogicalID, Value: "task-1"},
			store.LessThan{Field: store.FieldEffectiveDate, Value: end},
			store.NotExists{Field: store.FieldDeletedDate},
			store.AnyOf(
				store.NotExists{Field: store.FieldNextVersionID},
				store.AtLeast{Field: store.FieldNextVersionEffective, Value: end},
			),
		),
	}

	sql, args, err := compileQuery(q)
	require.NoError(t, err)

	assert.Contains(t, sql, "entity_type = $1")
	assert.Contains(t, sql, "logical_id = $2")
	assert.Contains(t, sql, "effective_date < $3")
	assert.Contains(t, sql, "deleted_date IS NULL")
	assert.Contains(t, sql, "(next_version_id IS NULL OR next_version_effective >= $4)")
	assert.Equal(t, []any{"task", "task-1", end, end}, args)
}

func TestCompilePayloadPredicates(t *testing.T) {
	q := store.Query{
		EntityType: "task",
		Where: store.AllOf(
			store.EqualTo{Field: "carePlanId", Value: "plan-7"},
			store.Exists{Field: "instructions"},
		),
	}

	sql, args, err := compileQuery(q)
	require.NoError(t, err)

	assert.Contains(t, sql, "payload->>$2 = $3")
	assert.Contains(t, sql, "payload ? $4")
	assert.Equal(t, []any{"task", "carePlanId", "plan-7", "instructions"}, args)
}

func TestCompileBindsHostileKey(t *testing.T) {
	q := store.Query{
		EntityType: "task",
		Where:      store.EqualTo{Field: "x') OR ('1'='1", Value: "v"},
	}

	sql, args, err := compileQuery(q)
	require.NoError(t, err)

	// The key travels as a bind parameter, never as SQL text.
	assert.NotContains(t, sql, "x')")
	assert.Contains(t, sql, "payload->>$2 = $3")
	assert.Equal(t, []any{"task", "x') OR ('1'='1", "v"}, args)
}

func TestCompileRejectsPayloadRange(t *testing.T) {
	q := store.Query{
		EntityType: "task",
		Where:      store.LessThan{Field: "score", Value: 10},
	}
	_, _, err := compileQuery(q)
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCompileOrderingAndLimit(t *testing.T) {
	q := store.Query{EntityType: "task"}.
		OrderedBy(store.FieldCreatedAt, true).
		WithLimit(10)

	sql, args, err := compileQuery(q)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, "ORDER BY created_at DESC, id DESC LIMIT $2"), sql)
	assert.Equal(t, []any{"task", 10}, args)
}

func TestCompileRejectsOrderingByPayloadField(t *testing.T) {
	q := store.Query{EntityType: "task"}.OrderedBy("title", false)
	_, _, err := compileQuery(q)
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
}
