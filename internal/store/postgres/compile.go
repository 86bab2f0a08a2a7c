package postgres

import (
	"fmt"
	"strings"

	"github.com/advatar/carechain/internal/store"
)

// columnFor maps well-known query fields to their table columns. Any other
// field name addresses a key inside the JSONB payload.
var columnFor = map[string]string{
	store.FieldLogicalID:            "logical_id",
	store.FieldEffectiveDate:        "effective_date",
	store.FieldDeletedDate:          "deleted_date",
	store.FieldPreviousVersionID:    "previous_version_id",
	store.FieldNextVersionID:        "next_version_id",
	store.FieldNextVersionEffective: "next_version_effective",
	store.FieldCreatedAt:            "created_at",
	store.FieldUpdatedAt:            "updated_at",
}

// compileQuery renders a store query to SQL plus positional arguments.
func compileQuery(q store.Query) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT " + recordColumns + " FROM record_versions WHERE 1=1")

	if q.EntityType != "" {
		args = append(args, q.EntityType)
		fmt.Fprintf(&sb, " AND entity_type = $%d", len(args))
	}
	if q.Where != nil {
		clause, err := compilePredicate(q.Where, &args)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" AND " + clause)
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = store.FieldCreatedAt
	}
	column, ok := columnFor[orderBy]
	if !ok {
		return "", nil, &store.ValidationError{Field: orderBy, Reason: "cannot order by payload field"}
	}
	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s, id %s", column, direction, direction)

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	return sb.String(), args, nil
}

func compilePredicate(p store.Predicate, args *[]any) (string, error) {
	switch pred := p.(type) {
	case store.And:
		return compileJunction(pred.Predicates, " AND ", args)
	case store.Or:
		return compileJunction(pred.Predicates, " OR ", args)
	case store.Exists:
		if column, ok := columnFor[pred.Field]; ok {
			return column + " IS NOT NULL", nil
		}
		*args = append(*args, pred.Field)
		return fmt.Sprintf("payload ? $%d", len(*args)), nil
	case store.NotExists:
		if column, ok := columnFor[pred.Field]; ok {
			return column + " IS NULL", nil
		}
		*args = append(*args, pred.Field)
		return fmt.Sprintf("NOT (payload ? $%d)", len(*args)), nil
	case store.EqualTo:
		if column, ok := columnFor[pred.Field]; ok {
			*args = append(*args, pred.Value)
			return fmt.Sprintf("%s = $%d", column, len(*args)), nil
		}
		*args = append(*args, pred.Field)
		keyArg := len(*args)
		*args = append(*args, fmt.Sprint(pred.Value))
		return fmt.Sprintf("payload->>$%d = $%d", keyArg, len(*args)), nil
	case store.LessThan:
		column, ok := columnFor[pred.Field]
		if !ok {
			return "", &store.ValidationError{Field: pred.Field, Reason: "range predicates require a well-known field"}
		}
		*args = append(*args, pred.Value)
		return fmt.Sprintf("%s < $%d", column, len(*args)), nil
	case store.AtLeast:
		column, ok := columnFor[pred.Field]
		if !ok {
			return "", &store.ValidationError{Field: pred.Field, Reason: "range predicates require a well-known field"}
		}
		*args = append(*args, pred.Value)
		return fmt.Sprintf("%s >= $%d", column, len(*args)), nil
	default:
		return "", &store.ValidationError{Reason: fmt.Sprintf("unsupported predicate %T", p)}
	}
}

func compileJunction(preds []store.Predicate, op string, args *[]any) (string, error) {
	if len(preds) == 0 {
		return "TRUE", nil
	}
	clauses := make([]string, 0, len(preds))
	for _, p := range preds {
		clause, err := compilePredicate(p, args)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return "(" + strings.Join(clauses, op) + ")", nil
}
