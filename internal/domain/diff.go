package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ChangeKind classifies a single field difference between two versions.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeUpdated ChangeKind = "updated"
)

// FieldChange records one payload field that differs between two versions.
// Nested fields use dotted paths, array elements use bracketed indexes.
type FieldChange struct {
	Field string     `json:"field"`
	Kind  ChangeKind `json:"kind"`
	Old   string     `json:"old,omitempty"`
	New   string     `json:"new,omitempty"`
}

// DiffRecords compares the payloads of two versions of the same logical
// entity and reports the fields that changed, sorted by field path.
func DiffRecords(base, target Record) ([]FieldChange, error) {
	baseFlat := map[string]string{}
	if err := flattenPayload("", base.Payload, baseFlat); err != nil {
		return nil, fmt.Errorf("flatten base payload: %w", err)
	}
	targetFlat := map[string]string{}
	if err := flattenPayload("", target.Payload, targetFlat); err != nil {
		return nil, fmt.Errorf("flatten target payload: %w", err)
	}

	fields := make(map[string]struct{}, len(baseFlat)+len(targetFlat))
	for k := range baseFlat {
		fields[k] = struct{}{}
	}
	for k := range targetFlat {
		fields[k] = struct{}{}
	}

	changes := make([]FieldChange, 0)
	for field := range fields {
		oldVal, inBase := baseFlat[field]
		newVal, inTarget := targetFlat[field]
		switch {
		case !inBase:
			changes = append(changes, FieldChange{Field: field, Kind: ChangeAdded, New: newVal})
		case !inTarget:
			changes = append(changes, FieldChange{Field: field, Kind: ChangeRemoved, Old: oldVal})
		case oldVal != newVal:
			changes = append(changes, FieldChange{Field: field, Kind: ChangeUpdated, Old: oldVal, New: newVal})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes, nil
}

func flattenPayload(prefix string, value any, acc map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "{}"
			}
			return nil
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			nextPrefix := key
			if prefix != "" {
				nextPrefix = prefix + "." + key
			}
			if err := flattenPayload(nextPrefix, typed[key], acc); err != nil {
				return err
			}
		}
	case []any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "[]"
			}
			return nil
		}
		for idx, item := range typed {
			nextPrefix := fmt.Sprintf("%s[%d]", prefix, idx)
			if prefix == "" {
				nextPrefix = fmt.Sprintf("[%d]", idx)
			}
			if err := flattenPayload(nextPrefix, item, acc); err != nil {
				return err
			}
		}
	case nil:
		if prefix != "" {
			acc[prefix] = "null"
		}
	default:
		if prefix == "" {
			return fmt.Errorf("payload key missing for value %v", typed)
		}
		encoded, err := json.Marshal(typed)
		if err != nil {
			acc[prefix] = fmt.Sprintf("%v", typed)
		} else {
			acc[prefix] = string(encoded)
		}
	}

	return nil
}
