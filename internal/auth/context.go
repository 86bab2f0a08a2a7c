package auth

import (
	"context"
	"fmt"
)

type contextKey string

const patientScopeKey contextKey = "patientScope"

// ContextWithPatientScope returns a new context carrying the authenticated
// patient scope. Requests carrying a scope may only touch that patient's
// records.
func ContextWithPatientScope(ctx context.Context, logicalID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, patientScopeKey, logicalID)
}

// PatientScopeFromContext retrieves the authenticated patient scope, if any.
func PatientScopeFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value := ctx.Value(patientScopeKey)
	if value == nil {
		return "", false
	}
	id, ok := value.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// EnforcePatientScope ensures the requested patient matches the
// authenticated scope when one is present.
func EnforcePatientScope(ctx context.Context, logicalID string) error {
	scoped, ok := PatientScopeFromContext(ctx)
	if !ok {
		return nil
	}
	if scoped != logicalID {
		return fmt.Errorf("patient %s does not match authenticated scope", logicalID)
	}
	return nil
}
