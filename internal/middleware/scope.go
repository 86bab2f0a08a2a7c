package middleware

import (
	"net/http"

	"github.com/advatar/carechain/internal/auth"
)

// PatientScopeHeader names the header carrying the authenticated patient
// scope. Populated by the authenticating proxy in front of this service.
const PatientScopeHeader = "X-Patient-Scope"

// PatientScope lifts the scope header into the request context.
func PatientScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scope := r.Header.Get(PatientScopeHeader); scope != "" {
			r = r.WithContext(auth.ContextWithPatientScope(r.Context(), scope))
		}
		next.ServeHTTP(w, r)
	})
}
