package middleware

import (
	"net/http"

	"github.com/advatar/carechain/internal/store"
	"github.com/advatar/carechain/internal/versionloader"
)

// VersionLoader attaches a request-scoped batching loader to the context so
// neighbor hydration across the records in one response shares fetches.
func VersionLoader(st store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := versionloader.NewContext(r.Context(), versionloader.New(st))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
