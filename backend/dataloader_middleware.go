package main

import (
	"database/sql"
	"net/http"
)

// DataLoaderMiddleware gives every request its own loaders, so cached
// profiles never outlive the request.
func DataLoaderMiddleware(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithDataLoaders(r.Context(), NewDataLoaders(db))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
