package main

import (
	"net/http"

	"github.com/go-chi/cors"
)

// The frontend runs on a different origin, so browsers need CORS headers on every response.
func (s *server) withCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return s.origins[origin]
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	})(next)
}
