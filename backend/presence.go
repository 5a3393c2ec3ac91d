package main

import "net/http"

// POST /me/ping
// authenticate has already refreshed last_online.
func (s *server) mePingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}
