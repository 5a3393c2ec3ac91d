package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.instrument, middleware.Recoverer)

	// Health check endpoint for Docker
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		scoring := "heuristic"
		if s.engine.LLMEnabled() {
			scoring = "llm"
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scoring": scoring})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.uploadDir))))

	r.Post("/auth/register", s.registerHandler())
	r.Post("/auth/login", s.loginHandler())
	r.Post("/auth/verify-token", s.verifyTokenHandler())
	r.Get("/interests", s.listInterestsHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate, DataLoaderMiddleware(s.db))

		r.Post("/auth/logout", s.logoutHandler())
		r.Get("/auth/me", s.meHandler())
		r.Post("/me/ping", s.mePingHandler())

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/me", s.myProfileHandler())
			r.Put("/me", s.updateProfileHandler())
			r.Post("/me/complete", s.completeProfileHandler())
			r.Post("/me/interests", s.setInterestsHandler())
			r.Delete("/me/interests/{interestID}", s.removeInterestHandler())
			r.Post("/me/photos/upload", s.uploadPhotoHandler())
			r.Post("/me/photos", s.addPhotoURLHandler())
			r.Delete("/me/photos/{photoID}", s.deletePhotoHandler())
			r.Get("/me/preferences", s.getPreferencesHandler())
			r.Put("/me/preferences", s.updatePreferencesHandler())
			r.Get("/{userID}", s.userProfileHandler())
		})

		r.Route("/discovery", func(r chi.Router) {
			r.Get("/profiles", s.discoveryHandler())
			r.Get("/compatibility/{userID}", s.compatibilityHandler())
			r.Post("/interact", s.interactHandler())
			r.Get("/matches", s.listMatchesHandler())
			r.Delete("/matches/{matchID}", s.unmatchHandler())
			r.Get("/matches/{matchID}/ice-breakers", s.iceBreakersHandler())
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/ws", s.wsChatHandler())
			r.Post("/", s.sendMessageHandler())
			r.Get("/conversations", s.conversationsHandler())
			r.Get("/conversations/{matchID}", s.conversationHandler())
			r.Put("/conversations/{matchID}/read", s.markReadHandler())
		})

		r.Post("/users/{userID}/block", s.blockHandler())
		r.Delete("/users/{userID}/block", s.unblockHandler())
		r.Post("/users/{userID}/report", s.reportHandler())

		r.Get("/notifications", s.notificationsHandler())
		r.Put("/notifications/{notificationID}/read", s.readNotificationHandler())

		r.Post("/ai/bio-suggestions", s.bioSuggestionsHandler())
	})

	return s.withCORS(r)
}
