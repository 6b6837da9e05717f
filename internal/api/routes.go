package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
	})

	// ADR evaluation (public, stateless)
	r.Route("/adr", func(r chi.Router) {
		r.Get("/algorithms", s.HandleListAlgorithms)
		r.Post("/evaluate", s.HandleEvaluate)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/me", s.HandleGetCurrentUser)

		// Devices
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.HandleListDevices)
			r.Route("/{dev_eui}", func(r chi.Router) {
				r.Get("/adr", s.HandleGetDeviceADR)
				r.Delete("/adr/history", s.HandleResetADRHistory)
			})
		})

		// Events
		r.Get("/events", s.HandleListEvents)
	})
}
