// Package http provides HTTP routing and handlers for the scan session
// collector and the equipment catalog.
package http

import (
	"net/http"

	"github.com/atinyakov/ScanKeeper/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the collector API.
//
// Routes:
//
//	GET    /equipment/barcode/{code}     → equipment.LookupBarcode
//	POST   /scan-sessions                → sessions.Create
//	GET    /scan-sessions/               → sessions.List (user from X-User-ID or ?user_id=)
//	POST   /scan-sessions/clean-expired  → sessions.CleanExpired
//	GET    /scan-sessions/{id}           → sessions.Get
//	PUT    /scan-sessions/{id}           → sessions.Update
//	DELETE /scan-sessions/{id}           → sessions.Delete
//
// Middleware chain (applied in order):
//  1. AllowContentType("application/json") — rejects non-JSON bodies
//  2. UserIdentity                        — resolves the caller's user id
//  3. WithRequestLogging(logger)          — logs incoming requests
func NewRouter(
	equipment *EquipmentHandler,
	sessions *SessionHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.UserIdentity)
	r.Use(middleware.WithRequestLogging(logger))

	r.Get("/equipment/barcode/{code}", equipment.LookupBarcode)

	r.Route("/scan-sessions", func(r chi.Router) {
		r.Post("/", sessions.Create)
		r.Get("/", sessions.List)
		r.Post("/clean-expired", sessions.CleanExpired)
		r.Get("/{id}", sessions.Get)
		r.Put("/{id}", sessions.Update)
		r.Delete("/{id}", sessions.Delete)
	})

	return r
}
