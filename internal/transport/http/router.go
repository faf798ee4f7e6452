package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-doubleoptin/internal/config"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/transport/http/handler"
	appmiddleware "github.com/go-doubleoptin/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Page-Title"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10, for public submission and link endpoints.
	publicRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler(deps.Checks)
	linkH := handler.NewLinkHandler(deps.Engine, deps.Repo, deps.Slots, deps.Log)
	sessionH := handler.NewSessionHandler(deps.Sessions)
	adminH := handler.NewAdminHandler(deps.Repo, deps.Engine, deps.Counters, deps.GDPR, deps.Worker)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.Group(func(r chi.Router) {
			r.Use(publicRL.Limit)

			for _, a := range deps.Engine.Registry().Available() {
				a.RegisterHooks(r)
			}
			r.Get("/optin", linkH.Confirm)
			r.Get("/optout", linkH.OptOut)
			r.Get("/optin/error", linkH.ErrorSlot)
		})

		if deps.Verifier == nil {
			return
		}
		r.Route("/admin", func(r chi.Router) {
			r.With(publicRL.Limit).Post("/sessions", sessionH.Login)

			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.Auth(deps.Verifier))
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Get("/optins", adminH.List)
				r.Get("/optins/{hash}", adminH.Get)
				r.Delete("/optins/{hash}", adminH.Delete)
				r.Post("/optins/{hash}/resend", adminH.Resend)
				r.Put("/categories", adminH.MoveCategory)
				r.Get("/categories/{category}/count", adminH.CountByCategory)
				r.Get("/forms/{formID}/count", adminH.CountByForm)
				r.Get("/telemetry", adminH.Telemetry)
				r.Get("/gdpr/export", adminH.Export)
				r.Post("/gdpr/erase", adminH.Erase)
				r.Post("/cleanup/run", adminH.RunCleanup)
			})
		})
	})

	return r
}
