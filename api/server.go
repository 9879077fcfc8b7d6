/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. AccessLog:  Request logging through zerolog
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend
  6. Actor:      Session resolved into a generic.Actor

ROUTE GROUPS:
  /health               Liveness
  /api/employees/*      Directory and limits
  /api/scenarios/*      Demo scenarios
  /api/{kind}/*         Loans and rewards (static routes win over {kind})

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

type RouterOptions struct {
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			HeaderUserID, HeaderUserRole, HeaderUserEmail, HeaderUserAdmin},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.withActor)

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/limits", h.GetLimits)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/{id}/load", h.LoadScenario)
		})

		// Workflow routes
		r.Route("/{kind}", func(r chi.Router) {
			r.Get("/", h.ListEntities)
			r.Post("/", h.CreateEntity)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetEntity)
				r.Put("/", h.UpdateEntity)
				r.Delete("/", h.DeleteEntity)
				r.Post("/transitions", h.Transition)
				r.Get("/timeline", h.GetTimeline)
				r.Get("/actions", h.GetActions)
				r.Get("/audit", h.GetAudit)
				r.Get("/certificate", h.GetCertificate)
				r.Post("/certificate/regenerate", h.RegenerateCertificate)
			})
		})
	})

	return r
}

// accessLog writes one zerolog line per request.
func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
