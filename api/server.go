/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Request logging (bridged into slog)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Request count and latency per route
  6. CORS:       Cross-origin requests for the dashboard
  7. RateLimit:  Token bucket per client address, /api only
  8. Auth:       Caller identity and signature check, /api only

ROUTE GROUPS:
  /api/program          Program config and initialization
  /api/contributors/*   Contributor accounts, contributions, claims
  /api/admin/*          Authority operations
  /api/scenarios/*      Demo scenarios, only with DemoScenarios set
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go, ratelimit.go: API middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/contributor-rewards/observability"
)

// RouterOptions configures the middleware around the handlers.
type RouterOptions struct {
	CORSOrigins []string
	Auth        *Authenticator // nil trusts X-Actor
	RateLimiter *RateLimiter   // nil disables limiting
	Metrics     *observability.Metrics
	// DemoScenarios mounts the scenario routes. Loading a scenario wipes
	// the store, so production routers leave it off.
	DemoScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", HeaderActor, HeaderSignature, HeaderSignatureTimestamp},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(opts.RateLimiter.Middleware)
		r.Use(opts.Auth.Middleware)

		r.Route("/program", func(r chi.Router) {
			r.Get("/", h.GetProgram)
			r.Post("/", h.InitializeProgram)
		})

		r.Route("/contributors", func(r chi.Router) {
			r.Get("/", h.ListContributors)
			r.Post("/", h.CreateContributor)
			r.Get("/{id}", h.GetContributor)
			r.Post("/{id}/contributions", h.RecordContribution)
			r.Post("/{id}/claims", h.Claim)
			r.Get("/{id}/events", h.ContributorEvents)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/period/advance", h.AdvancePeriod)
			r.Post("/reserve", h.UpdateReserve)
			r.Post("/caps", h.UpdateCaps)
			r.Post("/contributors/{id}/verify", h.VerifyContributor)
			r.Get("/invariants", h.CheckInvariants)
			r.Get("/payouts", h.ListPayouts)
		})

		r.Get("/periods", h.ListPeriods)
		r.Get("/contribution-types", h.ListContributionTypes)

		if opts.DemoScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", nil)
	})

	return r
}
