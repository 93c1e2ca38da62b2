/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request, carried into logs
  2. Logger:       One zap line per request, request-scoped logger in ctx
  3. Recoverer:    Panic recovery (500 instead of crash)
  4. CORS:         Cross-origin requests for a frontend
  5. Body limit:   http.MaxBytesReader
  6. Auth:         Bearer JWT -> authz.Caller (skipped without a secret)
  7. Idempotency:  Replays POSTs carrying an Idempotency-Key

ROUTE GROUPS:
  /api/properties/*   Properties, rooms, price history and resolution
  /api/leases/*       Leases, lifecycle, service registration, invoice builds
  /api/prices/*       Price point deletion
  /api/services/*     Service catalog
  /api/readings/*     Meter readings
  /api/usage          Usage records
  /api/invoices/*     Invoice reads, void, payments
  /api/scenarios/*    Demo scenarios (development only)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Logging, auth and idempotency middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/lease-billing/authz"
	"github.com/warp/lease-billing/idempotency"
)

// RouterConfig holds the cross-cutting pieces of the router.
type RouterConfig struct {
	Logger           *zap.Logger
	Tokens           *authz.Tokens // nil disables authentication
	Idempotency      idempotency.Store
	IdempotencyTTL   time.Duration
	MaxBodySize      int64
	CORSAllowOrigins []string
	EnableScenarios  bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if len(cfg.CORSAllowOrigins) == 0 {
		cfg.CORSAllowOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders:   []string{"Idempotent-Replayed"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(limitBody(cfg.MaxBodySize))

		// Scenarios seed their own landlord and hand out its token.
		if cfg.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(authenticate(cfg.Tokens))
			r.Use(idempotent(cfg.Idempotency, cfg.IdempotencyTTL))
			h.routes(r)
		})
	})

	return r
}

func (h *Handler) routes(r chi.Router) {
	r.Route("/properties", func(r chi.Router) {
		r.Post("/", h.CreateProperty)
		r.Post("/{id}/rooms", h.CreateRoom)
		r.Get("/{id}/prices", h.ResolvePrice)
		r.Get("/{id}/prices/history", h.PriceHistory)
		r.Post("/{id}/prices", h.AddPrice)
		r.Post("/{id}/prices/import", h.ImportTariff)
	})

	r.Route("/leases", func(r chi.Router) {
		r.Post("/", h.CreateLease)
		r.Post("/{id}/status", h.ChangeLeaseStatus)
		r.Post("/{id}/services", h.RegisterService)
		r.Post("/{id}/invoices", h.BuildInvoice)
		r.Get("/{id}/invoices", h.ListInvoices)
	})

	r.Delete("/prices/{id}", h.DeletePrice)

	r.Route("/services", func(r chi.Router) {
		r.Post("/", h.CreateService)
		r.Patch("/{id}", h.UpdateService)
		r.Delete("/{id}", h.DeleteService)
	})

	r.Route("/readings", func(r chi.Router) {
		r.Post("/", h.RecordReading)
		r.Patch("/{id}", h.UpdateReading)
		r.Post("/{id}/void", h.VoidReading)
		r.Delete("/{id}", h.DeleteReading)
	})

	r.Post("/usage", h.RecordUsage)

	r.Route("/invoices", func(r chi.Router) {
		r.Get("/{id}", h.GetInvoice)
		r.Post("/{id}/void", h.VoidInvoice)
		r.Post("/{id}/payments", h.RecordPayment)
	})
}
