package httptransport

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"casino-settlement/internal/app/deposit"
	"casino-settlement/internal/app/settlement"
	"casino-settlement/internal/app/withdrawal"
	"casino-settlement/internal/config"
	"casino-settlement/internal/metrics"
	"casino-settlement/internal/robots"
	"casino-settlement/internal/rounds"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

type Services struct {
	DB          Pinger
	Settlement  *settlement.Service
	Withdrawals *withdrawal.Service
	Deposits    *deposit.Service
	Rounds      *rounds.Aggregator
	Robots      *robots.Registry
}

func NewRouter(cfg config.ServerConfig, svc Services) *chi.Mux {
	settlementHandlers := NewSettlementHandlers(svc.Settlement, svc.Rounds)
	withdrawalHandlers := NewWithdrawalHandlers(svc.Withdrawals)
	depositHandlers := NewDepositHandlers(svc.Deposits)
	robotHandlers := NewRobotHandlers(svc.Robots)
	adminHandlers := NewAdminHandlers(svc.DB, svc.Settlement)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Tenant-ID", "X-Admin-Key"},
			ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.With(APILogMiddleware()).Get("/healthz", adminHandlers.Health())
	r.Handle("/metrics", metrics.Handler())
	r.With(AdminAuthMiddleware(cfg.AdminAPIKey)).Get("/debug/vars", expvar.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantMiddleware())
		r.Use(APILogMiddleware())

		r.Group(func(r chi.Router) {
			r.Use(CallerAuthMiddleware(cfg.CallerAPIKeys))

			r.Post("/settlements", settlementHandlers.Settle())
			r.Post("/rounds/{round_id}/close", settlementHandlers.CloseRound())
			r.Get("/players/{player_id}/balances/{currency}", settlementHandlers.Balance())
			r.Get("/players/{player_id}/history", settlementHandlers.History())
			r.Get("/players/{player_id}/rounds/{round_id}", settlementHandlers.Round())
			r.Get("/players/{player_id}/journal", settlementHandlers.Journal())
			r.Get("/players/{player_id}/withdrawals", withdrawalHandlers.List())

			r.Post("/withdrawals", withdrawalHandlers.Request())
			r.Get("/withdrawals/{id}", withdrawalHandlers.Get())
			r.Post("/withdrawals/{id}/approve", withdrawalHandlers.Approve())
			r.Post("/withdrawals/{id}/reject", withdrawalHandlers.Reject())
			r.Post("/withdrawals/{id}/payout", withdrawalHandlers.Payout())
			r.Post("/withdrawals/{id}/paid", withdrawalHandlers.Paid())

			r.Post("/deposits/sessions", depositHandlers.CreateSession())
			r.Get("/deposits/sessions/{provider_tx_id}", depositHandlers.GetSession())
			r.Post("/deposits/webhook", depositHandlers.Webhook())

			r.Post("/robots", robotHandlers.Create())
			r.Get("/robots/{id}", robotHandlers.Get())
			r.Post("/robots/{id}/clone", robotHandlers.Clone())
			r.Post("/robots/{id}/active", robotHandlers.SetActive())
			r.Put("/games/{game_id}/robot", robotHandlers.Bind())
			r.Get("/games/{game_id}/robot", robotHandlers.Resolve())
			r.Get("/games/{game_id}/robot/bindings", robotHandlers.Bindings())
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminAPIKey))
			r.Use(BodyCaptureMiddleware(4096))
			r.Post("/adjustments", adminHandlers.Adjust())
			r.Get("/journal", adminHandlers.Journal())
		})
	})
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 64)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
