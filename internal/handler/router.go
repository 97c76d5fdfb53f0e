package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/deposits"
	"github.com/simonkvalheim/fjord-microfinance/internal/goals"
	"github.com/simonkvalheim/fjord-microfinance/internal/investments"
	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/lending"
	"github.com/simonkvalheim/fjord-microfinance/internal/middleware"
)

// RouterConfig carries what the HTTP API is assembled from
type RouterConfig struct {
	Ledger      *ledger.Ledger
	Lending     *lending.Service
	Deposits    *deposits.Service
	Goals       *goals.Service
	Investments *investments.Service
	Scorer      lending.Scorer
	Verifier    middleware.TokenVerifier
	// Ping checks storage for /health
	Ping           func(ctx context.Context) error
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the API: /health and /metrics are public, everything
// under /v1 requires a bearer token
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log.Named("http")))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
	}))

	r.Get("/health", healthHandler(cfg.Ping))
	r.Handle("/metrics", promhttp.Handler())

	authMiddleware := middleware.NewAuthMiddleware(cfg.Verifier)
	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.RequireAuth)

		NewAccountHandler(cfg.Ledger, log.Named("accounts")).RegisterRoutes(r)
		NewTransferHandler(cfg.Ledger, log.Named("transfers")).RegisterRoutes(r)
		NewLoanHandler(cfg.Lending, cfg.Ledger, cfg.Scorer, log.Named("loans")).RegisterRoutes(r)
		NewSavingsHandler(cfg.Deposits, cfg.Goals, cfg.Ledger, log.Named("savings")).RegisterRoutes(r)
		NewInvestmentHandler(cfg.Investments, cfg.Ledger, log.Named("investments")).RegisterRoutes(r)
	})
	return r
}

// healthHandler returns a handler that checks storage connectivity
func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if ping != nil {
			if err := ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "storage": "disconnected"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "storage": "connected"})
	}
}
