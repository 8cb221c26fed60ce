package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/allowance/internal/config"
	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/handler"
	"github.com/dukerupert/allowance/internal/lease"
	"github.com/dukerupert/allowance/internal/materialize"
	"github.com/dukerupert/allowance/internal/middleware"
	"github.com/dukerupert/allowance/internal/reward"
	"github.com/dukerupert/allowance/internal/scheduler"
	"github.com/dukerupert/allowance/internal/store"
	ws "github.com/dukerupert/allowance/internal/websocket"
)

type Server struct {
	db          *database.DB
	hub         *ws.Hub
	driver      *scheduler.Driver
	seriesH     *handler.SeriesHandler
	walletH     *handler.WalletHandler
	adminH      *handler.AdminHandler
	rateLimiter *middleware.RateLimiter
	adminHash   string
	logger      *slog.Logger
}

// New wires stores, the scheduler driver and the HTTP handlers around db.
func New(db *database.DB, cfg config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger)
	driver := NewDriver(db, cfg, hub, logger)

	userStore := store.NewUserStore(db)
	seriesStore := store.NewSeriesStore(db)
	walletStore := store.NewWalletStore(db)

	return &Server{
		db:          db,
		hub:         hub,
		driver:      driver,
		seriesH:     handler.NewSeriesHandler(seriesStore, userStore, driver, cfg.HorizonDays, hub, logger.With("component", "series")),
		walletH:     handler.NewWalletHandler(walletStore, userStore, driver, hub, logger.With("component", "wallet")),
		adminH:      handler.NewAdminHandler(driver, logger.With("component", "admin")),
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		adminHash:   cfg.AdminTokenHash,
		logger:      logger,
	}
}

// NewDriver assembles the scheduler driver and its dependencies. hub may be
// nil for one-shot CLI runs.
func NewDriver(db *database.DB, cfg config.Config, hub scheduler.Broadcaster, logger *slog.Logger) *scheduler.Driver {
	seriesStore := store.NewSeriesStore(db)
	taskStore := store.NewTaskStore(db)
	contractStore := store.NewContractStore(db)
	walletStore := store.NewWalletStore(db)

	m := materialize.New(seriesStore, cfg.HorizonDays, logger)
	evaluator := reward.NewEvaluator(taskStore, contractStore)
	ledger := reward.NewLedger(evaluator, walletStore, logger)

	holder, _ := os.Hostname()
	locker := lease.New(db, holder+"-"+uuid.NewString()[:8], time.Hour, logger)

	return scheduler.New(m, contractStore, ledger, locker, hub, scheduler.Config{
		Location:         cfg.Location(),
		MaxReprocessDays: cfg.MaxReprocessDays,
		RunOffset:        cfg.RunOffset,
	}, logger)
}

// Driver returns the scheduler driver for the serve loop.
func (s *Server) Driver() *scheduler.Driver {
	return s.driver
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, nil))

	// Series API routes
	mux.HandleFunc("POST /api/series", s.rateLimitedHandler(s.seriesH.Create))
	mux.HandleFunc("GET /api/series", s.seriesH.List)
	mux.HandleFunc("GET /api/series/{id}", s.seriesH.Get)
	mux.HandleFunc("PUT /api/series/{id}", s.rateLimitedHandler(s.seriesH.Update))
	mux.HandleFunc("DELETE /api/series/{id}", s.rateLimitedHandler(s.seriesH.Delete))
	mux.HandleFunc("GET /api/series/{id}/occurrences", s.seriesH.Occurrences)

	// Occurrence API routes
	mux.HandleFunc("POST /api/occurrences/{id}/complete", s.rateLimitedHandler(s.seriesH.CompleteOccurrence))
	mux.HandleFunc("DELETE /api/occurrences/{id}/complete", s.rateLimitedHandler(s.seriesH.UncompleteOccurrence))
	mux.HandleFunc("POST /api/occurrences/{id}/cancel", s.rateLimitedHandler(s.seriesH.CancelOccurrence))

	// Wallet API routes
	mux.HandleFunc("GET /api/wallets/{child_id}", s.walletH.Get)
	mux.HandleFunc("GET /api/wallets/{child_id}/transactions", s.walletH.Transactions)
	mux.HandleFunc("POST /api/wallets/{child_id}/convert", s.rateLimitedHandler(s.walletH.Convert))

	// Admin routes, behind the admin token
	admin := http.NewServeMux()
	admin.HandleFunc("POST /api/admin/reprocess", s.adminH.Reprocess)
	admin.HandleFunc("POST /api/admin/run-daily", s.adminH.RunDaily)
	admin.HandleFunc("POST /api/admin/wallets/{child_id}/adjust", s.walletH.Adjust)
	mux.Handle("/api/admin/", s.rateLimitedHandler(middleware.RequireAdminToken(s.adminHash)(admin).ServeHTTP))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"scheduler": s.driver.State().String(),
	})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP)
	return rl(h).ServeHTTP
}
