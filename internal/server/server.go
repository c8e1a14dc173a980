// Package server wires storage, the raffle and its collaborators behind the
// HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"

	"github.com/pendergraft/raffle/internal/auth"
	"github.com/pendergraft/raffle/internal/config"
	"github.com/pendergraft/raffle/internal/events"
	"github.com/pendergraft/raffle/internal/keeper"
	"github.com/pendergraft/raffle/internal/ledger"
	ledgerTransport "github.com/pendergraft/raffle/internal/ledger/transport"
	"github.com/pendergraft/raffle/internal/middleware/logging"
	"github.com/pendergraft/raffle/internal/middleware/ratelimit"
	"github.com/pendergraft/raffle/internal/middleware/realip"
	"github.com/pendergraft/raffle/internal/middleware/security"
	"github.com/pendergraft/raffle/internal/networks"
	"github.com/pendergraft/raffle/internal/observability/metrics"
	raffleTransport "github.com/pendergraft/raffle/internal/raffle/transport"
	"github.com/pendergraft/raffle/internal/storage"
	"github.com/pendergraft/raffle/internal/vrf"
	vrfTransport "github.com/pendergraft/raffle/internal/vrf/transport"
)

// Server is the HTTP server together with the raffle's background loops.
type Server struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger
	router *chi.Mux

	ledger     *ledger.Ledger
	bus        *events.Bus
	deployment *Deployment

	httpServer  *http.Server
	stopLimiter func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a server. The store must already be migrated.
func New(cfg *config.Config, store storage.Store, logger *slog.Logger) (*Server, error) {
	table, err := networks.Load(cfg.Chain.NetworksFile)
	if err != nil {
		return nil, fmt.Errorf("loading networks: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		router: chi.NewRouter(),
		ledger: ledger.New(),
		bus:    events.NewBus(logger),
	}

	s.bus.Register(events.NewRecorder(store))
	s.bus.Register(metrics.EventHandler{})

	s.deployment, err = Bootstrap(cfg, table, s.ledger, s.bus, store, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping raffle: %w", err)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Deployment returns the bootstrapped coordinator and raffle.
func (s *Server) Deployment() *Deployment {
	return s.deployment
}

// Start launches the keeper and the randomness responder when configured.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.Keeper.Enabled {
		k := keeper.New(s.deployment.Service, time.Duration(s.cfg.Keeper.PollSeconds)*time.Second, s.logger.With("component", "keeper"))
		s.goRun(func() { k.Run(ctx) })
	}

	if s.cfg.VRF.FulfillDelaySeconds > 0 {
		r := vrf.NewResponder(
			s.deployment.Coordinator,
			time.Duration(s.cfg.VRF.FulfillDelaySeconds)*time.Second,
			time.Second,
			s.logger.With("component", "vrf-responder"),
		)
		s.goRun(func() { r.Run(ctx) })
	}
}

func (s *Server) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// ListenAndServe serves HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, stops the background loops and closes
// the store. Every failure is reported.
func (s *Server) Shutdown(ctx context.Context) error {
	var result *multierror.Error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}

	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, fmt.Errorf("background loops: %w", ctx.Err()))
	}

	if s.stopLimiter != nil {
		s.stopLimiter()
	}

	if err := s.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing store: %w", err))
	}

	return result.ErrorOrNil()
}

func (s *Server) setupMiddleware() {
	// 1. Real IP extraction (must be first to set client IP for other middleware)
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	// 2. Refuse scanner traffic before it reaches the router
	s.router.Use(security.FilterMiddleware(s.cfg.Security.FilterEnabled))
	s.router.Use(security.BodyLimitMiddleware(s.cfg.Security.MaxBodySizeKB))

	// 3. Rate limiting (bypasses probes and the event stream)
	limiter, stop := ratelimit.Middleware(ratelimit.Config{
		Enabled:             s.cfg.RateLimit.Enabled,
		RequestsPerMin:      s.cfg.RateLimit.RequestsPerMin,
		WriteRequestsPerMin: s.cfg.RateLimit.WriteRequestsPerMin,
		BurstSize:           s.cfg.RateLimit.BurstSize,
		CleanupMinutes:      s.cfg.RateLimit.CleanupMinutes,
	})
	s.router.Use(limiter)
	s.stopLimiter = stop

	// 4. Standard middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// 5. CORS
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Get("/version", s.handleVersion)
	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", metrics.Handler())
	}

	raffleHandler := raffleTransport.NewHandler(s.deployment.Service, s.bus)
	vrfHandler := vrfTransport.NewHandler(s.deployment.Coordinator)
	accountsHandler := ledgerTransport.NewHandler(s.ledger)

	requireAuth := func(r chi.Router) {
		if s.cfg.Auth.Type == "api-key" {
			r.Use(auth.Middleware(s.store, writeError))
		}
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/raffle", func(r chi.Router) {
			raffleHandler.RegisterReadRoutes(r)
			r.Group(func(r chi.Router) {
				requireAuth(r)
				raffleHandler.RegisterWriteRoutes(r)
			})
		})

		// The coordinator and ledger are in-process mocks; their write
		// routes stand in for the oracle node and a faucet.
		r.Route("/vrf", func(r chi.Router) {
			vrfHandler.RegisterReadRoutes(r)
			r.Group(func(r chi.Router) {
				requireAuth(r)
				vrfHandler.RegisterWriteRoutes(r)
			})
		})

		r.Route("/accounts", func(r chi.Router) {
			accountsHandler.RegisterReadRoutes(r)
			r.Group(func(r chi.Router) {
				requireAuth(r)
				accountsHandler.RegisterWriteRoutes(r)
			})
		})
	})
}

// VersionResponse is returned by GET /version.
type VersionResponse struct {
	Version string `json:"version"`
	Network string `json:"network"`
	ChainID int64  `json:"chainId"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	version := s.cfg.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, VersionResponse{
		Version: version,
		Network: s.deployment.Network.Name,
		ChainID: s.deployment.Network.ChainID,
	})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
