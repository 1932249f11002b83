// Package server is the HTTP and websocket front of the settlement engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/premarket/internal/domain"
	"github.com/alanyoungcy/premarket/internal/server/handler"
	"github.com/alanyoungcy/premarket/internal/server/middleware"
	"github.com/alanyoungcy/premarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AuthSkew bounds the age of a signed request's timestamp.
	AuthSkew time.Duration
	// RateLimit is requests per minute per client; 0 disables limiting.
	RateLimit int
	Limiter   domain.RateLimiter
}

// Handlers aggregates the HTTP handlers. Ledger and Archives are optional.
type Handlers struct {
	Health   *handler.HealthHandler
	Assets   *handler.AssetHandler
	Offers   *handler.OfferHandler
	Orders   *handler.OrderHandler
	Ledger   *handler.LedgerHandler
	Archives *handler.ArchiveHandler
}

// Server is the headless HTTP + websocket API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain:
// CORS, logging, signature auth, then rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Token registry and payment whitelist.
	mux.HandleFunc("POST /api/assets", handlers.Assets.RegisterAsset)
	mux.HandleFunc("GET /api/assets", handlers.Assets.ListAssets)
	mux.HandleFunc("GET /api/assets/{id}", handlers.Assets.GetAsset)
	mux.HandleFunc("POST /api/assets/{id}/open", handlers.Assets.OpenSettlement)
	mux.HandleFunc("GET /api/payment-assets", handlers.Assets.ListPaymentAssets)
	mux.HandleFunc("PUT /api/payment-assets", handlers.Assets.SetPaymentAsset)

	// Offer book.
	mux.HandleFunc("POST /api/offers", handlers.Offers.CreateOffer)
	mux.HandleFunc("GET /api/offers", handlers.Offers.ListOffers)
	mux.HandleFunc("GET /api/offers/{id}", handlers.Offers.GetOffer)
	mux.HandleFunc("POST /api/offers/{id}/fill", handlers.Offers.FulfillOffer)
	mux.HandleFunc("POST /api/offers/{id}/cancel", handlers.Offers.CancelOffer)

	// Order settlement.
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("GET /api/orders/{id}/escrow", handlers.Orders.GetEscrow)
	mux.HandleFunc("POST /api/orders/{id}/settle", handlers.Orders.SettleOrder)
	mux.HandleFunc("POST /api/orders/{id}/forfeit", handlers.Orders.ForfeitOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", handlers.Orders.CancelOrder)

	if handlers.Ledger != nil {
		mux.HandleFunc("GET /api/ledger/balance", handlers.Ledger.Balance)
		mux.HandleFunc("POST /api/ledger/approve", handlers.Ledger.Approve)
		mux.HandleFunc("POST /api/ledger/mint", handlers.Ledger.Mint)
	}
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, time.Minute)(h)
	}
	h = middleware.Signature(middleware.SignatureConfig{Skew: cfg.AuthSkew})(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
