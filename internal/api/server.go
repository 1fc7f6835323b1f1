// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/phunks-mini/internal/auth"
	"github.com/phunks-mini/internal/config"
	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/raffle"
	"github.com/phunks-mini/internal/storage"
	"github.com/phunks-mini/internal/types"
)

// Dependency interfaces so handlers can be tested against stubs.

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.VerifiedUser, error)
}

// ChainReader exposes the on-chain reads the handlers need.
type ChainReader interface {
	FetchCollectionStats(ctx context.Context) types.CollectionStats
	WalletOfOwner(ctx context.Context, owner common.Address) ([]*big.Int, error)
}

// MetadataResolver resolves token metadata.
type MetadataResolver interface {
	Resolve(ctx context.Context, id string) types.NFT
	ResolveBatch(ctx context.Context, ids []string) []types.NFT
}

// RaffleService exposes the jackpot provider operations.
type RaffleService interface {
	ActiveStats(ctx context.Context) raffle.Stats
	DailyWinners(ctx context.Context) []raffle.Winner
	TicketPurchaseCall(recipient string, valueUSD float64) (*raffle.PurchaseCall, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *logging.Logger

	verifier TokenVerifier
	reader   ChainReader
	resolver MetadataResolver
	ledger   *storage.Ledger
	raffle   RaffleService

	config *config.Config
}

// NewServer creates a new API server instance.
func NewServer(
	cfg *config.Config,
	logger *logging.Logger,
	verifier TokenVerifier,
	reader ChainReader,
	resolver MetadataResolver,
	ledger *storage.Ledger,
	raffleService RaffleService,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		verifier: verifier,
		reader:   reader,
		resolver: resolver,
		ledger:   ledger,
		raffle:   raffleService,
		config:   cfg,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst)

	// Middleware order matters: logging first so every outcome is logged.
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Preflight requests must match a route for the middleware chain,
	// CORS included, to run; the handler itself is never reached.
	s.router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// User endpoints
	api.HandleFunc("/user/data", s.handleGetUserData).Methods("GET")
	api.HandleFunc("/user/check-in", s.requireAuth(s.handleCheckIn)).Methods("POST")
	api.HandleFunc("/user/reward", s.requireAuth(s.handleRewardShare)).Methods("POST")
	api.HandleFunc("/user/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/user/settings", s.requireAuth(s.handleSaveSettings)).Methods("POST")

	// Leaderboard endpoints
	api.HandleFunc("/leaderboard", s.handleGetLeaderboard).Methods("GET")
	api.HandleFunc("/leaderboard", s.requireAuth(s.handleUpdateLeaderboard)).Methods("POST")

	// Collection endpoints
	api.HandleFunc("/collection/stats", s.handleCollectionStats).Methods("GET")
	api.HandleFunc("/metadata/{id}", s.handleGetMetadata).Methods("GET")
	api.HandleFunc("/metadata", s.handleGetMetadataBatch).Methods("GET")
	api.HandleFunc("/tokens/{address}", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/mints/{address}", s.handleGetMints).Methods("GET")
	api.HandleFunc("/mint", s.requireAuth(s.handleMint)).Methods("POST")

	// Raffle endpoints
	api.HandleFunc("/raffle/stats", s.handleRaffleStats).Methods("GET")
	api.HandleFunc("/raffle/winners", s.handleRaffleWinners).Methods("GET")
	api.HandleFunc("/raffle/user", s.handleRaffleUser).Methods("GET")
	api.HandleFunc("/raffle/claim", s.requireAuth(s.handleRaffleClaim)).Methods("POST")
	api.HandleFunc("/raffle/ticket", s.requireAuth(s.handleRaffleTicket)).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "phunks-mini",
	})
}

// Handler returns the configured router. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
