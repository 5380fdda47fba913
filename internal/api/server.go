// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantavest/pyramid-backend/internal/config"
	"github.com/quantavest/pyramid-backend/internal/ledger"
	"github.com/quantavest/pyramid-backend/internal/metrics"
	"github.com/quantavest/pyramid-backend/internal/store"
	"github.com/quantavest/pyramid-backend/internal/strategy"
)

// Evaluator runs one ad-hoc account evaluation. Satisfied by *strategy.Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, accountID string) (*strategy.Report, error)
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     config.ServerConfig
	strategy   strategy.Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client
	ledger     *ledger.Ledger
	engine     Evaluator
	metrics    *metrics.Metrics
}

// NewServer creates the API server and wires its routes.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, strat strategy.Config, l *ledger.Ledger, engine Evaluator, m *metrics.Metrics) *Server {
	server := &Server{
		logger:   logger.Named("api"),
		config:   cfg,
		strategy: strat,
		router:   mux.NewRouter(),
		clients:  make(map[string]*Client),
		ledger:   l,
		engine:   engine,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/accounts", s.handleCreateAccount).Methods("POST")
	s.router.HandleFunc("/api/v1/accounts", s.handleListAccounts).Methods("GET")
	s.router.HandleFunc("/api/v1/accounts/{id}", s.handleGetAccount).Methods("GET")
	s.router.HandleFunc("/api/v1/accounts/{id}/evaluate", s.handleEvaluate).Methods("POST")
	s.router.HandleFunc("/api/v1/accounts/{id}/history", s.handleGetHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/accounts/{id}/deposit", s.handleDeposit).Methods("POST")

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Router exposes the route tree, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

type createAccountRequest struct {
	ID             string `json:"id"`
	InitialBalance string `json:"initialBalance"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	balance := s.strategy.InitialBalance
	if req.InitialBalance != "" {
		parsed, err := decimal.NewFromString(req.InitialBalance)
		if err != nil || parsed.IsNegative() {
			http.Error(w, "Invalid initialBalance", http.StatusBadRequest)
			return
		}
		balance = parsed
	}

	acct, err := s.ledger.Register(r.Context(), req.ID, balance, s.strategy.BaseLot)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(acct)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ids, err := s.ledger.AccountIDs(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accounts": ids,
		"count":    len(ids),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	acct, positions, err := s.ledger.Snapshot(r.Context(), id)
	if errors.Is(err, store.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	recent, err := s.ledger.History(r.Context(), id, 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"account":       acct,
		"positions":     positions,
		"recentHistory": recent,
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := s.ledger.Account(r.Context(), id); errors.Is(err, store.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	unlock := s.ledger.Lock(id)
	report, err := s.engine.Evaluate(r.Context(), id)
	unlock()

	if errors.Is(err, strategy.ErrDataUnavailable) {
		http.Error(w, "Market data unavailable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.BroadcastReport(report)
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	if _, err := s.ledger.Account(r.Context(), id); errors.Is(err, store.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	entries, err := s.ledger.History(r.Context(), id, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"accountId": id,
		"history":   entries,
		"count":     len(entries),
	})
}

type depositRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		http.Error(w, "Invalid amount", http.StatusBadRequest)
		return
	}

	acct, err := s.ledger.Credit(r.Context(), id, amount)
	if errors.Is(err, store.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(acct)
}
