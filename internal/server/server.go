// Package server exposes the operational surface: a health probe for the
// chain RPC and the database, the prometheus scrape endpoint, and read-only
// introspection over the domain components. Everything except /health sits
// behind a shared-secret MAC.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"custodia/internal/chain"
	"custodia/internal/config"
	"custodia/internal/escrow"
	"custodia/internal/fault"
	"custodia/internal/hmacauth"
	"custodia/internal/metrics"
	"custodia/internal/oracle"
	"custodia/internal/registry"
)

// Deps carries the wired components the server operates over.
type Deps struct {
	Metrics  *metrics.Set
	Chain    chain.Client
	Store    escrow.Store
	Escrow   *escrow.Manager
	Oracle   *oracle.Evaluator
	Registry *registry.Manager
}

type Server struct {
	cfg         *config.AppConfig
	deps        Deps
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	log         zerolog.Logger
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.OpsSecret,
			MaxSkew: cfg.Service.OpsClockSkew,
		},
		log: log.With().Str("component", "server").Logger(),
	}

	if checker, ok := deps.Chain.(chain.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}
	if checker, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.hmac.Middleware(deps.Metrics.Handler()))
	mux.Handle("GET /ops/escrows/{id}", s.hmac.Middleware(http.HandlerFunc(s.handleEscrowStatus)))
	mux.Handle("POST /ops/oracle/check", s.hmac.Middleware(http.HandlerFunc(s.handleOracleCheck)))
	mux.Handle("GET /ops/documents/{contractId}/verify", s.hmac.Middleware(http.HandlerFunc(s.handleDocumentVerify)))

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("ops server listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleEscrowStatus is a read-only view of the off-chain mirror record,
// for support and debugging. Mutations stay out of this surface.
func (s *Server) handleEscrowStatus(w http.ResponseWriter, r *http.Request) {
	record, err := s.deps.Escrow.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleOracleCheck runs a dry-run condition evaluation against the live
// providers without touching any escrow.
func (s *Server) handleOracleCheck(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EscrowID  string           `json:"escrowId"`
		Condition oracle.Condition `json:"condition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	result, err := s.deps.Oracle.Evaluate(r.Context(), payload.EscrowID, payload.Condition)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDocumentVerify(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("contractId")
	contentHash := r.URL.Query().Get("hash")

	result, err := s.deps.Registry.Verify(r.Context(), contractID, contentHash)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFault(w http.ResponseWriter, err error) {
	switch {
	case fault.IsKind(err, fault.KindNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case fault.IsKind(err, fault.KindValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case fault.IsKind(err, fault.KindChainSubmission), fault.IsKind(err, fault.KindChainVerification):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		next.ServeHTTP(w, r)
	})
}
