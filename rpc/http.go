package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stakevault/native/staking"
	"stakevault/observability/logging"
	telemetry "stakevault/observability/otel"
	"stakevault/storage/eventlog"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	codeInvalidAmount       = -32101
	codeAlreadyStaking      = -32102
	codeNoActiveDeposit     = -32103
	codeNotMatured          = -32104
	codeUnknownTier         = -32105
	codeStakeInvalidParams  = -32106
	codeInsufficientReserve = -32107
	codeInsufficientBalance = -32108
)

// BalanceReader exposes account balances.
type BalanceReader interface {
	Balance(addr [20]byte) (*big.Int, error)
}

// EventLister queries persisted ledger events.
type EventLister interface {
	List(ctx context.Context, filter eventlog.Filter) ([]eventlog.Record, error)
}

// Metrics records per-method RPC outcomes.
type Metrics interface {
	ObserveRPC(method, outcome string, seconds float64)
}

// ServerConfig bundles the transport knobs.
type ServerConfig struct {
	Auth      AuthConfig
	RateLimit RateLimit
}

// Server serves the staking JSON-RPC API.
type Server struct {
	engine   *staking.Engine
	balances BalanceReader
	events   EventLister
	auth     *Authenticator
	limiter  *RateLimiter
	logger   *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer
	methods  map[string]methodHandler
}

// NewServer wires the RPC handlers to the staking engine. events may be nil
// when no event log is configured.
func NewServer(engine *staking.Engine, balances BalanceReader, events EventLister, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   engine,
		balances: balances,
		events:   events,
		auth:     NewAuthenticator(cfg.Auth),
		limiter:  NewRateLimiter(cfg.RateLimit),
		logger:   logger.With("component", "rpc"),
		tracer:   telemetry.Tracer(),
	}
	s.methods = s.routes()
	return s
}

// SetMetrics configures the RPC metrics sink.
func (s *Server) SetMetrics(m Metrics) { s.metrics = m }

// Handler returns the HTTP routes: POST /rpc, GET /healthz and GET /metrics.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Post("/rpc", s.handle)
	router.Post("/", s.handle)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(router, "stakevault.rpc")
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// responseRecorder remembers the JSON-RPC error code written, if any.
type responseRecorder struct {
	http.ResponseWriter
	errCode int
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if rec, ok := w.(*responseRecorder); ok {
		rec.errCode = code
	}
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	writeError(w, status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	requestID := uuid.NewString()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)

	if !s.limiter.Allow(clientSource(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, known := s.methods[req.Method]
	method := req.Method
	if !known {
		method = unknownMethod
	}

	ctx, span := s.tracer.Start(r.Context(), method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
		attribute.String("rpc.request_id", requestID),
	))
	defer span.End()
	r = r.WithContext(ctx)

	start := time.Now()
	rec := &responseRecorder{ResponseWriter: w}
	if known {
		handler(rec, r, req)
	} else {
		writeError(rec, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
	elapsed := time.Since(start)

	outcome := "ok"
	if rec.errCode != 0 {
		outcome = "error"
		span.SetStatus(codes.Error, fmt.Sprintf("rpc error %d", rec.errCode))
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rec.errCode))
	}
	if s.metrics != nil {
		s.metrics.ObserveRPC(method, outcome, elapsed.Seconds())
	}
	s.logger.Info("rpc request",
		"method", method,
		"request_id", requestID,
		"status", outcome,
		"error_code", rec.errCode,
		"duration_ms", elapsed.Milliseconds(),
		logging.MaskField("authorization", r.Header.Get("Authorization")),
	)
}

// unknownMethod labels spans and metrics for method names outside the
// routing table so client input cannot mint new series.
const unknownMethod = "unknown"

type methodHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) routes() map[string]methodHandler {
	return map[string]methodHandler{
		"stake_createDeposit":     s.authenticated(s.handleCreateDeposit),
		"stake_withdrawDeposit":   s.authenticated(s.handleWithdrawDeposit),
		"stake_setParams":         s.authenticated(s.handleSetParams),
		"stake_fundReserve":       s.authenticated(s.handleFundReserve),
		"stake_getDepositInfo":    s.handleGetDepositInfo,
		"stake_allBalanceStaking": s.handleAllBalanceStaking,
		"stake_getTiers":          s.handleGetTiers,
		"stake_previewWithdraw":   s.handlePreviewWithdraw,
		"stake_owner":             s.handleOwner,
		"stake_getReserve":        s.handleGetReserve,
		"stake_listEvents":        s.handleListEvents,
		"bank_getBalance":         s.handleGetBalance,
	}
}

type callerHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller [20]byte)

func (s *Server) authenticated(next callerHandler) methodHandler {
	return func(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
		caller, authErr := s.auth.Authenticate(r)
		if authErr != nil {
			writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
			return
		}
		next(w, r, req, caller)
	}
}

// writeStakingError maps module errors onto JSON-RPC codes.
func (s *Server) writeStakingError(w http.ResponseWriter, id interface{}, err error) {
	status, code := http.StatusInternalServerError, codeServerError
	switch {
	case errors.Is(err, staking.ErrInvalidAmount):
		status, code = http.StatusBadRequest, codeInvalidAmount
	case errors.Is(err, staking.ErrAlreadyStaking):
		status, code = http.StatusConflict, codeAlreadyStaking
	case errors.Is(err, staking.ErrNoActiveDeposit):
		status, code = http.StatusNotFound, codeNoActiveDeposit
	case errors.Is(err, staking.ErrNotMatured):
		status, code = http.StatusConflict, codeNotMatured
	case errors.Is(err, staking.ErrUnknownTier):
		status, code = http.StatusBadRequest, codeUnknownTier
	case errors.Is(err, staking.ErrInvalidParams):
		status, code = http.StatusBadRequest, codeStakeInvalidParams
	case errors.Is(err, staking.ErrInsufficientReserve):
		status, code = http.StatusConflict, codeInsufficientReserve
	case errors.Is(err, staking.ErrUnauthorized):
		status, code = http.StatusForbidden, codeUnauthorized
	case isInsufficientBalance(err):
		status, code = http.StatusBadRequest, codeInsufficientBalance
	case errors.Is(err, staking.ErrNotInitialized):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("staking operation failed", "error", err)
		writeError(w, status, id, code, "internal error", nil)
		return
	}
	writeError(w, status, id, code, err.Error(), nil)
}
