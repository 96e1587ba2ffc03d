// Package httpapi exposes the order core's public surface (C12, §6.1) over
// HTTP: place/modify/cancel/get/list/counts plus health and metrics,
// grounded on aristath-sentinel/trader's chi-router server — router
// construction, middleware stack (Recoverer, RequestID, RealIP, CORS,
// Timeout) and writeJSON/writeError helper shape carried over; the route
// table itself follows this domain instead of the portfolio-rebalancing one.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-order-core/internal/orchestration"
	"trading-order-core/libs/domain"
	"trading-order-core/libs/observability"
	"trading-order-core/libs/repository"
	"trading-order-core/libs/resultx"
)

// OrderReader is the subset of the order repository the read endpoints
// need (get/list/counts, §6.1).
type OrderReader interface {
	GetByOrderID(ctx context.Context, orderID string) (*domain.Order, error)
	ListByUserPaged(ctx context.Context, userID string, status domain.Status, limit, offset int) ([]*domain.Order, error)
	CountsByStatus(ctx context.Context, userID string) (map[domain.Status]int, error)
}

// Orchestrator is the subset of orchestration.Orchestrator the write
// endpoints drive.
type Orchestrator interface {
	Place(ctx context.Context, req orchestration.PlaceRequest, correlationID string) (*domain.Order, resultx.Issues)
	Modify(ctx context.Context, req orchestration.ModifyRequest, correlationID string) (*domain.Order, resultx.Issues)
	Cancel(ctx context.Context, orderID, correlationID string) (*domain.Order, resultx.Issues)
}

// Server is the order core's HTTP surface.
type Server struct {
	router *chi.Mux
	orch   Orchestrator
	orders OrderReader
	log    zerolog.Logger
}

// New builds a Server with the standard middleware stack and route table.
func New(orch Orchestrator, orders OrderReader, log zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		orch:   orch,
		orders: orders,
		log:    log.With().Str("component", "httpapi").Logger(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.correlationMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/orders", func(r chi.Router) {
		r.Post("/", s.handlePlace)
		r.Get("/", s.handleList)
		r.Get("/counts", s.handleCounts)
		r.Get("/{orderID}", s.handleGet)
		r.Put("/{orderID}", s.handleModify)
		r.Delete("/{orderID}", s.handleCancel)
	})
}

type correlationIDKey struct{}

// correlationMiddleware propagates (or mints) a correlation id into the
// request context and every downstream call (§6.1: "a correlation id
// propagated into every downstream call and log line").
func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", id)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		ctx = repository.WithCorrelationID(ctx, id)
		ctx = observability.WithFlowID(ctx, id) // flow_id spans the full decision chain this request drives
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationID(r *http.Request) string {
	id, _ := r.Context().Value(correlationIDKey{}).(string)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"service": "order-core", "status": "healthy"})
}

type placeRequestBody struct {
	UserID      string           `json:"user_id"`
	Symbol      string           `json:"symbol"`
	Exchange    string           `json:"exchange"`
	Side        string           `json:"side"`
	OrderType   string           `json:"order_type"`
	Quantity    int64            `json:"quantity"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice   *decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce string           `json:"time_in_force"`
	ExpiryDate  *time.Time       `json:"expiry_date,omitempty"`
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var body placeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeIssues(w, http.StatusBadRequest, resultx.Issues{{
			Kind: resultx.KindValidation, Code: resultx.CodeMissingField,
			Message: "invalid request body", Severity: resultx.SeverityMedium,
		}})
		return
	}

	order, issues := s.orch.Place(r.Context(), orchestration.PlaceRequest{
		UserID: body.UserID, Symbol: body.Symbol, Exchange: body.Exchange,
		Side: domain.Side(body.Side), OrderType: domain.OrderType(body.OrderType),
		Quantity: body.Quantity, LimitPrice: body.LimitPrice, StopPrice: body.StopPrice,
		TimeInForce: domain.TimeInForce(body.TimeInForce), ExpiryDate: body.ExpiryDate,
	}, correlationID(r))
	s.writeOrderResult(w, order, issues)
}

type modifyRequestBody struct {
	NewQuantity *int64           `json:"new_quantity,omitempty"`
	NewPrice    *decimal.Decimal `json:"new_price,omitempty"`
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var body modifyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeIssues(w, http.StatusBadRequest, resultx.Issues{{
			Kind: resultx.KindValidation, Code: resultx.CodeMissingField,
			Message: "invalid request body", Severity: resultx.SeverityMedium,
		}})
		return
	}
	order, issues := s.orch.Modify(r.Context(), orchestration.ModifyRequest{
		OrderID: orderID, NewQuantity: body.NewQuantity, NewPrice: body.NewPrice,
	}, correlationID(r))
	s.writeOrderResult(w, order, issues)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order, issues := s.orch.Cancel(r.Context(), orderID, correlationID(r))
	s.writeOrderResult(w, order, issues)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order, err := s.orders.GetByOrderID(r.Context(), orderID)
	if err != nil {
		s.writeIssues(w, http.StatusNotFound, resultx.Issues{{
			Kind: resultx.KindData, Code: resultx.CodeEntityNotFound,
			Message: "order not found", Severity: resultx.SeverityMedium,
		}})
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	status := domain.Status(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	orders, err := s.orders.ListByUserPaged(r.Context(), userID, status, limit, offset)
	if err != nil {
		s.writeIssues(w, http.StatusInternalServerError, resultx.Issues{{
			Kind: resultx.KindData, Code: resultx.CodeDatabaseError,
			Message: "failed to list orders", Severity: resultx.SeverityCritical,
		}})
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	counts, err := s.orders.CountsByStatus(r.Context(), userID)
	if err != nil {
		s.writeIssues(w, http.StatusInternalServerError, resultx.Issues{{
			Kind: resultx.KindData, Code: resultx.CodeDatabaseError,
			Message: "failed to count orders", Severity: resultx.SeverityCritical,
		}})
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) writeOrderResult(w http.ResponseWriter, order *domain.Order, issues resultx.Issues) {
	if issues.Empty() {
		s.writeJSON(w, http.StatusOK, order)
		return
	}
	status := http.StatusUnprocessableEntity
	if !issues.Blocking() {
		status = http.StatusOK
	}
	if order != nil {
		s.writeJSON(w, status, map[string]any{"order": order, "errors": issuesEnvelope(issues)})
		return
	}
	s.writeIssues(w, status, issues)
}

// errorEnvelope is the §6.1 error shape: "code, human message, optional
// field, severity, and a flag for retryability".
type errorEnvelope struct {
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	Field     string  `json:"field,omitempty"`
	Severity  string  `json:"severity"`
	Retryable bool    `json:"retryable"`
}

func issuesEnvelope(issues resultx.Issues) []errorEnvelope {
	out := make([]errorEnvelope, 0, len(issues))
	for _, i := range issues {
		out = append(out, errorEnvelope{
			Code: string(i.Code), Message: i.Message, Field: i.Field,
			Severity: string(i.Severity), Retryable: i.Retryable,
		})
	}
	return out
}

func (s *Server) writeIssues(w http.ResponseWriter, status int, issues resultx.Issues) {
	s.writeJSON(w, status, map[string]any{"errors": issuesEnvelope(issues)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
